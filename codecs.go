// Copyright 2019 Aporeto Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package armet

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang/gddo/httputil/header"
	"github.com/karlseguin/ccache/v2"
)

// Various codec errors.
var (
	ErrNoEncoder = errors.New("no encoder matches the requested media range")
	ErrNoDecoder = errors.New("no decoder matches the content type")
)

const negotiationCacheTTL = 10 * time.Minute

// An Encoder serializes response bodies.
type Encoder interface {

	// Name returns the name of the encoder, used as format suffix.
	Name() string

	// MimeTypes returns the media types the encoder produces.
	// The first one is used as Content-Type.
	MimeTypes() []string

	// Encode serializes the given data.
	Encode(data any) ([]byte, error)
}

// A Decoder deserializes request bodies.
type Decoder interface {

	// Name returns the name of the decoder.
	Name() string

	// MimeTypes returns the media types the decoder understands.
	MimeTypes() []string

	// Decode deserializes the given data.
	Decode(data []byte) (any, error)
}

// Codecs holds the encoders and decoders an API can use.
type Codecs struct {
	encoders *Registry[Encoder]
	decoders *Registry[Decoder]
	cache    *ccache.Cache
}

// NewCodecs returns an empty Codecs.
func NewCodecs() *Codecs {

	return &Codecs{
		encoders: NewRegistry[Encoder](),
		decoders: NewRegistry[Decoder](),
		cache:    ccache.New(ccache.Configure().MaxSize(1024)),
	}
}

// DefaultCodecs returns a Codecs holding the json, msgpack and url
// encoders and decoders.
func DefaultCodecs() *Codecs {

	c := NewCodecs()

	for _, e := range []Encoder{JSONEncoder{}, MsgpackEncoder{}, URLEncoder{}} {
		if err := c.RegisterEncoder(e); err != nil {
			panic(err)
		}
	}

	for _, d := range []Decoder{JSONDecoder{}, MsgpackDecoder{}, URLDecoder{}} {
		if err := c.RegisterDecoder(d); err != nil {
			panic(err)
		}
	}

	return c
}

// RegisterEncoder registers the given encoder under its name and media types.
func (c *Codecs) RegisterEncoder(e Encoder) error {

	defer c.cache.Clear()

	return c.encoders.Register(e, map[string][]string{
		"name":      {e.Name()},
		"mime_type": e.MimeTypes(),
	})
}

// RegisterDecoder registers the given decoder under its name and media types.
func (c *Codecs) RegisterDecoder(d Decoder) error {

	return c.decoders.Register(d, map[string][]string{
		"name":      {d.Name()},
		"mime_type": d.MimeTypes(),
	})
}

// RemoveEncoder removes the encoder with the given name.
func (c *Codecs) RemoveEncoder(name string) {

	defer c.cache.Clear()

	c.encoders.RemoveKey("name", name)
}

// RemoveDecoder removes the decoder with the given name.
func (c *Codecs) RemoveDecoder(name string) {
	c.decoders.RemoveKey("name", name)
}

// Encoder returns the encoder with the given name.
func (c *Codecs) Encoder(name string) (Encoder, bool) {
	return c.encoders.Find("name", name)
}

// EncoderNames returns the names of every registered encoder.
func (c *Codecs) EncoderNames() []string {
	return c.encoders.Values("name")
}

// FindDecoder returns the decoder for the given Content-Type header value.
func (c *Codecs) FindDecoder(contentType string) (Decoder, error) {

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDecoder, err)
	}

	d, ok := c.decoders.Find("mime_type", mediaType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDecoder, mediaType)
	}

	return d, nil
}

// FindEncoder returns the best encoder for the given Accept header value,
// restricted to the allowed encoder names, or all registered encoders if
// allowed is empty. The fallback encoder is used for */*.
func (c *Codecs) FindEncoder(accept string, allowed []string, fallback string) (Encoder, error) {

	key := accept + "|" + strings.Join(allowed, ",") + "|" + fallback

	if item := c.cache.Get(key); item != nil && !item.Expired() {
		if e, ok := item.Value().(Encoder); ok {
			return e, nil
		}
		return nil, ErrNoEncoder
	}

	e, err := c.negotiate(accept, allowed, fallback)

	if err != nil {
		c.cache.Set(key, false, negotiationCacheTTL)
		return nil, err
	}

	c.cache.Set(key, e, negotiationCacheTTL)

	return e, nil
}

func (c *Codecs) negotiate(accept string, allowed []string, fallback string) (Encoder, error) {

	if len(allowed) == 0 {
		allowed = c.EncoderNames()
	}

	candidates := make([]Encoder, 0, len(allowed))
	if e, ok := c.Encoder(fallback); ok && stringInSlice(fallback, allowed) {
		candidates = append(candidates, e)
	}

	for _, name := range allowed {
		if name == fallback {
			continue
		}
		if e, ok := c.Encoder(name); ok {
			candidates = append(candidates, e)
		}
	}

	if len(candidates) == 0 {
		return nil, ErrNoEncoder
	}

	if strings.TrimSpace(accept) == "" {
		return candidates[0], nil
	}

	specs := header.ParseAccept(http.Header{"Accept": {accept}}, "Accept")
	sort.SliceStable(specs, func(i, j int) bool { return specs[i].Q > specs[j].Q })

	var refused []string
	for _, spec := range specs {
		if spec.Q <= 0 {
			refused = append(refused, strings.ToLower(spec.Value))
		}
	}

	for _, spec := range specs {

		if spec.Q <= 0 {
			continue
		}

		value := strings.ToLower(spec.Value)

		for _, e := range candidates {

			if encoderRefused(e, refused) {
				continue
			}

			if value == "*/*" {
				return e, nil
			}

			for _, mt := range e.MimeTypes() {
				if mediaTypeMatches(value, mt) {
					return e, nil
				}
			}
		}
	}

	return nil, ErrNoEncoder
}

// encoderRefused returns true if a mime type of the encoder is refused
// with a null quality by a range other than the full one.
func encoderRefused(e Encoder, refused []string) bool {

	for _, value := range refused {

		if value == "*/*" {
			continue
		}

		for _, mt := range e.MimeTypes() {
			if mediaTypeMatches(value, mt) {
				return true
			}
		}
	}

	return false
}

// mediaTypeMatches returns true if the media range matches the mime type.
func mediaTypeMatches(value string, mt string) bool {

	if mt == value {
		return true
	}

	return strings.HasSuffix(value, "/*") && strings.HasPrefix(mt, strings.TrimSuffix(value, "*"))
}

func stringInSlice(s string, list []string) bool {

	for _, item := range list {
		if item == s {
			return true
		}
	}

	return false
}
