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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"go.aporeto.io/armet/store"
	"go.aporeto.io/elemental"
)

var errStructuredData = errors.New("data must be an object or an array")

// JSONEncoder encodes data as compact JSON.
type JSONEncoder struct{}

// Name implements Encoder.
func (JSONEncoder) Name() string { return "json" }

// MimeTypes implements Encoder.
func (JSONEncoder) MimeTypes() []string { return []string{"application/json", "text/json"} }

// Encode implements Encoder.
func (JSONEncoder) Encode(data any) ([]byte, error) {
	return json.Marshal(data)
}

// JSONDecoder decodes JSON objects and arrays.
type JSONDecoder struct{}

// Name implements Decoder.
func (JSONDecoder) Name() string { return "json" }

// MimeTypes implements Decoder.
func (JSONDecoder) MimeTypes() []string { return []string{"application/json", "text/json"} }

// Decode implements Decoder.
func (JSONDecoder) Decode(data []byte) (any, error) {

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errStructuredData
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	switch out.(type) {
	case map[string]any, []any:
		return out, nil
	}

	return nil, errStructuredData
}

// MsgpackEncoder encodes data as msgpack.
type MsgpackEncoder struct{}

// Name implements Encoder.
func (MsgpackEncoder) Name() string { return "msgpack" }

// MimeTypes implements Encoder.
func (MsgpackEncoder) MimeTypes() []string {
	return []string{string(elemental.EncodingTypeMSGPACK), "application/x-msgpack"}
}

// Encode implements Encoder.
func (MsgpackEncoder) Encode(data any) ([]byte, error) {
	return elemental.Encode(elemental.EncodingTypeMSGPACK, data)
}

// MsgpackDecoder decodes msgpack maps and arrays.
type MsgpackDecoder struct{}

// Name implements Decoder.
func (MsgpackDecoder) Name() string { return "msgpack" }

// MimeTypes implements Decoder.
func (MsgpackDecoder) MimeTypes() []string {
	return []string{string(elemental.EncodingTypeMSGPACK), "application/x-msgpack"}
}

// Decode implements Decoder.
func (MsgpackDecoder) Decode(data []byte) (any, error) {

	if len(data) == 0 {
		return nil, errStructuredData
	}

	var out any
	if err := elemental.Decode(elemental.EncodingTypeMSGPACK, data, &out); err != nil {
		return nil, err
	}

	out = normalizeDecoded(out)

	switch out.(type) {
	case map[string]any, []any:
		return out, nil
	}

	return nil, errStructuredData
}

func normalizeDecoded(v any) any {

	switch o := v.(type) {

	case map[any]any:
		m := make(map[string]any, len(o))
		for k, v := range o {
			if b, ok := k.([]byte); ok {
				k = string(b)
			}
			m[fmt.Sprint(k)] = normalizeDecoded(v)
		}
		return m

	case map[string]any:
		for k, v := range o {
			o[k] = normalizeDecoded(v)
		}
		return o

	case []any:
		for i, v := range o {
			o[i] = normalizeDecoded(v)
		}
		return o

	case []byte:
		return string(o)
	}

	return v
}

// URLEncoder encodes maps as application/x-www-form-urlencoded.
// Values must be strings or lists of strings.
type URLEncoder struct{}

// Name implements Encoder.
func (URLEncoder) Name() string { return "url" }

// MimeTypes implements Encoder.
func (URLEncoder) MimeTypes() []string { return []string{"application/x-www-form-urlencoded"} }

// Encode implements Encoder.
func (URLEncoder) Encode(data any) ([]byte, error) {

	values := url.Values{}

	var m map[string]any

	switch d := data.(type) {
	case url.Values:
		return []byte(d.Encode()), nil
	case map[string][]string:
		return []byte(url.Values(d).Encode()), nil
	case map[string]string:
		for k, v := range d {
			values.Set(k, v)
		}
		return []byte(values.Encode()), nil
	case store.Record:
		m = d
	case map[string]any:
		m = d
	default:
		return nil, fmt.Errorf("unable to url encode %T: expected a map", data)
	}

	for k, v := range m {
		switch value := v.(type) {
		case string:
			values.Add(k, value)
		case []string:
			for _, item := range value {
				values.Add(k, item)
			}
		case []any:
			for _, item := range value {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("unable to url encode '%s': list items must be strings", k)
				}
				values.Add(k, s)
			}
		default:
			return nil, fmt.Errorf("unable to url encode '%s': value must be a string or a list of strings", k)
		}
	}

	return []byte(values.Encode()), nil
}

// URLDecoder decodes application/x-www-form-urlencoded bodies into
// a map of lists of strings.
type URLDecoder struct{}

// Name implements Decoder.
func (URLDecoder) Name() string { return "url" }

// MimeTypes implements Decoder.
func (URLDecoder) MimeTypes() []string { return []string{"application/x-www-form-urlencoded"} }

// Decode implements Decoder.
func (URLDecoder) Decode(data []byte) (any, error) {

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty form data")
	}

	values, err := url.ParseQuery(string(data))
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}

	return out, nil
}
