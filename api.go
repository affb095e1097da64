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
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	opentracing "github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
)

// An API serves registered resources. It can be served by any http
// connector through Handle.
type API struct {
	cfg       config
	codecs    *Codecs
	resources *Registry[*resourceEntry]
	apis      map[string]*API
	parent    *API
	mountName string
	lock      sync.RWMutex
}

// NewAPI returns a new *API configured with the given options.
func NewAPI(options ...Option) *API {

	cfg := newConfig(options...)

	return &API{
		cfg:       cfg,
		codecs:    cfg.api.codecs,
		resources: NewRegistry[*resourceEntry](),
		apis:      map[string]*API{},
	}
}

// Name returns the name of the API.
func (a *API) Name() string {
	return a.cfg.api.name
}

// Codecs returns the encoders and decoders of the API.
func (a *API) Codecs() *Codecs {
	return a.codecs
}

// Register registers the given resource.
func (a *API) Register(resource any, options ...ResourceOption) error {

	entry, err := newResourceEntry(resource, a.codecs, options...)
	if err != nil {
		return err
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	name := entry.name()

	if _, ok := a.resources.Find("name", name); ok {
		return fmt.Errorf("resource '%s' is already registered", name)
	}

	if _, ok := a.apis[name]; ok {
		return fmt.Errorf("resource '%s' conflicts with a sub api", name)
	}

	return a.resources.Register(entry, map[string][]string{"name": {name}})
}

// RegisterOrDie registers the given resource and exits if it fails.
func (a *API) RegisterOrDie(resource any, options ...ResourceOption) {

	if err := a.Register(resource, options...); err != nil {
		zap.L().Fatal("Unable to register resource", zap.Error(err))
	}
}

// Unregister removes the resource with the given name.
func (a *API) Unregister(name string) error {

	a.lock.Lock()
	defer a.lock.Unlock()

	if _, ok := a.resources.Find("name", name); !ok {
		return fmt.Errorf("no resource registered with name '%s'", name)
	}

	a.resources.RemoveKey("name", name)

	return nil
}

// Resource returns the resource registered with the given name.
func (a *API) Resource(name string) (any, bool) {

	entry, ok := a.entry(name)
	if !ok {
		return nil, false
	}

	return entry.resource, true
}

// ResourceNames returns the sorted names of the registered resources.
func (a *API) ResourceNames() []string {
	return a.resources.Values("name")
}

// RegisterAPI mounts the given API under /name. If name is empty,
// the name of the sub API is used.
func (a *API) RegisterAPI(sub *API, name string) error {

	if sub == nil || sub == a {
		return fmt.Errorf("invalid sub api")
	}

	if name == "" {
		name = sub.Name()
	}

	name = trimSlashes(name)
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("invalid sub api name '%s'", name)
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	if _, ok := a.apis[name]; ok {
		return fmt.Errorf("an api is already mounted under '%s'", name)
	}

	if _, ok := a.resources.Find("name", name); ok {
		return fmt.Errorf("sub api '%s' conflicts with a resource", name)
	}

	if sub.parent != nil {
		return fmt.Errorf("api '%s' is already mounted", name)
	}

	sub.parent = a
	sub.mountName = name
	a.apis[name] = sub

	return nil
}

// URI returns the canonical URI of the given resource and slug.
func (a *API) URI(resource string, slug string) string {

	uri := a.basePath() + "/" + resource
	if slug != "" {
		uri += "/" + url.PathEscape(slug)
	}

	if a.cfg.api.trailingSlash {
		uri += "/"
	}

	return uri
}

// Handle handles the given request and returns the response.
func (a *API) Handle(ctx context.Context, req *Request) *Response {

	if req.Query == nil {
		req.Query = url.Values{}
	}

	if req.Header == nil {
		req.Header = http.Header{}
	}

	tctx := traceRequest(ctx, req, opentracing.GlobalTracer())
	defer finishTracing(tctx)

	rctx := newContext(tctx, req)

	if f := a.cfg.api.teardownFunc; f != nil {
		defer f(rctx)
	}

	if f := a.cfg.api.setupFunc; f != nil {
		if err := f(rctx); err != nil {
			return a.makeErrorResponse(&exchange{ctx: rctx}, err)
		}
	}

	path := req.Path
	if path == "" {
		path = "/"
	}

	if prefix := a.cfg.api.prefix; prefix != "" {
		if path != prefix && !strings.HasPrefix(path, prefix+"/") {
			return a.makeErrorResponse(&exchange{ctx: rctx}, ErrNotFound)
		}
		path = strings.TrimPrefix(path, prefix)
	}

	return a.handlePath(rctx, path)
}

func (a *API) handlePath(ctx *rcontext, path string) *Response {

	x := &exchange{ctx: ctx}

	trimmed := trimSlashes(path)

	if trimmed != "" {
		first, _, _ := strings.Cut(trimmed, "/")
		a.lock.RLock()
		sub, ok := a.apis[first]
		a.lock.RUnlock()
		if ok {
			return sub.handlePath(ctx, strings.TrimPrefix(strings.TrimPrefix(path, "/"), first))
		}
	}

	if trimmed != "" && strings.HasSuffix(path, "/") != a.cfg.api.trailingSlash {

		canonical := strings.TrimSuffix(path, "/")
		if a.cfg.api.trailingSlash {
			canonical = path + "/"
		}

		return a.makeRedirectResponse(ctx, a.basePath()+canonical)
	}

	if trimmed == "" {
		return a.makeErrorResponse(x, ErrNotFound)
	}

	segments := strings.Split(trimmed, "/")

	format := ctx.request.Query.Get("format")
	last := segments[len(segments)-1]
	if idx := strings.LastIndex(last, "."); idx > 0 {
		if _, ok := a.codecs.Encoder(last[idx+1:]); ok {
			format = last[idx+1:]
			segments[len(segments)-1] = last[:idx]
		}
	}

	for i, s := range segments {
		unescaped, err := url.PathUnescape(s)
		if err != nil {
			return a.makeErrorResponse(x, ErrNotFound)
		}
		segments[i] = unescaped
	}

	rt, err := a.resolve(segments)
	if err != nil {
		return a.makeErrorResponse(x, err)
	}
	x.route = rt

	entry := rt.encodingEntry()
	x.encoder, x.negotiationErr = a.negotiate(ctx, entry, format)

	allowed := rt.allowedMethods()

	if !isUnderstoodMethod(ctx.method) {
		return a.makeErrorResponse(x, NewError(
			"Not Implemented",
			fmt.Sprintf("Method '%s' is not implemented", ctx.method),
			http.StatusNotImplemented,
		))
	}

	if !stringInSlice(ctx.method, allowed) {
		return a.makeErrorResponse(x, newHTTPError(
			NewError(
				"Method Not Allowed",
				fmt.Sprintf("Method '%s' is not allowed on %s", ctx.method, rt.describe()),
				http.StatusMethodNotAllowed,
			),
			"Allow",
			strings.Join(allowed, ", "),
		))
	}

	return runDispatcher(
		x,
		func() error { return a.dispatch(x) },
		a.makeResponse,
		a.makeErrorResponse,
		a.cfg.general.panicRecoveryDisabled,
	)
}

// negotiate returns the encoder to respond with.
func (a *API) negotiate(ctx *rcontext, entry *resourceEntry, format string) (Encoder, error) {

	allowed := entry.cfg.encoders
	if len(allowed) == 0 {
		allowed = a.codecs.EncoderNames()
	}

	notAcceptable := func() error {
		return NewError(
			"Not Acceptable",
			fmt.Sprintf("Available formats are: %s", strings.Join(allowed, ", ")),
			http.StatusNotAcceptable,
		)
	}

	if format != "" {

		if !stringInSlice(format, allowed) {
			return nil, notAcceptable()
		}

		e, ok := a.codecs.Encoder(format)
		if !ok {
			return nil, notAcceptable()
		}

		return e, nil
	}

	e, err := a.codecs.FindEncoder(ctx.request.Header.Get("Accept"), entry.cfg.encoders, entry.cfg.defaultEncoder)
	if err != nil {
		return nil, notAcceptable()
	}

	return e, nil
}

// errorEncoder returns the encoder used for errors when the negotiated
// one is not available.
func (a *API) errorEncoder(ctx *rcontext) Encoder {

	if e, err := a.codecs.FindEncoder(ctx.request.Header.Get("Accept"), nil, a.cfg.api.defaultEncoder); err == nil {
		return e
	}

	if e, ok := a.codecs.Encoder(a.cfg.api.defaultEncoder); ok {
		return e
	}

	return JSONEncoder{}
}

func (a *API) entry(name string) (*resourceEntry, bool) {
	return a.resources.Find("name", name)
}

// basePath returns the path the API is served under.
func (a *API) basePath() string {

	if a.parent != nil {
		return a.parent.basePath() + "/" + a.mountName
	}

	return a.cfg.api.prefix
}

// publisher returns the pubsub client events are published on, and
// the topic to use.
func (a *API) publisher() (PubSubClient, string) {

	for api := a; api != nil; api = api.parent {
		if api.cfg.pushServer.service != nil {
			return api.cfg.pushServer.service, api.cfg.pushServer.topic
		}
	}

	return nil, ""
}

// publishHandler returns the first publish handler of the API or of its parents.
func (a *API) publishHandler() PushPublishHandler {

	for api := a; api != nil; api = api.parent {
		if api.cfg.pushServer.publishHandler != nil {
			return api.cfg.pushServer.publishHandler
		}
	}

	return nil
}

// debugMode returns true if the API or one of its parents is in debug mode.
func (a *API) debugMode() bool {

	for api := a; api != nil; api = api.parent {
		if api.cfg.general.debug {
			return true
		}
	}

	return false
}
