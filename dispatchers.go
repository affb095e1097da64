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
	"net/http"
	"reflect"
	"strings"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"go.aporeto.io/armet/store"
	"go.aporeto.io/elemental"
	"go.uber.org/zap"
)

const listIndexKey = "\x00index"

func audit(auditer Auditer, ctx Context, err error) {

	if auditer == nil {
		return
	}

	auditer.Audit(ctx, err)
}

func notImplementedErr(op Operation, resource string) error {
	return NewError(
		"Not Implemented",
		fmt.Sprintf("Operation '%s' is not implemented on %s", op, resource),
		http.StatusNotImplemented,
	)
}

func forbiddenOperationErr(op Operation, entry *resourceEntry, list bool) error {

	allowed := make([]string, 0, len(entry.allowedOperations(list)))
	for _, o := range entry.allowedOperations(list) {
		allowed = append(allowed, string(o))
	}

	return NewError(
		"Forbidden",
		fmt.Sprintf(
			"Operation '%s' is not allowed on %s. Allowed operations: %s",
			op,
			entry.name(),
			strings.Join(allowed, ", "),
		),
		http.StatusForbidden,
	)
}

// checkOperation checks that the operation is allowed and implemented.
func checkOperation(entry *resourceEntry, op Operation, list bool) error {

	if !entry.isOperationAllowed(op, list) {
		return forbiddenOperationErr(op, entry, list)
	}

	if !entry.implements(op) {
		return notImplementedErr(op, entry.name())
	}

	return nil
}

// dispatch runs the request cycle once the route is resolved.
func (a *API) dispatch(x *exchange) (err error) {

	ctx := x.ctx
	rt := x.route

	defer func() { audit(a.auditer(), ctx, err) }()

	if err = CheckAuthentication(a.authenticators(rt.encodingEntry()), ctx); err != nil {
		return err
	}

	if x.negotiationErr != nil {
		return x.negotiationErr
	}

	if err = a.readParents(ctx, rt); err != nil {
		return err
	}

	if rt.attribute != nil {

		parent := ctx.parents[len(ctx.parents)-1]
		ctx.parents = ctx.parents[:len(ctx.parents)-1]
		ctx.target(parent.Resource, parent.Slug, false)

		if err = CheckAuthorization(a.authorizers(rt.lastParent().entry), ctx); err != nil {
			return err
		}

		x.output = a.renderAttribute(rt.attribute, parent.Item)

		return nil
	}

	entry := rt.entry
	slug := rt.slug

	if rt.follow != nil {

		parent := ctx.parents[len(ctx.parents)-1]

		v := rt.follow.Get(parent.Item)
		if v == nil {
			return ErrNotFound
		}

		switch reflect.Indirect(reflect.ValueOf(v)).Kind() {
		case reflect.Map, reflect.Struct:
			slug = entry.slugOf(v)
		default:
			slug = fmt.Sprint(v)
		}

		if slug == "" {
			return ErrNotFound
		}

		ctx.parents = nil
	}

	list := slug == ""
	ctx.target(entry.name(), slug, list)

	if list {

		pageSize := entry.cfg.pageSize
		if pageSize <= 0 {
			pageSize = a.cfg.api.defaultPageSize
		}

		ctx.page.FromValues(ctx.request.Query, pageSize, a.cfg.api.maxPageSize)

		if ctx.query, err = a.parseQuery(entry, ctx.request.Query, ctx.page); err != nil {
			return err
		}
	}

	data, err := a.decodeBody(ctx, entry)
	if err != nil {
		return err
	}
	ctx.data = data

	if err = CheckAuthorization(a.authorizers(entry), ctx); err != nil {
		return err
	}

	switch ctx.method {

	case http.MethodGet, http.MethodHead:
		return a.dispatchRead(x, entry, list)

	case http.MethodOptions:
		ctx.header.Set("Allow", strings.Join(entry.allowedMethods(list), ", "))
		if ctx.statusCode == 0 {
			ctx.statusCode = http.StatusOK
		}
		return nil

	case http.MethodPost:
		if !list {
			return NewError("Not Implemented", "POST on an item is not implemented", http.StatusNotImplemented)
		}
		return a.dispatchCreate(x, entry, true, entry.cfg.postReturnData)

	case http.MethodPut:
		if list {
			return NewError("Not Implemented", "PUT on a list is not implemented", http.StatusNotImplemented)
		}

		exists, err := a.exists(ctx, entry)
		if err != nil {
			return err
		}

		if !exists {
			return a.dispatchCreate(x, entry, false, entry.cfg.putReturnData)
		}

		if err = a.checkRequired(entry, ctx.data); err != nil {
			return err
		}

		return a.dispatchUpdate(x, entry, false)

	case http.MethodPatch:
		if list {
			return NewError("Not Implemented", "PATCH on a list is not implemented", http.StatusNotImplemented)
		}
		return a.dispatchUpdate(x, entry, true)

	case http.MethodDelete:
		if list {
			return NewError("Not Implemented", "DELETE on a list is not implemented", http.StatusNotImplemented)
		}
		return a.dispatchDestroy(x, entry)
	}

	return NewError(
		"Not Implemented",
		fmt.Sprintf("Method '%s' is not implemented", ctx.method),
		http.StatusNotImplemented,
	)
}

// readParents reads every parent of the route and stores them in the context.
func (a *API) readParents(ctx *rcontext, rt *route) error {

	parents := make([]Parent, 0, len(rt.parents))

	for _, p := range rt.parents {

		ctx.parents = parents
		ctx.target(p.entry.name(), p.slug, false)

		if err := checkOperation(p.entry, OperationRead, false); err != nil {
			return err
		}

		item, err := p.entry.resource.(Reader).Read(ctx)
		if err != nil {
			return err
		}

		if item == nil {
			return ErrNotFound
		}

		parents = append(parents, Parent{Resource: p.entry.name(), Slug: p.slug, Item: item})
	}

	ctx.parents = parents

	return nil
}

// decodeBody decodes the body of the request. Data sent to write
// methods is cleaned.
func (a *API) decodeBody(ctx *rcontext, entry *resourceEntry) (map[string]any, error) {

	write := ctx.method == http.MethodPost || ctx.method == http.MethodPut || ctx.method == http.MethodPatch

	data := map[string]any{}

	if body := ctx.request.Body; len(body) > 0 {

		decoder, err := a.codecs.FindDecoder(ctx.request.Header.Get("Content-Type"))
		if err != nil {
			return nil, NewError("Unsupported Media Type", err.Error(), http.StatusUnsupportedMediaType)
		}

		decoded, err := decoder.Decode(body)
		if err != nil {
			return nil, NewError("Bad Request", fmt.Sprintf("Unable to decode body: %s", err), http.StatusBadRequest)
		}

		m, ok := decoded.(map[string]any)
		if !ok && write {
			return nil, NewError("Bad Request", "The body must be an object", http.StatusBadRequest)
		}

		if ok {
			data = m
		}
	}

	if !write {
		return data, nil
	}

	data, err := a.clean(entry, data)
	if err != nil {
		return nil, err
	}

	if c, ok := entry.resource.(Cleaner); ok {
		if data, err = c.Clean(ctx, data); err != nil {
			return nil, err
		}
	}

	if data == nil {
		data = map[string]any{}
	}

	return data, nil
}

func (a *API) dispatchRead(x *exchange, entry *resourceEntry, list bool) error {

	ctx := x.ctx

	if err := checkOperation(entry, OperationRead, list); err != nil {
		return err
	}

	out, err := entry.resource.(Reader).Read(ctx)
	if err != nil {
		return err
	}

	if !list {

		if out == nil {
			return ErrNotFound
		}

		x.output, err = a.prepare(ctx, entry, out)
		return err
	}

	if out == nil {
		return nil
	}

	items, ok := toSlice(out)
	if !ok {
		items = []any{out}
	}

	if !ctx.countSet {
		if items, ctx.count, err = a.processList(entry, items, ctx.query); err != nil {
			return err
		}
	}

	prepared, err := a.prepareList(ctx, entry, items)
	if err != nil {
		return err
	}

	x.list = true
	x.output = prepared

	return nil
}

func (a *API) dispatchCreate(x *exchange, entry *resourceEntry, list bool, returnData bool) error {

	ctx := x.ctx

	if err := checkOperation(entry, OperationCreate, list); err != nil {
		return err
	}

	if err := a.checkRequired(entry, ctx.data); err != nil {
		return err
	}

	item, err := entry.resource.(Creator).Create(ctx, ctx.data)
	if err != nil {
		return err
	}

	x.created = true

	slug := ctx.slug
	if item != nil {
		if s := entry.slugOf(item); s != "" {
			slug = s
		}
	}

	if slug != "" {
		ctx.header.Set("Location", a.URI(entry.name(), slug))
	}

	prepared, err := a.prepare(ctx, entry, item)
	if err != nil {
		return err
	}

	a.publishEvent(ctx, EventCreate, entry.name(), slug, prepared)

	if returnData {
		x.output = prepared
	}

	return nil
}

// dispatchUpdate updates the targeted item. When merge is set, the
// data is merged over the current item before being handed to the
// Updater.
func (a *API) dispatchUpdate(x *exchange, entry *resourceEntry, merge bool) error {

	ctx := x.ctx

	if err := checkOperation(entry, OperationUpdate, false); err != nil {
		return err
	}

	var current any
	if r, ok := entry.resource.(Reader); ok {

		var err error
		if current, err = r.Read(ctx); err != nil {
			return err
		}

		if current == nil {
			return ErrNotFound
		}
	}

	if merge && current != nil {
		ctx.data = mergeData(entry, current, ctx.data)
	}

	item, err := entry.resource.(Updater).Update(ctx, current, ctx.data)
	if err != nil {
		return err
	}

	prepared, err := a.prepare(ctx, entry, item)
	if err != nil {
		return err
	}

	a.publishEvent(ctx, EventUpdate, entry.name(), ctx.slug, prepared)

	if entry.cfg.putReturnData {
		x.output = prepared
	}

	return nil
}

// mergeData projects the current item by attribute name and lays the
// given data over it. Read only attributes are never projected as
// input cannot carry them.
func mergeData(entry *resourceEntry, current any, data map[string]any) map[string]any {

	out := map[string]any{}

	if entry.cfg.attributesSet {

		for i := range entry.cfg.attributes {

			attr := &entry.cfg.attributes[i]
			if attr.ReadOnly {
				continue
			}

			if v := attr.Get(current); v != nil {
				out[attr.Name] = v
			}
		}

	} else {

		switch v := current.(type) {
		case map[string]any:
			for k, val := range v {
				out[k] = val
			}
		case store.Record:
			for k, val := range v {
				out[k] = val
			}
		default:
			return data
		}
	}

	for k, v := range data {
		out[k] = v
	}

	return out
}

func (a *API) dispatchDestroy(x *exchange, entry *resourceEntry) error {

	ctx := x.ctx

	if err := checkOperation(entry, OperationDestroy, false); err != nil {
		return err
	}

	if err := entry.resource.(Destroyer).Destroy(ctx); err != nil {
		return err
	}

	a.publishEvent(ctx, EventDelete, entry.name(), ctx.slug, nil)

	return nil
}

// exists tells whether the target item of a PUT exists.
func (a *API) exists(ctx *rcontext, entry *resourceEntry) (bool, error) {

	if c, ok := entry.resource.(ExistenceChecker); ok {
		return c.Exists(ctx)
	}

	r, ok := entry.resource.(Reader)
	if !ok {
		return false, nil
	}

	item, err := r.Read(ctx)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}

	return item != nil, nil
}

// processList filters, orders and paginates the items of a list
// the resource did not process itself.
func (a *API) processList(entry *resourceEntry, items []any, q store.Query) ([]any, int, error) {

	records := make([]store.Record, len(items))
	for i, item := range items {
		r := a.project(entry, item)
		r[listIndexKey] = i
		records[i] = r
	}

	search := func(r store.Record, s string) bool {

		s = strings.ToLower(s)

		for _, field := range q.SearchFields {
			v := r.Get(field)
			if v == nil {
				continue
			}
			if strings.Contains(strings.ToLower(fmt.Sprint(v)), s) {
				return true
			}
		}

		return false
	}

	page, total, err := store.Apply(records, q, search)
	if err != nil {
		return nil, 0, err
	}

	out := make([]any, len(page))
	for i, r := range page {
		out[i] = items[r[listIndexKey].(int)]
	}

	return out, total, nil
}

// project returns the record holding the attribute values of the item.
func (a *API) project(entry *resourceEntry, item any) store.Record {

	if !entry.cfg.attributesSet {
		switch m := item.(type) {
		case map[string]any:
			return store.Record(m).Copy()
		case store.Record:
			return m.Copy()
		}
		return store.Record{}
	}

	r := store.Record{}
	for i := range entry.cfg.attributes {
		attr := &entry.cfg.attributes[i]
		r.Set(attr.path(), attr.Get(item))
	}

	return r
}

// publishEvent publishes a change event if a publisher is configured.
func (a *API) publishEvent(ctx Context, typ EventType, resource string, slug string, data any) {

	service, topic := a.publisher()
	if service == nil {
		return
	}

	event := NewEvent(typ, resource, slug, data)
	event.Timestamp = time.Now().UTC()

	if handler := a.publishHandler(); handler != nil {

		ok, err := handler.ShouldPublish(event)
		if err != nil {
			zap.L().Error("Unable to decide if event should be published",
				zap.Stringer("event", event),
				zap.String("request", ctx.Identifier()),
				zap.Error(err),
			)
			return
		}

		if !ok {
			return
		}
	}

	pub := NewPublication(topic)

	if span := opentracing.SpanFromContext(ctx.Context()); span != nil {
		if err := pub.StartTracingFromSpan(span, "armet.publish.event"); err != nil {
			zap.L().Warn("Unable to start publication tracing", zap.Error(err))
		}
		defer pub.finishTracing()
	}

	if err := pub.Encode(event); err != nil {
		zap.L().Error("Unable to encode event", zap.String("resource", resource), zap.Error(err))
		return
	}

	if err := service.Publish(pub); err != nil {
		zap.L().Error("Unable to publish event",
			zap.String("resource", resource),
			zap.String("request", ctx.Identifier()),
			zap.Error(err),
		)
	}
}

// authenticators returns the authenticators of the API and of its
// parents, followed by the ones of the resource.
func (a *API) authenticators(entry *resourceEntry) []RequestAuthenticator {

	var out []RequestAuthenticator
	if a.parent != nil {
		out = a.parent.authenticators(nil)
	}

	out = append(out, a.cfg.security.requestAuthenticators...)
	if entry != nil {
		out = append(out, entry.cfg.authenticators...)
	}

	return out
}

// authorizers returns the authorizers of the API and of its parents,
// followed by the ones of the resource.
func (a *API) authorizers(entry *resourceEntry) []Authorizer {

	var out []Authorizer
	if a.parent != nil {
		out = a.parent.authorizers(nil)
	}

	out = append(out, a.cfg.security.authorizers...)
	if entry != nil {
		out = append(out, entry.cfg.authorizers...)
	}

	return out
}

func (a *API) auditer() Auditer {

	for api := a; api != nil; api = api.parent {
		if api.cfg.security.auditer != nil {
			return api.cfg.security.auditer
		}
	}

	return nil
}

func isNotFound(err error) bool {

	if errors.Is(err, store.ErrNotFound) {
		return true
	}

	var eerr elemental.Error
	if errors.As(err, &eerr) {
		return eerr.Code == http.StatusNotFound
	}

	var eerrs elemental.Errors
	if errors.As(err, &eerrs) {
		return eerrs.Code() == http.StatusNotFound
	}

	return false
}
