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
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strings"

	"go.aporeto.io/armet/store"
	"go.aporeto.io/elemental"
)

// prepare renders the given item and passes it to the Preparer
// of the resource if any.
func (a *API) prepare(ctx Context, entry *resourceEntry, item any) (any, error) {

	out := a.render(entry, item)

	if p, ok := entry.resource.(Preparer); ok {
		return p.Prepare(ctx, out)
	}

	return out, nil
}

// prepareList prepares every item of a list.
func (a *API) prepareList(ctx Context, entry *resourceEntry, items []any) ([]any, error) {

	out := make([]any, len(items))

	for i, item := range items {
		prepared, err := a.prepare(ctx, entry, item)
		if err != nil {
			return nil, err
		}
		out[i] = prepared
	}

	return out, nil
}

// render renders the representation of an item from the attributes
// of the resource. Without attributes, maps are copied and get their
// resource URI, and other items are returned as is.
func (a *API) render(entry *resourceEntry, item any) any {

	if item == nil {
		return nil
	}

	if !entry.cfg.attributesSet {

		var m map[string]any
		switch v := item.(type) {
		case map[string]any:
			m = v
		case store.Record:
			m = v
		default:
			return item
		}

		out := make(map[string]any, len(m)+1)
		for k, v := range m {
			out[k] = v
		}

		if entry.cfg.resourceURI != "" {
			if slug := entry.slugOf(item); slug != "" {
				out[entry.cfg.resourceURI] = a.URI(entry.name(), slug)
			}
		}

		return out
	}

	out := make(map[string]any, len(entry.cfg.attributes)+1)

	if entry.cfg.resourceURI != "" {
		if slug := entry.slugOf(item); slug != "" {
			out[entry.cfg.resourceURI] = a.URI(entry.name(), slug)
		}
	}

	for i := range entry.cfg.attributes {

		attr := &entry.cfg.attributes[i]
		if attr.Hidden {
			continue
		}

		out[attr.Name] = a.renderAttribute(attr, item)
	}

	return out
}

// renderAttribute renders the value of the attribute in the given item.
func (a *API) renderAttribute(attr *Attribute, item any) any {

	v := attr.Get(item)

	if attr.Collection {

		items, ok := toSlice(v)
		switch {
		case v == nil:
			items = []any{}
		case !ok:
			items = []any{v}
		}

		out := make([]any, len(items))
		for i, item := range items {
			out[i] = a.renderRelation(attr, item)
		}

		return out
	}

	return a.renderRelation(attr, v)
}

func (a *API) renderRelation(attr *Attribute, v any) any {

	if attr.Relation == "" || v == nil {
		return v
	}

	switch rv := reflect.Indirect(reflect.ValueOf(v)); rv.Kind() {
	case reflect.Map, reflect.Struct:
		entry, ok := a.entry(attr.Relation)
		if !ok {
			return v
		}
		slug := entry.slugOf(v)
		if slug == "" {
			return nil
		}
		return a.URI(attr.Relation, slug)
	}

	return a.URI(attr.Relation, fmt.Sprint(v))
}

// clean validates and coerces the decoded input of a request.
// Read only attributes are dropped and relation URIs are resolved
// into slugs. Every invalid attribute is reported at once.
func (a *API) clean(entry *resourceEntry, data map[string]any) (map[string]any, error) {

	if !entry.cfg.attributesSet {
		return data, nil
	}

	out := make(map[string]any, len(data))
	var errs []error

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {

		attr, ok := entry.attributes[key]
		if !ok || attr.ReadOnly {
			continue
		}

		value := data[key]

		if attr.Relation != "" && value != nil {
			resolved, err := a.resolveRelations(attr, value)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			value = resolved
		}

		parsed, err := attr.Parse(value)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		out[key] = parsed
	}

	if len(errs) > 0 {
		return nil, elemental.NewErrors(errs...)
	}

	return out, nil
}

// checkRequired reports every required attribute missing from the data.
func (a *API) checkRequired(entry *resourceEntry, data map[string]any) error {

	var errs []error

	for i := range entry.cfg.attributes {

		attr := &entry.cfg.attributes[i]
		if !attr.Required || attr.ReadOnly {
			continue
		}

		if v, ok := data[attr.Name]; !ok || v == nil {
			errs = append(errs, elemental.NewError(
				"Missing Attribute",
				fmt.Sprintf("Attribute '%s' is required", attr.Name),
				errorSubject,
				http.StatusBadRequest,
			))
		}
	}

	if len(errs) > 0 {
		return elemental.NewErrors(errs...)
	}

	return nil
}

func (a *API) resolveRelations(attr *Attribute, value any) (any, error) {

	items, ok := toSlice(value)
	if !ok {
		return a.relationSlug(attr, fmt.Sprint(value))
	}

	out := make([]any, len(items))
	for i, item := range items {
		slug, err := a.relationSlug(attr, fmt.Sprint(item))
		if err != nil {
			return nil, err
		}
		out[i] = slug
	}

	return out, nil
}

// relationSlug returns the slug designated by the given URI or slug
// of a related resource.
func (a *API) relationSlug(attr *Attribute, raw string) (any, error) {

	raw = strings.TrimSpace(raw)

	if !strings.HasPrefix(raw, "/") && !strings.Contains(raw, "://") {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, attr.invalid(fmt.Sprintf("invalid uri '%s'", raw))
	}

	path := u.Path
	if base := a.basePath(); base != "" {
		path = strings.TrimPrefix(path, base)
	}

	segments := strings.Split(trimSlashes(path), "/")
	if len(segments) < 2 || segments[len(segments)-2] != attr.Relation || segments[len(segments)-1] == "" {
		return nil, attr.invalid(fmt.Sprintf("'%s' is not the uri of a %s", raw, attr.Relation))
	}

	return segments[len(segments)-1], nil
}
