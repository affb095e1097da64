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
	"sort"
	"strconv"
	"strings"

	"go.aporeto.io/armet/store"
	"go.aporeto.io/elemental"
)

const operatorSeparator = "__"

var reservedParameters = map[string]struct{}{
	"format":   {},
	"page":     {},
	"per_page": {},
	"order":    {},
	"q":        {},
}

// parseQuery builds the store query of a list from the query string.
func (a *API) parseQuery(entry *resourceEntry, values url.Values, page *Page) (store.Query, error) {

	q := store.Query{
		Limit:  page.Size,
		Offset: (page.Current - 1) * page.Size,
	}

	var errs []error

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {

		if _, ok := reservedParameters[key]; ok {
			continue
		}

		filter, err := a.parseFilter(entry, key, values[key])
		if err != nil {
			errs = append(errs, err)
			continue
		}

		q.Filters = append(q.Filters, filter)
	}

	if order := values.Get("order"); order != "" {
		for _, name := range strings.Split(order, ",") {

			name = strings.TrimSpace(name)
			desc := strings.HasPrefix(name, "-")
			name = strings.TrimPrefix(name, "-")

			if name == "" {
				continue
			}

			attr, ok := entry.attributes[name]
			if !ok || attr.Hidden {
				errs = append(errs, badQuery(fmt.Sprintf("Unable to order by unknown attribute '%s'", name)))
				continue
			}

			q.Order = append(q.Order, store.Order{Field: attr.path(), Descending: desc})
		}
	}

	if search := strings.TrimSpace(values.Get("q")); search != "" {

		q.Search = search

		for _, attr := range entry.cfg.attributes {
			if !attr.Hidden && (attr.Type == TypeString || attr.Type == TypeAny) && attr.Relation == "" {
				q.SearchFields = append(q.SearchFields, attr.path())
			}
		}
	}

	if len(errs) > 0 {
		return store.Query{}, elemental.NewErrors(errs...)
	}

	return q, nil
}

func (a *API) parseFilter(entry *resourceEntry, key string, values []string) (store.Filter, error) {

	name, op := key, store.OperatorExact
	if idx := strings.LastIndex(key, operatorSeparator); idx > 0 {
		name = key[:idx]
		op = store.Operator(strings.ToLower(key[idx+len(operatorSeparator):]))
	}

	attr, ok := entry.attributes[name]
	if !ok || attr.Hidden {
		return store.Filter{}, badQuery(fmt.Sprintf("Unable to filter on unknown attribute '%s'", name))
	}

	if !attr.Filterable {
		return store.Filter{}, badQuery(fmt.Sprintf("Attribute '%s' is not filterable", name))
	}

	if !op.IsValid() {
		return store.Filter{}, badQuery(fmt.Sprintf("Unknown filter operator '%s'", op))
	}

	raw := ""
	if len(values) > 0 {
		raw = values[len(values)-1]
	}

	filter := store.Filter{Field: attr.path(), Operator: op}

	switch op {

	case store.OperatorIn:
		items := []any{}
		for _, part := range strings.Split(raw, ",") {
			v, err := a.parseFilterValue(attr, part)
			if err != nil {
				return store.Filter{}, err
			}
			items = append(items, v)
		}
		filter.Value = items

	case store.OperatorIsNull:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return store.Filter{}, badQuery(fmt.Sprintf("Invalid boolean '%s' for filter '%s'", raw, key))
		}
		filter.Value = b

	case store.OperatorContains, store.OperatorIContains, store.OperatorStartsWith, store.OperatorIExact:
		filter.Value = raw

	default:
		v, err := a.parseFilterValue(attr, raw)
		if err != nil {
			return store.Filter{}, err
		}
		filter.Value = v
	}

	return filter, nil
}

func (a *API) parseFilterValue(attr *Attribute, raw string) (any, error) {

	if attr.Relation != "" {
		slug, err := a.relationSlug(attr, raw)
		if err != nil {
			return nil, err
		}
		return attr.parseScalar(slug)
	}

	return attr.parseScalar(strings.TrimSpace(raw))
}

func badQuery(description string) error {
	return elemental.NewError("Bad Request", description, errorSubject, http.StatusBadRequest)
}
