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

	"go.aporeto.io/armet/store"
)

// A ModelResource is a resource backed by a store.Store model connector.
type ModelResource struct {

	// Store is the model connector.
	Store store.Store

	// Collection is the name of the collection in the store.
	// It defaults to Name.
	Collection string

	// Name is the name of the resource.
	Name string

	// IDField is the path of the identifier of the records.
	// It defaults to "id".
	IDField string

	// Attributes are the attributes of the resource.
	Attributes []Attribute
}

// NewModelResource returns a new *ModelResource.
func NewModelResource(s store.Store, name string, attributes ...Attribute) *ModelResource {

	return &ModelResource{
		Store:      s,
		Name:       name,
		Attributes: attributes,
	}
}

// ResourceName implements Namer.
func (m *ModelResource) ResourceName() string {
	return m.Name
}

// ResourceAttributes implements AttributesProvider.
func (m *ModelResource) ResourceAttributes() []Attribute {
	return m.Attributes
}

func (m *ModelResource) collection() string {

	if m.Collection != "" {
		return m.Collection
	}

	return m.Name
}

func (m *ModelResource) idField() string {

	if m.IDField != "" {
		return m.IDField
	}

	return "id"
}

func (m *ModelResource) attribute(name string) *Attribute {

	for i := range m.Attributes {
		if m.Attributes[i].Name == name {
			return &m.Attributes[i]
		}
	}

	return nil
}

func (m *ModelResource) relationTo(resource string) *Attribute {

	for i := range m.Attributes {
		if m.Attributes[i].Relation == resource {
			return &m.Attributes[i]
		}
	}

	return nil
}

// parentValues returns the values of the relation attributes given by the
// traversed parents, keyed by path.
func (m *ModelResource) parentValues(ctx Context) (map[string]any, error) {

	out := map[string]any{}

	for _, p := range ctx.Parents() {

		attr := m.relationTo(p.Resource)
		if attr == nil {
			continue
		}

		v, err := attr.parseScalar(p.Slug)
		if err != nil {
			return nil, err
		}

		out[attr.path()] = v
	}

	return out, nil
}

func (m *ModelResource) scope(ctx Context, q store.Query) (store.Query, error) {

	values, err := m.parentValues(ctx)
	if err != nil {
		return q, err
	}

	filters := make([]store.Filter, 0, len(q.Filters)+len(values))
	filters = append(filters, q.Filters...)

	for path, v := range values {
		filters = append(filters, store.Filter{Field: path, Operator: store.OperatorExact, Value: v})
	}

	q.Filters = filters

	return q, nil
}

// record converts the cleaned data, keyed by attribute names,
// into a record keyed by attribute paths.
func (m *ModelResource) record(data map[string]any) store.Record {

	r := store.Record{}

	for k, v := range data {
		if attr := m.attribute(k); attr != nil {
			r.Set(attr.path(), v)
			continue
		}
		r[k] = v
	}

	return r
}

// Read implements Reader.
func (m *ModelResource) Read(ctx Context) (any, error) {

	if ctx.IsList() {

		q, err := m.scope(ctx, ctx.Query())
		if err != nil {
			return nil, err
		}

		records, total, err := m.Store.RetrieveMany(ctx.Context(), m.collection(), q)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve %s: %w", m.Name, err)
		}

		ctx.SetCount(total)

		return records, nil
	}

	q, err := m.scope(ctx, store.Query{})
	if err != nil {
		return nil, err
	}

	record, err := m.Store.Retrieve(ctx.Context(), m.collection(), ctx.Slug(), q)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("unable to retrieve %s '%s': %w", m.Name, ctx.Slug(), err)
	}

	return record, nil
}

// Exists implements ExistenceChecker.
func (m *ModelResource) Exists(ctx Context) (bool, error) {

	item, err := m.Read(ctx)
	if err != nil {
		return false, err
	}

	return item != nil, nil
}

// Create implements Creator.
func (m *ModelResource) Create(ctx Context, data map[string]any) (any, error) {

	r := m.record(data)

	values, err := m.parentValues(ctx)
	if err != nil {
		return nil, err
	}

	for path, v := range values {
		r.Set(path, v)
	}

	if slug := ctx.Slug(); slug != "" {
		r.Set(m.idField(), slug)
	}

	created, err := m.Store.Create(ctx.Context(), m.collection(), r)
	if err != nil {
		return nil, fmt.Errorf("unable to create %s: %w", m.Name, err)
	}

	return created, nil
}

// Update implements Updater.
func (m *ModelResource) Update(ctx Context, current any, data map[string]any) (any, error) {

	r := m.record(data)

	values, err := m.parentValues(ctx)
	if err != nil {
		return nil, err
	}

	for path, v := range values {
		r.Set(path, v)
	}

	delete(r, m.idField())

	updated, err := m.Store.Update(ctx.Context(), m.collection(), ctx.Slug(), r)
	if err != nil {
		return nil, fmt.Errorf("unable to update %s '%s': %w", m.Name, ctx.Slug(), err)
	}

	return updated, nil
}

// Destroy implements Destroyer.
func (m *ModelResource) Destroy(ctx Context) error {

	if len(ctx.Parents()) > 0 {

		item, err := m.Read(ctx)
		if err != nil {
			return err
		}

		if item == nil {
			return ErrNotFound
		}
	}

	if err := m.Store.Delete(ctx.Context(), m.collection(), ctx.Slug()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("unable to delete %s '%s': %w", m.Name, ctx.Slug(), err)
	}

	return nil
}

var _ interface {
	Namer
	AttributesProvider
	Reader
	Creator
	Updater
	Destroyer
	ExistenceChecker
} = (*ModelResource)(nil)
