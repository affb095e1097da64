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

// Package store defines the contract model connectors must implement
// to back armet resources, along with the helpers in-memory
// implementations share to filter, order and paginate records.
package store

import (
	"context"
	"errors"
	"strings"
)

// Various store errors.
var (
	ErrNotFound     = errors.New("record not found")
	ErrConflict     = errors.New("record already exists")
	ErrInvalidQuery = errors.New("invalid query")
)

// A Record is a single item of a collection.
type Record map[string]any

// Get returns the value at the given dotted path, or nil.
func (r Record) Get(path string) any {

	var current any = map[string]any(r)

	for _, part := range strings.Split(path, ".") {
		switch m := current.(type) {
		case map[string]any:
			current = m[part]
		case Record:
			current = m[part]
		default:
			return nil
		}
	}

	return current
}

// Set sets the value at the given dotted path, creating
// intermediate maps as needed.
func (r Record) Set(path string, value any) {

	parts := strings.Split(path, ".")
	m := map[string]any(r)

	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[part] = next
		}
		m = next
	}

	m[parts[len(parts)-1]] = value
}

// Copy returns a shallow copy of the record.
func (r Record) Copy() Record {

	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}

	return out
}

// An Operator is a filter comparison operator.
type Operator string

// Supported operators.
//
// OperatorContains matches a substring of a scalar value. On a
// collection value, in-memory matching tests the membership of the
// filter value while SQL stores still compare the stored column
// with LIKE, so collection filters are only portable on scalars.
const (
	OperatorExact      Operator = "exact"
	OperatorIExact     Operator = "iexact"
	OperatorContains   Operator = "contains"
	OperatorIContains  Operator = "icontains"
	OperatorStartsWith Operator = "startswith"
	OperatorIn         Operator = "in"
	OperatorGT         Operator = "gt"
	OperatorGTE        Operator = "gte"
	OperatorLT         Operator = "lt"
	OperatorLTE        Operator = "lte"
	OperatorIsNull     Operator = "isnull"
)

// Operators lists every supported operator.
var Operators = []Operator{
	OperatorExact,
	OperatorIExact,
	OperatorContains,
	OperatorIContains,
	OperatorStartsWith,
	OperatorIn,
	OperatorGT,
	OperatorGTE,
	OperatorLT,
	OperatorLTE,
	OperatorIsNull,
}

// IsValid returns true if the operator is supported.
func (o Operator) IsValid() bool {

	for _, op := range Operators {
		if op == o {
			return true
		}
	}

	return false
}

// A Filter restricts a query to records whose Field matches Value
// according to Operator. The Value of OperatorIn is a []any and
// the Value of OperatorIsNull is a bool.
type Filter struct {
	Field    string
	Operator Operator
	Value    any
}

// An Order sorts records on a field.
type Order struct {
	Field      string
	Descending bool
}

// A Query describes what to retrieve from a collection.
type Query struct {
	Filters      []Filter
	Order        []Order
	Search       string
	SearchFields []string
	Limit        int
	Offset       int
}

//go:generate mockgen -destination ../mocks/mock_store.go -package mocks go.aporeto.io/armet/store Store

// A Store is a model connector.
type Store interface {

	// RetrieveMany returns the records of the collection matching
	// the query, and the total number of matching records before
	// pagination is applied.
	RetrieveMany(ctx context.Context, collection string, q Query) ([]Record, int, error)

	// Retrieve returns the record with the given id. Filters of the
	// query further scope the lookup. It returns ErrNotFound if
	// the record does not exist.
	Retrieve(ctx context.Context, collection string, id string, q Query) (Record, error)

	// Create stores a new record and returns it as stored.
	Create(ctx context.Context, collection string, r Record) (Record, error)

	// Update merges the given record into the existing one.
	Update(ctx context.Context, collection string, id string, r Record) (Record, error)

	// Delete removes the record with the given id.
	Delete(ctx context.Context, collection string, id string) error
}
