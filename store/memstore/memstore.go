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

// Package memstore provides an in-memory store.Store.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.aporeto.io/armet/store"
)

const defaultPrimaryKey = "id"

// An Option configures a MemoryStore.
type Option func(*MemoryStore)

// OptPrimaryKey sets the primary key field of the given collection.
// The default primary key is "id".
func OptPrimaryKey(collection string, field string) Option {
	return func(s *MemoryStore) {
		s.primaryKeys[collection] = field
	}
}

type collection struct {
	ids     []string
	records map[string]store.Record
}

// A MemoryStore keeps records in memory, in insertion order.
// It is safe for concurrent use.
type MemoryStore struct {
	collections map[string]*collection
	primaryKeys map[string]string
	lock        sync.RWMutex
}

// New returns a new empty MemoryStore.
func New(options ...Option) *MemoryStore {

	s := &MemoryStore{
		collections: map[string]*collection{},
		primaryKeys: map[string]string{},
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

func (s *MemoryStore) primaryKey(name string) string {

	if pk, ok := s.primaryKeys[name]; ok {
		return pk
	}

	return defaultPrimaryKey
}

func (s *MemoryStore) collection(name string) *collection {

	c, ok := s.collections[name]
	if !ok {
		c = &collection{records: map[string]store.Record{}}
		s.collections[name] = c
	}

	return c
}

// RetrieveMany implements store.Store.
func (s *MemoryStore) RetrieveMany(_ context.Context, name string, q store.Query) ([]store.Record, int, error) {

	s.lock.RLock()
	defer s.lock.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return []store.Record{}, 0, nil
	}

	records := make([]store.Record, 0, len(c.ids))
	for _, id := range c.ids {
		records = append(records, c.records[id].Copy())
	}

	return store.Apply(records, q, searcher(q.SearchFields))
}

// Retrieve implements store.Store.
func (s *MemoryStore) Retrieve(_ context.Context, name string, id string, q store.Query) (store.Record, error) {

	s.lock.RLock()
	defer s.lock.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, store.ErrNotFound
	}

	r, ok := c.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	match, err := store.Match(r, q.Filters)
	if err != nil {
		return nil, err
	}

	if !match {
		return nil, store.ErrNotFound
	}

	return r.Copy(), nil
}

// Create implements store.Store.
func (s *MemoryStore) Create(_ context.Context, name string, r store.Record) (store.Record, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	pk := s.primaryKey(name)
	c := s.collection(name)

	r = r.Copy()

	var id string
	if v, ok := r[pk]; ok && v != nil && fmt.Sprint(v) != "" {
		id = fmt.Sprint(v)
	} else {
		id = uuid.Must(uuid.NewV4()).String()
		r[pk] = id
	}

	if _, ok := c.records[id]; ok {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrConflict, name, id)
	}

	c.ids = append(c.ids, id)
	c.records[id] = r

	return r.Copy(), nil
}

// Update implements store.Store.
func (s *MemoryStore) Update(_ context.Context, name string, id string, r store.Record) (store.Record, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, store.ErrNotFound
	}

	existing, ok := c.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	pk := s.primaryKey(name)
	updated := existing.Copy()
	for k, v := range r {
		if k == pk {
			continue
		}
		updated[k] = v
	}

	c.records[id] = updated

	return updated.Copy(), nil
}

// Delete implements store.Store.
func (s *MemoryStore) Delete(_ context.Context, name string, id string) error {

	s.lock.Lock()
	defer s.lock.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return store.ErrNotFound
	}

	if _, ok := c.records[id]; !ok {
		return store.ErrNotFound
	}

	delete(c.records, id)
	for i, existing := range c.ids {
		if existing == id {
			c.ids = append(c.ids[:i], c.ids[i+1:]...)
			break
		}
	}

	return nil
}

// Len returns the number of records in the collection.
func (s *MemoryStore) Len(name string) int {

	s.lock.RLock()
	defer s.lock.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return 0
	}

	return len(c.records)
}

func searcher(fields []string) func(store.Record, string) bool {

	return func(r store.Record, q string) bool {

		if len(fields) == 0 {
			for _, v := range r {
				if s, ok := v.(string); ok && fuzzy.MatchFold(q, s) {
					return true
				}
			}
			return false
		}

		for _, f := range fields {
			if s, ok := r.Get(f).(string); ok && fuzzy.MatchFold(q, s) {
				return true
			}
		}

		return false
	}
}
