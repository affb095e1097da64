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

// Package objstore provides a store.Store keeping every record as a
// JSON document in an S3 compatible bucket.
package objstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/gofrs/uuid"
	"go.aporeto.io/armet/store"
	"go.uber.org/zap"
)

// bucket is the subset of object storage operations the store relies on.
type bucket interface {
	put(ctx context.Context, key string, data []byte) error
	get(ctx context.Context, key string) ([]byte, error)
	remove(ctx context.Context, key string) error
	list(ctx context.Context, prefix string) ([]string, error)
}

// An ObjectStore stores records at <collection>/<id>.json.
type ObjectStore struct {
	bucket     bucket
	primaryKey string
}

func newObjectStore(b bucket) *ObjectStore {

	return &ObjectStore{
		bucket:     b,
		primaryKey: "id",
	}
}

func key(collection string, id string) string {
	return path.Join(collection, id+".json")
}

// RetrieveMany implements store.Store. Every document of the collection
// is read and matched in memory.
func (s *ObjectStore) RetrieveMany(ctx context.Context, collection string, q store.Query) ([]store.Record, int, error) {

	keys, err := s.bucket.list(ctx, collection+"/")
	if err != nil {
		return nil, 0, fmt.Errorf("unable to list %s: %w", collection, err)
	}

	sort.Strings(keys)

	records := make([]store.Record, 0, len(keys))
	for _, k := range keys {

		if !strings.HasSuffix(k, ".json") {
			continue
		}

		r, err := s.read(ctx, k)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, 0, err
		}

		records = append(records, r)
	}

	return store.Apply(records, q, searcher(q.SearchFields))
}

// Retrieve implements store.Store.
func (s *ObjectStore) Retrieve(ctx context.Context, collection string, id string, q store.Query) (store.Record, error) {

	r, err := s.read(ctx, key(collection, id))
	if err != nil {
		return nil, err
	}

	ok, err := store.Match(r, q.Filters)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, store.ErrNotFound
	}

	return r, nil
}

// Create implements store.Store.
func (s *ObjectStore) Create(ctx context.Context, collection string, r store.Record) (store.Record, error) {

	r = r.Copy()

	id := fmt.Sprint(r[s.primaryKey])
	if v, ok := r[s.primaryKey]; !ok || v == nil || id == "" {
		id = uuid.Must(uuid.NewV4()).String()
		r[s.primaryKey] = id
	}

	if _, err := s.read(ctx, key(collection, id)); err == nil {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrConflict, collection, id)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err := s.write(ctx, key(collection, id), r); err != nil {
		return nil, err
	}

	return r, nil
}

// Update implements store.Store.
func (s *ObjectStore) Update(ctx context.Context, collection string, id string, r store.Record) (store.Record, error) {

	existing, err := s.read(ctx, key(collection, id))
	if err != nil {
		return nil, err
	}

	for k, v := range r {
		if k == s.primaryKey {
			continue
		}
		existing[k] = v
	}

	if err := s.write(ctx, key(collection, id), existing); err != nil {
		return nil, err
	}

	return existing, nil
}

// Delete implements store.Store.
func (s *ObjectStore) Delete(ctx context.Context, collection string, id string) error {

	k := key(collection, id)

	if _, err := s.read(ctx, k); err != nil {
		return err
	}

	if err := s.bucket.remove(ctx, k); err != nil {
		return fmt.Errorf("unable to delete %s: %w", k, err)
	}

	return nil
}

func (s *ObjectStore) read(ctx context.Context, k string) (store.Record, error) {

	data, err := s.bucket.get(ctx, k)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("unable to read %s: %w", k, err)
	}

	r := store.Record{}
	if err := json.Unmarshal(data, &r); err != nil {
		zap.L().Warn("Corrupted document", zap.String("key", k), zap.Error(err))
		return nil, fmt.Errorf("unable to decode %s: %w", k, err)
	}

	return r, nil
}

func (s *ObjectStore) write(ctx context.Context, k string, r store.Record) error {

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("unable to encode %s: %w", k, err)
	}

	if err := s.bucket.put(ctx, k, data); err != nil {
		return fmt.Errorf("unable to write %s: %w", k, err)
	}

	return nil
}

func searcher(fields []string) func(store.Record, string) bool {

	return func(r store.Record, q string) bool {

		q = strings.ToLower(q)

		if len(fields) == 0 {
			for _, v := range r {
				if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
					return true
				}
			}
			return false
		}

		for _, f := range fields {
			if s, ok := r.Get(f).(string); ok && strings.Contains(strings.ToLower(s), q) {
				return true
			}
		}

		return false
	}
}
