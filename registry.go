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
	"sort"
	"sync"
)

// A Registry indexes objects under any number of (key, value) pairs.
// It is safe for concurrent use.
type Registry[T comparable] struct {
	entries map[string]map[string]T
	lock    sync.RWMutex
}

// NewRegistry returns a new empty Registry.
func NewRegistry[T comparable]() *Registry[T] {

	return &Registry[T]{
		entries: map[string]map[string]T{},
	}
}

// Register registers the object under every given (key, value) pair.
// An object already registered under one of the pairs is replaced.
func (r *Registry[T]) Register(obj T, keys map[string][]string) error {

	var zero T
	if obj == zero {
		return fmt.Errorf("cannot register an empty object")
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	for key, values := range keys {

		m, ok := r.entries[key]
		if !ok {
			m = map[string]T{}
			r.entries[key] = m
		}

		for _, value := range values {
			m[value] = obj
		}
	}

	return nil
}

// Find returns the object registered under the given pair.
func (r *Registry[T]) Find(key string, value string) (T, bool) {

	r.lock.RLock()
	defer r.lock.RUnlock()

	obj, ok := r.entries[key][value]

	return obj, ok
}

// RFind returns the sorted values the object is registered under for the
// given key. If limit is greater than zero, at most limit values are
// returned.
func (r *Registry[T]) RFind(obj T, key string, limit int) []string {

	r.lock.RLock()
	defer r.lock.RUnlock()

	out := []string{}
	for value, o := range r.entries[key] {
		if o == obj {
			out = append(out, value)
		}
	}

	sort.Strings(out)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}

// Values returns the sorted values registered for the given key.
func (r *Registry[T]) Values(key string) []string {

	r.lock.RLock()
	defer r.lock.RUnlock()

	out := make([]string, 0, len(r.entries[key]))
	for value := range r.entries[key] {
		out = append(out, value)
	}

	sort.Strings(out)

	return out
}

// Keys returns the sorted registered keys.
func (r *Registry[T]) Keys() []string {

	r.lock.RLock()
	defer r.lock.RUnlock()

	out := make([]string, 0, len(r.entries))
	for key := range r.entries {
		out = append(out, key)
	}

	sort.Strings(out)

	return out
}

// Remove removes every reference to the given objects.
func (r *Registry[T]) Remove(objs ...T) {

	r.lock.Lock()
	defer r.lock.Unlock()

	r.remove(objs...)
}

// RemoveKey removes every reference to the object registered under
// the given pair.
func (r *Registry[T]) RemoveKey(key string, value string) {

	r.lock.Lock()
	defer r.lock.Unlock()

	obj, ok := r.entries[key][value]
	if !ok {
		return
	}

	r.remove(obj)
}

func (r *Registry[T]) remove(objs ...T) {

	for key, m := range r.entries {

		for value, o := range m {
			for _, obj := range objs {
				if o == obj {
					delete(m, value)
					break
				}
			}
		}

		if len(m) == 0 {
			delete(r.entries, key)
		}
	}
}
