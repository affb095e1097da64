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
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go.aporeto.io/armet/store"
	"go.aporeto.io/elemental"
)

// An AttributeType is the type values of an attribute are coerced to.
type AttributeType int

// Supported attribute types.
const (
	TypeAny AttributeType = iota
	TypeString
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeTime
)

func (t AttributeType) String() string {

	switch t {
	case TypeString:
		return "string"
	case TypeInteger:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint:
			if uint64(n) <= math.MaxInt64 {
				return int64(n), nil
			}
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case uint64:
			if n <= math.MaxInt64 {
				return int64(n), nil
			}
		case float32:
			if f := float64(n); f == math.Trunc(f) && f >= minInt64Float && f < maxInt64Float {
				return int64(f), nil
			}
		case float64:
			if n == math.Trunc(n) && n >= minInt64Float && n < maxInt64Float {
				return int64(n), nil
			}
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return i, nil
			}
		}

	case TypeFloat:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int8:
			return float64(n), nil
		case int16:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case uint:
			return float64(n), nil
		case uint8:
			return float64(n), nil
		case uint16:
			return float64(n), nil
		case uint32:
			return float64(n), nil
		case uint64:
			return float64(n), nil
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, nil
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, nil
			}
		}

	case TypeBoolean:
		return "boolean"
	case TypeTime:
		return "time"
	}

	return "any"
}

// An Attribute describes a field of the representation of a resource.
type Attribute struct {

	// Name is the name of the attribute in the representation.
	Name string

	// Path is the dotted path of the value in the item.
	// It defaults to Name.
	Path string

	// Type is the type input values are coerced to.
	Type AttributeType

	// Relation is the name of the related resource. Values are
	// rendered as resource URIs and URIs are accepted as input.
	Relation string

	// Hidden attributes are never rendered.
	Hidden bool

	// ReadOnly attributes are ignored in input.
	ReadOnly bool

	// Required attributes must be given on creation.
	Required bool

	// Collection attributes are rendered as lists.
	Collection bool

	// Filterable attributes can be used in list filters.
	Filterable bool
}

// path returns the dotted path of the value in the item.
func (a *Attribute) path() string {

	if a.Path != "" {
		return a.Path
	}

	return a.Name
}

// Get returns the value of the attribute in the given item.
// Items can be maps or structs. Missing values are nil.
func (a *Attribute) Get(item any) any {
	return valueAtPath(item, a.path())
}

// Parse coerces an input value to the type of the attribute.
func (a *Attribute) Parse(v any) (any, error) {

	if v == nil {
		return nil, nil
	}

	if a.Collection {

		items, ok := toSlice(v)
		if !ok {
			items = []any{v}
		}

		out := make([]any, len(items))
		for i, item := range items {
			parsed, err := a.parseScalar(item)
			if err != nil {
				return nil, err
			}
			out[i] = parsed
		}

		return out, nil
	}

	if items, ok := toSlice(v); ok {
		if len(items) != 1 {
			return nil, a.invalid("expected a single value")
		}
		v = items[0]
	}

	return a.parseScalar(v)
}

// Bounds of the floats convertible to an int64 without overflow.
const (
	minInt64Float = -(1 << 63)
	maxInt64Float = 1 << 63
)

func (a *Attribute) parseScalar(v any) (any, error) {

	if v == nil {
		return nil, nil
	}

	switch a.Type {

	case TypeString:
		switch s := v.(type) {
		case string:
			return s, nil
		case json.Number:
			return s.String(), nil
		case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return fmt.Sprint(s), nil
		}

	case TypeInteger:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint32:
			return int64(n), nil
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
				return i, nil
			}
		}

	case TypeFloat:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, nil
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, nil
			}
		}

	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
				return parsed, nil
			}
		}

	case TypeTime:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(t)); err == nil {
				return parsed, nil
			}
		}

	default:
		return v, nil
	}

	return nil, a.invalid(fmt.Sprintf("expected a value of type %s", a.Type))
}

func (a *Attribute) invalid(reason string) error {

	return elemental.NewError(
		"Invalid Attribute",
		fmt.Sprintf("Invalid value for attribute '%s': %s", a.Name, reason),
		errorSubject,
		http.StatusBadRequest,
	)
}

// valueAtPath returns the value at the dotted path of the given item.
func valueAtPath(item any, path string) any {

	current := item

	for _, part := range strings.Split(path, ".") {
		current = field(current, part)
		if current == nil {
			return nil
		}
	}

	return current
}

// setAtPath sets the value at the dotted path of the given map.
func setAtPath(m map[string]any, path string, value any) {
	store.Record(m).Set(path, value)
}

func field(item any, name string) any {

	switch m := item.(type) {
	case nil:
		return nil
	case map[string]any:
		return m[name]
	case store.Record:
		return m[name]
	case map[string]string:
		if v, ok := m[name]; ok {
			return v
		}
		return nil
	}

	rv := reflect.ValueOf(item)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil
		}
		return v.Interface()

	case reflect.Struct:
		idx := structFieldIndex(rv.Type(), name)
		if idx < 0 {
			return nil
		}
		v := rv.Field(idx)
		if (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface || v.Kind() == reflect.Slice || v.Kind() == reflect.Map) && v.IsNil() {
			return nil
		}
		return v.Interface()
	}

	return nil
}

// structFieldIndex finds the exported field matching the given name, by
// armet tag, then json tag, then case insensitive field name.
func structFieldIndex(t reflect.Type, name string) int {

	tagName := func(tag string) string {
		return strings.Split(tag, ",")[0]
	}

	for _, key := range []string{"armet", "json"} {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			if tag, ok := f.Tag.Lookup(key); ok && tagName(tag) == name {
				return i
			}
		}
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.IsExported() && strings.EqualFold(f.Name, name) {
			return i
		}
	}

	return -1
}
