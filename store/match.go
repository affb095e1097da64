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

package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Match returns true if the record satisfies every filter.
func Match(r Record, filters []Filter) (bool, error) {

	for _, f := range filters {
		ok, err := MatchValue(r.Get(f.Field), f.Operator, f.Value)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	return true, nil
}

// MatchValue applies the operator between the value of a record
// and the value of a filter.
func MatchValue(v any, op Operator, expected any) (bool, error) {

	switch op {

	case OperatorExact, "":
		if items, ok := asSlice(v); ok {
			for _, item := range items {
				if equal(item, expected) {
					return true, nil
				}
			}
			return false, nil
		}
		return equal(v, expected), nil

	case OperatorIExact:
		if v == nil {
			return expected == nil, nil
		}
		return strings.EqualFold(toString(v), toString(expected)), nil

	case OperatorContains:
		if items, ok := asSlice(v); ok {
			for _, item := range items {
				if equal(item, expected) {
					return true, nil
				}
			}
			return false, nil
		}
		if v == nil {
			return false, nil
		}
		return strings.Contains(toString(v), toString(expected)), nil

	case OperatorIContains:
		if v == nil {
			return false, nil
		}
		return strings.Contains(strings.ToLower(toString(v)), strings.ToLower(toString(expected))), nil

	case OperatorStartsWith:
		if v == nil {
			return false, nil
		}
		return strings.HasPrefix(toString(v), toString(expected)), nil

	case OperatorIn:
		candidates, ok := asSlice(expected)
		if !ok {
			candidates = []any{expected}
		}
		for _, c := range candidates {
			if equal(v, c) {
				return true, nil
			}
		}
		return false, nil

	case OperatorGT, OperatorGTE, OperatorLT, OperatorLTE:
		if v == nil || expected == nil {
			return false, nil
		}
		c, ok := Compare(v, expected)
		if !ok {
			return false, fmt.Errorf("%w: cannot compare %T and %T", ErrInvalidQuery, v, expected)
		}
		switch op {
		case OperatorGT:
			return c > 0, nil
		case OperatorGTE:
			return c >= 0, nil
		case OperatorLT:
			return c < 0, nil
		default:
			return c <= 0, nil
		}

	case OperatorIsNull:
		want, ok := expected.(bool)
		if !ok {
			b, err := strconv.ParseBool(toString(expected))
			if err != nil {
				return false, fmt.Errorf("%w: isnull expects a boolean", ErrInvalidQuery)
			}
			want = b
		}
		return (v == nil) == want, nil
	}

	return false, fmt.Errorf("%w: unknown operator '%s'", ErrInvalidQuery, op)
}

// Compare compares two values. It returns false if the values
// cannot be compared.
func Compare(a, b any) (int, bool) {

	if a == nil && b == nil {
		return 0, true
	}
	if a == nil {
		return -1, true
	}
	if b == nil {
		return 1, true
	}

	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
	}

	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Compare(tb), true
		}
	}

	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0, true
			case !ba:
				return -1, true
			}
			return 1, true
		}
	}

	sa, oka := a.(string)
	sb, okb := b.(string)
	if oka || okb {
		if !oka {
			sa = toString(a)
		}
		if !okb {
			sb = toString(b)
		}
		return strings.Compare(sa, sb), true
	}

	return 0, false
}

// Sort sorts the records in place following the given orders.
func Sort(records []Record, orders []Order) {

	if len(orders) == 0 {
		return
	}

	sort.SliceStable(records, func(i, j int) bool {
		for _, o := range orders {
			c, _ := Compare(records[i].Get(o.Field), records[j].Get(o.Field))
			if c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Paginate returns the window of records described by the limit and the
// offset. A limit lower or equal to zero means no limit.
func Paginate(records []Record, limit int, offset int) []Record {

	if offset < 0 {
		offset = 0
	}

	if offset >= len(records) {
		return []Record{}
	}

	end := len(records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return records[offset:end]
}

// Apply filters, sorts and paginates the records and returns the page
// along with the total count of matching records.
func Apply(records []Record, q Query, search func(Record, string) bool) ([]Record, int, error) {

	out := make([]Record, 0, len(records))

	for _, r := range records {

		ok, err := Match(r, q.Filters)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			continue
		}

		if q.Search != "" && search != nil && !search(r, q.Search) {
			continue
		}

		out = append(out, r)
	}

	Sort(out, q.Order)

	return Paginate(out, q.Limit, q.Offset), len(out), nil
}

func equal(a, b any) bool {

	if c, ok := Compare(a, b); ok {
		return c == 0
	}

	return reflect.DeepEqual(a, b)
}

func asSlice(v any) ([]any, bool) {

	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	}

	if v == nil {
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}

	return out, true
}

func toString(v any) string {

	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case time.Time:
		return s.Format(time.RFC3339Nano)
	case nil:
		return ""
	}

	return fmt.Sprint(v)
}

func toFloat(v any) (float64, bool) {

	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}

	return 0, false
}

func toTime(v any) (time.Time, bool) {

	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}

	return time.Time{}, false
}
