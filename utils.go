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
	"reflect"
	"strings"
	"unicode"
)

// Dasherize converts a Go identifier into its dashed lower case form.
// FooBar becomes foo-bar and HTTPServer becomes http-server.
func Dasherize(name string) string {

	runes := []rune(strings.ReplaceAll(name, "_", "-"))
	var b strings.Builder

	for i, r := range runes {

		if unicode.IsUpper(r) && i > 0 && runes[i-1] != '-' {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteRune('-')
			}
		}

		b.WriteRune(unicode.ToLower(r))
	}

	return b.String()
}

// resourceNameOf returns the default name of a resource: the dasherized
// name of its type without the resource suffix.
func resourceNameOf(v any) string {

	if n, ok := v.(Namer); ok {
		return n.ResourceName()
	}

	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t == nil || t.Name() == "" {
		return ""
	}

	name := Dasherize(t.Name())
	if name != "resource" {
		name = strings.TrimSuffix(name, "-resource")
	}

	return name
}

func claimsToMap(claims []string) map[string]string {

	claimsMap := map[string]string{}

	var k, v string

	for _, claim := range claims {
		if err := splitPtr(claim, &k, &v); err != nil {
			continue
		}
		claimsMap[k] = v
	}

	return claimsMap
}

func splitPtr(tag string, key *string, value *string) (err error) {

	l := len(tag)
	if l < 3 {
		err = fmt.Errorf("invalid tag: invalid length '%s'", tag)
		return
	}

	if tag[0] == '=' {
		err = fmt.Errorf("invalid tag: missing key '%s'", tag)
		return
	}

	for i := 0; i < l; i++ {
		if tag[i] == '=' {
			if i+1 >= l {
				return fmt.Errorf("invalid tag: missing value '%s'", tag)
			}
			*key = tag[:i]
			*value = tag[i+1:]
			return
		}
	}

	return fmt.Errorf("invalid tag: missing equal symbol '%s'", tag)
}

// toSlice returns the items of a slice or an array, and false if
// the value is not one.
func toSlice(v any) ([]any, bool) {

	if items, ok := v.([]any); ok {
		return items, true
	}

	if v == nil {
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}

	return out, true
}

func trimSlashes(s string) string {
	return strings.Trim(s, "/")
}
