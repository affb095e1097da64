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
)

var attributeMethods = []string{http.MethodGet, http.MethodHead}

// A routeParent is a parent traversed by a route.
type routeParent struct {
	entry *resourceEntry
	slug  string
}

// A route is the result of the traversal of a path.
type route struct {
	entry   *resourceEntry
	parents []routeParent
	slug    string

	// follow is the relation attribute of the last parent
	// designating the target item.
	follow *Attribute

	// attribute is the attribute of the last parent the
	// request accesses.
	attribute *Attribute
}

// resolve traverses the given path segments, read as (name, slug) pairs.
func (a *API) resolve(segments []string) (*route, error) {

	rt := &route{}

	for i := 0; i+2 < len(segments); i += 2 {

		entry, ok := a.entry(segments[i])
		if !ok {
			return nil, ErrNotFound
		}

		if segments[i+1] == "" {
			return nil, ErrNotFound
		}

		rt.parents = append(rt.parents, routeParent{entry: entry, slug: segments[i+1]})
	}

	start := len(segments) - 2 + len(segments)%2
	name := segments[start]
	if start+1 < len(segments) {
		rt.slug = segments[start+1]
	}

	var attr *Attribute
	if len(rt.parents) > 0 {
		attr = rt.parents[len(rt.parents)-1].entry.attributes[name]
	}

	if attr != nil && attr.Relation != "" && !attr.Collection && rt.slug == "" {
		if entry, ok := a.entry(attr.Relation); ok {
			rt.entry = entry
			rt.follow = attr
			return rt, nil
		}
	}

	if entry, ok := a.entry(name); ok {
		rt.entry = entry
		return rt, nil
	}

	if attr != nil && !attr.Hidden && rt.slug == "" {
		rt.attribute = attr
		return rt, nil
	}

	return nil, ErrNotFound
}

// isList returns true if the route targets a list.
func (r *route) isList() bool {
	return r.slug == "" && r.follow == nil && r.attribute == nil
}

// lastParent returns the last traversed parent.
func (r *route) lastParent() routeParent {
	return r.parents[len(r.parents)-1]
}

// encodingEntry returns the resource whose encoders are used.
func (r *route) encodingEntry() *resourceEntry {

	if r.attribute != nil {
		return r.lastParent().entry
	}

	return r.entry
}

// allowedMethods returns the methods allowed on the route.
func (r *route) allowedMethods() []string {

	if r.attribute != nil {
		return attributeMethods
	}

	return r.entry.allowedMethods(r.isList())
}

func (r *route) describe() string {

	if r.attribute != nil {
		return fmt.Sprintf("attribute '%s' of %s", r.attribute.Name, r.lastParent().entry.name())
	}

	if r.isList() {
		return fmt.Sprintf("%s list", r.entry.name())
	}

	return r.entry.name()
}
