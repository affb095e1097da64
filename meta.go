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
	"strings"
)

// A RouteInfo contains basic information about an api route.
type RouteInfo struct {
	Resource string   `msgpack:"resource" json:"resource"`
	URL      string   `msgpack:"url" json:"url"`
	Verbs    []string `msgpack:"verbs,omitempty" json:"verbs,omitempty"`
}

func (r RouteInfo) String() string {
	return fmt.Sprintf("%s -> %s", r.URL, strings.Join(r.Verbs, ", "))
}

// Routes returns the routes of the API and of its sub APIs,
// sorted by URL.
func (a *API) Routes() []RouteInfo {

	routes := a.buildRoutes()

	sort.Slice(routes, func(i int, j int) bool {
		return strings.Compare(routes[i].URL, routes[j].URL) == -1
	})

	return routes
}

func (a *API) buildRoutes() []RouteInfo {

	a.lock.RLock()
	defer a.lock.RUnlock()

	base := a.basePath()
	routes := []RouteInfo{}

	for _, name := range a.resources.Values("name") {

		entry, _ := a.resources.Find("name", name)

		routes = append(
			routes,
			RouteInfo{
				Resource: name,
				URL:      fmt.Sprintf("%s/%s", base, name),
				Verbs:    sortedVerbs(entry.cfg.listMethods),
			},
			RouteInfo{
				Resource: name,
				URL:      fmt.Sprintf("%s/%s/:%s", base, name, entry.cfg.slug),
				Verbs:    sortedVerbs(entry.cfg.detailMethods),
			},
		)
	}

	for _, sub := range a.apis {
		routes = append(routes, sub.buildRoutes()...)
	}

	return routes
}

func sortedVerbs(methods []string) []string {

	verbs := append([]string{}, methods...)
	sort.Strings(verbs)

	return verbs
}
