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
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is Default page size value
	DefaultPageSize = 100

	// DefaultMaxPageSize is the default maximum page size value.
	DefaultMaxPageSize = 1000
)

// Page represents a current data page.
type Page struct {
	Current int
	Size    int
	Next    string
	Prev    string
	First   string
	Last    string
}

// NewPage returns a new *Page.
func NewPage() *Page {

	return &Page{
		Current: 1,
		Size:    DefaultPageSize,
	}
}

// IndexRange returns the index range of data that needs to be retrieved according to current
// Page's values.
func (p *Page) IndexRange() (start, end int) {

	start = p.Size * (p.Current - 1)
	end = start + p.Size

	return start, end
}

// FromValues populates the Page from an url.Values. Invalid values
// fall back to the defaults and the size is capped to maxSize.
func (p *Page) FromValues(query url.Values, defaultSize int, maxSize int) {

	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}

	var err error
	p.Current, err = strconv.Atoi(query.Get("page"))
	if err != nil || p.Current < 1 {
		p.Current = 1
	}

	p.Size, err = strconv.Atoi(query.Get("per_page"))
	if err != nil || p.Size < 1 {
		p.Size = defaultSize
	}

	if maxSize > 0 && p.Size > maxSize {
		p.Size = maxSize
	}
}

func (p *Page) compute(baseURL string, query url.Values, totalCount int) {

	query.Set("page", strconv.Itoa(1))
	p.First = strings.Join([]string{baseURL, query.Encode()}, "?")

	if p.Current > 1 {
		query.Set("page", strconv.Itoa(p.Current-1))
		p.Prev = strings.Join([]string{baseURL, query.Encode()}, "?")
	}

	if p.Current*p.Size < totalCount {
		query.Set("page", strconv.Itoa(p.Current+1))
		p.Next = strings.Join([]string{baseURL, query.Encode()}, "?")
	}

	last := totalCount / p.Size
	modulo := totalCount % p.Size

	if last == 0 {
		last = 1
	}

	if modulo != 0 && totalCount > p.Size {
		last = last + 1
	}

	query.Set("page", strconv.Itoa(last))
	p.Last = strings.Join([]string{baseURL, query.Encode()}, "?")
}

// linkHeader returns the value of the Link header for the computed page.
func (p *Page) linkHeader() string {

	links := make([]string, 0, 4)

	for _, l := range []struct{ rel, url string }{
		{"first", p.First},
		{"prev", p.Prev},
		{"next", p.Next},
		{"last", p.Last},
	} {
		if l.url != "" {
			links = append(links, fmt.Sprintf(`<%s>; rel="%s"`, l.url, l.rel))
		}
	}

	return strings.Join(links, ", ")
}
