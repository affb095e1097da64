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
	"context"
	"net/http"
	"sync"

	"github.com/gofrs/uuid"
	"go.aporeto.io/armet/store"
)

type rcontext struct {
	ctx          context.Context
	request      *Request
	data         map[string]any
	claimsMap    map[string]string
	metadata     map[any]any
	header       http.Header
	page         *Page
	messagesLock *sync.Mutex
	id           string
	method       string
	resource     string
	slug         string
	parents      []Parent
	messages     []string
	claims       []string
	query        store.Query
	count        int
	statusCode   int
	countSet     bool
	list         bool
}

// NewContext creates a new Context for the given request.
func NewContext(ctx context.Context, request *Request) Context {
	return newContext(ctx, request)
}

func newContext(ctx context.Context, request *Request) *rcontext {

	if ctx == nil {
		panic("nil context")
	}

	if request == nil {
		request = NewRequest(http.MethodGet, "/", nil)
	}

	id := request.ID
	if id == "" {
		id = uuid.Must(uuid.NewV4()).String()
	}

	return &rcontext{
		ctx:          ctx,
		request:      request,
		id:           id,
		method:       request.effectiveMethod(),
		claimsMap:    map[string]string{},
		header:       http.Header{},
		page:         NewPage(),
		messagesLock: &sync.Mutex{},
	}
}

func (c *rcontext) Identifier() string {
	return c.id
}

func (c *rcontext) Context() context.Context {
	return c.ctx
}

func (c *rcontext) Request() *Request {
	return c.request
}

func (c *rcontext) Method() string {
	return c.method
}

func (c *rcontext) Resource() string {
	return c.resource
}

func (c *rcontext) Slug() string {
	return c.slug
}

func (c *rcontext) IsList() bool {
	return c.list
}

func (c *rcontext) Parents() []Parent {
	return append([]Parent{}, c.parents...)
}

func (c *rcontext) Parent(name string) (Parent, bool) {

	for _, p := range c.parents {
		if p.Resource == name {
			return p, true
		}
	}

	return Parent{}, false
}

func (c *rcontext) Query() store.Query {
	return c.query
}

func (c *rcontext) Page() *Page {
	return c.page
}

func (c *rcontext) Data() map[string]any {
	return c.data
}

func (c *rcontext) Count() int {
	return c.count
}

func (c *rcontext) SetCount(count int) {
	c.count = count
	c.countSet = true
}

func (c *rcontext) StatusCode() int {
	return c.statusCode
}

func (c *rcontext) SetStatusCode(code int) {
	c.statusCode = code
}

func (c *rcontext) ResponseHeader() http.Header {
	return c.header
}

func (c *rcontext) Metadata(key any) any {

	if c.metadata == nil {
		return nil
	}

	return c.metadata[key]
}

func (c *rcontext) SetMetadata(key, value any) {

	if c.metadata == nil {
		c.metadata = map[any]any{}
	}

	c.metadata[key] = value
}

func (c *rcontext) SetClaims(claims []string) {

	if claims == nil {
		return
	}

	c.claims = append([]string{}, claims...)
	c.claimsMap = claimsToMap(c.claims)
}

func (c *rcontext) Claims() []string {

	return append([]string{}, c.claims...)
}

func (c *rcontext) ClaimsMap() map[string]string {

	o := make(map[string]string, len(c.claimsMap))

	for k, v := range c.claimsMap {
		o[k] = v
	}

	return o
}

func (c *rcontext) AddMessage(msg string) {
	c.messagesLock.Lock()
	c.messages = append(c.messages, msg)
	c.messagesLock.Unlock()
}

func (c *rcontext) Messages() []string {
	c.messagesLock.Lock()
	defer c.messagesLock.Unlock()

	return append([]string{}, c.messages...)
}

// target points the context to the given resource and slug.
func (c *rcontext) target(resource string, slug string, list bool) {
	c.resource = resource
	c.slug = slug
	c.list = list
}
