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
	"strings"
)

// An AttributesProvider provides the default attributes of a resource.
type AttributesProvider interface {
	ResourceAttributes() []Attribute
}

// A ResourceOption configures a registered resource.
type ResourceOption func(*resourceConfig)

type resourceConfig struct {
	name             string
	slug             string
	resourceURI      string
	defaultEncoder   string
	attributes       []Attribute
	listMethods      []string
	detailMethods    []string
	listOperations   []Operation
	detailOperations []Operation
	encoders         []string
	authenticators   []RequestAuthenticator
	authorizers      []Authorizer
	pageSize         int
	postReturnData   bool
	putReturnData    bool
	attributesSet    bool
}

func newResourceConfig() resourceConfig {

	return resourceConfig{
		slug:             "id",
		resourceURI:      "resource_uri",
		defaultEncoder:   "json",
		listMethods:      append([]string{}, defaultAllowedMethods...),
		detailMethods:    append([]string{}, defaultAllowedMethods...),
		listOperations:   append([]Operation{}, allOperations...),
		detailOperations: append([]Operation{}, allOperations...),
		postReturnData:   true,
		putReturnData:    true,
	}
}

// OptName sets the name of the resource.
func OptName(name string) ResourceOption {
	return func(c *resourceConfig) {
		c.name = name
	}
}

// OptSlug sets the name of the attribute used as slug.
func OptSlug(slug string) ResourceOption {
	return func(c *resourceConfig) {
		c.slug = slug
	}
}

// OptAttributes sets the attributes of the resource. Without
// attributes, items are rendered as returned by the resource.
func OptAttributes(attributes ...Attribute) ResourceOption {
	return func(c *resourceConfig) {
		c.attributes = append([]Attribute{}, attributes...)
		c.attributesSet = true
	}
}

// OptResourceURI sets the name of the attribute holding the URI of
// rendered items. An empty name disables it.
func OptResourceURI(name string) ResourceOption {
	return func(c *resourceConfig) {
		c.resourceURI = name
	}
}

// OptHTTPAllowedMethods sets the methods allowed on lists and items.
func OptHTTPAllowedMethods(methods ...string) ResourceOption {
	return func(c *resourceConfig) {
		c.listMethods = upperAll(methods)
		c.detailMethods = upperAll(methods)
	}
}

// OptHTTPListAllowedMethods sets the methods allowed on lists.
func OptHTTPListAllowedMethods(methods ...string) ResourceOption {
	return func(c *resourceConfig) {
		c.listMethods = upperAll(methods)
	}
}

// OptHTTPDetailAllowedMethods sets the methods allowed on items.
func OptHTTPDetailAllowedMethods(methods ...string) ResourceOption {
	return func(c *resourceConfig) {
		c.detailMethods = upperAll(methods)
	}
}

// OptAllowedOperations sets the operations allowed on lists and items.
func OptAllowedOperations(operations ...Operation) ResourceOption {
	return func(c *resourceConfig) {
		c.listOperations = append([]Operation{}, operations...)
		c.detailOperations = append([]Operation{}, operations...)
	}
}

// OptListAllowedOperations sets the operations allowed on lists.
func OptListAllowedOperations(operations ...Operation) ResourceOption {
	return func(c *resourceConfig) {
		c.listOperations = append([]Operation{}, operations...)
	}
}

// OptDetailAllowedOperations sets the operations allowed on items.
func OptDetailAllowedOperations(operations ...Operation) ResourceOption {
	return func(c *resourceConfig) {
		c.detailOperations = append([]Operation{}, operations...)
	}
}

// OptEncoders restricts the encoders the resource can respond with.
func OptEncoders(names ...string) ResourceOption {
	return func(c *resourceConfig) {
		c.encoders = append([]string{}, names...)
	}
}

// OptResourceDefaultEncoder sets the encoder used when the client accepts anything.
func OptResourceDefaultEncoder(name string) ResourceOption {
	return func(c *resourceConfig) {
		c.defaultEncoder = name
	}
}

// OptPageSize sets the default page size of the lists of the resource.
func OptPageSize(size int) ResourceOption {
	return func(c *resourceConfig) {
		c.pageSize = size
	}
}

// OptPostReturnData sets whether a POST returns the created item.
func OptPostReturnData(enabled bool) ResourceOption {
	return func(c *resourceConfig) {
		c.postReturnData = enabled
	}
}

// OptPutReturnData sets whether a PUT returns the updated item.
func OptPutReturnData(enabled bool) ResourceOption {
	return func(c *resourceConfig) {
		c.putReturnData = enabled
	}
}

// OptResourceAuthenticators sets authenticators that run after the
// ones of the API for this resource only.
func OptResourceAuthenticators(authenticators ...RequestAuthenticator) ResourceOption {
	return func(c *resourceConfig) {
		c.authenticators = append(c.authenticators, authenticators...)
	}
}

// OptResourceAuthorizers sets authorizers that run after the ones of
// the API for this resource only.
func OptResourceAuthorizers(authorizers ...Authorizer) ResourceOption {
	return func(c *resourceConfig) {
		c.authorizers = append(c.authorizers, authorizers...)
	}
}

// A resourceEntry is a registered resource.
type resourceEntry struct {
	resource   any
	cfg        resourceConfig
	attributes map[string]*Attribute
}

func newResourceEntry(resource any, codecs *Codecs, options ...ResourceOption) (*resourceEntry, error) {

	if resource == nil {
		return nil, fmt.Errorf("resource must not be nil")
	}

	cfg := newResourceConfig()
	cfg.name = resourceNameOf(resource)

	if p, ok := resource.(AttributesProvider); ok {
		cfg.attributes = p.ResourceAttributes()
		cfg.attributesSet = len(cfg.attributes) > 0
	}

	for _, opt := range options {
		opt(&cfg)
	}

	if cfg.name == "" {
		return nil, fmt.Errorf("resource of type %T has no name", resource)
	}

	if strings.Contains(cfg.name, "/") {
		return nil, fmt.Errorf("invalid resource name '%s': it must not contain '/'", cfg.name)
	}

	if cfg.slug == "" {
		return nil, fmt.Errorf("resource '%s' has an empty slug", cfg.name)
	}

	for _, m := range append(append([]string{}, cfg.listMethods...), cfg.detailMethods...) {
		if !isUnderstoodMethod(m) {
			return nil, fmt.Errorf("resource '%s': unknown method '%s'", cfg.name, m)
		}
	}

	for _, op := range append(append([]Operation{}, cfg.listOperations...), cfg.detailOperations...) {
		if !isValidOperation(op) {
			return nil, fmt.Errorf("resource '%s': unknown operation '%s'", cfg.name, op)
		}
	}

	for _, name := range cfg.encoders {
		if _, ok := codecs.Encoder(name); !ok {
			return nil, fmt.Errorf("resource '%s': unknown encoder '%s'", cfg.name, name)
		}
	}

	if _, ok := codecs.Encoder(cfg.defaultEncoder); !ok {
		return nil, fmt.Errorf("resource '%s': unknown default encoder '%s'", cfg.name, cfg.defaultEncoder)
	}

	if len(cfg.encoders) > 0 && !stringInSlice(cfg.defaultEncoder, cfg.encoders) {
		return nil, fmt.Errorf("resource '%s': default encoder '%s' is not allowed", cfg.name, cfg.defaultEncoder)
	}

	entry := &resourceEntry{
		resource:   resource,
		cfg:        cfg,
		attributes: make(map[string]*Attribute, len(cfg.attributes)),
	}

	for i := range entry.cfg.attributes {
		attr := &entry.cfg.attributes[i]
		if attr.Name == "" {
			return nil, fmt.Errorf("resource '%s': attribute %d has no name", cfg.name, i)
		}
		if _, ok := entry.attributes[attr.Name]; ok {
			return nil, fmt.Errorf("resource '%s': duplicated attribute '%s'", cfg.name, attr.Name)
		}
		entry.attributes[attr.Name] = attr
	}

	return entry, nil
}

func (e *resourceEntry) name() string {
	return e.cfg.name
}

// allowedMethods returns the methods allowed on the list or on items.
func (e *resourceEntry) allowedMethods(list bool) []string {

	if list {
		return e.cfg.listMethods
	}

	return e.cfg.detailMethods
}

// allowedOperations returns the operations allowed on the list or on items.
func (e *resourceEntry) allowedOperations(list bool) []Operation {

	if list {
		return e.cfg.listOperations
	}

	return e.cfg.detailOperations
}

func (e *resourceEntry) isOperationAllowed(op Operation, list bool) bool {

	for _, o := range e.allowedOperations(list) {
		if o == op {
			return true
		}
	}

	return false
}

// implements tells whether the resource implements the given operation.
func (e *resourceEntry) implements(op Operation) bool {

	switch op {
	case OperationRead:
		_, ok := e.resource.(Reader)
		return ok
	case OperationCreate:
		_, ok := e.resource.(Creator)
		return ok
	case OperationUpdate:
		_, ok := e.resource.(Updater)
		return ok
	case OperationDestroy:
		_, ok := e.resource.(Destroyer)
		return ok
	}

	return false
}

// slugOf returns the slug of the given item.
func (e *resourceEntry) slugOf(item any) string {

	var v any
	if attr, ok := e.attributes[e.cfg.slug]; ok {
		v = attr.Get(item)
	} else {
		v = valueAtPath(item, e.cfg.slug)
	}

	if v == nil {
		return ""
	}

	return fmt.Sprint(v)
}

// relationTo returns the attribute of the resource relating to the
// given resource name.
func (e *resourceEntry) relationTo(name string) *Attribute {

	for i := range e.cfg.attributes {
		if e.cfg.attributes[i].Relation == name {
			return &e.cfg.attributes[i]
		}
	}

	return nil
}

func upperAll(in []string) []string {

	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}

	return out
}
