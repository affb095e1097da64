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

// Package armet lets you declare RESTful resources once and expose them
// through any web framework, backed by any storage.
//
// A resource is any Go value registered on an API. It declares what it
// can do by implementing the optional Reader, Creator, Updater and
// Destroyer interfaces, and how it looks with a set of Attributes.
// The API handles everything else: traversal of nested resources,
// content negotiation, decoding and cleaning of the input, filtering,
// pagination, preparation of the output, authentication and
// authorization.
//
// The API is not tied to any web framework. It handles a framework
// neutral Request and returns a Response. The API implements
// http.Handler, the Server wraps it with the usual production
// concerns, and the connectors/fiberhttp package mounts it on Fiber.
//
// ModelResource binds a resource to a store.Store, a model connector.
// The store/memstore, store/sqlstore and store/objstore packages
// provide in-memory, SQL and object storage connectors.
package armet
