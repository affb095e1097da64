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

	"go.aporeto.io/armet/store"
)

// A Reader can read lists and items.
type Reader interface {

	// Read returns the item designated by the slug of the context,
	// or the list of items if there is no slug.
	Read(Context) (any, error)
}

// A Creator can create items.
type Creator interface {

	// Create creates an item from the cleaned data and returns it.
	Create(ctx Context, data map[string]any) (any, error)
}

// An Updater can update items.
type Updater interface {

	// Update updates the current item with the cleaned data and
	// returns the updated item.
	Update(ctx Context, current any, data map[string]any) (any, error)
}

// A Destroyer can destroy items.
type Destroyer interface {

	// Destroy destroys the item designated by the slug of the context.
	Destroy(Context) error
}

// An ExistenceChecker tells whether the item designated by the slug of
// the context exists. A PUT on an existing item updates it, otherwise
// it creates it. Resources that are not ExistenceCheckers are read.
type ExistenceChecker interface {
	Exists(Context) (bool, error)
}

// A Cleaner cleans the decoded input data once attributes are parsed.
type Cleaner interface {
	Clean(ctx Context, data map[string]any) (map[string]any, error)
}

// A Preparer prepares every output item once attributes are rendered.
type Preparer interface {
	Prepare(ctx Context, item any) (any, error)
}

// A Namer names a resource.
type Namer interface {
	ResourceName() string
}

// Context is the interface of a request context.
type Context interface {

	// Identifier returns the unique identifier of the context.
	Identifier() string

	// Context returns the underlying context.Context.
	Context() context.Context

	// Request returns the request.
	Request() *Request

	// Method returns the effective method of the request, after
	// X-HTTP-Method-Override is applied.
	Method() string

	// Resource returns the name of the target resource.
	Resource() string

	// Slug returns the slug of the target item, or an empty string
	// for lists.
	Slug() string

	// IsList returns true if the request targets a list.
	IsList() bool

	// Parents returns the parents traversed to reach the resource.
	Parents() []Parent

	// Parent returns the traversed parent with the given resource name.
	Parent(name string) (Parent, bool)

	// Query returns the filters, order, search and pagination
	// requested for a list.
	Query() store.Query

	// Page returns the requested page.
	Page() *Page

	// Data returns the cleaned input data.
	Data() map[string]any

	// Claims returns the claims set by the authenticators.
	Claims() []string

	// ClaimsMap returns the claims as a map.
	ClaimsMap() map[string]string

	// SetClaims sets the claims.
	SetClaims(claims []string)

	// Metadata returns the metadata stored under the given key.
	Metadata(key any) any

	// SetMetadata stores metadata under the given key.
	SetMetadata(key, value any)

	// Messages returns the messages added to the context.
	Messages() []string

	// AddMessage adds a message sent back in the X-Messages header.
	AddMessage(msg string)

	// Count returns the total number of items of a list.
	Count() int

	// SetCount sets the total number of items of a list. Setting it
	// means the items returned by Read are already filtered, ordered
	// and paginated.
	SetCount(count int)

	// StatusCode returns the status code of the response.
	StatusCode() int

	// SetStatusCode overrides the status code of the response.
	SetStatusCode(code int)

	// ResponseHeader returns the headers of the response.
	ResponseHeader() http.Header
}

// A Parent is an item traversed to reach a nested resource.
type Parent struct {
	Resource string
	Slug     string
	Item     any
}

// AuthAction is the type of action an Authenticator or an Authorizer can return.
type AuthAction int

const (

	// AuthActionOK means the authenticator/authorizer takes the responsibility
	// to grant the request. The execution in the chain will
	// stop and will be considered as a success.
	AuthActionOK AuthAction = iota

	// AuthActionKO means the authenticator/authorizer takes the responsibility
	// to reject the request. The execution in the chain will
	// stop and will be considered as a success.
	AuthActionKO

	// AuthActionContinue means the authenticator/authorizer does not take
	// any responsabolity and let the chain continue.
	// If the last authenticator in the chain returns AuthActionContinue,
	// Then the request will be considered as a success.
	AuthActionContinue
)

// RequestAuthenticator is the interface that must be implemented in order to
// be used as the request Authenticator.
type RequestAuthenticator interface {
	AuthenticateRequest(Context) (AuthAction, error)
}

// Authorizer is the interface that must be implemented in order to
// be used as the Authorizer.
type Authorizer interface {
	IsAuthorized(Context) (AuthAction, error)
}

// Auditer is the interface an object must implement in order to handle
// audit traces.
type Auditer interface {
	Audit(Context, error)
}

// CORSPolicyController allows to return the CORS policy for a given request.
type CORSPolicyController interface {
	PolicyForRequest(*http.Request) *CORSPolicy
}

// A RateLimiter decides whether a request must be rejected.
type RateLimiter interface {
	RateLimit(*http.Request) (bool, error)
}

// A PubSubClient publishes and subscribes to publications.
type PubSubClient interface {
	Publish(publication *Publication) error
	Subscribe(pubs chan *Publication, errors chan error, topic string) func()
	Connect(ctx context.Context) error
	Disconnect() error
}

// A PushPublishHandler decides if a change event must be published.
type PushPublishHandler interface {
	ShouldPublish(event *Event) (bool, error)
}

// A MetricsManager handles Prometheus Metrics Management
type MetricsManager interface {
	MeasureRequest(method string, url string) FinishMeasurementFunc
	RegisterWSConnection()
	UnregisterWSConnection()
	Write(w http.ResponseWriter, r *http.Request)
}

// A FinishMeasurementFunc is the kind of functions returned by MetricsManager.MeasureRequest().
type FinishMeasurementFunc func(code int, span any)

// HealthServerFunc is the type used by the Health Server to check the health of the server.
type HealthServerFunc func() error
