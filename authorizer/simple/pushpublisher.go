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

package simple

import (
	"go.aporeto.io/armet"
)

// CustomShouldPublishFunc is the type of function that can be used
// to decide is an event should be published.
type CustomShouldPublishFunc func(*armet.Event) (bool, error)

// A PublishHandler handles publish decisions.
type PublishHandler struct {
	shouldPublishFunc CustomShouldPublishFunc
}

// NewPublishHandler returns a new PublishHandler. If shouldPublishFunc is nil
// the publisher will dispatch all events.
func NewPublishHandler(shouldPublishFunc CustomShouldPublishFunc) *PublishHandler {

	return &PublishHandler{
		shouldPublishFunc: shouldPublishFunc,
	}
}

// NewResourcesPublishHandler returns a PublishHandler publishing
// only the events of the given resources.
func NewResourcesPublishHandler(resources ...string) *PublishHandler {

	return NewPublishHandler(func(event *armet.Event) (bool, error) {

		for _, r := range resources {
			if r == event.Resource {
				return true, nil
			}
		}

		return false, nil
	})
}

// ShouldPublish is part of the armet.PushPublishHandler interface
func (g *PublishHandler) ShouldPublish(event *armet.Event) (bool, error) {

	if g.shouldPublishFunc == nil {
		return true, nil
	}

	return g.shouldPublishFunc(event)
}

var (
	_ armet.RequestAuthenticator = (*Authenticator)(nil)
	_ armet.Authorizer           = (*Authorizer)(nil)
	_ armet.PushPublishHandler   = (*PublishHandler)(nil)
)
