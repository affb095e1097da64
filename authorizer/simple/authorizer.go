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
	"net/http"

	"go.aporeto.io/armet"
)

// A Authorizer is an armet.Authorizer compliant structure to authorize
// requests using a given function.
type Authorizer struct {
	customAuthFunc CustomAuthRequestFunc
}

// NewAuthorizer returns a new *Authorizer.
func NewAuthorizer(customAuthFunc CustomAuthRequestFunc) *Authorizer {

	return &Authorizer{
		customAuthFunc: customAuthFunc,
	}
}

// IsAuthorized authorizes the given context.
// Without function, the decision is left to the next authorizers.
// A failing function denies the request.
func (a *Authorizer) IsAuthorized(ctx armet.Context) (armet.AuthAction, error) {

	if a.customAuthFunc == nil {
		return armet.AuthActionContinue, nil
	}

	action, err := a.customAuthFunc(ctx)
	if err != nil {
		return armet.AuthActionKO, err
	}

	return action, nil
}

// NewReadOnlyAuthorizer returns an *Authorizer denying every method
// that modifies data on the given resources. All resources are
// concerned when none is given.
func NewReadOnlyAuthorizer(resources ...string) *Authorizer {

	return NewAuthorizer(func(ctx armet.Context) (armet.AuthAction, error) {

		switch ctx.Method() {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return armet.AuthActionContinue, nil
		}

		if len(resources) == 0 {
			return armet.AuthActionKO, nil
		}

		for _, r := range resources {
			if r == ctx.Resource() {
				return armet.AuthActionKO, nil
			}
		}

		return armet.AuthActionContinue, nil
	})
}
