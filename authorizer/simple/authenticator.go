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

// CustomAuthRequestFunc is the type of functions that can be used to
// decide custom authentication operations for requests. It returns an armet.AuthAction.
type CustomAuthRequestFunc func(armet.Context) (armet.AuthAction, error)

// A Authenticator is an armet.RequestAuthenticator compliant structure to authentify
// requests using a given function.
type Authenticator struct {
	customAuthRequestFunc CustomAuthRequestFunc
}

// NewAuthenticator returns a new *Authenticator.
func NewAuthenticator(customAuthRequestFunc CustomAuthRequestFunc) *Authenticator {

	return &Authenticator{
		customAuthRequestFunc: customAuthRequestFunc,
	}
}

// AuthenticateRequest authenticates the request from the given armet.Context.
// Without function, the decision is left to the next authenticators.
// A failing function denies the request.
func (a *Authenticator) AuthenticateRequest(ctx armet.Context) (armet.AuthAction, error) {

	if a.customAuthRequestFunc == nil {
		return armet.AuthActionContinue, nil
	}

	action, err := a.customAuthRequestFunc(ctx)
	if err != nil {
		return armet.AuthActionKO, err
	}

	return action, nil
}

// NewClaimsAuthenticator returns an *Authenticator accepting requests
// whose claims, set by a previous authenticator, contain every
// given key=value pair. Other requests are passed to the next authenticators.
func NewClaimsAuthenticator(required ...string) *Authenticator {

	return NewAuthenticator(func(ctx armet.Context) (armet.AuthAction, error) {

		if len(required) == 0 || !hasClaims(ctx.Claims(), required) {
			return armet.AuthActionContinue, nil
		}

		return armet.AuthActionOK, nil
	})
}

func hasClaims(claims []string, required []string) bool {

	for _, r := range required {

		found := false
		for _, c := range claims {
			if c == r {
				found = true
				break
			}
		}

		if !found {
			return false
		}
	}

	return true
}
