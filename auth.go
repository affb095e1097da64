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
	"errors"
	"net/http"

	"go.aporeto.io/elemental"
)

// CheckAuthentication checks if the current context has been authenticated
// by the given authenticators. The first authenticator returning
// AuthActionOK or AuthActionKO decides. If every authenticator
// returns AuthActionContinue, the request is authenticated.
func CheckAuthentication(authenticators []RequestAuthenticator, ctx Context) error {

	for _, authenticator := range authenticators {

		action, err := authenticator.AuthenticateRequest(ctx)
		if err != nil {
			return authError(err, http.StatusUnauthorized, "Unauthorized")
		}

		switch action {
		case AuthActionOK:
			return nil
		case AuthActionKO:
			return ErrUnauthorized
		}
	}

	return nil
}

// CheckAuthorization checks if the current context has been authorized
// by the given authorizers, the same way CheckAuthentication does.
func CheckAuthorization(authorizers []Authorizer, ctx Context) error {

	for _, authorizer := range authorizers {

		action, err := authorizer.IsAuthorized(ctx)
		if err != nil {
			return authError(err, http.StatusForbidden, "Forbidden")
		}

		switch action {
		case AuthActionOK:
			return nil
		case AuthActionKO:
			return ErrForbidden
		}
	}

	return nil
}

func authError(err error, code int, title string) error {

	var eerr elemental.Error
	if errors.As(err, &eerr) {
		return eerr
	}

	var eerrs elemental.Errors
	if errors.As(err, &eerrs) {
		return eerrs
	}

	return NewError(title, err.Error(), code)
}
