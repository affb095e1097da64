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
	"context"
	"fmt"
	"net/http"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.aporeto.io/armet"
	"go.aporeto.io/armet/store/memstore"
)

func TestAuthorizer_NewAuthorizer(t *testing.T) {

	Convey("Given I call NewAuthorizer with one func", t, func() {

		f1 := func(armet.Context) (armet.AuthAction, error) { return armet.AuthActionOK, nil }

		auth := NewAuthorizer(f1)

		Convey("Then it should be correctly initialized", func() {
			So(auth.customAuthFunc, ShouldNotBeNil)
		})
	})
}

func TestAuthorizer_IsAuthorized(t *testing.T) {

	Convey("Given I call NewAuthorizer and a func that says ok", t, func() {

		f1 := func(armet.Context) (armet.AuthAction, error) { return armet.AuthActionOK, nil }

		auth := NewAuthorizer(f1)

		Convey("When I call IsAuthorized", func() {

			action, err := auth.IsAuthorized(nil)

			Convey("Then err should be nil", func() {
				So(err, ShouldBeNil)
			})

			Convey("Then action should be OK", func() {
				So(action, ShouldEqual, armet.AuthActionOK)
			})
		})
	})

	Convey("Given I call NewAuthorizer and no func", t, func() {

		auth := NewAuthorizer(nil)

		Convey("When I call IsAuthorized", func() {

			action, err := auth.IsAuthorized(nil)

			Convey("Then err should be nil", func() {
				So(err, ShouldBeNil)
			})

			Convey("Then action should be Continue", func() {
				So(action, ShouldEqual, armet.AuthActionContinue)
			})
		})
	})

	Convey("Given I call NewAuthorizer and a func that returns an error", t, func() {

		f1 := func(armet.Context) (armet.AuthAction, error) { return armet.AuthActionOK, fmt.Errorf("paf") }

		auth := NewAuthorizer(f1)

		Convey("When I call IsAuthorized", func() {

			action, err := auth.IsAuthorized(nil)

			Convey("Then err should not be nil", func() {
				So(err.Error(), ShouldEqual, "paf")
			})

			Convey("Then action should be KO", func() {
				So(action, ShouldEqual, armet.AuthActionKO)
			})
		})
	})
}

func TestAuthorizer_NewReadOnlyAuthorizer(t *testing.T) {

	Convey("Given I have an api with a read only authorizer on polls", t, func() {

		mem := memstore.New()
		api := armet.NewAPI(armet.OptAuthorizers(NewReadOnlyAuthorizer("polls")))
		api.RegisterOrDie(armet.NewModelResource(mem, "polls"))
		api.RegisterOrDie(armet.NewModelResource(mem, "choices"))

		do := func(method string, path string, body string) int {
			req := armet.NewRequest(method, path, []byte(body))
			if body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			return api.Handle(context.Background(), req).StatusCode
		}

		Convey("Then reading polls should be allowed", func() {
			So(do(http.MethodGet, "/polls", ""), ShouldEqual, http.StatusOK)
		})

		Convey("Then creating polls should be forbidden", func() {
			So(do(http.MethodPost, "/polls", `{"question":"why?"}`), ShouldEqual, http.StatusForbidden)
		})

		Convey("Then creating choices should be allowed", func() {
			So(do(http.MethodPost, "/choices", `{"text":"because"}`), ShouldEqual, http.StatusCreated)
		})
	})

	Convey("Given I have a read only authorizer on every resource", t, func() {

		auth := NewReadOnlyAuthorizer()

		Convey("Then deleting should be denied", func() {
			ctx := armet.NewContext(context.Background(), armet.NewRequest(http.MethodDelete, "/choices/1", nil))
			action, err := auth.IsAuthorized(ctx)
			So(err, ShouldBeNil)
			So(action, ShouldEqual, armet.AuthActionKO)
		})

		Convey("Then reading should be left to the next authorizers", func() {
			ctx := armet.NewContext(context.Background(), armet.NewRequest(http.MethodHead, "/choices/1", nil))
			action, err := auth.IsAuthorized(ctx)
			So(err, ShouldBeNil)
			So(action, ShouldEqual, armet.AuthActionContinue)
		})
	})
}
