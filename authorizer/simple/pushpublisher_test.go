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
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.aporeto.io/armet"
)

func TestPublishHandler_NewPublishHandler(t *testing.T) {

	Convey("Given I call NewPublishHandler with one func", t, func() {

		f1 := func(*armet.Event) (bool, error) { return true, nil }

		pub := NewPublishHandler(f1)

		Convey("Then it should be correctly initialized", func() {
			So(pub.shouldPublishFunc, ShouldNotBeNil)
		})
	})
}

func TestPublishHandler_ShouldPublish(t *testing.T) {

	Convey("Given I call NewPublishHandler and a func that says ok", t, func() {

		f1 := func(*armet.Event) (bool, error) { return true, nil }

		pub := NewPublishHandler(f1)

		Convey("When I call ShouldPublish", func() {

			action, err := pub.ShouldPublish(nil)

			Convey("Then err should be nil", func() {
				So(err, ShouldBeNil)
			})

			Convey("Then action should be true", func() {
				So(action, ShouldBeTrue)
			})
		})
	})

	Convey("Given I call NewPublishHandler and no func", t, func() {

		pub := NewPublishHandler(nil)

		Convey("When I call ShouldPublish", func() {

			action, err := pub.ShouldPublish(nil)

			Convey("Then err should be nil", func() {
				So(err, ShouldBeNil)
			})

			Convey("Then action should be true", func() {
				So(action, ShouldBeTrue)
			})
		})
	})

	Convey("Given I call NewPublishHandler and a func that returns an error", t, func() {

		f1 := func(*armet.Event) (bool, error) { return false, fmt.Errorf("paf") }

		pub := NewPublishHandler(f1)

		Convey("When I call ShouldPublish", func() {

			action, err := pub.ShouldPublish(nil)

			Convey("Then err should not be nil", func() {
				So(err.Error(), ShouldEqual, "paf")
			})

			Convey("Then action should be false", func() {
				So(action, ShouldBeFalse)
			})
		})
	})

	Convey("Given I have a resources publish handler", t, func() {

		pub := NewResourcesPublishHandler("polls")

		Convey("Then it should only publish the given resources", func() {

			ok, err := pub.ShouldPublish(armet.NewEvent(armet.EventCreate, "polls", "1", nil))
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			ok, err = pub.ShouldPublish(armet.NewEvent(armet.EventCreate, "choices", "1", nil))
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})
	})
}
