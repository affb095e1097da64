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
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.aporeto.io/armet/store"
	"go.aporeto.io/armet/store/memstore"
	"go.aporeto.io/elemental"
)

func pollAttributes() []Attribute {
	return []Attribute{
		{Name: "id", Type: TypeString, ReadOnly: true, Filterable: true},
		{Name: "question", Type: TypeString, Required: true, Filterable: true},
		{Name: "votes", Type: TypeInteger, Filterable: true},
		{Name: "secret", Type: TypeString, Hidden: true},
	}
}

func pollChoiceAttributes() []Attribute {
	return []Attribute{
		{Name: "id", Type: TypeString, ReadOnly: true},
		{Name: "poll", Path: "poll_id", Type: TypeString, Relation: "polls", Filterable: true},
		{Name: "text", Type: TypeString, Required: true, Filterable: true},
	}
}

// newPollsAPI returns an API serving polls and their choices from
// a seeded memory store.
func newPollsAPI(options ...Option) (*API, *memstore.MemoryStore) {

	mem := memstore.New()
	ctx := context.Background()

	for _, r := range []store.Record{
		{"id": "p1", "question": "why?", "votes": int64(3), "secret": "s1"},
		{"id": "p2", "question": "how?", "votes": int64(1), "secret": "s2"},
	} {
		if _, err := mem.Create(ctx, "polls", r); err != nil {
			panic(err)
		}
	}

	if _, err := mem.Create(ctx, "choices", store.Record{"id": "c1", "poll_id": "p1", "text": "because"}); err != nil {
		panic(err)
	}

	api := NewAPI(options...)
	api.RegisterOrDie(NewModelResource(mem, "polls", pollAttributes()...))
	api.RegisterOrDie(NewModelResource(mem, "choices", pollChoiceAttributes()...))

	return api, mem
}

func do(api *API, method string, target string, body string, headers ...string) *Response {

	var data []byte
	if body != "" {
		data = []byte(body)
	}

	req := NewRequest(method, target, data)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	return api.Handle(context.Background(), req)
}

func jsonBody(r *Response) any {

	var out any
	if err := json.Unmarshal(r.Body, &out); err != nil {
		panic(err)
	}

	return out
}

func errorCode(r *Response) float64 {

	errs, ok := jsonBody(r).([]any)
	if !ok || len(errs) == 0 {
		return 0
	}

	return errs[0].(map[string]any)["code"].(float64)
}

func TestAPI_Read(t *testing.T) {

	Convey("Given I have an api serving polls", t, func() {

		api, mem := newPollsAPI()

		Convey("When I get the list of polls", func() {

			r := do(api, http.MethodGet, "/polls", "")

			Convey("Then I should get every poll rendered", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(r.Header.Get("Content-Type"), ShouldEqual, "application/json")
				So(r.Header.Get("X-Count-Total"), ShouldEqual, "2")
				So(r.Header.Get("X-Request-Id"), ShouldNotBeEmpty)
				So(r.Header.Get("Content-MD5"), ShouldNotBeEmpty)
				So(r.Header.Get("Link"), ShouldEqual, `</polls?page=1>; rel="first", </polls?page=1>; rel="last"`)
				So(jsonBody(r), ShouldResemble, []any{
					map[string]any{"resource_uri": "/polls/p1", "id": "p1", "question": "why?", "votes": float64(3)},
					map[string]any{"resource_uri": "/polls/p2", "id": "p2", "question": "how?", "votes": float64(1)},
				})
			})
		})

		Convey("When I get a poll", func() {

			r := do(api, http.MethodGet, "/polls/p1", "")

			Convey("Then I should get it without the hidden attributes", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(r.Header.Get("ETag"), ShouldNotBeEmpty)
				So(jsonBody(r), ShouldResemble, map[string]any{
					"resource_uri": "/polls/p1",
					"id":           "p1",
					"question":     "why?",
					"votes":        float64(3),
				})
			})

			Convey("When I get it again with its etag", func() {

				r2 := do(api, http.MethodGet, "/polls/p1", "", "If-None-Match", r.Header.Get("ETag"))

				Convey("Then I should get a not modified", func() {
					So(r2.StatusCode, ShouldEqual, http.StatusNotModified)
					So(r2.Body, ShouldBeNil)
					So(r2.Header.Get("ETag"), ShouldEqual, r.Header.Get("ETag"))
				})
			})
		})

		Convey("When I head a poll", func() {

			r := do(api, http.MethodHead, "/polls/p1", "")

			Convey("Then I should get the headers only", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(r.Body, ShouldBeNil)
				So(r.Header.Get("Content-Length"), ShouldNotEqual, "0")
			})
		})

		Convey("When I get a missing poll", func() {

			r := do(api, http.MethodGet, "/polls/nope", "")

			Convey("Then I should get a not found", func() {
				So(r.StatusCode, ShouldEqual, http.StatusNotFound)
				So(errorCode(r), ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When I get an unknown resource", func() {

			r := do(api, http.MethodGet, "/unknown", "")

			Convey("Then I should get a not found", func() {
				So(r.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When I get the root", func() {

			r := do(api, http.MethodGet, "/", "")

			Convey("Then I should get a not found", func() {
				So(r.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When I request a poll as msgpack with a format suffix", func() {

			r := do(api, http.MethodGet, "/polls/p1.msgpack", "")

			Convey("Then I should get msgpack", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(r.Header.Get("Content-Type"), ShouldEqual, "application/msgpack")
			})
		})

		Convey("When I request a poll as msgpack with the Accept header", func() {

			r := do(api, http.MethodGet, "/polls/p1", "", "Accept", "application/msgpack")

			Convey("Then I should get msgpack", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(r.Header.Get("Content-Type"), ShouldEqual, "application/msgpack")
			})
		})

		Convey("When I post a poll as msgpack", func() {

			body, err := elemental.Encode(elemental.EncodingTypeMSGPACK, map[string]any{"question": "packed?", "votes": 7})
			So(err, ShouldBeNil)

			req := NewRequest(http.MethodPost, "/polls", body)
			req.Header.Set("Content-Type", "application/msgpack")
			r := api.Handle(context.Background(), req)

			Convey("Then the integer attribute should be coerced", func() {
				So(r.StatusCode, ShouldEqual, http.StatusCreated)
				So(jsonBody(r).(map[string]any)["votes"], ShouldEqual, float64(7))
			})
		})

		Convey("When I post a poll with votes that cannot fit an integer", func() {

			r := do(api, http.MethodPost, "/polls", `{"question":"big?","votes":1e300}`)

			Convey("Then I should get a bad request", func() {
				So(r.StatusCode, ShouldEqual, http.StatusBadRequest)
				So(mem.Len("polls"), ShouldEqual, 2)
			})
		})

		Convey("When I request an unavailable format", func() {

			r := do(api, http.MethodGet, "/polls/p1", "", "Accept", "application/xml")

			Convey("Then I should get a not acceptable in json", func() {
				So(r.StatusCode, ShouldEqual, http.StatusNotAcceptable)
				So(r.Header.Get("Content-Type"), ShouldEqual, "application/json")
				So(errorCode(r), ShouldEqual, http.StatusNotAcceptable)
			})
		})

		Convey("When I request an unknown format with the format parameter", func() {

			r := do(api, http.MethodGet, "/polls/p1?format=yaml", "")

			Convey("Then I should get a not acceptable", func() {
				So(r.StatusCode, ShouldEqual, http.StatusNotAcceptable)
			})
		})
	})
}

func TestAPI_Redirects(t *testing.T) {

	Convey("Given I have an api without trailing slashes", t, func() {

		api, _ := newPollsAPI()

		Convey("When I get a poll with a trailing slash", func() {

			r := do(api, http.MethodGet, "/polls/p1/?format=json", "")

			Convey("Then I should be permanently redirected", func() {
				So(r.StatusCode, ShouldEqual, http.StatusMovedPermanently)
				So(r.Header.Get("Location"), ShouldEqual, "/polls/p1?format=json")
			})
		})

		Convey("When I post to the list with a trailing slash", func() {

			r := do(api, http.MethodPost, "/polls/", `{"question":"?"}`)

			Convey("Then I should be temporarily redirected", func() {
				So(r.StatusCode, ShouldEqual, http.StatusTemporaryRedirect)
				So(r.Header.Get("Location"), ShouldEqual, "/polls")
			})
		})
	})

	Convey("Given I have an api with trailing slashes", t, func() {

		api, _ := newPollsAPI(OptTrailingSlash(true))

		Convey("When I get the list without a trailing slash", func() {

			r := do(api, http.MethodGet, "/polls", "")

			Convey("Then I should be redirected to the canonical uri", func() {
				So(r.StatusCode, ShouldEqual, http.StatusMovedPermanently)
				So(r.Header.Get("Location"), ShouldEqual, "/polls/")
			})
		})

		Convey("When I get a poll with a trailing slash", func() {

			r := do(api, http.MethodGet, "/polls/p1/", "")

			Convey("Then the resource uri should have a trailing slash", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(jsonBody(r).(map[string]any)["resource_uri"], ShouldEqual, "/polls/p1/")
			})
		})
	})
}

func TestAPI_Filtering(t *testing.T) {

	Convey("Given I have an api serving polls", t, func() {

		api, _ := newPollsAPI()

		ids := func(r *Response) []string {
			out := []string{}
			for _, item := range jsonBody(r).([]any) {
				out = append(out, item.(map[string]any)["id"].(string))
			}
			return out
		}

		Convey("When I filter on an attribute", func() {

			r := do(api, http.MethodGet, "/polls?votes__gte=2", "")

			Convey("Then I should get the matching polls", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(r.Header.Get("X-Count-Total"), ShouldEqual, "1")
				So(ids(r), ShouldResemble, []string{"p1"})
			})
		})

		Convey("When I filter with the in operator", func() {

			r := do(api, http.MethodGet, "/polls?id__in=p2,p3", "")

			Convey("Then I should get the matching polls", func() {
				So(ids(r), ShouldResemble, []string{"p2"})
			})
		})

		Convey("When I order the list", func() {

			r := do(api, http.MethodGet, "/polls?order=votes", "")

			Convey("Then the polls should be ordered", func() {
				So(ids(r), ShouldResemble, []string{"p2", "p1"})
			})
		})

		Convey("When I search the list", func() {

			r := do(api, http.MethodGet, "/polls?q=HOW", "")

			Convey("Then I should get the matching polls", func() {
				So(ids(r), ShouldResemble, []string{"p2"})
			})
		})

		Convey("When I paginate the list", func() {

			r := do(api, http.MethodGet, "/polls?per_page=1&page=2", "")

			Convey("Then I should get the requested page", func() {
				So(ids(r), ShouldResemble, []string{"p2"})
				So(r.Header.Get("X-Count-Total"), ShouldEqual, "2")
				So(r.Header.Get("Link"), ShouldContainSubstring, `</polls?page=1&per_page=1>; rel="prev"`)
				So(r.Header.Get("Link"), ShouldNotContainSubstring, `rel="next"`)
			})
		})

		Convey("When I filter on unknown, hidden and unfilterable attributes", func() {

			r := do(api, http.MethodGet, "/polls?nope=1&secret=s1&votes__between=1", "")

			Convey("Then I should get every error at once", func() {
				So(r.StatusCode, ShouldEqual, http.StatusBadRequest)
				So(jsonBody(r), ShouldHaveLength, 3)
			})
		})

		Convey("When I filter with a value of the wrong type", func() {

			r := do(api, http.MethodGet, "/polls?votes=abc", "")

			Convey("Then I should get a bad request", func() {
				So(r.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When I order on an unknown attribute", func() {

			r := do(api, http.MethodGet, "/polls?order=-nope", "")

			Convey("Then I should get a bad request", func() {
				So(r.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When I filter choices with the uri of a poll", func() {

			r := do(api, http.MethodGet, "/choices?poll=/polls/p1", "")

			Convey("Then I should get the choices of the poll", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(ids(r), ShouldResemble, []string{"c1"})
			})
		})
	})
}

func TestAPI_Write(t *testing.T) {

	Convey("Given I have an api serving polls", t, func() {

		api, mem := newPollsAPI()

		Convey("When I create a poll", func() {

			r := do(api, http.MethodPost, "/polls", `{"question":"what?","votes":"7","id":"forced","unknown":true}`)

			Convey("Then it should be created", func() {
				So(r.StatusCode, ShouldEqual, http.StatusCreated)
				So(r.Header.Get("Location"), ShouldStartWith, "/polls/")
				So(r.Header.Get("Location"), ShouldNotEqual, "/polls/forced")

				body := jsonBody(r).(map[string]any)
				So(body["question"], ShouldEqual, "what?")
				So(body["votes"], ShouldEqual, float64(7))
				So(body["resource_uri"], ShouldEqual, r.Header.Get("Location"))
				So(mem.Len("polls"), ShouldEqual, 3)
			})
		})

		Convey("When I create a poll without its required attributes", func() {

			r := do(api, http.MethodPost, "/polls", `{"votes":1}`)

			Convey("Then I should get a bad request", func() {
				So(r.StatusCode, ShouldEqual, http.StatusBadRequest)
				So(mem.Len("polls"), ShouldEqual, 2)
			})
		})

		Convey("When I create a poll with invalid attributes", func() {

			r := do(api, http.MethodPost, "/polls", `{"question":"?","votes":1.5}`)

			Convey("Then I should get a bad request", func() {
				So(r.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When I send a body that is not an object", func() {

			r := do(api, http.MethodPost, "/polls", `[1, 2]`)

			Convey("Then I should get a bad request", func() {
				So(r.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When I send an invalid body", func() {

			r := do(api, http.MethodPost, "/polls", `{"question":`)

			Convey("Then I should get a bad request", func() {
				So(r.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When I send a body of an unsupported type", func() {

			req := NewRequest(http.MethodPost, "/polls", []byte("question"))
			req.Header.Set("Content-Type", "text/plain")
			r := api.Handle(context.Background(), req)

			Convey("Then I should get an unsupported media type", func() {
				So(r.StatusCode, ShouldEqual, http.StatusUnsupportedMediaType)
			})
		})

		Convey("When I send a url encoded body", func() {

			req := NewRequest(http.MethodPost, "/polls", []byte("question=where%3F&votes=2"))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			r := api.Handle(context.Background(), req)

			Convey("Then the poll should be created", func() {
				So(r.StatusCode, ShouldEqual, http.StatusCreated)
				So(jsonBody(r).(map[string]any)["question"], ShouldEqual, "where?")
			})
		})

		Convey("When I put a new poll", func() {

			r := do(api, http.MethodPut, "/polls/p3", `{"question":"who?"}`)

			Convey("Then it should be created with the slug", func() {
				So(r.StatusCode, ShouldEqual, http.StatusCreated)
				So(r.Header.Get("Location"), ShouldEqual, "/polls/p3")
				So(jsonBody(r).(map[string]any)["id"], ShouldEqual, "p3")
			})
		})

		Convey("When I put an existing poll", func() {

			r := do(api, http.MethodPut, "/polls/p1", `{"question":"really?","votes":4}`)

			Convey("Then it should be updated", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(jsonBody(r).(map[string]any)["question"], ShouldEqual, "really?")
				So(mem.Len("polls"), ShouldEqual, 2)
			})
		})

		Convey("When I put an existing poll without its required attributes", func() {

			r := do(api, http.MethodPut, "/polls/p1", `{"votes":4}`)

			Convey("Then I should get a bad request", func() {
				So(r.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When I patch a poll", func() {

			r := do(api, http.MethodPatch, "/polls/p1", `{"votes":10}`)

			Convey("Then only the given attributes should be updated", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(jsonBody(r), ShouldResemble, map[string]any{
					"resource_uri": "/polls/p1",
					"id":           "p1",
					"question":     "why?",
					"votes":        float64(10),
				})
			})
		})

		Convey("When I patch a missing poll", func() {

			r := do(api, http.MethodPatch, "/polls/nope", `{"votes":10}`)

			Convey("Then I should get a not found", func() {
				So(r.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When I override the method of a post", func() {

			r := do(api, http.MethodPost, "/polls/p1", `{"votes":11}`, "X-HTTP-Method-Override", "PATCH")

			Convey("Then the poll should be patched", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(jsonBody(r).(map[string]any)["votes"], ShouldEqual, float64(11))
			})
		})

		Convey("When I delete a poll", func() {

			r := do(api, http.MethodDelete, "/polls/p2", "")

			Convey("Then it should be deleted", func() {
				So(r.StatusCode, ShouldEqual, http.StatusNoContent)
				So(r.Body, ShouldBeNil)
				So(do(api, http.MethodGet, "/polls/p2", "").StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When I delete a missing poll", func() {

			r := do(api, http.MethodDelete, "/polls/nope", "")

			Convey("Then I should get a not found", func() {
				So(r.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestAPI_Methods(t *testing.T) {

	Convey("Given I have an api serving polls", t, func() {

		api, _ := newPollsAPI()

		cases := []struct {
			method string
			target string
			code   int
		}{
			{http.MethodPut, "/polls", http.StatusNotImplemented},
			{http.MethodPatch, "/polls", http.StatusNotImplemented},
			{http.MethodDelete, "/polls", http.StatusNotImplemented},
			{http.MethodPost, "/polls/p1", http.StatusNotImplemented},
			{"BREW", "/polls", http.StatusNotImplemented},
			{http.MethodConnect, "/polls", http.StatusMethodNotAllowed},
			{http.MethodTrace, "/polls/p1", http.StatusMethodNotAllowed},
		}

		for _, c := range cases {

			Convey("When I send "+c.method+" on "+c.target, func() {

				r := do(api, c.method, c.target, "")

				Convey("Then I should get the expected status", func() {
					So(r.StatusCode, ShouldEqual, c.code)
				})
			})
		}

		Convey("When I send a method that is not allowed", func() {

			r := do(api, http.MethodConnect, "/polls", "")

			Convey("Then I should get the allowed methods", func() {
				So(r.Header.Get("Allow"), ShouldEqual, "GET, HEAD, OPTIONS, POST, PUT, PATCH, DELETE")
			})
		})

		Convey("When I send options on the list", func() {

			r := do(api, http.MethodOptions, "/polls", "")

			Convey("Then I should get the allowed methods", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(r.Header.Get("Allow"), ShouldEqual, "GET, HEAD, OPTIONS, POST, PUT, PATCH, DELETE")
				So(r.Body, ShouldBeNil)
			})
		})
	})

	Convey("Given I have an api with restricted methods and operations", t, func() {

		mem := memstore.New()
		api := NewAPI()
		api.RegisterOrDie(
			NewModelResource(mem, "polls", pollAttributes()...),
			OptHTTPListAllowedMethods("get", "post"),
			OptHTTPDetailAllowedMethods(http.MethodGet),
			OptListAllowedOperations(OperationRead),
		)

		Convey("When I delete a poll", func() {

			r := do(api, http.MethodDelete, "/polls/p1", "")

			Convey("Then I should get a method not allowed", func() {
				So(r.StatusCode, ShouldEqual, http.StatusMethodNotAllowed)
				So(r.Header.Get("Allow"), ShouldEqual, "GET")
			})
		})

		Convey("When I create a poll", func() {

			r := do(api, http.MethodPost, "/polls", `{"question":"?"}`)

			Convey("Then I should get a forbidden", func() {
				So(r.StatusCode, ShouldEqual, http.StatusForbidden)
			})
		})
	})
}

func TestAPI_Nested(t *testing.T) {

	Convey("Given I have an api serving polls and choices", t, func() {

		api, mem := newPollsAPI()

		Convey("When I list the choices of a poll", func() {

			r := do(api, http.MethodGet, "/polls/p1/choices", "")

			Convey("Then I should get them with the relation rendered as uri", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(r.Header.Get("X-Count-Total"), ShouldEqual, "1")
				So(jsonBody(r), ShouldResemble, []any{
					map[string]any{"resource_uri": "/choices/c1", "id": "c1", "poll": "/polls/p1", "text": "because"},
				})
			})
		})

		Convey("When I list the choices of another poll", func() {

			r := do(api, http.MethodGet, "/polls/p2/choices", "")

			Convey("Then I should get nothing", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(jsonBody(r), ShouldResemble, []any{})
			})
		})

		Convey("When I get a choice through another poll", func() {

			r := do(api, http.MethodGet, "/polls/p2/choices/c1", "")

			Convey("Then I should get a not found", func() {
				So(r.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When I list the choices of a missing poll", func() {

			r := do(api, http.MethodGet, "/polls/nope/choices", "")

			Convey("Then I should get a not found", func() {
				So(r.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When I create a choice in a poll", func() {

			r := do(api, http.MethodPost, "/polls/p2/choices", `{"text":"like this"}`)

			Convey("Then it should belong to the poll", func() {
				So(r.StatusCode, ShouldEqual, http.StatusCreated)
				So(jsonBody(r).(map[string]any)["poll"], ShouldEqual, "/polls/p2")
				So(mem.Len("choices"), ShouldEqual, 2)
			})
		})

		Convey("When I create a choice with the uri of its poll", func() {

			r := do(api, http.MethodPost, "/choices", `{"text":"like that","poll":"/polls/p2"}`)

			Convey("Then it should belong to the poll", func() {
				So(r.StatusCode, ShouldEqual, http.StatusCreated)
				So(jsonBody(r).(map[string]any)["poll"], ShouldEqual, "/polls/p2")
			})
		})

		Convey("When I create a choice with the uri of something else", func() {

			r := do(api, http.MethodPost, "/choices", `{"text":"like that","poll":"/choices/c1"}`)

			Convey("Then I should get a bad request", func() {
				So(r.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When I get an attribute of a poll", func() {

			r := do(api, http.MethodGet, "/polls/p1/question", "")

			Convey("Then I should get its value", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(jsonBody(r), ShouldEqual, "why?")
			})
		})

		Convey("When I get a hidden attribute of a poll", func() {

			r := do(api, http.MethodGet, "/polls/p1/secret", "")

			Convey("Then I should get a not found", func() {
				So(r.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When I patch an attribute of a poll", func() {

			r := do(api, http.MethodPatch, "/polls/p1/question", `{"question":"no"}`)

			Convey("Then I should get a method not allowed", func() {
				So(r.StatusCode, ShouldEqual, http.StatusMethodNotAllowed)
				So(r.Header.Get("Allow"), ShouldEqual, "GET, HEAD")
			})
		})

		Convey("When I follow the relation of a choice", func() {

			r := do(api, http.MethodGet, "/choices/c1/poll", "")

			Convey("Then I should get the related poll", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(jsonBody(r).(map[string]any)["id"], ShouldEqual, "p1")
			})
		})
	})
}

type testAuthenticator struct {
	action AuthAction
	err    error
	claims []string
	called int
}

func (a *testAuthenticator) AuthenticateRequest(ctx Context) (AuthAction, error) {
	a.called++
	ctx.SetClaims(a.claims)
	return a.action, a.err
}

type testAuthorizer struct {
	action AuthAction
	err    error
	seen   []string
}

func (a *testAuthorizer) IsAuthorized(ctx Context) (AuthAction, error) {
	a.seen = append(a.seen, ctx.Method()+" "+ctx.Resource()+" "+ctx.Slug())
	return a.action, a.err
}

type testAuditer struct {
	errs []error
}

func (a *testAuditer) Audit(ctx Context, err error) {
	a.errs = append(a.errs, err)
}

func TestAPI_Security(t *testing.T) {

	Convey("Given I have an api rejecting authentication", t, func() {

		authenticator := &testAuthenticator{action: AuthActionKO}
		auditer := &testAuditer{}
		api, _ := newPollsAPI(OptAuthenticators(authenticator), OptAuditer(auditer))

		Convey("When I get a poll", func() {

			r := do(api, http.MethodGet, "/polls/p1", "")

			Convey("Then I should get an unauthorized", func() {
				So(r.StatusCode, ShouldEqual, http.StatusUnauthorized)
				So(authenticator.called, ShouldEqual, 1)
				So(len(auditer.errs), ShouldEqual, 1)
				So(auditer.errs[0], ShouldNotBeNil)
			})
		})

		Convey("When I request an unavailable format", func() {

			r := do(api, http.MethodGet, "/polls/p1", "", "Accept", "text/html")

			Convey("Then authentication should come first", func() {
				So(r.StatusCode, ShouldEqual, http.StatusUnauthorized)
			})
		})
	})

	Convey("Given I have an api with authorizers", t, func() {

		authenticator := &testAuthenticator{action: AuthActionOK, claims: []string{"user=bob"}}
		authorizer := &testAuthorizer{action: AuthActionContinue}
		api, _ := newPollsAPI(OptAuthenticators(authenticator), OptAuthorizers(authorizer))

		Convey("When I get the choices of a poll", func() {

			r := do(api, http.MethodGet, "/polls/p1/choices", "")

			Convey("Then the target should be authorized once", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(authorizer.seen, ShouldResemble, []string{"GET choices "})
			})
		})

		Convey("When the authorizer rejects the request", func() {

			authorizer.action = AuthActionKO
			r := do(api, http.MethodDelete, "/polls/p1", "")

			Convey("Then I should get a forbidden", func() {
				So(r.StatusCode, ShouldEqual, http.StatusForbidden)
				So(authorizer.seen, ShouldResemble, []string{"DELETE polls p1"})
			})
		})

		Convey("When a resource authorizer rejects the request", func() {

			mem := memstore.New()
			api.RegisterOrDie(
				NewModelResource(mem, "secrets"),
				OptResourceAuthorizers(&testAuthorizer{action: AuthActionKO}),
			)

			r := do(api, http.MethodGet, "/secrets", "")

			Convey("Then I should get a forbidden", func() {
				So(r.StatusCode, ShouldEqual, http.StatusForbidden)
			})
		})
	})
}

// A colorsResource serves a fixed list of structs.
type colorsResource struct{}

type color struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

var colors = []color{
	{Name: "red", Hex: "#f00"},
	{Name: "green", Hex: "#0f0"},
	{Name: "blue", Hex: "#00f"},
	{Name: "rust", Hex: "#b7410e"},
}

func (colorsResource) Read(ctx Context) (any, error) {

	if ctx.IsList() {
		return colors, nil
	}

	for _, c := range colors {
		if c.Name == ctx.Slug() {
			return c, nil
		}
	}

	return nil, nil
}

func (colorsResource) Prepare(ctx Context, item any) (any, error) {

	m := item.(map[string]any)
	m["upper"] = strings.ToUpper(m["name"].(string))
	ctx.AddMessage("prepared " + m["name"].(string))

	return m, nil
}

func TestAPI_StructResources(t *testing.T) {

	Convey("Given I have an api serving a read only struct resource", t, func() {

		api := NewAPI()
		api.RegisterOrDie(
			colorsResource{},
			OptSlug("name"),
			OptAttributes(
				Attribute{Name: "name", Type: TypeString, Filterable: true},
				Attribute{Name: "hex", Type: TypeString},
			),
		)

		Convey("Then the resource should be named after its type", func() {
			So(api.ResourceNames(), ShouldResemble, []string{"colors"})
		})

		Convey("When I filter and order the list", func() {

			r := do(api, http.MethodGet, "/colors?name__startswith=r&order=-name", "")

			Convey("Then the list should be processed in memory", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(r.Header.Get("X-Count-Total"), ShouldEqual, "2")
				So(r.Header["X-Messages"], ShouldResemble, []string{"prepared rust", "prepared red"})
				So(jsonBody(r), ShouldResemble, []any{
					map[string]any{"resource_uri": "/colors/rust", "name": "rust", "hex": "#b7410e", "upper": "RUST"},
					map[string]any{"resource_uri": "/colors/red", "name": "red", "hex": "#f00", "upper": "RED"},
				})
			})
		})

		Convey("When I search the list", func() {

			r := do(api, http.MethodGet, "/colors?q=0F", "")

			Convey("Then I should get the matching items", func() {
				So(r.Header.Get("X-Count-Total"), ShouldEqual, "1")
				So(jsonBody(r).([]any)[0].(map[string]any)["name"], ShouldEqual, "green")
			})
		})

		Convey("When I get an item", func() {

			r := do(api, http.MethodGet, "/colors/blue", "")

			Convey("Then I should get it", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(jsonBody(r).(map[string]any)["hex"], ShouldEqual, "#00f")
			})
		})

		Convey("When I create an item", func() {

			r := do(api, http.MethodPost, "/colors", `{"name":"pink"}`)

			Convey("Then I should get a not implemented", func() {
				So(r.StatusCode, ShouldEqual, http.StatusNotImplemented)
			})
		})
	})
}

type panickingResource struct{}

func (panickingResource) Read(Context) (any, error) {
	panic("boom")
}

type statusResource struct{}

func (statusResource) Read(ctx Context) (any, error) {
	ctx.SetStatusCode(http.StatusAccepted)
	ctx.ResponseHeader().Set("X-Custom", "yes")
	return map[string]any{"id": "1", "status": "queued"}, nil
}

type notesResource struct {
	items    map[string]map[string]any
	received map[string]any
}

func (n *notesResource) Read(ctx Context) (any, error) {

	if item, ok := n.items[ctx.Slug()]; ok {
		return item, nil
	}

	return nil, nil
}

func (n *notesResource) Update(ctx Context, current any, data map[string]any) (any, error) {

	n.received = data
	n.items[ctx.Slug()] = data

	return data, nil
}

type emptyResource struct{}

func (emptyResource) Read(Context) (any, error) {
	return nil, nil
}

func TestAPI_Behaviors(t *testing.T) {

	Convey("Given I have an api with a resource reading nothing", t, func() {

		api := NewAPI()
		api.RegisterOrDie(emptyResource{})

		Convey("When I read the list", func() {

			r := do(api, http.MethodGet, "/empty", "")

			Convey("Then I should get no content", func() {
				So(r.StatusCode, ShouldEqual, http.StatusNoContent)
				So(r.Body, ShouldBeEmpty)
				So(r.Header.Get("X-Count-Total"), ShouldEqual, "")
				So(r.Header.Get("Link"), ShouldEqual, "")
			})
		})

		Convey("When I read an item", func() {

			r := do(api, http.MethodGet, "/empty/1", "")

			Convey("Then I should get a not found", func() {
				So(r.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})
	})

	Convey("Given I have an api with a resource updating whole items", t, func() {

		notes := &notesResource{
			items: map[string]map[string]any{
				"n1": {"id": "n1", "title": "hello", "votes": int64(1), "owner": "alice"},
			},
		}

		api := NewAPI()
		api.RegisterOrDie(notes, OptAttributes(
			Attribute{Name: "id", Type: TypeString, ReadOnly: true},
			Attribute{Name: "title", Type: TypeString, Required: true},
			Attribute{Name: "votes", Type: TypeInteger},
			Attribute{Name: "owner", Type: TypeString, Hidden: true},
		))

		Convey("When I patch a note", func() {

			r := do(api, http.MethodPatch, "/notes/n1", `{"votes":5}`)

			Convey("Then the update should receive the merged item", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(notes.received, ShouldResemble, map[string]any{
					"title": "hello",
					"votes": int64(5),
					"owner": "alice",
				})
				So(jsonBody(r).(map[string]any)["title"], ShouldEqual, "hello")
			})
		})

		Convey("When I put a note", func() {

			r := do(api, http.MethodPut, "/notes/n1", `{"title":"bye"}`)

			Convey("Then the update should receive the data only", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(notes.received, ShouldResemble, map[string]any{"title": "bye"})
			})
		})
	})

	Convey("Given I have an api with a panicking resource", t, func() {

		api := NewAPI()
		api.RegisterOrDie(panickingResource{})

		Convey("When I read it", func() {

			r := do(api, http.MethodGet, "/panicking", "")

			Convey("Then I should get an internal server error", func() {
				So(r.StatusCode, ShouldEqual, http.StatusInternalServerError)
			})
		})
	})

	Convey("Given I have an api with a resource setting the status", t, func() {

		api := NewAPI()
		api.RegisterOrDie(statusResource{}, OptName("jobs"))

		Convey("When I read it", func() {

			r := do(api, http.MethodGet, "/jobs/1", "")

			Convey("Then the status and headers should be used", func() {
				So(r.StatusCode, ShouldEqual, http.StatusAccepted)
				So(r.Header.Get("X-Custom"), ShouldEqual, "yes")
				So(jsonBody(r), ShouldResemble, map[string]any{"id": "1", "status": "queued", "resource_uri": "/jobs/1"})
			})
		})
	})

	Convey("Given I have an api with setup and teardown functions", t, func() {

		var torndown bool
		api, _ := newPollsAPI(
			OptSetupFunc(func(ctx Context) error {
				if ctx.Request().Header.Get("X-Block") != "" {
					return ErrForbidden
				}
				return nil
			}),
			OptTeardownFunc(func(Context) { torndown = true }),
		)

		Convey("When the setup function fails", func() {

			r := do(api, http.MethodGet, "/polls", "", "X-Block", "1")

			Convey("Then the request should be aborted", func() {
				So(r.StatusCode, ShouldEqual, http.StatusForbidden)
				So(torndown, ShouldBeTrue)
			})
		})

		Convey("When the setup function succeeds", func() {

			r := do(api, http.MethodGet, "/polls", "")

			Convey("Then the request should be served", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(torndown, ShouldBeTrue)
			})
		})
	})

	Convey("Given I have an api with a canceled context", t, func() {

		api, _ := newPollsAPI()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Convey("When I send a request", func() {

			r := api.Handle(ctx, NewRequest(http.MethodGet, "/polls", nil))

			Convey("Then I should not get a success", func() {
				So(r.StatusCode, ShouldBeIn, []int{http.StatusOK, 499})
			})
		})
	})

	Convey("Given I have a request with an id", t, func() {

		api, _ := newPollsAPI()

		req := NewRequest(http.MethodGet, "/polls", nil)
		req.ID = "my-id"

		Convey("When I handle it", func() {

			r := api.Handle(context.Background(), req)

			Convey("Then the id should be returned", func() {
				So(r.Header.Get("X-Request-Id"), ShouldEqual, "my-id")
			})
		})
	})
}

func TestAPI_Mounting(t *testing.T) {

	Convey("Given I have an api with a prefix", t, func() {

		api, _ := newPollsAPI(OptPrefix("/api/"))

		Convey("When I get the polls under the prefix", func() {

			r := do(api, http.MethodGet, "/api/polls/p1", "")

			Convey("Then I should get the poll with a prefixed uri", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(jsonBody(r).(map[string]any)["resource_uri"], ShouldEqual, "/api/polls/p1")
			})
		})

		Convey("When I get the polls outside of the prefix", func() {

			r := do(api, http.MethodGet, "/polls/p1", "")

			Convey("Then I should get a not found", func() {
				So(r.StatusCode, ShouldEqual, http.StatusNotFound)
			})
		})
	})

	Convey("Given I have an api with a sub api", t, func() {

		root := NewAPI()
		sub, _ := newPollsAPI(OptAPIName("v1"))

		So(root.RegisterAPI(sub, ""), ShouldBeNil)

		Convey("When I get a poll through the root api", func() {

			r := do(root, http.MethodGet, "/v1/polls/p1", "")

			Convey("Then I should get the poll with a mounted uri", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(jsonBody(r).(map[string]any)["resource_uri"], ShouldEqual, "/v1/polls/p1")
			})
		})

		Convey("When I register the sub api again", func() {

			err := root.RegisterAPI(sub, "v2")

			Convey("Then it should fail", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When I register a resource conflicting with the sub api", func() {

			err := root.Register(NewModelResource(memstore.New(), "v1"))

			Convey("Then it should fail", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("Then the routes should include the sub api", func() {
			routes := root.Routes()
			So(len(routes), ShouldEqual, 4)
			So(routes[0].URL, ShouldEqual, "/v1/choices")
			So(routes[3].URL, ShouldEqual, "/v1/polls/:id")
		})
	})
}

func TestAPI_Registration(t *testing.T) {

	Convey("Given I have an api", t, func() {

		api := NewAPI()

		Convey("When I register a resource twice", func() {

			So(api.Register(NewModelResource(nil, "polls")), ShouldBeNil)
			err := api.Register(NewModelResource(nil, "polls"))

			Convey("Then it should fail", func() {
				So(err, ShouldNotBeNil)
			})

			Convey("When I unregister it", func() {

				So(api.Unregister("polls"), ShouldBeNil)

				Convey("Then it should be gone", func() {
					_, ok := api.Resource("polls")
					So(ok, ShouldBeFalse)
					So(api.Unregister("polls"), ShouldNotBeNil)
				})
			})
		})

		Convey("When I register invalid resources", func() {

			Convey("Then it should fail", func() {
				So(api.Register(nil), ShouldNotBeNil)
				So(api.Register(NewModelResource(nil, "a/b")), ShouldNotBeNil)
				So(api.Register(NewModelResource(nil, "polls"), OptSlug("")), ShouldNotBeNil)
				So(api.Register(NewModelResource(nil, "polls"), OptHTTPAllowedMethods("BREW")), ShouldNotBeNil)
				So(api.Register(NewModelResource(nil, "polls"), OptAllowedOperations("fly")), ShouldNotBeNil)
				So(api.Register(NewModelResource(nil, "polls"), OptEncoders("yaml")), ShouldNotBeNil)
				So(api.Register(NewModelResource(nil, "polls"), OptResourceDefaultEncoder("yaml")), ShouldNotBeNil)
				So(api.Register(NewModelResource(nil, "polls"), OptEncoders("msgpack")), ShouldNotBeNil)
				So(api.Register(NewModelResource(nil, "polls", Attribute{Name: "a"}, Attribute{Name: "a"})), ShouldNotBeNil)
			})
		})

		Convey("When I register a resource restricted to msgpack", func() {

			So(api.Register(
				NewModelResource(memstore.New(), "polls"),
				OptEncoders("msgpack"),
				OptResourceDefaultEncoder("msgpack"),
			), ShouldBeNil)

			r := do(api, http.MethodGet, "/polls", "")

			Convey("Then it should respond in msgpack", func() {
				So(r.StatusCode, ShouldEqual, http.StatusOK)
				So(r.Header.Get("Content-Type"), ShouldEqual, "application/msgpack")
			})
		})
	})
}

func TestAPI_Events(t *testing.T) {

	Convey("Given I have an api publishing events", t, func() {

		ps := NewLocalPubSubClient()
		So(ps.Connect(context.Background()), ShouldBeNil)
		defer ps.Disconnect() // nolint

		pubs := make(chan *Publication, 10)
		unsubscribe := ps.Subscribe(pubs, nil, "events")
		defer unsubscribe()
		waitForSubscription(ps.(*localPubSub), "events")

		api, _ := newPollsAPI(OptPushPublisher(ps, "events"))

		Convey("When I create, update and delete a poll", func() {

			So(do(api, http.MethodPut, "/polls/p3", `{"question":"?"}`).StatusCode, ShouldEqual, http.StatusCreated)
			So(do(api, http.MethodPatch, "/polls/p3", `{"votes":1}`).StatusCode, ShouldEqual, http.StatusOK)
			So(do(api, http.MethodDelete, "/polls/p3", "").StatusCode, ShouldEqual, http.StatusNoContent)

			events := map[EventType]*Event{}
			for i := 0; i < 3; i++ {
				evt := &Event{}
				So((<-pubs).Decode(evt), ShouldBeNil)
				events[evt.Type] = evt
			}

			Convey("Then I should get one event per change", func() {
				So(len(events), ShouldEqual, 3)
				So(events[EventCreate].Slug, ShouldEqual, "p3")
				So(events[EventCreate].Data.(map[string]any)["question"], ShouldEqual, "?")
				So(events[EventUpdate].Data.(map[string]any)["votes"], ShouldEqual, float64(1))
				So(events[EventDelete].Resource, ShouldEqual, "polls")
				So(events[EventDelete].Data, ShouldBeNil)
			})
		})

		Convey("When I read a poll", func() {

			do(api, http.MethodGet, "/polls/p1", "")

			Convey("Then nothing should be published", func() {
				So(len(pubs), ShouldEqual, 0)
			})
		})
	})

	Convey("Given I have an api publishing only deletions", t, func() {

		ps := NewLocalPubSubClient()
		So(ps.Connect(context.Background()), ShouldBeNil)
		defer ps.Disconnect() // nolint

		pubs := make(chan *Publication, 10)
		unsubscribe := ps.Subscribe(pubs, nil, "events")
		defer unsubscribe()
		waitForSubscription(ps.(*localPubSub), "events")

		handler := &deletionPublishHandler{}
		api, _ := newPollsAPI(OptPushPublisher(ps, "events"), OptPushPublishHandler(handler))

		Convey("When I create and delete a poll", func() {

			So(do(api, http.MethodPut, "/polls/p3", `{"question":"?"}`).StatusCode, ShouldEqual, http.StatusCreated)
			So(do(api, http.MethodDelete, "/polls/p3", "").StatusCode, ShouldEqual, http.StatusNoContent)

			evt := &Event{}
			So((<-pubs).Decode(evt), ShouldBeNil)
			time.Sleep(30 * time.Millisecond)

			Convey("Then only the deletion should be published", func() {
				So(evt.Type, ShouldEqual, EventDelete)
				So(len(pubs), ShouldEqual, 0)
				So(handler.seen, ShouldEqual, 2)
			})
		})
	})
}

type deletionPublishHandler struct {
	seen int
}

func (h *deletionPublishHandler) ShouldPublish(event *Event) (bool, error) {
	h.seen++
	return event.Type == EventDelete, nil
}
