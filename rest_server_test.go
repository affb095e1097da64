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
	"compress/gzip"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.aporeto.io/armet/store"
)

func serve(s *Server, method string, target string, headers ...string) *httptest.ResponseRecorder {

	r := httptest.NewRequest(method, target, nil)
	r.RemoteAddr = "192.0.2.1:1234"

	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)

	return w
}

func TestServer_MetaRoutes(t *testing.T) {

	Convey("Given I have a server with service information", t, func() {

		api, _ := newPollsAPI()
		s := NewServer(api, OptServiceInfo("polls-service", "1.0.0", map[string]any{"elemental": "1.100.0"}))

		Convey("When I get the routes", func() {

			w := serve(s, http.MethodGet, "/_meta/routes")

			Convey("Then I should get the routes of the api", func() {

				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldEqual, "application/json")

				var routes []RouteInfo
				So(json.Unmarshal(w.Body.Bytes(), &routes), ShouldBeNil)
				So(len(routes), ShouldEqual, 4)
				So(routes[0].URL, ShouldEqual, "/choices")
				So(routes[3].URL, ShouldEqual, "/polls/:id")
			})
		})

		Convey("When I get the name", func() {

			w := serve(s, http.MethodGet, "/_meta/name")

			Convey("Then I should get the service name", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldEqual, "polls-service")
			})
		})

		Convey("When I get the version", func() {

			w := serve(s, http.MethodGet, "/_meta/version")

			Convey("Then I should get the versions", func() {

				So(w.Code, ShouldEqual, http.StatusOK)

				var version map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &version), ShouldBeNil)
				So(version, ShouldResemble, map[string]any{
					"name":      "polls-service",
					"version":   "1.0.0",
					"elemental": "1.100.0",
				})
			})
		})
	})

	Convey("Given I have a server without meta routes", t, func() {

		api, _ := newPollsAPI()
		s := NewServer(api, OptDisableMetaRoutes())

		Convey("When I get the routes", func() {

			w := serve(s, http.MethodGet, "/_meta/routes")

			Convey("Then I should get a 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestServer_API(t *testing.T) {

	Convey("Given I have a server with many polls", t, func() {

		api, mem := newPollsAPI()
		for i := 0; i < 30; i++ {
			_, err := mem.Create(context.Background(), "polls", store.Record{
				"id":       fmt.Sprintf("many-%d", i),
				"question": strings.Repeat("q", 100),
			})
			So(err, ShouldBeNil)
		}

		mm := &testMetricsManager{}
		s := NewServer(api, OptHealthServerMetricsManager(mm))

		Convey("When I get the list accepting gzip", func() {

			w := serve(s, http.MethodGet, "/polls", "Accept-Encoding", "gzip")

			Convey("Then the response should be compressed", func() {

				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Encoding"), ShouldEqual, "gzip")

				r, err := gzip.NewReader(w.Body)
				So(err, ShouldBeNil)
				data, err := io.ReadAll(r)
				So(err, ShouldBeNil)

				var out []any
				So(json.Unmarshal(data, &out), ShouldBeNil)
				So(len(out), ShouldEqual, 32)
			})

			Convey("Then the request should be measured", func() {
				So(mm.measured, ShouldResemble, []int{http.StatusOK})
			})
		})

		Convey("When I get a missing item", func() {

			w := serve(s, http.MethodGet, "/polls/nope")

			Convey("Then the error code should be measured", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(mm.measured, ShouldResemble, []int{http.StatusNotFound})
			})
		})
	})

	Convey("Given I have a server without compression", t, func() {

		api, _ := newPollsAPI()
		s := NewServer(api, OptDisableCompression())

		Convey("When I get the list accepting gzip", func() {

			w := serve(s, http.MethodGet, "/polls", "Accept-Encoding", "gzip")

			Convey("Then the response should not be compressed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Encoding"), ShouldBeEmpty)
			})
		})
	})
}

func TestServer_CORS(t *testing.T) {

	Convey("Given I have a server with a CORS policy", t, func() {

		api, _ := newPollsAPI()
		s := NewServer(api, OptCORSAccessControl(NewDefaultCORSController("https://polls.example.com", nil)))

		Convey("When I send a preflight request", func() {

			w := serve(s, http.MethodOptions, "/polls",
				"Origin", "https://polls.example.com",
				"Access-Control-Request-Method", "POST",
			)

			Convey("Then it should be answered with the policy", func() {
				So(w.Code, ShouldEqual, http.StatusNoContent)
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "https://polls.example.com")
				So(w.Header().Get("Access-Control-Allow-Methods"), ShouldEqual, "GET, HEAD, OPTIONS, POST, PUT, PATCH, DELETE")
				So(w.Header().Get("Access-Control-Max-Age"), ShouldEqual, "1500")
				So(w.Body.Len(), ShouldEqual, 0)
			})
		})

		Convey("When I send a regular request", func() {

			w := serve(s, http.MethodGet, "/polls", "Origin", "https://polls.example.com")

			Convey("Then the CORS headers should be injected", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "https://polls.example.com")
				So(w.Header().Get("Access-Control-Allow-Credentials"), ShouldEqual, "true")
				So(w.Header().Get("Access-Control-Allow-Methods"), ShouldBeEmpty)
			})
		})

		Convey("When I get a meta route", func() {

			w := serve(s, http.MethodGet, "/_meta/routes", "Origin", "https://polls.example.com")

			Convey("Then the CORS headers should be injected", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "https://polls.example.com")
			})
		})
	})
}

func TestServer_RateLimiting(t *testing.T) {

	Convey("Given I have a server with a rate limiter", t, func() {

		api, _ := newPollsAPI()
		mm := &testMetricsManager{}
		s := NewServer(api, OptRateLimiting(NewRateLimiter(0.001, 1)), OptHealthServerMetricsManager(mm))

		Convey("When I send two requests", func() {

			w1 := serve(s, http.MethodGet, "/polls")
			w2 := serve(s, http.MethodGet, "/polls")

			Convey("Then the second one should be rejected", func() {
				So(w1.Code, ShouldEqual, http.StatusOK)
				So(w2.Code, ShouldEqual, http.StatusTooManyRequests)
				So(w2.Header().Get("Content-Type"), ShouldEqual, "application/json")
				So(w2.Body.String(), ShouldContainSubstring, "You have exceeded your rate limit")
			})

			Convey("Then only the first one should be measured", func() {
				So(mm.measured, ShouldResemble, []int{http.StatusOK})
			})
		})
	})
}

func TestServer_pubSubClients(t *testing.T) {

	Convey("Given I have a pubsub client used by the api and the server", t, func() {

		ps := NewLocalPubSubClient()
		api, _ := newPollsAPI(OptPushPublisher(ps, ""))
		s := NewServer(api, OptPushServer(ps, ""))

		Convey("Then it should be returned once", func() {
			So(s.pubSubClients(), ShouldResemble, []PubSubClient{ps})
		})
	})

	Convey("Given I have different pubsub clients", t, func() {

		ps1 := NewLocalPubSubClient()
		ps2 := NewLocalPubSubClient()
		api, _ := newPollsAPI(OptPushPublisher(ps2, ""))
		s := NewServer(api, OptPushServer(ps1, ""))

		Convey("Then both should be returned", func() {
			So(len(s.pubSubClients()), ShouldEqual, 2)
		})
	})

	Convey("Given I have no pubsub client", t, func() {

		api, _ := newPollsAPI()
		s := NewServer(api, OptPushServer(nil, ""))

		Convey("Then the push server should be disabled", func() {
			So(s.pubSubClients(), ShouldBeEmpty)
			So(s.pushServer, ShouldBeNil)
		})
	})
}

func TestServer_makeTLSConfig(t *testing.T) {

	Convey("Given I have a server without certificates", t, func() {

		s := NewServer(NewAPI())

		Convey("Then there should be no TLS configuration", func() {
			So(s.makeTLSConfig(), ShouldBeNil)
		})
	})

	Convey("Given I have a server with certificates and mtls", t, func() {

		pool := x509.NewCertPool()
		certs := []tls.Certificate{{}}
		s := NewServer(NewAPI(), OptTLS(certs, nil), OptMTLS(pool, tls.RequireAndVerifyClientCert))

		Convey("Then the TLS configuration should be correct", func() {
			cfg := s.makeTLSConfig()
			So(cfg, ShouldNotBeNil)
			So(cfg.Certificates, ShouldResemble, certs)
			So(cfg.GetCertificate, ShouldBeNil)
			So(cfg.ClientCAs, ShouldEqual, pool)
			So(cfg.ClientAuth, ShouldEqual, tls.RequireAndVerifyClientCert)
			So(cfg.MinVersion, ShouldEqual, tls.VersionTLS12)
		})
	})

	Convey("Given I have a server with a certificate retriever", t, func() {

		s := NewServer(NewAPI(), OptTLS(nil, func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return nil, nil }))

		Convey("Then the retriever should be used", func() {
			cfg := s.makeTLSConfig()
			So(cfg.GetCertificate, ShouldNotBeNil)
			So(cfg.Certificates, ShouldBeNil)
		})
	})
}

func TestServer_Run(t *testing.T) {

	Convey("Given I have a server listening on a random port", t, func() {

		api, _ := newPollsAPI()
		s := NewServer(api,
			OptRestServer("127.0.0.1:0"),
			OptMaxConnection(10),
			OptPushServer(NewLocalPubSubClient(), ""),
			OptShutdownTimeout(2*time.Second),
		)

		So(s.Addr(), ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)

		go func() { errCh <- s.Run(ctx) }()

		select {
		case <-s.Ready():
		case err := <-errCh:
			panic(err)
		case <-time.After(5 * time.Second):
			panic("server did not start")
		}

		Convey("When I send a request", func() {

			resp, err := http.Get(fmt.Sprintf("http://%s/polls/p1", s.Addr()))

			Convey("Then it should be served", func() {
				So(err, ShouldBeNil)
				defer resp.Body.Close() // nolint
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When I cancel the context", func() {

			cancel()

			var err error
			select {
			case err = <-errCh:
			case <-time.After(5 * time.Second):
				panic("server did not stop")
			}

			Convey("Then it should stop gracefully", func() {
				So(err, ShouldBeNil)
			})
		})

		Reset(func() {
			cancel()
		})
	})

	Convey("Given I have a server with an invalid address", t, func() {

		s := NewServer(NewAPI(), OptRestServer("127.0.0.1:-1"))

		Convey("When I run it", func() {

			err := s.Run(context.Background())

			Convey("Then it should fail", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldStartWith, "unable to listen on 127.0.0.1:-1")
			})
		})
	})
}
