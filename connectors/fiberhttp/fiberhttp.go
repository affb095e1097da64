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

// Package fiberhttp serves armet APIs with the fiber web framework.
package fiberhttp

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofrs/uuid"
	"go.aporeto.io/armet"
	"go.uber.org/zap"
)

// Handler returns a fiber.Handler serving the given API.
// The request body size is bounded by the BodyLimit of the fiber app.
func Handler(api *armet.API) fiber.Handler {

	return func(c *fiber.Ctx) error {

		req := readRequest(c)
		resp := api.Handle(c.UserContext(), req)

		return writeResponse(c, resp)
	}
}

// Mount serves the given API on every path of the router, behind
// the OpenTelemetry middleware configured with the given options.
func Mount(router fiber.Router, api *armet.API, options ...otelfiber.Option) {

	router.Use(otelfiber.Middleware(options...))
	router.Use(Handler(api))
}

// readRequest copies the fiber request into an *armet.Request.
// Fiber reuses its buffers once the handler returns.
func readRequest(c *fiber.Ctx) *armet.Request {

	header := http.Header{}
	c.Request().Header.VisitAll(func(k []byte, v []byte) {
		header.Add(string(k), string(v))
	})

	query, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		zap.L().Debug("Unable to parse query string", zap.Error(err))
	}

	id := header.Get("X-Request-Id")
	if id == "" {
		id = uuid.Must(uuid.NewV4()).String()
	}

	req := &armet.Request{
		ID:         id,
		Method:     strings.Clone(c.Method()),
		Path:       strings.Clone(c.Path()),
		Query:      query,
		Header:     header,
		RemoteAddr: c.Context().RemoteAddr().String(),
		Host:       strings.Clone(c.Hostname()),

		TLSConnectionState: c.Context().TLSConnectionState(),
	}

	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}

	return req
}

// writeResponse writes the *armet.Response to fiber.
func writeResponse(c *fiber.Ctx, resp *armet.Response) error {

	c.Status(resp.StatusCode)

	for k, values := range resp.Header {
		if k == "Content-Length" {
			continue
		}
		for _, v := range values {
			c.Response().Header.Add(k, v)
		}
	}

	if len(resp.Body) == 0 {
		return nil
	}

	return c.Send(resp.Body)
}
