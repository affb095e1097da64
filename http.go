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
	"fmt"
	"io"
	"net/http"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// ErrRequestTooLarge is returned when the request body exceeds the configured maximum size.
var ErrRequestTooLarge = NewError("Request Entity Too Large", "The request body is too large", http.StatusRequestEntityTooLarge)

// ServeHTTP makes the API an http.Handler. This is the net/http connector.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	req, err := a.readRequest(w, r)
	if err != nil {
		a.makeErrorResponse(&exchange{ctx: newContext(r.Context(), req)}, err).Write(w)
		return
	}

	a.Handle(r.Context(), req).Write(w)
}

// readRequest translates the given *http.Request into a *Request.
// The returned request is never nil.
func (a *API) readRequest(w http.ResponseWriter, r *http.Request) (*Request, error) {

	id := r.Header.Get("X-Request-Id")
	if id == "" {
		id = uuid.Must(uuid.NewV4()).String()
	}

	req := &Request{
		ID:         id,
		Method:     r.Method,
		Path:       r.URL.EscapedPath(),
		Query:      r.URL.Query(),
		Header:     r.Header,
		RemoteAddr: r.RemoteAddr,
		Host:       r.Host,

		TLSConnectionState: r.TLS,
	}

	if r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}

	body := io.Reader(r.Body)
	if size := a.cfg.api.maxBodySize; size > 0 {
		body = http.MaxBytesReader(w, r.Body, size)
	}

	data, err := io.ReadAll(body)
	if err != nil {

		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return req, ErrRequestTooLarge
		}

		zap.L().Debug("Unable to read request body", zap.String("request", id), zap.Error(err))

		return req, NewError("Bad Request", fmt.Sprintf("Unable to read request body: %s", err), http.StatusBadRequest)
	}

	req.Body = data

	return req, nil
}
