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
	"crypto/tls"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofrs/uuid"
)

// A Request is the connector neutral representation of an http request.
type Request struct {
	ID         string
	Method     string
	Path       string
	Query      url.Values
	Header     http.Header
	Body       []byte
	RemoteAddr string
	Host       string

	// TLSConnectionState is nil when the request was not received over TLS.
	TLSConnectionState *tls.ConnectionState
}

// NewRequest returns a new *Request for the given method and target.
// The target can carry a query string.
func NewRequest(method string, target string, body []byte) *Request {

	path, rawQuery, _ := strings.Cut(target, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		query = url.Values{}
	}

	return &Request{
		ID:     uuid.Must(uuid.NewV4()).String(),
		Method: method,
		Path:   path,
		Query:  query,
		Header: http.Header{},
		Body:   body,
	}
}

// effectiveMethod returns the method of the request, overridden by
// the X-HTTP-Method-Override header when it is present.
func (r *Request) effectiveMethod() string {

	if override := strings.TrimSpace(r.Header.Get("X-HTTP-Method-Override")); override != "" {
		return strings.ToUpper(override)
	}

	return strings.ToUpper(r.Method)
}

// A Response is the connector neutral representation of an http response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func newResponse() *Response {

	return &Response{
		Header: http.Header{},
	}
}

// Write writes the response to the given http.ResponseWriter.
func (r *Response) Write(w http.ResponseWriter) {

	for k, v := range r.Header {
		w.Header()[k] = v
	}

	if r.Body != nil && w.Header().Get("Content-Length") == "" {
		w.Header().Set("Content-Length", strconv.Itoa(len(r.Body)))
	}

	w.WriteHeader(r.StatusCode)

	if len(r.Body) > 0 {
		_, _ = w.Write(r.Body)
	}
}
