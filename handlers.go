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
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cespare/xxhash"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/log"
	"go.uber.org/zap"
)

// An exchange holds the state of a request being dispatched.
type exchange struct {
	ctx            *rcontext
	route          *route
	encoder        Encoder
	negotiationErr error
	output         any
	list           bool
	created        bool
}

type responseFunc func(*exchange) *Response

type errorResponseFunc func(*exchange, error) *Response

func (a *API) makeResponse(x *exchange) *Response {

	ctx := x.ctx
	response := newResponse()

	var fields []log.Field
	defer func() {
		span := opentracing.SpanFromContext(ctx.ctx)
		if span != nil {
			span.LogFields(fields...)
		}
	}()

	for k, v := range ctx.header {
		response.Header[k] = v
	}

	response.Header.Set("X-Request-Id", ctx.id)

	response.StatusCode = ctx.statusCode
	if response.StatusCode == 0 {
		switch {
		case x.created:
			response.StatusCode = http.StatusCreated
		case x.output == nil:
			response.StatusCode = http.StatusNoContent
		default:
			response.StatusCode = http.StatusOK
		}
	}

	if x.list {
		response.Header.Set("X-Count-Total", strconv.Itoa(ctx.count))
		ctx.page.compute(ctx.request.Path, copyValues(ctx.request.Query), ctx.count)
		response.Header.Set("Link", ctx.page.linkHeader())
		fields = append(fields, log.Int("count-total", ctx.count))
	}

	if msgs := ctx.Messages(); len(msgs) > 0 {
		response.Header["X-Messages"] = msgs
		fields = append(fields, log.Object("messages", msgs))
	}

	if x.output != nil {

		data, err := x.encoder.Encode(x.output)
		if err != nil {
			zap.L().Error("Unable to encode output data", zap.Error(err))
			return a.makeErrorResponse(x, err)
		}

		writeBody(response, x.encoder, data)
		fields = append(fields, log.Object("response", string(data)))

		if (ctx.method == http.MethodGet || ctx.method == http.MethodHead) && response.StatusCode == http.StatusOK {
			if etagMatches(ctx.request.Header.Get("If-None-Match"), response.Header.Get("ETag")) {
				response.StatusCode = http.StatusNotModified
				response.Body = nil
				response.Header.Del("Content-Type")
				response.Header.Del("Content-Length")
				response.Header.Del("Content-MD5")
			}
		}
	}

	if ctx.method == http.MethodHead {
		response.Body = nil
	}

	fields = append(fields, log.Int("status.code", response.StatusCode))

	return response
}

func (a *API) makeErrorResponse(x *exchange, err error) *Response {

	ctx := x.ctx
	response := newResponse()

	outError, header := processError(ctx.ctx, err, a.debugMode())

	for k, v := range header {
		response.Header[k] = v
	}

	response.Header.Set("X-Request-Id", ctx.id)
	response.StatusCode = outError.Code()

	encoder := x.encoder
	if encoder == nil {
		encoder = a.errorEncoder(ctx)
	}

	data, e := encoder.Encode(outError)
	if e != nil {
		encoder = JSONEncoder{}
		if data, e = encoder.Encode(outError); e != nil {
			zap.L().Panic("Unable to encode error", zap.Error(err))
		}
	}

	writeBody(response, encoder, data)

	if ctx.method == http.MethodHead {
		response.Body = nil
	}

	return response
}

func (a *API) makeRedirectResponse(ctx *rcontext, location string) *Response {

	response := newResponse()

	if len(ctx.request.Query) > 0 {
		location += "?" + ctx.request.Query.Encode()
	}

	response.Header.Set("Location", location)
	response.Header.Set("X-Request-Id", ctx.id)

	switch ctx.method {
	case http.MethodGet, http.MethodHead:
		response.StatusCode = http.StatusMovedPermanently
	default:
		response.StatusCode = http.StatusTemporaryRedirect
	}

	return response
}

func writeBody(response *Response, encoder Encoder, data []byte) {

	sum := md5.Sum(data)

	response.Body = data
	response.Header.Set("Content-Type", encoder.MimeTypes()[0])
	response.Header.Set("Content-Length", strconv.Itoa(len(data)))
	response.Header.Set("Content-MD5", hex.EncodeToString(sum[:]))
	response.Header.Set("ETag", `"`+strconv.FormatUint(xxhash.Sum64(data), 16)+`"`)
}

func etagMatches(ifNoneMatch string, etag string) bool {

	if ifNoneMatch == "" || etag == "" {
		return false
	}

	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}

	return false
}

func copyValues(values url.Values) url.Values {

	out := make(url.Values, len(values))
	for k, v := range values {
		out[k] = append([]string{}, v...)
	}

	return out
}

func handleEventualPanic(ctx context.Context, c chan error, disablePanicRecovery bool) {

	if err := handleRecoveredPanic(ctx, recover(), disablePanicRecovery); err != nil {
		c <- err
	}
}

func runDispatcher(x *exchange, d func() error, ok responseFunc, ko errorResponseFunc, disablePanicRecovery bool) *Response {

	e := make(chan error, 1)

	go func() {
		defer handleEventualPanic(x.ctx.ctx, e, disablePanicRecovery)
		e <- d()
	}()

	select {

	case <-x.ctx.ctx.Done():
		return ko(x, x.ctx.ctx.Err())

	case err := <-e:
		if err != nil {
			return ko(x, err)
		}

		return ok(x)
	}
}
