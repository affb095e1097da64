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
	"fmt"
	"net/http"
	"net/url"
	"strings"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/opentracing/opentracing-go/log"
)

var snipSlice = []string{"[snip]"}

func tracingName(r *Request) string {

	method := strings.ToLower(r.effectiveMethod())
	if method == "" {
		method = "get"
	}

	return fmt.Sprintf("armet.handle.%s", method)
}

// traceRequest starts tracing the request.
func traceRequest(ctx context.Context, r *Request, tracer opentracing.Tracer) context.Context {

	if tracer == nil {
		return ctx
	}

	spanContext, _ := tracer.Extract(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(r.Header))
	span := tracer.StartSpan(tracingName(r), ext.RPCServerOption(spanContext))
	trackingCtx := opentracing.ContextWithSpan(ctx, span)

	// Remove sensitive information from parameters.
	safeParameters := url.Values{}
	for k, v := range r.Query {
		lk := strings.ToLower(k)
		if lk == "token" || lk == "password" {
			safeParameters[k] = snipSlice
			continue
		}
		safeParameters[k] = v
	}

	// Remove sensitive information from headers.
	safeHeaders := http.Header{}
	for k, v := range r.Header {
		lk := strings.ToLower(k)
		if lk == "authorization" || lk == "cookie" {
			safeHeaders[k] = snipSlice
			continue
		}
		safeHeaders[k] = v
	}

	span.SetTag("req.id", r.ID)
	span.SetTag("req.method", r.effectiveMethod())
	span.SetTag("req.path", r.Path)

	ext.HTTPMethod.Set(span, r.Method)
	ext.HTTPUrl.Set(span, r.Path)

	span.LogFields(
		log.Object("req.headers", safeHeaders),
		log.Object("req.client_ip", r.RemoteAddr),
		log.Object("req.parameters", safeParameters),
		log.Int("req.payload_size", len(r.Body)),
	)

	return trackingCtx
}

func finishTracing(ctx context.Context) {

	span := opentracing.SpanFromContext(ctx)
	if span == nil {
		return
	}

	span.Finish()
}
