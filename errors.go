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
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/log"
	"go.aporeto.io/armet/store"
	"go.aporeto.io/elemental"
	"go.uber.org/zap"
)

const errorSubject = "armet"

// Various common errors
var (
	ErrNotFound     = elemental.NewError("Not Found", "Unable to find the requested resource", errorSubject, http.StatusNotFound)
	ErrRateLimit    = elemental.NewError("Rate Limit", "You have exceeded your rate limit", errorSubject, http.StatusTooManyRequests)
	ErrUnauthorized = elemental.NewError("Unauthorized", "You are not authenticated", errorSubject, http.StatusUnauthorized)
	ErrForbidden    = elemental.NewError("Forbidden", "You are not allowed to access this resource", errorSubject, http.StatusForbidden)
)

// NewError returns a new elemental.Error with the armet subject.
func NewError(title string, description string, code int) elemental.Error {
	return elemental.NewError(title, description, errorSubject, code)
}

// httpError is an error carrying response headers, like Allow
// for a 405 or Location for a redirect.
type httpError struct {
	err    elemental.Error
	header http.Header
}

func newHTTPError(err elemental.Error, key string, values ...string) httpError {

	h := http.Header{}
	for _, v := range values {
		h.Add(key, v)
	}

	return httpError{err: err, header: h}
}

func (e httpError) Error() string {
	return e.err.Error()
}

func (e httpError) Unwrap() error {
	return e.err
}

func handleRecoveredPanic(ctx context.Context, r any, disablePanicRecovery bool) error {

	if r == nil {
		return nil
	}

	err := elemental.NewError("Internal Server Error", fmt.Sprintf("%v", r), errorSubject, http.StatusInternalServerError)

	st := string(debug.Stack())
	zap.L().Error("panic", zap.String("stacktrace", st))

	// Print the panic as it would have happened
	fmt.Fprintf(os.Stderr, "panic: %s\n\n%s", err, st) // nolint: errcheck

	sp := opentracing.SpanFromContext(ctx)
	if sp != nil {
		sp.SetTag("error", true)
		sp.SetTag("panic", true)
		sp.LogFields(
			log.String("panic", fmt.Sprintf("%v", r)),
			log.String("stack", st),
		)
	}

	if disablePanicRecovery {
		if sp != nil {
			sp.Finish()
		}
		panic(err)
	}

	return err
}

func extractSpanID(span opentracing.Span) string {

	spanID := "unknown"
	if stringer, ok := span.(fmt.Stringer); ok {
		spanID = strings.SplitN(stringer.String(), ":", 2)[0]
	}

	return spanID
}

// translateError converts the given error into an elemental error
// and extracts the headers it may carry.
func translateError(err error, debugMode bool) (error, http.Header) {

	var header http.Header

	var herr httpError
	if errors.As(err, &herr) {
		header = herr.header
		err = herr.err
	}

	var eerr elemental.Error
	var eerrs elemental.Errors

	switch {

	case errors.As(err, &eerr):
		return eerr, header

	case errors.As(err, &eerrs):
		return eerrs, header

	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound, header

	case errors.Is(err, store.ErrConflict):
		return NewError("Conflict", err.Error(), http.StatusConflict), header

	case errors.Is(err, store.ErrInvalidQuery):
		return NewError("Bad Request", err.Error(), http.StatusBadRequest), header

	case errors.Is(err, context.DeadlineExceeded):
		return NewError("Request Timeout", "The request has timed out", http.StatusRequestTimeout), header

	case errors.Is(err, context.Canceled):
		return NewError("Client Closed Request", "The client closed the connection", 499), header
	}

	description := "An unexpected error occurred"
	if debugMode {
		description = err.Error()
	}

	return NewError("Internal Server Error", description, http.StatusInternalServerError), header
}

func processError(ctx context.Context, err error, debugMode bool) (outError elemental.Errors, header http.Header) {

	span := opentracing.SpanFromContext(ctx)

	translated, header := translateError(err, debugMode)
	outError = elemental.NewErrors(translated).Trace(extractSpanID(span))

	if outError.Code() >= http.StatusInternalServerError {
		zap.L().Error("Internal server error", zap.Error(err))
	} else {
		zap.L().Debug("Request error", zap.Error(err))
	}

	if span != nil {
		span.SetTag("error", true)
		span.SetTag("status.code", outError.Code())
		span.LogFields(log.Object("elemental.error", outError))
	}

	return outError, header
}
