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
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

var metaEncoders = []string{"json", "msgpack"}

// handleCORS injects the CORS headers. It returns true if the request
// was a preflight request and has been answered.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) bool {

	controller := s.cfg.restServer.corsController
	if controller == nil {
		return false
	}

	policy := controller.PolicyForRequest(r)
	if policy == nil {
		return false
	}

	origin := r.Header.Get("Origin")
	preflight := r.Method == http.MethodOptions && origin != "" && r.Header.Get("Access-Control-Request-Method") != ""

	policy.Inject(w.Header(), origin, preflight)

	if preflight {
		w.WriteHeader(http.StatusNoContent)
		return true
	}

	return false
}

func (s *Server) withCORS(h http.HandlerFunc) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {

		if s.handleCORS(w, r) {
			return
		}

		h(w, r)
	}
}

// writeMeta encodes the given data with the encoder the client accepts.
func (s *Server) writeMeta(w http.ResponseWriter, r *http.Request, data any) {

	encoder, err := s.api.codecs.FindEncoder(r.Header.Get("Accept"), metaEncoders, "json")
	if err != nil {
		encoder = JSONEncoder{}
	}

	out, err := encoder.Encode(data)
	if err != nil {
		zap.L().Error("Unable to encode meta information", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", encoder.MimeTypes()[0])
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(out); err != nil {
		zap.L().Debug("Unable to send http response to client", zap.Error(err))
	}
}

func (s *Server) handleMetaRoutes(w http.ResponseWriter, r *http.Request) {
	s.writeMeta(w, r, s.api.Routes())
}

func (s *Server) handleMetaName(w http.ResponseWriter, r *http.Request) {

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.cfg.meta.serviceName))
}

func (s *Server) handleMetaVersion(w http.ResponseWriter, r *http.Request) {

	version := map[string]any{}
	for k, v := range s.cfg.meta.version {
		version[k] = v
	}

	if s.cfg.meta.serviceName != "" {
		version["name"] = s.cfg.meta.serviceName
	}

	if s.cfg.meta.serviceVersion != "" {
		version["version"] = s.cfg.meta.serviceVersion
	}

	s.writeMeta(w, r, version)
}
