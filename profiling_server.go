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
	"net/http"
	"net/http/pprof"

	"github.com/go-zoo/bone"
	"go.uber.org/zap"
)

// an profilingServer is the structure serving the profiling.
type profilingServer struct {
	cfg    config
	server *http.Server
}

// newProfilingServer returns a new profilingServer.
func newProfilingServer(cfg config) *profilingServer {

	return &profilingServer{
		cfg: cfg,
	}
}

// start starts the profilingServer.
func (s *profilingServer) start(ctx context.Context) {

	mux := bone.New()
	mux.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
	mux.Handle("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
	mux.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
	mux.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
	mux.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))
	mux.Handle("/debug/pprof/:profile", http.HandlerFunc(pprof.Index))

	s.server = &http.Server{
		Addr:    s.cfg.profilingServer.listenAddress,
		Handler: mux,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("Unable to start profiling http server", zap.Error(err))
		}
	}()

	zap.L().Info("Profiling server started", zap.String("address", s.cfg.profilingServer.listenAddress))

	<-ctx.Done()
}

// stop stops the profilingServer.
func (s *profilingServer) stop() context.Context {
	return shutdownHTTPServer(s.server, s.cfg.restServer.shutdownTimeout, "profiling")
}
