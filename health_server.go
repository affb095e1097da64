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
	"os"

	"github.com/go-zoo/bone"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// NewProcessHealthCheck returns a HealthServerFunc reporting the current
// process as unhealthy when its cpu usage goes over maxCPUPercent or its
// resident memory over maxRSS bytes. A zero value disables the check.
func NewProcessHealthCheck(maxCPUPercent float64, maxRSS uint64) HealthServerFunc {

	return func() error {

		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return fmt.Errorf("unable to inspect process: %w", err)
		}

		if maxCPUPercent > 0 {
			cpu, err := p.CPUPercent()
			if err != nil {
				return fmt.Errorf("unable to retrieve cpu usage: %w", err)
			}
			if cpu > maxCPUPercent {
				return fmt.Errorf("cpu usage too high: %.2f%%", cpu)
			}
		}

		if maxRSS > 0 {
			mem, err := p.MemoryInfo()
			if err != nil {
				return fmt.Errorf("unable to retrieve memory usage: %w", err)
			}
			if mem.RSS > maxRSS {
				return fmt.Errorf("memory usage too high: %d bytes", mem.RSS)
			}
		}

		return nil
	}
}

// an healthServer is the structure serving the health check endpoint.
type healthServer struct {
	cfg    config
	server *http.Server
}

// newHealthServer returns a new healthServer.
func newHealthServer(cfg config) *healthServer {

	return &healthServer{
		cfg: cfg,
	}
}

func (s *healthServer) handler() http.Handler {

	mux := bone.New()
	mux.GetFunc("/", s.serveHealth)

	if mm := s.cfg.healthServer.metricsManager; mm != nil {
		mux.GetFunc("/metrics", mm.Write)
	}

	return mux
}

func (s *healthServer) serveHealth(w http.ResponseWriter, r *http.Request) {

	if s.cfg.healthServer.healthHandler == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.cfg.healthServer.healthHandler(); err != nil {
		zap.L().Error("Health check failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// start starts the healthServer.
func (s *healthServer) start(ctx context.Context) {

	s.server = &http.Server{
		Addr:         s.cfg.healthServer.listenAddress,
		Handler:      s.handler(),
		ReadTimeout:  s.cfg.healthServer.readTimeout,
		WriteTimeout: s.cfg.healthServer.writeTimeout,
		IdleTimeout:  s.cfg.healthServer.idleTimeout,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("Unable to start health server", zap.Error(err))
		}
	}()

	zap.L().Info("Health server started", zap.String("address", s.cfg.healthServer.listenAddress))

	<-ctx.Done()
}

// stop stops the healthServer.
func (s *healthServer) stop() context.Context {
	return shutdownHTTPServer(s.server, s.cfg.restServer.shutdownTimeout, "health")
}
