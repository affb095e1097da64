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
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	proxyproto "github.com/armon/go-proxyproto"
	"github.com/go-zoo/bone"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/valyala/tcplisten"
	"go.uber.org/zap"
)

// A Server serves an API over http, along with the meta routes,
// the push events websocket and the optional health and profiling servers.
type Server struct {
	cfg             config
	api             *API
	multiplexer     *bone.Mux
	server          *http.Server
	pushServer      *pushServer
	healthServer    *healthServer
	profilingServer *profilingServer
	listener        net.Listener
	listenerLock    sync.Mutex
	ready           chan struct{}
}

// NewServer returns a new Server serving the given API.
func NewServer(api *API, options ...Option) *Server {

	cfg := newConfig(options...)

	s := &Server{
		cfg:         cfg,
		api:         api,
		multiplexer: bone.New(),
		ready:       make(chan struct{}),
	}

	if cfg.pushServer.enabled {

		service, topic := cfg.pushServer.service, cfg.pushServer.topic
		if service == nil {
			service, topic = api.publisher()
		}

		if service != nil {
			s.pushServer = newPushServer(service, topic, cfg.healthServer.metricsManager)
		} else {
			zap.L().Warn("Push server enabled without any pubsub client. Push server disabled")
		}
	}

	if cfg.healthServer.enabled {
		s.healthServer = newHealthServer(cfg)
	}

	if cfg.profilingServer.enabled {
		s.profilingServer = newProfilingServer(cfg)
	}

	s.installRoutes()

	return s
}

// Handler returns the http.Handler of the server.
func (s *Server) Handler() http.Handler {
	return s.multiplexer
}

// Addr returns the address the server listens on, once it is started.
func (s *Server) Addr() net.Addr {

	s.listenerLock.Lock()
	defer s.listenerLock.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Ready returns a channel closed when the server is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// installRoutes installs the meta routes, the push route and the api.
func (s *Server) installRoutes() {

	if !s.cfg.restServer.disableMetaRoutes {

		s.multiplexer.GetFunc("/_meta/routes", s.withCORS(s.handleMetaRoutes))

		if s.cfg.meta.serviceName != "" {
			s.multiplexer.GetFunc("/_meta/name", s.withCORS(s.handleMetaName))
		}

		if s.cfg.meta.version != nil || s.cfg.meta.serviceVersion != "" {
			s.multiplexer.GetFunc("/_meta/version", s.withCORS(s.handleMetaVersion))
		}
	}

	if s.pushServer != nil {
		s.multiplexer.Handle("/_events", s.pushServer)
	}

	var handler http.Handler = http.HandlerFunc(s.handleAPI)
	if !s.cfg.restServer.disableCompression {
		handler = gziphandler.GzipHandler(handler)
	}

	s.multiplexer.NotFound(handler)
}

// handleAPI serves the request with the API.
func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {

	if s.handleCORS(w, r) {
		return
	}

	if rl := s.cfg.rateLimiting.rateLimiter; rl != nil {

		limited, err := rl.RateLimit(r)
		if err != nil {
			zap.L().Debug("Unable to apply rate limit", zap.Error(err))
		}

		if limited {
			s.writeError(w, r, ErrRateLimit)
			return
		}
	}

	code := http.StatusOK
	if mm := s.cfg.healthServer.metricsManager; mm != nil {
		finish := mm.MeasureRequest(r.Method, r.URL.Path)
		defer func() {
			finish(code, opentracing.SpanFromContext(r.Context()))
		}()
	}

	req, err := s.api.readRequest(w, r)
	if err != nil {
		code = s.writeError(w, r, err)
		return
	}

	response := s.api.Handle(r.Context(), req)
	code = response.StatusCode
	response.Write(w)
}

// writeError writes the given error using the API encoders.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) int {

	req := &Request{
		ID:     r.Header.Get("X-Request-Id"),
		Method: r.Method,
		Path:   r.URL.EscapedPath(),
		Query:  r.URL.Query(),
		Header: r.Header,
	}

	response := s.api.makeErrorResponse(&exchange{ctx: newContext(r.Context(), req)}, err)
	response.Write(w)

	return response.StatusCode
}

// Run starts the server and blocks until the given context is done.
// It then gracefully stops it.
func (s *Server) Run(ctx context.Context) error {

	clients := s.pubSubClients()
	for _, c := range clients {
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("unable to connect pubsub client: %w", err)
		}
	}

	defer func() {
		for _, c := range clients {
			if err := c.Disconnect(); err != nil {
				zap.L().Error("Unable to disconnect pubsub client", zap.Error(err))
			}
		}
	}()

	listener, err := s.makeListener()
	if err != nil {
		return err
	}

	s.listenerLock.Lock()
	s.listener = listener
	s.listenerLock.Unlock()

	s.server = s.makeHTTPServer()

	var wg sync.WaitGroup
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, start := range s.subServers() {
		wg.Add(1)
		go func(start func(context.Context)) {
			defer wg.Done()
			start(subCtx)
		}(start)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	zap.L().Info("API server started", zap.String("address", listener.Addr().String()))
	close(s.ready)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		cancel()
		wg.Wait()
		return fmt.Errorf("unable to serve api: %w", err)
	}

	<-shutdownHTTPServer(s.server, s.cfg.restServer.shutdownTimeout, "api").Done()

	cancel()
	wg.Wait()

	for _, stop := range s.subServersStoppers() {
		<-stop().Done()
	}

	zap.L().Info("API server stopped")

	return nil
}

func (s *Server) subServers() []func(context.Context) {

	var out []func(context.Context)

	if s.pushServer != nil {
		out = append(out, s.pushServer.start)
	}

	if s.healthServer != nil {
		out = append(out, s.healthServer.start)
	}

	if s.profilingServer != nil {
		out = append(out, s.profilingServer.start)
	}

	return out
}

func (s *Server) subServersStoppers() []func() context.Context {

	var out []func() context.Context

	if s.healthServer != nil {
		out = append(out, s.healthServer.stop)
	}

	if s.profilingServer != nil {
		out = append(out, s.profilingServer.stop)
	}

	return out
}

// pubSubClients returns the distinct pubsub clients used by the
// server and the api.
func (s *Server) pubSubClients() []PubSubClient {

	var out []PubSubClient

	add := func(c PubSubClient) {
		if c == nil {
			return
		}
		for _, existing := range out {
			if existing == c {
				return
			}
		}
		out = append(out, c)
	}

	add(s.cfg.pushServer.service)
	if c, _ := s.api.publisher(); c != nil {
		add(c)
	}

	return out
}

// makeListener creates the listener according to the configuration.
func (s *Server) makeListener() (net.Listener, error) {

	var listener net.Listener
	var err error

	if s.cfg.restServer.tcpFastListener {
		listener, err = (&tcplisten.Config{
			ReusePort:   true,
			DeferAccept: true,
			FastOpen:    true,
		}).NewListener("tcp4", s.cfg.restServer.listenAddress)
	} else {
		listener, err = net.Listen("tcp", s.cfg.restServer.listenAddress)
	}

	if err != nil {
		return nil, fmt.Errorf("unable to listen on %s: %w", s.cfg.restServer.listenAddress, err)
	}

	if s.cfg.restServer.maxConnections > 0 {
		listener = newListener(listener, s.cfg.restServer.maxConnections)
	}

	if s.cfg.restServer.proxyProtocol {
		listener = &proxyproto.Listener{Listener: listener}
	}

	if tlsConfig := s.makeTLSConfig(); tlsConfig != nil {
		listener = tls.NewListener(listener, tlsConfig)
	}

	return listener, nil
}

// makeTLSConfig returns the TLS configuration or nil if TLS is not configured.
func (s *Server) makeTLSConfig() *tls.Config {

	if s.cfg.tls.serverCertificates == nil && s.cfg.tls.serverCertificatesRetrieverFunc == nil {
		return nil
	}

	tlsConfig := &tls.Config{
		ClientAuth: s.cfg.tls.authType,
		ClientCAs:  s.cfg.tls.clientCAPool,
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"h2", "http/1.1"},
	}

	if s.cfg.tls.serverCertificatesRetrieverFunc != nil {
		tlsConfig.GetCertificate = s.cfg.tls.serverCertificatesRetrieverFunc
	} else {
		tlsConfig.Certificates = s.cfg.tls.serverCertificates
	}

	return tlsConfig
}

func (s *Server) makeHTTPServer() *http.Server {

	server := &http.Server{
		Handler:      s.multiplexer,
		ReadTimeout:  s.cfg.restServer.readTimeout,
		WriteTimeout: s.cfg.restServer.writeTimeout,
		IdleTimeout:  s.cfg.restServer.idleTimeout,
	}

	if l, err := zap.NewStdLogAt(zap.L(), zap.DebugLevel); err == nil {
		server.ErrorLog = l
	}

	server.SetKeepAlivesEnabled(!s.cfg.restServer.disableKeepalive)

	return server
}

// shutdownHTTPServer gracefully stops the given server. The returned
// context is done when the server is stopped.
func shutdownHTTPServer(server *http.Server, timeout time.Duration, name string) context.Context {

	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	if server == nil {
		cancel()
		return ctx
	}

	go func() {
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			zap.L().Error("Could not gracefully stop server", zap.String("server", name), zap.Error(err))
		} else {
			zap.L().Debug("Server stopped", zap.String("server", name))
		}
	}()

	return ctx
}
