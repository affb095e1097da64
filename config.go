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
	"crypto/x509"
	"time"
)

// A config represents the configuration of an API and of its Server.
type config struct {
	general struct {
		panicRecoveryDisabled bool
		debug                 bool
	}

	api struct {
		name            string
		prefix          string
		trailingSlash   bool
		defaultEncoder  string
		defaultPageSize int
		maxPageSize     int
		maxBodySize     int64
		codecs          *Codecs
		setupFunc       func(Context) error
		teardownFunc    func(Context)
	}

	restServer struct {
		listenAddress      string
		readTimeout        time.Duration
		writeTimeout       time.Duration
		idleTimeout        time.Duration
		disableKeepalive   bool
		disableCompression bool
		tcpFastListener    bool
		proxyProtocol      bool
		maxConnections     int
		corsController     CORSPolicyController
		shutdownTimeout    time.Duration
		disableMetaRoutes  bool
	}

	pushServer struct {
		enabled        bool
		service        PubSubClient
		topic          string
		publishHandler PushPublishHandler
	}

	healthServer struct {
		enabled        bool
		listenAddress  string
		healthHandler  HealthServerFunc
		readTimeout    time.Duration
		writeTimeout   time.Duration
		idleTimeout    time.Duration
		metricsManager MetricsManager
	}

	profilingServer struct {
		enabled       bool
		listenAddress string
	}

	tls struct {
		clientCAPool                    *x509.CertPool
		serverCertificates              []tls.Certificate
		serverCertificatesRetrieverFunc func(*tls.ClientHelloInfo) (*tls.Certificate, error)
		authType                        tls.ClientAuthType
	}

	security struct {
		requestAuthenticators []RequestAuthenticator
		authorizers           []Authorizer
		auditer               Auditer
	}

	rateLimiting struct {
		rateLimiter RateLimiter
	}

	meta struct {
		serviceName    string
		serviceVersion string
		version        map[string]any
	}
}

func newConfig(options ...Option) config {

	c := config{}

	c.api.defaultEncoder = "json"
	c.api.defaultPageSize = DefaultPageSize
	c.api.maxPageSize = DefaultMaxPageSize
	c.api.maxBodySize = 10 << 20

	c.restServer.listenAddress = ":8080"
	c.restServer.readTimeout = 120 * time.Second
	c.restServer.writeTimeout = 240 * time.Second
	c.restServer.idleTimeout = 240 * time.Second
	c.restServer.shutdownTimeout = 30 * time.Second

	c.healthServer.readTimeout = 5 * time.Second
	c.healthServer.writeTimeout = 5 * time.Second
	c.healthServer.idleTimeout = 10 * time.Second

	c.pushServer.topic = "armet-events"

	for _, opt := range options {
		opt(&c)
	}

	if c.api.codecs == nil {
		c.api.codecs = DefaultCodecs()
	}

	return c
}
