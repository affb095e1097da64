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

// An Option represents a configuration option.
type Option func(*config)

// OptDisablePanicRecovery disables panic recovery.
func OptDisablePanicRecovery() Option {
	return func(c *config) {
		c.general.panicRecoveryDisabled = true
	}
}

// OptDebug makes unexpected errors return their message to the client.
func OptDebug() Option {
	return func(c *config) {
		c.general.debug = true
	}
}

// OptAPIName sets the name of the API. A sub API is mounted
// under its name when no other name is given.
func OptAPIName(name string) Option {
	return func(c *config) {
		c.api.name = name
	}
}

// OptPrefix sets the path prefix the API is served under.
func OptPrefix(prefix string) Option {
	return func(c *config) {
		c.api.prefix = "/" + trimSlashes(prefix)
		if c.api.prefix == "/" {
			c.api.prefix = ""
		}
	}
}

// OptTrailingSlash makes the URIs with a trailing slash canonical.
func OptTrailingSlash(enabled bool) Option {
	return func(c *config) {
		c.api.trailingSlash = enabled
	}
}

// OptCodecs sets the encoders and decoders of the API.
func OptCodecs(codecs *Codecs) Option {
	return func(c *config) {
		c.api.codecs = codecs
	}
}

// OptDefaultEncoder sets the encoder errors are returned with when
// negotiation fails.
func OptDefaultEncoder(name string) Option {
	return func(c *config) {
		c.api.defaultEncoder = name
	}
}

// OptDefaultPageSize sets the default number of items per page.
func OptDefaultPageSize(size int) Option {
	return func(c *config) {
		c.api.defaultPageSize = size
	}
}

// OptMaxPageSize sets the maximum number of items per page.
func OptMaxPageSize(size int) Option {
	return func(c *config) {
		c.api.maxPageSize = size
	}
}

// OptMaxBodySize sets the maximum size of request bodies read by
// the http connectors.
func OptMaxBodySize(size int64) Option {
	return func(c *config) {
		c.api.maxBodySize = size
	}
}

// OptSetupFunc sets a function called before every request. An
// error aborts the request.
func OptSetupFunc(f func(Context) error) Option {
	return func(c *config) {
		c.api.setupFunc = f
	}
}

// OptTeardownFunc sets a function called after every request.
func OptTeardownFunc(f func(Context)) Option {
	return func(c *config) {
		c.api.teardownFunc = f
	}
}

// OptRestServer configures the listening address of the server.
func OptRestServer(listen string) Option {
	return func(c *config) {
		c.restServer.listenAddress = listen
	}
}

// OptTimeouts configures the timeouts of the server.
func OptTimeouts(read, write, idle time.Duration) Option {
	return func(c *config) {
		c.restServer.readTimeout = read
		c.restServer.writeTimeout = write
		c.restServer.idleTimeout = idle
	}
}

// OptShutdownTimeout sets the time given to in flight requests when
// the server shuts down.
func OptShutdownTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.restServer.shutdownTimeout = timeout
	}
}

// OptDisableKeepAlive disables http keepalives.
func OptDisableKeepAlive() Option {
	return func(c *config) {
		c.restServer.disableKeepalive = true
	}
}

// OptDisableCompression disables gzip compression of responses.
func OptDisableCompression() Option {
	return func(c *config) {
		c.restServer.disableCompression = true
	}
}

// OptTCPFastListener makes the server listen with SO_REUSEPORT,
// TCP_DEFER_ACCEPT and TCP_FASTOPEN.
func OptTCPFastListener() Option {
	return func(c *config) {
		c.restServer.tcpFastListener = true
	}
}

// OptProxyProtocol makes the server expect the PROXY protocol header.
func OptProxyProtocol() Option {
	return func(c *config) {
		c.restServer.proxyProtocol = true
	}
}

// OptMaxConnection sets the maximum number of concurrent connections
// the server accepts. 0 means no limit.
func OptMaxConnection(n int) Option {
	return func(c *config) {
		c.restServer.maxConnections = n
	}
}

// OptCORSAccessControl configures CORS access control policy.
//
// By default, no CORS headers are injected by the server.
func OptCORSAccessControl(controller CORSPolicyController) Option {
	return func(c *config) {
		c.restServer.corsController = controller
	}
}

// OptDisableMetaRoutes disables the meta routing.
func OptDisableMetaRoutes() Option {
	return func(c *config) {
		c.restServer.disableMetaRoutes = true
	}
}

// OptPushServer enables and configures the push server.
//
// Service defines the pubsub server to use.
// Topic defines the notification topic to use.
func OptPushServer(service PubSubClient, topic string) Option {
	return func(c *config) {
		c.pushServer.enabled = true
		c.pushServer.service = service
		if topic != "" {
			c.pushServer.topic = topic
		}
	}
}

// OptPushPublisher makes the API publish change events on the given
// service without serving them.
func OptPushPublisher(service PubSubClient, topic string) Option {
	return func(c *config) {
		c.pushServer.service = service
		if topic != "" {
			c.pushServer.topic = topic
		}
	}
}

// OptPushPublishHandler sets the handler deciding which change events
// are published. All events are published without handler.
func OptPushPublishHandler(handler PushPublishHandler) Option {
	return func(c *config) {
		c.pushServer.publishHandler = handler
	}
}

// OptHealthServer enables and configures the health server.
//
// ListenAddress is the general listening address for the health server.
// HealthHandler is the type of the function to run to determine the health of the server.
func OptHealthServer(listen string, handler HealthServerFunc) Option {
	return func(c *config) {
		c.healthServer.enabled = true
		c.healthServer.listenAddress = listen
		c.healthServer.healthHandler = handler
	}
}

// OptHealthServerTimeouts configures the health server timeouts.
func OptHealthServerTimeouts(read, write, idle time.Duration) Option {
	return func(c *config) {
		c.healthServer.readTimeout = read
		c.healthServer.writeTimeout = write
		c.healthServer.idleTimeout = idle
	}
}

// OptHealthServerMetricsManager sets the MetricsManager that will be used to
// collect and expose metrics on the health server.
func OptHealthServerMetricsManager(manager MetricsManager) Option {
	return func(c *config) {
		c.healthServer.metricsManager = manager
	}
}

// OptProfilingLocal configure local pprof profiling.
func OptProfilingLocal(listen string) Option {
	return func(c *config) {
		c.profilingServer.enabled = true
		c.profilingServer.listenAddress = listen
	}
}

// OptTLS configures server TLS.
//
// ServerCertificates are the TLS certficates to use for the secure api server.
// ServerCertificatesRetrieverFunc is standard tls GetCertifcate function to use to
// retrieve the server certificates dynamically.
func OptTLS(certs []tls.Certificate, certRetriever func(*tls.ClientHelloInfo) (*tls.Certificate, error)) Option {
	return func(c *config) {
		c.tls.serverCertificates = certs
		c.tls.serverCertificatesRetrieverFunc = certRetriever
	}
}

// OptMTLS configures the tls client authentication mechanism.
func OptMTLS(caPool *x509.CertPool, authType tls.ClientAuthType) Option {
	return func(c *config) {
		c.tls.clientCAPool = caPool
		c.tls.authType = authType
	}
}

// OptAuthenticators configures the authenticators.
//
// They are executed in order from index 0 to index n. They will return an AuthAction to tell if
// the current request authenticator grants, denies or let the chain continue. If an error is returned, the
// chain fails immediately.
func OptAuthenticators(authenticators ...RequestAuthenticator) Option {
	return func(c *config) {
		c.security.requestAuthenticators = authenticators
	}
}

// OptAuthorizers configures the authorizers.
//
// They are executed in order from index 0 to index n. They will return an AuthAction to tell if
// the current authorizer grants, denies or let the chain continue. If an error is returned, the
// chain fails immediately.
func OptAuthorizers(authorizers ...Authorizer) Option {
	return func(c *config) {
		c.security.authorizers = authorizers
	}
}

// OptAuditer configures the auditor to use to audit the requests.
func OptAuditer(auditer Auditer) Option {
	return func(c *config) {
		c.security.auditer = auditer
	}
}

// OptRateLimiting configures the rate limiting.
func OptRateLimiting(limiter RateLimiter) Option {
	return func(c *config) {
		c.rateLimiting.rateLimiter = limiter
	}
}

// OptServiceInfo configures the service basic information.
//
// ServiceName contains the name of the service.
// ServiceVersion contains the version of the service itself.
// Version should contain information relative to the service version.
// like all it's libraries and things like that.
func OptServiceInfo(name string, version string, subversions map[string]any) Option {
	return func(c *config) {
		c.meta.serviceName = name
		c.meta.serviceVersion = version
		c.meta.version = subversions
	}
}
