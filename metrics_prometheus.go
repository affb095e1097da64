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
	"strings"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// sanitizeURL replaces the slugs of the given path so
// the url label keeps a bounded cardinality.
func sanitizeURL(url string) string {

	url, _, _ = strings.Cut(url, "?")

	parts := strings.Split(url, "/")
	for i := 2; i < len(parts); i += 2 {
		if parts[i] != "" {
			parts[i] = ":slug"
		}
	}

	return strings.Join(parts, "/")
}

type prometheusMetricsManager struct {
	reqDurationMetric   *prometheus.SummaryVec
	reqTotalMetric      *prometheus.CounterVec
	errorMetric         *prometheus.CounterVec
	wsConnTotalMetric   prometheus.Counter
	wsConnCurrentMetric prometheus.Gauge

	handler http.Handler
}

// NewPrometheusMetricsManager returns a new MetricManager using the prometheus format
// registered in the default prometheus registry.
func NewPrometheusMetricsManager() MetricsManager {
	return newPrometheusMetricsManager(prometheus.DefaultRegisterer, promhttp.Handler())
}

func newPrometheusMetricsManager(registerer prometheus.Registerer, handler http.Handler) *prometheusMetricsManager {

	mc := &prometheusMetricsManager{
		handler: handler,
		reqTotalMetric: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "The total number of requests.",
			},
			[]string{"method"},
		),
		reqDurationMetric: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name: "http_requests_duration_seconds",
				Help: "The average duration of the requests",
			},
			[]string{"code", "method", "url"},
		),
		wsConnTotalMetric: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "http_ws_connections_total",
				Help: "The total number of ws connection.",
			},
		),
		wsConnCurrentMetric: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_ws_connections_current",
				Help: "The current number of ws connection.",
			},
		),
		errorMetric: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_errors_5xx_total",
				Help: "The total number of 5xx errors.",
			},
			[]string{"trace", "method", "url"},
		),
	}

	registerer.MustRegister(
		mc.reqTotalMetric,
		mc.reqDurationMetric,
		mc.wsConnTotalMetric,
		mc.wsConnCurrentMetric,
		mc.errorMetric,
	)

	return mc
}

func (c *prometheusMetricsManager) MeasureRequest(method string, url string) FinishMeasurementFunc {

	c.reqTotalMetric.With(prometheus.Labels{
		"method": method,
	}).Inc()

	surl := sanitizeURL(url)
	timer := prometheus.NewTimer(nil)

	return func(code int, span any) {

		c.reqDurationMetric.With(
			prometheus.Labels{
				"code":   strconv.Itoa(code),
				"method": method,
				"url":    surl,
			},
		).Observe(timer.ObserveDuration().Seconds())

		if code >= http.StatusInternalServerError {

			var trace string
			if sp, ok := span.(opentracing.Span); ok {
				trace = extractSpanID(sp)
			}

			c.errorMetric.With(prometheus.Labels{
				"trace":  trace,
				"method": method,
				"url":    surl,
			}).Inc()
		}
	}
}

func (c *prometheusMetricsManager) RegisterWSConnection() {
	c.wsConnTotalMetric.Inc()
	c.wsConnCurrentMetric.Inc()
}

func (c *prometheusMetricsManager) UnregisterWSConnection() {
	c.wsConnCurrentMetric.Dec()
}

func (c *prometheusMetricsManager) Write(w http.ResponseWriter, r *http.Request) {
	c.handler.ServeHTTP(w, r)
}
