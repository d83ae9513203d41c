/*
Copyright (c) Seekmesh Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package stats

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter serves the node's Counters on a "/metrics" endpoint: a
// dedicated registry and gauges refreshed from Counters.Snapshot on every
// scrape, rather than the push-based model used elsewhere in the node.
type PrometheusExporter struct {
	registry   *prometheus.Registry
	counters   *Counters
	listenPort int
	srv        *http.Server

	messagesSent     prometheus.Gauge
	messagesReceived prometheus.Gauge
	queriesReceived  prometheus.Gauge
	queriesForwarded prometheus.Gauge
	queriesAnswered  prometheus.Gauge
	latencyMean      prometheus.Gauge
	latencyStddev    prometheus.Gauge
}

// NewPrometheusExporter builds an exporter that will scrape counters into
// gauges on every HTTP request to /metrics.
func NewPrometheusExporter(counters *Counters, listenPort int) *PrometheusExporter {
	reg := prometheus.NewRegistry()
	e := &PrometheusExporter{
		registry:   reg,
		counters:   counters,
		listenPort: listenPort,

		messagesSent:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "seekmesh_messages_sent_total", Help: "frames sent"}),
		messagesReceived: prometheus.NewGauge(prometheus.GaugeOpts{Name: "seekmesh_messages_received_total", Help: "frames received"}),
		queriesReceived:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "seekmesh_queries_received_total", Help: "SER frames received"}),
		queriesForwarded: prometheus.NewGauge(prometheus.GaugeOpts{Name: "seekmesh_queries_forwarded_total", Help: "SER frames forwarded to neighbors"}),
		queriesAnswered:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "seekmesh_queries_answered_total", Help: "SEROK frames sent"}),
		latencyMean:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "seekmesh_result_latency_mean_ms", Help: "running mean of result latency"}),
		latencyStddev:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "seekmesh_result_latency_stddev_ms", Help: "running stddev of result latency"}),
	}
	reg.MustRegister(
		e.messagesSent, e.messagesReceived,
		e.queriesReceived, e.queriesForwarded, e.queriesAnswered,
		e.latencyMean, e.latencyStddev,
	)
	return e
}

func (e *PrometheusExporter) refresh() {
	snap := e.counters.Snapshot()
	e.messagesSent.Set(float64(snap.MessagesSent))
	e.messagesReceived.Set(float64(snap.MessagesReceived))
	e.queriesReceived.Set(float64(snap.QueriesReceived))
	e.queriesForwarded.Set(float64(snap.QueriesForwarded))
	e.queriesAnswered.Set(float64(snap.QueriesAnswered))
	e.latencyMean.Set(snap.LatencyMeanMS)
	e.latencyStddev.Set(snap.LatencyStddevMS)
}

// Start launches the metrics HTTP server in the background. It returns
// immediately; call Stop to shut it down.
func (e *PrometheusExporter) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.refresh()
		promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	}))
	e.srv = &http.Server{Addr: fmt.Sprintf(":%d", e.listenPort), Handler: mux}

	go func() {
		if err := e.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("stats: metrics server stopped: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (e *PrometheusExporter) Stop(ctx context.Context) error {
	if e.srv == nil {
		return nil
	}
	return e.srv.Shutdown(ctx)
}
