// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics holds the Prometheus metrics of the acquisition
// pipeline.
package metrics // import "github.com/go-lpc/tp3/internal/metrics"

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	reg *prometheus.Registry

	// Session metrics
	ActiveSessions  prometheus.Gauge
	Sessions        *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Stream metrics
	BytesReceived  prometheus.Counter
	ProtocolErrors prometheus.Counter

	// Frame metrics
	Frames        prometheus.Counter
	FramesDropped prometheus.Counter
	FrameSize     prometheus.Histogram

	// Event metrics
	Blocks  prometheus.Counter
	Records *prometheus.CounterVec
	Edges   *prometheus.CounterVec
}

// New creates and registers all metrics on a new registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)

	m := &Metrics{
		reg: reg,

		ActiveSessions: fac.NewGauge(prometheus.GaugeOpts{
			Name: "tp3_active_sessions",
			Help: "Number of currently running acquisition sessions",
		}),
		Sessions: fac.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tp3_sessions_total",
				Help: "Total number of acquisition sessions started",
			},
			[]string{"kind"}, // kind: focus or spim
		),
		SessionDuration: fac.NewHistogram(prometheus.HistogramOpts{
			Name:    "tp3_session_duration_seconds",
			Help:    "Duration of acquisition sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		}),

		BytesReceived: fac.NewCounter(prometheus.CounterOpts{
			Name: "tp3_stream_bytes_received_total",
			Help: "Total bytes received from the detector data sinks",
		}),
		ProtocolErrors: fac.NewCounter(prometheus.CounterOpts{
			Name: "tp3_stream_protocol_errors_total",
			Help: "Total number of malformed frame headers dropped",
		}),

		Frames: fac.NewCounter(prometheus.CounterOpts{
			Name: "tp3_frames_received_total",
			Help: "Total number of jsonimage frames received",
		}),
		FramesDropped: fac.NewCounter(prometheus.CounterOpts{
			Name: "tp3_frames_dropped_total",
			Help: "Total number of frames dropped from a full frame queue",
		}),
		FrameSize: fac.NewHistogram(prometheus.HistogramOpts{
			Name:    "tp3_frame_size_bytes",
			Help:    "Size of frame payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~2MB
		}),

		Blocks: fac.NewCounter(prometheus.CounterOpts{
			Name: "tp3_event_blocks_total",
			Help: "Total number of hit blocks queued",
		}),
		Records: fac.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tp3_records_total",
				Help: "Total number of raw records received",
			},
			[]string{"type"}, // type: hit, tdc or other
		),
		Edges: fac.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tp3_tdc_edges_total",
				Help: "Total number of TDC edges received",
			},
			[]string{"edge"},
		),
	}

	return m
}

// Registry returns the registry holding all metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler returns an HTTP handler exposing all metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RecordSessionStart records an acquisition session starting.
func (m *Metrics) RecordSessionStart(kind string) {
	m.ActiveSessions.Inc()
	m.Sessions.WithLabelValues(kind).Inc()
}

// RecordSessionStop records an acquisition session stopping.
func (m *Metrics) RecordSessionStop(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordFrame records a frame received.
func (m *Metrics) RecordFrame(size int) {
	m.Frames.Inc()
	m.FrameSize.Observe(float64(size))
}

// RecordRecord records a raw record of the given type received.
func (m *Metrics) RecordRecord(typ string) {
	m.Records.WithLabelValues(typ).Inc()
}

// RecordEdge records a TDC edge received.
func (m *Metrics) RecordEdge(edge string) {
	m.Edges.WithLabelValues(edge).Inc()
}
