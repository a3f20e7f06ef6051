// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for message dispatch.
type Metrics struct {
	SendsTotal      *prometheus.CounterVec
	SendDuration    *prometheus.HistogramVec
	SendsInFlight   prometheus.Gauge
	StreamDeltas    prometheus.Counter
	PromptTokens    prometheus.Histogram
	AttachmentsSeen *prometheus.CounterVec
	FailuresTotal   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domainchat_sends_total",
				Help: "Total number of sends by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		SendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "domainchat_send_duration_seconds",
				Help:    "Duration of sends in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"mode"},
		),
		SendsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "domainchat_sends_in_flight",
				Help: "Number of sends currently waiting on the API",
			},
		),
		StreamDeltas: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "domainchat_stream_deltas_total",
				Help: "Total number of streamed content deltas delivered",
			},
		),
		PromptTokens: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "domainchat_prompt_tokens",
				Help:    "Estimated prompt size in tokens",
				Buckets: prometheus.ExponentialBuckets(16, 4, 8),
			},
		),
		AttachmentsSeen: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domainchat_attachments_total",
				Help: "Attachments composed into prompts by disposition",
			},
			[]string{"disposition"},
		),
		FailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domainchat_failures_total",
				Help: "Classified send failures by kind",
			},
			[]string{"kind"},
		),
	}
}

// ObserveSend records a finished send.
func (m *Metrics) ObserveSend(mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SendsTotal.WithLabelValues(mode, outcome).Inc()
	m.SendDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ObserveFailure counts a classified failure.
func (m *Metrics) ObserveFailure(kind string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(kind).Inc()
}

// ObservePrompt records the prompt size and attachment dispositions.
func (m *Metrics) ObservePrompt(tokens int, dispositions []string) {
	if m == nil {
		return
	}
	m.PromptTokens.Observe(float64(tokens))
	for _, d := range dispositions {
		m.AttachmentsSeen.WithLabelValues(d).Inc()
	}
}

// ObserveDelta counts one streamed delta.
func (m *Metrics) ObserveDelta() {
	if m == nil {
		return
	}
	m.StreamDeltas.Inc()
}

// TrackInFlight increments the in-flight gauge and returns the decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.SendsInFlight.Inc()
	return m.SendsInFlight.Dec
}
