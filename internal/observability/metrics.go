// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

// Package observability records handshake metrics with Prometheus.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/oops"

	"github.com/gpgauth/gpgauth/pkg/gpgauth"
)

// OutcomeOK labels operations that succeeded.
const OutcomeOK = "OK"

// Metrics contains the handshake metrics. It implements gpgauth.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	LastSuccess       *prometheus.GaugeVec
}

var _ gpgauth.Recorder = (*Metrics)(nil)

// NewMetrics creates the metrics in a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gpgauth_operations_total",
				Help: "Total number of GPGAuth operations by operation and outcome code",
			},
			[]string{"operation", "outcome"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gpgauth_operation_duration_seconds",
				Help:    "Duration of GPGAuth operations",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"operation"},
		),
		LastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gpgauth_last_success_timestamp_seconds",
				Help: "Unix time of the last successful operation",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(m.OperationsTotal)
	registry.MustRegister(m.OperationDuration)
	registry.MustRegister(m.LastSuccess)
	return m
}

// ObserveOperation implements gpgauth.Recorder. code is OutcomeOK or an error code.
func (m *Metrics) ObserveOperation(operation, code string, elapsed time.Duration) {
	if code == "" {
		code = "UNKNOWN"
	}
	m.OperationsTotal.WithLabelValues(operation, code).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	if code == OutcomeOK {
		m.LastSuccess.WithLabelValues(operation).SetToCurrentTime()
	}
}

// WriteTextfile writes the metrics to path in the node-exporter textfile format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return oops.In("observability").With("path", path).Wrapf(err, "write metrics textfile")
	}
	return nil
}
