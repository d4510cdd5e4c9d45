// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "lattice"

// pipelineMetrics instruments the answer pipeline. A nil receiver is a
// no-op so callers never have to branch on whether metrics are wired.
type pipelineMetrics struct {
	queriesTotal  *prometheus.CounterVec
	querySeconds  *prometheus.HistogramVec
	degradedTotal *prometheus.CounterVec
}

func newPipelineMetrics(reg prometheus.Registerer) *pipelineMetrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &pipelineMetrics{
		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "orchestrator",
			Name:      "queries_total",
			Help:      "Queries answered, by mode and outcome.",
		}, []string{"mode", "status"}),
		querySeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "orchestrator",
			Name:      "query_seconds",
			Help:      "End-to-end query latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		degradedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "orchestrator",
			Name:      "degraded_stages_total",
			Help:      "Pipeline stages skipped after a failure.",
		}, []string{"stage"}),
	}
}

func (m *pipelineMetrics) observeQuery(mode, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(mode, status).Inc()
	m.querySeconds.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *pipelineMetrics) recordDegraded(stage string) {
	if m == nil {
		return
	}
	m.degradedTotal.WithLabelValues(stage).Inc()
}
