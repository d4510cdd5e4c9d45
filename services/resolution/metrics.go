// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolution

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds prometheus counters for the resolution cache, labeled
// by tier name. Pass nil to NewCache to run without metrics (tests).
type Metrics struct {
	Hits      *prometheus.CounterVec
	Misses    *prometheus.CounterVec
	Sets      *prometheus.CounterVec
	Evictions *prometheus.CounterVec
}

// NewMetrics creates and registers cache metrics on the given
// registerer. Registration conflicts panic, matching promauto
// behavior; construct once per process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lattice_resolution_cache_hits_total",
			Help: "Resolution cache hits by tier.",
		}, []string{"tier"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lattice_resolution_cache_misses_total",
			Help: "Resolution cache misses by tier.",
		}, []string{"tier"}),
		Sets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lattice_resolution_cache_sets_total",
			Help: "Resolution cache writes by tier.",
		}, []string{"tier"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lattice_resolution_cache_evictions_total",
			Help: "Resolution cache size-bound evictions by tier.",
		}, []string{"tier"}),
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses, m.Sets, m.Evictions)
	}
	return m
}
