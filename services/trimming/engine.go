// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package trimming

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/latticeworks/lattice/pkg/kg"
)

var tracer = otel.Tracer("lattice.trimming")

// Config configures the trimming engine.
type Config struct {
	// Enabled false makes the engine a pure pass-through: everything is
	// admitted unmodified, nothing is redacted, nothing is logged.
	Enabled bool

	// DenialLogSize caps the denial log. Zero uses the default.
	DenialLogSize int

	// Metrics registers a per-reason denial counter. Nil disables it.
	Metrics prometheus.Registerer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns an enabled engine with the production log cap.
func DefaultConfig() Config {
	return Config{Enabled: true, DenialLogSize: 1000}
}

// Engine applies the access rules to entities, relationships, and
// search passages, and accumulates denial records.
//
// Thread Safety: safe for concurrent use. Rule evaluation is pure; the
// denial log is internally synchronized.
type Engine struct {
	enabled bool
	logger  *slog.Logger
	denials *denialLog

	denialCounter *prometheus.CounterVec
}

// NewEngine constructs an Engine from config.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.DenialLogSize
	if size <= 0 {
		size = 1000
	}
	e := &Engine{
		enabled: cfg.Enabled,
		logger:  logger,
		denials: newDenialLog(size),
	}
	if cfg.Metrics != nil {
		e.denialCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lattice_trimming_denials_total",
			Help: "Items withheld by the security trimming engine, by reason.",
		}, []string{"reason"})
		cfg.Metrics.MustRegister(e.denialCounter)
	}
	return e
}

// Enabled reports whether trimming is active.
func (e *Engine) Enabled() bool { return e.enabled }

func (e *Engine) deny(id string, d Decision) {
	e.denials.record(DenialRecord{
		ID:                 id,
		Reason:             d.Reason,
		RequiredPermission: d.RequiredPermission,
	})
	if e.denialCounter != nil {
		e.denialCounter.WithLabelValues(string(d.Reason)).Inc()
	}
}

// =============================================================================
// Entities
// =============================================================================

// FilterGraphEntities admits the entities the user may see, with
// sensitive fields redacted, and returns denial records for the rest.
// Denials are also appended to the engine's log.
func (e *Engine) FilterGraphEntities(ctx context.Context, entities []kg.Entity, access kg.AccessContext) ([]kg.Entity, []DenialRecord) {
	if !e.enabled {
		return entities, nil
	}
	_, span := tracer.Start(ctx, "trimming.FilterGraphEntities")
	defer span.End()

	var admitted []kg.Entity
	var deniedRecords []DenialRecord
	for _, entity := range entities {
		decision := Evaluate(entity.Access, access)
		if !decision.Allowed {
			rec := DenialRecord{
				ID:                 entity.ID,
				Reason:             decision.Reason,
				RequiredPermission: decision.RequiredPermission,
			}
			deniedRecords = append(deniedRecords, rec)
			e.deny(entity.ID, decision)
			continue
		}
		entity.Access = Redact(entity.Access, access)
		admitted = append(admitted, entity)
	}

	span.SetAttributes(
		attribute.Int("trimming.admitted", len(admitted)),
		attribute.Int("trimming.denied", len(deniedRecords)),
	)
	if len(deniedRecords) > 0 {
		e.logger.Debug("trimmed graph entities",
			"admitted", len(admitted), "denied", len(deniedRecords), "user", access.UserID)
	}
	return admitted, deniedRecords
}

// FilterGraphRelationships keeps an edge only when both endpoints are
// in the allowed-id set. This is what prevents inferring the existence
// of a denied entity through a dangling relationship pointer, including
// diamond-shaped paths where several visible entities all point at the
// same hidden one.
func (e *Engine) FilterGraphRelationships(relationships []kg.Relationship, allowedIDs map[string]bool) []kg.Relationship {
	if !e.enabled {
		return relationships
	}
	var kept []kg.Relationship
	for _, r := range relationships {
		if allowedIDs[r.From] && allowedIDs[r.To] {
			kept = append(kept, r)
		}
	}
	return kept
}

// =============================================================================
// Search passages
// =============================================================================

// FilterPassages admits the search passages the user may see, with
// sensitive fields redacted. The engine never assumes search-index
// level filtering is authoritative: every passage is re-evaluated here
// even when a pre-query filter was already applied.
func (e *Engine) FilterPassages(ctx context.Context, passages []kg.Passage, access kg.AccessContext) ([]kg.Passage, []DenialRecord) {
	if !e.enabled {
		return passages, nil
	}
	_, span := tracer.Start(ctx, "trimming.FilterPassages")
	defer span.End()
	var admitted []kg.Passage
	var deniedRecords []DenialRecord
	for _, p := range passages {
		decision := Evaluate(p.Access, access)
		if !decision.Allowed {
			rec := DenialRecord{
				ID:                 p.ID,
				Reason:             decision.Reason,
				RequiredPermission: decision.RequiredPermission,
			}
			deniedRecords = append(deniedRecords, rec)
			e.deny(p.ID, decision)
			continue
		}
		p.Access = Redact(p.Access, access)
		admitted = append(admitted, p)
	}
	return admitted, deniedRecords
}

// =============================================================================
// Denial log access
// =============================================================================

// DenialLog returns the logged denial records, oldest first.
func (e *Engine) DenialLog() []DenialRecord {
	return e.denials.snapshot()
}

// DenialCount returns how many records the log currently holds.
func (e *Engine) DenialCount() int {
	return e.denials.size()
}
