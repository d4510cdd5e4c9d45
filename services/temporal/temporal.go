// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package temporal layers point-in-time semantics over the graph store:
// entity validity windows, time-filtered neighbor expansion, bounded
// multi-hop traversal at a timestamp, version-chain reconstruction, and
// entity-level diffing between two points in time.
//
// The package never applies access control. Trimming happens after
// temporal expansion, in services/trimming.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/latticeworks/lattice/pkg/kg"
	"github.com/latticeworks/lattice/services/graphstore"
)

var tracer = otel.Tracer("lattice.temporal")

// ErrInvalidTimestamp marks a timestamp string the layer could not
// parse. Callers treat it as invalid input and reject the request
// before any store or LLM call.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// timeFormats are accepted by ParseTime, tried in order.
var timeFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses a user-supplied point-in-time string. It accepts
// RFC 3339, a timezone-less datetime, or a bare date (midnight UTC).
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// ValidAt reports whether an entity's validity window covers t.
//
// The window is inclusive on both ends: an entity is valid from the
// exact ValidFrom instant through the exact ValidTo instant. A nil
// bound is unbounded on that side, so an entity with no temporal
// fields is always valid.
func ValidAt(e kg.Entity, t time.Time) bool {
	if e.ValidFrom != nil && t.Before(*e.ValidFrom) {
		return false
	}
	if e.ValidTo != nil && t.After(*e.ValidTo) {
		return false
	}
	return true
}

// EdgeValidAt reports whether a relationship existed at t. An edge with
// no CreatedAt is valid at every point in time.
func EdgeValidAt(r kg.Relationship, t time.Time) bool {
	return r.CreatedAt == nil || !r.CreatedAt.After(t)
}

// Service answers point-in-time queries against a graph store.
//
// Thread Safety: safe for concurrent use; the Service holds no mutable
// state of its own.
type Service struct {
	store  graphstore.Store
	logger *slog.Logger
}

// NewService wraps a graph store with temporal query semantics.
func NewService(store graphstore.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// =============================================================================
// Snapshots
// =============================================================================

// SnapshotOptions narrows a snapshot. An empty Type keeps every
// ontology type.
type SnapshotOptions struct {
	Type string
}

// Snapshot is the graph state at one instant: every entity whose
// validity window covers At, and every relationship created by then
// whose endpoints are both in the snapshot.
type Snapshot struct {
	At                time.Time         `json:"at"`
	Entities          []kg.Entity       `json:"entities"`
	Relationships     []kg.Relationship `json:"relationships"`
	EntityCount       int               `json:"entityCount"`
	RelationshipCount int               `json:"relationshipCount"`
}

// SnapshotAt returns the graph state valid at the given instant,
// optionally filtered by ontology type.
func (s *Service) SnapshotAt(ctx context.Context, at time.Time, opts SnapshotOptions) (Snapshot, error) {
	ctx, span := tracer.Start(ctx, "temporal.SnapshotAt")
	defer span.End()
	span.SetAttributes(attribute.String("temporal.at", at.Format(time.RFC3339)))

	all, err := s.store.AllEntities(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Snapshot{}, fmt.Errorf("loading entities for snapshot: %w", err)
	}

	visible := make(map[string]bool, len(all))
	snap := Snapshot{At: at}
	for _, e := range all {
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if !ValidAt(e, at) {
			continue
		}
		visible[e.ID] = true
		snap.Entities = append(snap.Entities, e)
	}

	edges, err := s.store.AllRelationships(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Snapshot{}, fmt.Errorf("loading relationships for snapshot: %w", err)
	}
	for _, r := range edges {
		if !EdgeValidAt(r, at) {
			continue
		}
		if visible[r.From] && visible[r.To] {
			snap.Relationships = append(snap.Relationships, r)
		}
	}

	snap.EntityCount = len(snap.Entities)
	snap.RelationshipCount = len(snap.Relationships)
	span.SetAttributes(
		attribute.Int("temporal.entity_count", snap.EntityCount),
		attribute.Int("temporal.relationship_count", snap.RelationshipCount),
	)
	return snap, nil
}

// =============================================================================
// Time-filtered neighbors
// =============================================================================

// SourceState describes how a neighbor lookup's source resolved.
// "not found" and "not valid at time" are distinct outcomes so callers
// can report the difference to users.
type SourceState string

const (
	SourceFound    SourceState = "found"
	SourceNotFound SourceState = "not_found"
	SourceNotValid SourceState = "not_valid_at_time"
)

// NeighborsResult is the outcome of a time-filtered neighbor expansion.
// Source is only populated when State is SourceFound or SourceNotValid.
type NeighborsResult struct {
	State     SourceState
	Source    kg.Entity
	Neighbors []graphstore.NeighborRecord
}

// NeighborsValidAt resolves a source entity by canonical name (falling
// back to id) and returns its neighbors at the given instant. A
// neighbor is included only when its own validity window covers the
// instant and the connecting edge was created by then.
func (s *Service) NeighborsValidAt(ctx context.Context, sourceName string, at time.Time, direction graphstore.Direction) (NeighborsResult, error) {
	ctx, span := tracer.Start(ctx, "temporal.NeighborsValidAt")
	defer span.End()
	span.SetAttributes(
		attribute.String("temporal.source", sourceName),
		attribute.String("temporal.direction", string(direction)),
	)

	source, ok, err := s.store.FindByName(ctx, sourceName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return NeighborsResult{}, fmt.Errorf("resolving source %q: %w", sourceName, err)
	}
	if !ok {
		source, ok, err = s.store.FindByID(ctx, sourceName)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return NeighborsResult{}, fmt.Errorf("resolving source %q: %w", sourceName, err)
		}
	}
	if !ok {
		span.SetAttributes(attribute.String("temporal.source_state", string(SourceNotFound)))
		return NeighborsResult{State: SourceNotFound}, nil
	}
	if !ValidAt(source, at) {
		span.SetAttributes(attribute.String("temporal.source_state", string(SourceNotValid)))
		return NeighborsResult{State: SourceNotValid, Source: source}, nil
	}

	neighbors, err := s.neighborsOf(ctx, source, at, direction)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return NeighborsResult{}, err
	}
	span.SetAttributes(attribute.Int("temporal.neighbor_count", len(neighbors)))
	return NeighborsResult{State: SourceFound, Source: source, Neighbors: neighbors}, nil
}

// neighborsOf filters a store neighbor expansion down to the records
// valid at the instant.
func (s *Service) neighborsOf(ctx context.Context, source kg.Entity, at time.Time, direction graphstore.Direction) ([]graphstore.NeighborRecord, error) {
	records, err := s.store.Neighbors(ctx, source.ID, direction)
	if err != nil {
		return nil, fmt.Errorf("expanding neighbors of %q: %w", source.ID, err)
	}
	valid := records[:0:0]
	for _, rec := range records {
		if !EdgeValidAt(rec.Relationship, at) {
			continue
		}
		if !ValidAt(rec.Entity, at) {
			continue
		}
		valid = append(valid, rec)
	}
	return valid, nil
}

// =============================================================================
// State diffing
// =============================================================================

// StateDiff partitions entities by presence in two snapshots: Added is
// valid only at To, Removed only at From, Persisted at both (matched by
// id). Relationships are not compared.
type StateDiff struct {
	From      time.Time   `json:"from"`
	To        time.Time   `json:"to"`
	Added     []kg.Entity `json:"added"`
	Removed   []kg.Entity `json:"removed"`
	Persisted []kg.Entity `json:"persisted"`
}

// CompareStates diffs the set of valid entities between two instants.
// Results are ordered by entity id.
func (s *Service) CompareStates(ctx context.Context, from, to time.Time) (StateDiff, error) {
	ctx, span := tracer.Start(ctx, "temporal.CompareStates")
	defer span.End()
	span.SetAttributes(
		attribute.String("temporal.from", from.Format(time.RFC3339)),
		attribute.String("temporal.to", to.Format(time.RFC3339)),
	)

	all, err := s.store.AllEntities(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return StateDiff{}, fmt.Errorf("loading entities for comparison: %w", err)
	}

	diff := StateDiff{From: from, To: to}
	for _, e := range all {
		atFrom := ValidAt(e, from)
		atTo := ValidAt(e, to)
		switch {
		case atFrom && atTo:
			diff.Persisted = append(diff.Persisted, e)
		case atTo:
			diff.Added = append(diff.Added, e)
		case atFrom:
			diff.Removed = append(diff.Removed, e)
		}
	}
	sortByID(diff.Added)
	sortByID(diff.Removed)
	sortByID(diff.Persisted)

	span.SetAttributes(
		attribute.Int("temporal.added", len(diff.Added)),
		attribute.Int("temporal.removed", len(diff.Removed)),
		attribute.Int("temporal.persisted", len(diff.Persisted)),
	)
	return diff, nil
}

func sortByID(entities []kg.Entity) {
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
}
