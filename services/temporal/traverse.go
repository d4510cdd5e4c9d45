// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package temporal

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/latticeworks/lattice/pkg/kg"
	"github.com/latticeworks/lattice/services/graphstore"
)

// TraverseOptions bounds a multi-hop traversal. Zero values take the
// defaults from DefaultTraverseOptions.
type TraverseOptions struct {
	MaxDepth    int
	MaxEntities int
	Direction   graphstore.Direction
}

// DefaultTraverseOptions returns the production traversal bounds.
func DefaultTraverseOptions() TraverseOptions {
	return TraverseOptions{
		MaxDepth:    2,
		MaxEntities: 50,
		Direction:   graphstore.DirectionBoth,
	}
}

func (o TraverseOptions) normalized() TraverseOptions {
	d := DefaultTraverseOptions()
	if o.MaxDepth <= 0 {
		o.MaxDepth = d.MaxDepth
	}
	if o.MaxEntities <= 0 {
		o.MaxEntities = d.MaxEntities
	}
	if o.Direction == "" {
		o.Direction = d.Direction
	}
	return o
}

// InvalidSeed records a seed that could not anchor the traversal,
// keeping the distinction between a name that does not resolve and an
// entity that exists but is outside its validity window.
type InvalidSeed struct {
	Name   string      `json:"name"`
	Reason SourceState `json:"reason"`
}

// TraversalResult is the subgraph reached from the seeds at one
// instant. MaxDepthReached and MaxEntitiesReached distinguish a
// complete expansion from a truncated one.
type TraversalResult struct {
	Entities           []kg.Entity       `json:"entities"`
	Relationships      []kg.Relationship `json:"relationships"`
	InvalidSeeds       []InvalidSeed     `json:"invalidSeeds,omitempty"`
	MaxDepthReached    bool              `json:"maxDepthReached"`
	MaxEntitiesReached bool              `json:"maxEntitiesReached"`
}

// TraverseAt expands breadth-first from the seed names, keeping only
// entities and edges valid at the given instant. Seeds that fail to
// resolve, or are not valid at the instant, are collected into
// InvalidSeeds instead of aborting the traversal.
func (s *Service) TraverseAt(ctx context.Context, seedNames []string, at time.Time, opts TraverseOptions) (TraversalResult, error) {
	ctx, span := tracer.Start(ctx, "temporal.TraverseAt")
	defer span.End()
	opts = opts.normalized()
	span.SetAttributes(
		attribute.Int("temporal.seeds", len(seedNames)),
		attribute.Int("temporal.max_depth", opts.MaxDepth),
		attribute.Int("temporal.max_entities", opts.MaxEntities),
	)

	var result TraversalResult
	seen := make(map[string]bool)
	seenEdges := make(map[string]bool)
	var frontier []kg.Entity

	admit := func(e kg.Entity) bool {
		if seen[e.ID] {
			return false
		}
		if len(result.Entities) >= opts.MaxEntities {
			result.MaxEntitiesReached = true
			return false
		}
		seen[e.ID] = true
		result.Entities = append(result.Entities, e)
		return true
	}
	admitEdge := func(r kg.Relationship) {
		key := r.From + "\x1f" + r.To + "\x1f" + r.Type
		if seenEdges[key] {
			return
		}
		seenEdges[key] = true
		result.Relationships = append(result.Relationships, r)
	}

	for _, name := range seedNames {
		res, err := s.NeighborsValidAt(ctx, name, at, opts.Direction)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return TraversalResult{}, fmt.Errorf("resolving seed %q: %w", name, err)
		}
		if res.State != SourceFound {
			result.InvalidSeeds = append(result.InvalidSeeds, InvalidSeed{Name: name, Reason: res.State})
			continue
		}
		if admit(res.Source) {
			frontier = append(frontier, res.Source)
		}
	}

	for depth := 0; len(frontier) > 0 && !result.MaxEntitiesReached; depth++ {
		if depth >= opts.MaxDepth {
			result.MaxDepthReached = true
			break
		}
		var next []kg.Entity
		for _, current := range frontier {
			if result.MaxEntitiesReached {
				break
			}
			records, err := s.neighborsOf(ctx, current, at, opts.Direction)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return TraversalResult{}, err
			}
			for _, rec := range records {
				alreadySeen := seen[rec.Entity.ID]
				if alreadySeen {
					admitEdge(rec.Relationship)
					continue
				}
				if !admit(rec.Entity) {
					break
				}
				admitEdge(rec.Relationship)
				next = append(next, rec.Entity)
			}
		}
		frontier = next
	}

	span.SetAttributes(
		attribute.Int("temporal.entities", len(result.Entities)),
		attribute.Int("temporal.relationships", len(result.Relationships)),
		attribute.Bool("temporal.truncated", result.MaxDepthReached || result.MaxEntitiesReached),
	)
	return result, nil
}
