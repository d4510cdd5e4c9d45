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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/latticeworks/lattice/pkg/kg"
)

// Version is one link in an entity's succession chain.
type Version struct {
	Entity           kg.Entity `json:"entity"`
	IsCurrentVersion bool      `json:"isCurrentVersion"`
}

// VersionHistory reconstructs the full succession chain containing the
// given entity id, ordered oldest to newest. The newest version (no
// successor) is flagged IsCurrentVersion. An unresolvable id yields an
// empty chain. A malformed chain (cycle or dangling link) is truncated
// at the bad link instead of looping.
func (s *Service) VersionHistory(ctx context.Context, entityID string) ([]Version, error) {
	ctx, span := tracer.Start(ctx, "temporal.VersionHistory")
	defer span.End()
	span.SetAttributes(attribute.String("temporal.entity_id", entityID))

	start, ok, err := s.store.FindByID(ctx, entityID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("resolving entity %q: %w", entityID, err)
	}
	if !ok {
		return []Version{}, nil
	}

	visited := map[string]bool{start.ID: true}

	// Walk backwards to the oldest ancestor, then forwards to the
	// newest successor, truncating on any repeated or dangling id.
	var older []kg.Entity
	for id := start.Supersedes; id != "" && !visited[id]; {
		visited[id] = true
		e, ok, err := s.store.FindByID(ctx, id)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("following supersedes link %q: %w", id, err)
		}
		if !ok {
			s.logger.Warn("version chain has dangling supersedes link",
				"entity_id", entityID, "missing_id", id)
			break
		}
		older = append(older, e)
		id = e.Supersedes
	}

	var newer []kg.Entity
	for id := start.SupersededBy; id != "" && !visited[id]; {
		visited[id] = true
		e, ok, err := s.store.FindByID(ctx, id)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("following supersededBy link %q: %w", id, err)
		}
		if !ok {
			s.logger.Warn("version chain has dangling supersededBy link",
				"entity_id", entityID, "missing_id", id)
			break
		}
		newer = append(newer, e)
		id = e.SupersededBy
	}

	chain := make([]Version, 0, len(older)+1+len(newer))
	for i := len(older) - 1; i >= 0; i-- {
		chain = append(chain, Version{Entity: older[i]})
	}
	chain = append(chain, Version{Entity: start})
	for _, e := range newer {
		chain = append(chain, Version{Entity: e})
	}

	last := &chain[len(chain)-1]
	last.IsCurrentVersion = last.Entity.SupersededBy == ""

	span.SetAttributes(attribute.Int("temporal.chain_length", len(chain)))
	return chain, nil
}
