// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graphstore abstracts the raw entity/relationship store the
// query core reads from.
//
// The store is an external collaborator: Lattice never writes graph
// state through it, and never applies access control here. Security
// trimming happens after retrieval, in services/trimming, so a store
// implementation does not need to know about users at all.
//
// Two implementations ship with the core: MemoryStore (tests, fixtures,
// the CLI demo) and Neo4jStore (production).
package graphstore

import (
	"context"

	"github.com/latticeworks/lattice/pkg/kg"
)

// Direction selects which edges count as neighbors of a node.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// NeighborRecord pairs an edge with the entity on its far side.
type NeighborRecord struct {
	Relationship kg.Relationship
	Entity       kg.Entity
}

// Store is the read interface over the knowledge graph.
//
// Not-found is a value, not an error: FindByID and FindByName return
// ok=false for absent entities and reserve the error return for real
// store failures (connection loss, malformed query).
//
// Thread Safety: implementations must be safe for concurrent use.
type Store interface {
	// FindByID looks up an entity by its id.
	FindByID(ctx context.Context, id string) (kg.Entity, bool, error)

	// FindByName looks up an entity by exact canonical name.
	FindByName(ctx context.Context, name string) (kg.Entity, bool, error)

	// AllEntities returns every entity in the graph.
	AllEntities(ctx context.Context) ([]kg.Entity, error)

	// AllRelationships returns every relationship in the graph.
	AllRelationships(ctx context.Context) ([]kg.Relationship, error)

	// Neighbors returns the edges touching the given entity id in the
	// requested direction, each paired with the far-side entity.
	Neighbors(ctx context.Context, id string, direction Direction) ([]NeighborRecord, error)
}
