// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graphstore

import (
	"context"
	"strings"
	"sync"

	"github.com/latticeworks/lattice/pkg/kg"
)

// MemoryStore is an in-memory Store used by tests, fixtures, and the
// CLI demo mode. Entities are stored by id; name lookups are
// case-insensitive on the canonical name.
//
// Thread Safety: safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]kg.Entity
	byName   map[string]string // lowercased name -> id
	edges    []kg.Relationship
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string]kg.Entity),
		byName:   make(map[string]string),
	}
}

// AddEntity inserts or replaces an entity. Name collisions point the
// name index at the most recently added entity.
func (s *MemoryStore) AddEntity(e kg.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e
	s.byName[strings.ToLower(e.Name)] = e.ID
}

// AddRelationship appends an edge. Endpoints are not validated; the
// temporal layer tolerates dangling edges by skipping them.
func (s *MemoryStore) AddRelationship(r kg.Relationship) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, r)
}

// FindByID implements Store.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (kg.Entity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	return e, ok, nil
}

// FindByName implements Store.
func (s *MemoryStore) FindByName(ctx context.Context, name string) (kg.Entity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[strings.ToLower(name)]
	if !ok {
		return kg.Entity{}, false, nil
	}
	e, ok := s.entities[id]
	return e, ok, nil
}

// AllEntities implements Store.
func (s *MemoryStore) AllEntities(ctx context.Context) ([]kg.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]kg.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	return out, nil
}

// AllRelationships implements Store.
func (s *MemoryStore) AllRelationships(ctx context.Context) ([]kg.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]kg.Relationship, len(s.edges))
	copy(out, s.edges)
	return out, nil
}

// Neighbors implements Store.
func (s *MemoryStore) Neighbors(ctx context.Context, id string, direction Direction) ([]NeighborRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []NeighborRecord
	for _, edge := range s.edges {
		var farID string
		switch {
		case edge.From == id && (direction == DirectionOut || direction == DirectionBoth):
			farID = edge.To
		case edge.To == id && (direction == DirectionIn || direction == DirectionBoth):
			farID = edge.From
		default:
			continue
		}
		far, ok := s.entities[farID]
		if !ok {
			continue // dangling edge
		}
		out = append(out, NeighborRecord{Relationship: edge, Entity: far})
	}
	return out, nil
}
