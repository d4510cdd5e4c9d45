// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package temporal

import (
	"context"
	"testing"
	"time"

	"github.com/latticeworks/lattice/pkg/kg"
	"github.com/latticeworks/lattice/services/graphstore"
)

func ts(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func tsp(s string) *time.Time {
	t := ts(s)
	return &t
}

func TestValidAt(t *testing.T) {
	entity := kg.Entity{
		ID:        "e1",
		ValidFrom: tsp("2024-01-01"),
		ValidTo:   tsp("2024-03-01"),
	}

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"one unit before validFrom", ts("2024-01-01").Add(-time.Nanosecond), false},
		{"exactly at validFrom", ts("2024-01-01"), true},
		{"mid window", ts("2024-02-01"), true},
		{"exactly at validTo", ts("2024-03-01"), true},
		{"one unit after validTo", ts("2024-03-01").Add(time.Nanosecond), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidAt(entity, tc.at); got != tc.want {
				t.Errorf("ValidAt(%v) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}

	t.Run("no temporal fields means always valid", func(t *testing.T) {
		if !ValidAt(kg.Entity{ID: "e2"}, ts("1990-01-01")) {
			t.Error("entity without a window should be valid at any time")
		}
	})
}

func TestParseTime(t *testing.T) {
	for _, input := range []string{"2024-06-15", "2024-06-15T10:30:00", "2024-06-15T10:30:00Z"} {
		if _, err := ParseTime(input); err != nil {
			t.Errorf("ParseTime(%q) failed: %v", input, err)
		}
	}
	if _, err := ParseTime("not-a-date"); err == nil {
		t.Error("expected error for malformed timestamp")
	}
}

// linkedGraph builds the chain A -> B -> C where B expires before C
// begins.
func linkedGraph() *graphstore.MemoryStore {
	store := graphstore.NewMemoryStore()
	store.AddEntity(kg.Entity{ID: "a", Name: "A", Type: "system", ValidFrom: tsp("2024-01-01")})
	store.AddEntity(kg.Entity{ID: "b", Name: "B", Type: "system", ValidFrom: tsp("2024-01-01"), ValidTo: tsp("2024-03-01")})
	store.AddEntity(kg.Entity{ID: "c", Name: "C", Type: "system", ValidFrom: tsp("2024-08-01")})
	store.AddRelationship(kg.Relationship{From: "a", To: "b", Type: "LINKS_TO", CreatedAt: tsp("2024-01-02")})
	store.AddRelationship(kg.Relationship{From: "b", To: "c", Type: "LINKS_TO", CreatedAt: tsp("2024-08-02")})
	return store
}

func TestSnapshotAt(t *testing.T) {
	svc := NewService(linkedGraph(), nil)

	snap, err := svc.SnapshotAt(context.Background(), ts("2024-02-01"), SnapshotOptions{})
	if err != nil {
		t.Fatalf("SnapshotAt failed: %v", err)
	}
	if snap.EntityCount != 2 {
		t.Errorf("expected 2 entities (A, B), got %d", snap.EntityCount)
	}
	if snap.RelationshipCount != 1 {
		t.Errorf("expected 1 relationship (A->B), got %d", snap.RelationshipCount)
	}

	t.Run("type filter", func(t *testing.T) {
		snap, err := svc.SnapshotAt(context.Background(), ts("2024-02-01"), SnapshotOptions{Type: "person"})
		if err != nil {
			t.Fatalf("SnapshotAt failed: %v", err)
		}
		if snap.EntityCount != 0 {
			t.Errorf("expected no entities of type person, got %d", snap.EntityCount)
		}
	})
}

func TestNeighborsValidAt(t *testing.T) {
	svc := NewService(linkedGraph(), nil)
	ctx := context.Background()

	t.Run("source not found", func(t *testing.T) {
		res, err := svc.NeighborsValidAt(ctx, "Zed", ts("2024-02-01"), graphstore.DirectionBoth)
		if err != nil {
			t.Fatalf("NeighborsValidAt failed: %v", err)
		}
		if res.State != SourceNotFound {
			t.Errorf("expected not_found, got %q", res.State)
		}
	})

	t.Run("source not valid at time", func(t *testing.T) {
		res, err := svc.NeighborsValidAt(ctx, "C", ts("2024-02-01"), graphstore.DirectionBoth)
		if err != nil {
			t.Fatalf("NeighborsValidAt failed: %v", err)
		}
		if res.State != SourceNotValid {
			t.Errorf("expected not_valid_at_time, got %q", res.State)
		}
		if len(res.Neighbors) != 0 {
			t.Errorf("invalid source must have no neighbors, got %d", len(res.Neighbors))
		}
	})

	t.Run("expired neighbor excluded", func(t *testing.T) {
		// At 2024-06-15, B has expired, so A has no valid neighbors.
		res, err := svc.NeighborsValidAt(ctx, "A", ts("2024-06-15"), graphstore.DirectionOut)
		if err != nil {
			t.Fatalf("NeighborsValidAt failed: %v", err)
		}
		if res.State != SourceFound {
			t.Fatalf("expected found, got %q", res.State)
		}
		if len(res.Neighbors) != 0 {
			t.Errorf("expected no valid neighbors, got %d", len(res.Neighbors))
		}
	})

	t.Run("edge created after target time excluded", func(t *testing.T) {
		store := graphstore.NewMemoryStore()
		store.AddEntity(kg.Entity{ID: "x", Name: "X"})
		store.AddEntity(kg.Entity{ID: "y", Name: "Y"})
		store.AddRelationship(kg.Relationship{From: "x", To: "y", Type: "REL", CreatedAt: tsp("2024-09-01")})

		res, err := NewService(store, nil).NeighborsValidAt(ctx, "X", ts("2024-02-01"), graphstore.DirectionOut)
		if err != nil {
			t.Fatalf("NeighborsValidAt failed: %v", err)
		}
		if len(res.Neighbors) != 0 {
			t.Errorf("edge created later must be excluded, got %d neighbors", len(res.Neighbors))
		}
	})
}

func TestTraverseAt(t *testing.T) {
	ctx := context.Background()

	t.Run("chain truncated by validity windows", func(t *testing.T) {
		svc := NewService(linkedGraph(), nil)
		// At 2024-02-01 A and B are valid; C does not begin until August.
		result, err := svc.TraverseAt(ctx, []string{"A"}, ts("2024-02-01"), TraverseOptions{})
		if err != nil {
			t.Fatalf("TraverseAt failed: %v", err)
		}
		ids := map[string]bool{}
		for _, e := range result.Entities {
			ids[e.ID] = true
		}
		if !ids["a"] || !ids["b"] || ids["c"] {
			t.Errorf("expected {a, b}, got %v", ids)
		}
		if len(result.Relationships) != 1 || result.Relationships[0].From != "a" {
			t.Errorf("expected single a->b relationship, got %+v", result.Relationships)
		}
		if result.MaxEntitiesReached {
			t.Error("small graph should not hit the entity budget")
		}
	})

	t.Run("invalid seeds collected without aborting", func(t *testing.T) {
		svc := NewService(linkedGraph(), nil)
		result, err := svc.TraverseAt(ctx, []string{"A", "C", "Nope"}, ts("2024-02-01"), TraverseOptions{})
		if err != nil {
			t.Fatalf("TraverseAt failed: %v", err)
		}
		if len(result.InvalidSeeds) != 2 {
			t.Fatalf("expected 2 invalid seeds, got %+v", result.InvalidSeeds)
		}
		reasons := map[string]SourceState{}
		for _, s := range result.InvalidSeeds {
			reasons[s.Name] = s.Reason
		}
		if reasons["C"] != SourceNotValid {
			t.Errorf("C should be not_valid_at_time, got %q", reasons["C"])
		}
		if reasons["Nope"] != SourceNotFound {
			t.Errorf("Nope should be not_found, got %q", reasons["Nope"])
		}
		if len(result.Entities) == 0 {
			t.Error("valid seed A should still be traversed")
		}
	})

	t.Run("maxEntities budget", func(t *testing.T) {
		store := graphstore.NewMemoryStore()
		store.AddEntity(kg.Entity{ID: "hub", Name: "Hub"})
		for i := 0; i < 10; i++ {
			id := string(rune('a' + i))
			store.AddEntity(kg.Entity{ID: id, Name: "Spoke " + id})
			store.AddRelationship(kg.Relationship{From: "hub", To: id, Type: "HAS"})
		}
		svc := NewService(store, nil)

		result, err := svc.TraverseAt(ctx, []string{"Hub"}, ts("2024-02-01"), TraverseOptions{MaxEntities: 4})
		if err != nil {
			t.Fatalf("TraverseAt failed: %v", err)
		}
		if len(result.Entities) > 4 {
			t.Errorf("budget of 4 exceeded: got %d entities", len(result.Entities))
		}
		if !result.MaxEntitiesReached {
			t.Error("expected maxEntitiesReached flag")
		}
	})

	t.Run("maxDepth stops expansion", func(t *testing.T) {
		store := graphstore.NewMemoryStore()
		for i := 0; i < 5; i++ {
			id := string(rune('a' + i))
			store.AddEntity(kg.Entity{ID: id, Name: "N" + id})
		}
		for i := 0; i < 4; i++ {
			store.AddRelationship(kg.Relationship{
				From: string(rune('a' + i)),
				To:   string(rune('a' + i + 1)),
				Type: "NEXT",
			})
		}
		svc := NewService(store, nil)

		result, err := svc.TraverseAt(ctx, []string{"Na"}, ts("2024-02-01"), TraverseOptions{MaxDepth: 1, Direction: graphstore.DirectionOut})
		if err != nil {
			t.Fatalf("TraverseAt failed: %v", err)
		}
		// Seed plus one hop.
		if len(result.Entities) != 2 {
			t.Errorf("expected 2 entities at depth 1, got %d", len(result.Entities))
		}
		if !result.MaxDepthReached {
			t.Error("expected maxDepthReached flag")
		}
	})
}

func TestVersionHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("full chain from middle entity", func(t *testing.T) {
		store := graphstore.NewMemoryStore()
		store.AddEntity(kg.Entity{ID: "v1", Name: "Acme 2022", SupersededBy: "v2"})
		store.AddEntity(kg.Entity{ID: "v2", Name: "Acme 2023", Supersedes: "v1", SupersededBy: "v3"})
		store.AddEntity(kg.Entity{ID: "v3", Name: "Acme 2024", Supersedes: "v2"})
		svc := NewService(store, nil)

		chain, err := svc.VersionHistory(ctx, "v2")
		if err != nil {
			t.Fatalf("VersionHistory failed: %v", err)
		}
		if len(chain) != 3 {
			t.Fatalf("expected chain of 3, got %d", len(chain))
		}
		for i, want := range []string{"v1", "v2", "v3"} {
			if chain[i].Entity.ID != want {
				t.Errorf("position %d: expected %s, got %s", i, want, chain[i].Entity.ID)
			}
		}
		if chain[0].IsCurrentVersion || chain[1].IsCurrentVersion || !chain[2].IsCurrentVersion {
			t.Error("only the newest version should be flagged current")
		}
	})

	t.Run("unknown id yields empty chain", func(t *testing.T) {
		svc := NewService(graphstore.NewMemoryStore(), nil)
		chain, err := svc.VersionHistory(ctx, "ghost")
		if err != nil {
			t.Fatalf("VersionHistory failed: %v", err)
		}
		if len(chain) != 0 {
			t.Errorf("expected empty chain, got %d", len(chain))
		}
	})

	t.Run("cyclic chain terminates", func(t *testing.T) {
		store := graphstore.NewMemoryStore()
		store.AddEntity(kg.Entity{ID: "v1", Supersedes: "v2", SupersededBy: "v2"})
		store.AddEntity(kg.Entity{ID: "v2", Supersedes: "v1", SupersededBy: "v1"})
		svc := NewService(store, nil)

		done := make(chan struct{})
		var chain []Version
		var err error
		go func() {
			chain, err = svc.VersionHistory(ctx, "v1")
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("VersionHistory did not terminate on a cyclic chain")
		}
		if err != nil {
			t.Fatalf("VersionHistory failed: %v", err)
		}
		if len(chain) != 2 {
			t.Errorf("expected truncated chain of 2, got %d", len(chain))
		}
	})

	t.Run("dangling link truncates", func(t *testing.T) {
		store := graphstore.NewMemoryStore()
		store.AddEntity(kg.Entity{ID: "v1", SupersededBy: "missing"})
		svc := NewService(store, nil)

		chain, err := svc.VersionHistory(ctx, "v1")
		if err != nil {
			t.Fatalf("VersionHistory failed: %v", err)
		}
		if len(chain) != 1 {
			t.Fatalf("expected chain of 1, got %d", len(chain))
		}
		if chain[0].IsCurrentVersion {
			t.Error("entity with a (dangling) successor should not be flagged current")
		}
	})
}

func TestCompareStates(t *testing.T) {
	svc := NewService(linkedGraph(), nil)

	diff, err := svc.CompareStates(context.Background(), ts("2024-02-01"), ts("2024-09-01"))
	if err != nil {
		t.Fatalf("CompareStates failed: %v", err)
	}
	if len(diff.Added) != 1 || diff.Added[0].ID != "c" {
		t.Errorf("expected added=[c], got %+v", diff.Added)
	}
	if len(diff.Removed) != 1 || diff.Removed[0].ID != "b" {
		t.Errorf("expected removed=[b], got %+v", diff.Removed)
	}
	if len(diff.Persisted) != 1 || diff.Persisted[0].ID != "a" {
		t.Errorf("expected persisted=[a], got %+v", diff.Persisted)
	}
}
