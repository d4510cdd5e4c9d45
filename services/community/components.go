// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package community

import (
	"context"
	"sort"
	"time"

	"github.com/latticeworks/lattice/pkg/kg"
)

// ComponentDetector partitions a graph into its connected components,
// treating every relationship as undirected. It is the built-in
// fallback detector; deployments with a modularity-based detector
// plug that in through the Detector interface instead.
type ComponentDetector struct{}

// NewComponentDetector returns the built-in detector.
func NewComponentDetector() *ComponentDetector { return &ComponentDetector{} }

// DetectCommunities implements Detector over the full graph.
func (d *ComponentDetector) DetectCommunities(_ context.Context, entities []kg.Entity, relationships []kg.Relationship) (kg.Partition, error) {
	return d.detect(entities, relationships, false), nil
}

// DetectSubgraphCommunities implements Detector over a request-scoped
// subgraph. The partition is marked scoped so the assembler caches its
// summaries under member-set stable ids.
func (d *ComponentDetector) DetectSubgraphCommunities(_ context.Context, entities []kg.Entity, relationships []kg.Relationship) (kg.Partition, error) {
	return d.detect(entities, relationships, true), nil
}

func (d *ComponentDetector) detect(entities []kg.Entity, relationships []kg.Relationship, scoped bool) kg.Partition {
	parent := make(map[string]string, len(entities))
	typeByID := make(map[string]string, len(entities))
	for _, e := range entities {
		parent[e.ID] = e.ID
		typeByID[e.ID] = e.Type
	}

	var find func(id string) string
	find = func(id string) string {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	// Edges with an endpoint outside the entity set are ignored.
	for _, r := range relationships {
		if _, ok := parent[r.From]; !ok {
			continue
		}
		if _, ok := parent[r.To]; !ok {
			continue
		}
		union(r.From, r.To)
	}

	members := make(map[string][]string)
	for _, e := range entities {
		root := find(e.ID)
		members[root] = append(members[root], e.ID)
	}

	partition := kg.Partition{
		Assignments: make(map[string]string, len(entities)),
		Metadata: kg.PartitionMeta{
			Method:     "connected_components",
			Scoped:     scoped,
			DetectedAt: time.Now().UTC(),
		},
	}
	for _, ids := range members {
		id := StableID(ids)
		counts := make(map[string]int)
		for _, member := range ids {
			partition.Assignments[member] = id
			counts[typeByID[member]]++
		}
		dominant := ""
		for entityType, n := range counts {
			if dominant == "" || n > counts[dominant] || (n == counts[dominant] && entityType < dominant) {
				dominant = entityType
			}
		}
		sorted := make([]string, len(ids))
		copy(sorted, ids)
		sort.Strings(sorted)
		partition.Communities = append(partition.Communities, kg.Community{
			ID:           id,
			Members:      sorted,
			Size:         len(sorted),
			DominantType: dominant,
			TypeCounts:   counts,
		})
	}
	sort.Slice(partition.Communities, func(i, j int) bool {
		return partition.Communities[i].ID < partition.Communities[j].ID
	})
	return partition
}
