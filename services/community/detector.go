// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package community turns a community partition into ranked, cached
// summaries and performs map-reduce synthesis across communities for
// broad questions.
//
// The detection algorithm itself is an external collaborator behind
// the Detector interface; this package consumes partitions read-only.
package community

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/latticeworks/lattice/pkg/kg"
)

// Detector produces community partitions. Implementations run Louvain
// or an equivalent algorithm; this package never looks inside.
type Detector interface {
	// DetectCommunities partitions the full graph.
	DetectCommunities(ctx context.Context, entities []kg.Entity, relationships []kg.Relationship) (kg.Partition, error)

	// DetectSubgraphCommunities partitions a request-scoped subgraph.
	DetectSubgraphCommunities(ctx context.Context, entities []kg.Entity, relationships []kg.Relationship) (kg.Partition, error)
}

// StableID derives a community id from its member set. The members are
// sorted before hashing, so repeated detections over overlapping
// subgraphs that produce the same member set map to the same cache
// slot regardless of detection order.
func StableID(memberIDs []string) string {
	sorted := make([]string, len(memberIDs))
	copy(sorted, memberIDs)
	sort.Strings(sorted)

	h := fnv.New64a()
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{0x1f})
	}
	return fmt.Sprintf("comm_%016x", h.Sum64())
}
