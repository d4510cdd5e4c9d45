// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package community

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/latticeworks/lattice/pkg/kg"
	"github.com/latticeworks/lattice/services/llm"
)

var tracer = otel.Tracer("lattice.community")

// Assembler converts a community partition into ranked summaries for
// prompt context, generating missing summaries through the LLM.
//
// Thread Safety: safe for concurrent use.
type Assembler struct {
	cache  *SummaryCache
	llm    llm.Client
	logger *slog.Logger
}

// NewAssembler wires the summary cache and LLM collaborator.
func NewAssembler(cache *SummaryCache, client llm.Client, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{cache: cache, llm: client, logger: logger}
}

// ContextResult is the community section of an assembled prompt
// context, with the metadata the orchestrator surfaces in responses.
type ContextResult struct {
	Summaries       []kg.CommunitySummary
	CachedAvailable int
	CapApplied      int
}

// generatedSummary is the JSON shape the LLM returns for one community.
type generatedSummary struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	KeyEntities []string `json:"keyEntities"`
}

// AssembleContext selects up to maxSummaries community summaries for
// the subgraph, highest-relevance first. Cached summaries are
// preferred; communities with no cache hit get a summary generated
// through the LLM, and a failed generation skips that community
// rather than failing the assembly.
func (a *Assembler) AssembleContext(ctx context.Context, partition kg.Partition, subgraph []kg.Entity, relationships []kg.Relationship, maxSummaries int) (ContextResult, error) {
	ctx, span := tracer.Start(ctx, "community.AssembleContext")
	defer span.End()
	if maxSummaries <= 0 {
		maxSummaries = 5
	}
	span.SetAttributes(
		attribute.Int("community.count", len(partition.Communities)),
		attribute.Int("community.max_summaries", maxSummaries),
	)

	subgraphIDs := make(map[string]bool, len(subgraph))
	entityByID := make(map[string]kg.Entity, len(subgraph))
	for _, e := range subgraph {
		subgraphIDs[e.ID] = true
		entityByID[e.ID] = e
	}

	ranked := rankCommunities(partition, subgraphIDs)

	result := ContextResult{CapApplied: maxSummaries}
	for _, candidate := range ranked {
		if len(result.Summaries) >= maxSummaries {
			break
		}
		id := cacheID(partition, candidate)
		if _, ok := a.cache.Get(id); ok {
			result.CachedAvailable++
		}
		summary, err := a.cache.GetOrGenerate(ctx, id, func(ctx context.Context) (kg.CommunitySummary, error) {
			return a.generate(ctx, id, candidate, entityByID, relationships)
		})
		if err != nil {
			a.logger.Warn("community summary generation failed, skipping",
				"community_id", id, "error", err)
			continue
		}
		result.Summaries = append(result.Summaries, summary)
	}

	span.SetAttributes(
		attribute.Int("community.summaries", len(result.Summaries)),
		attribute.Int("community.cached_available", result.CachedAvailable),
	)
	return result, nil
}

// cacheID picks the cache key for a community. Request-scoped (lazy)
// partitions get the stable member-set id, so overlapping subgraphs in
// later requests reuse the same slot. Globally detected communities
// keep the detector's id.
func cacheID(partition kg.Partition, c kg.Community) string {
	if partition.Metadata.Scoped || c.ID == "" {
		return StableID(c.Members)
	}
	return c.ID
}

// rankCommunities orders communities by overlap with the subgraph's
// entity ids, ties broken by size then id for determinism. Communities
// with no overlap are dropped.
func rankCommunities(partition kg.Partition, subgraphIDs map[string]bool) []kg.Community {
	type scored struct {
		community kg.Community
		overlap   int
	}
	var candidates []scored
	for _, c := range partition.Communities {
		overlap := 0
		for _, member := range c.Members {
			if subgraphIDs[member] {
				overlap++
			}
		}
		if overlap > 0 {
			candidates = append(candidates, scored{c, overlap})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].overlap != candidates[j].overlap {
			return candidates[i].overlap > candidates[j].overlap
		}
		if candidates[i].community.Size != candidates[j].community.Size {
			return candidates[i].community.Size > candidates[j].community.Size
		}
		return candidates[i].community.ID < candidates[j].community.ID
	})

	out := make([]kg.Community, len(candidates))
	for i, c := range candidates {
		out[i] = c.community
	}
	return out
}

// summaryMemberLimit bounds how many members go into the prompt.
const summaryMemberLimit = 20

func (a *Assembler) generate(ctx context.Context, id string, c kg.Community, entityByID map[string]kg.Entity, relationships []kg.Relationship) (kg.CommunitySummary, error) {
	members := make(map[string]bool, len(c.Members))
	var entities []kg.Entity
	for _, m := range c.Members {
		members[m] = true
		if e, ok := entityByID[m]; ok && len(entities) < summaryMemberLimit {
			entities = append(entities, e)
		}
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].Importance > entities[j].Importance })

	var internal []kg.Relationship
	for _, r := range relationships {
		if members[r.From] && members[r.To] {
			internal = append(internal, r)
		}
	}

	prompt, err := renderTemplate(summaryTmpl, struct {
		MemberCount   int
		Entities      []kg.Entity
		Relationships []kg.Relationship
	}{len(c.Members), entities, internal})
	if err != nil {
		return kg.CommunitySummary{}, err
	}

	var generated generatedSummary
	if err := a.llm.GenerateJSON(ctx, prompt, &generated); err != nil {
		return kg.CommunitySummary{}, err
	}
	if generated.Title == "" {
		generated.Title = "Community " + id
	}
	return kg.CommunitySummary{
		CommunityID: id,
		Title:       strings.TrimSpace(generated.Title),
		Summary:     strings.TrimSpace(generated.Summary),
		KeyEntities: generated.KeyEntities,
		MemberCount: len(c.Members),
	}, nil
}
