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
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/latticeworks/lattice/pkg/kg"
)

// PartialAnswer is one community's contribution to a global question.
type PartialAnswer struct {
	CommunityID    string  `json:"communityId"`
	CommunityTitle string  `json:"communityTitle"`
	Answer         string  `json:"answer"`
	Relevance      float64 `json:"relevance"`
}

// MapMeta describes how a map phase went.
type MapMeta struct {
	CommunitiesAsked int `json:"communitiesAsked"`
	Failed           int `json:"failed"`
	Irrelevant       int `json:"irrelevant"`
}

// NoRelevantInformation is the fixed answer a reduce over zero partial
// answers produces.
const NoRelevantInformation = "No relevant information was found in the knowledge graph for this question."

// mapConcurrency bounds parallel per-community LLM calls.
const mapConcurrency = 4

// mapResponse is the JSON shape of one per-community answer.
type mapResponse struct {
	Answer    string  `json:"answer"`
	Relevance float64 `json:"relevance"`
	Relevant  bool    `json:"relevant"`
}

// reduceResponse is the JSON shape of the synthesis step.
type reduceResponse struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

// Reduced is the synthesized outcome of a map-reduce pass.
type Reduced struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
}

// MapCommunities asks the LLM, per community summary, for a partial
// answer grounded in that summary. A failed community is skipped and
// counted, never fatal; communities that report themselves irrelevant
// are dropped from the partials.
func (a *Assembler) MapCommunities(ctx context.Context, question string, summaries []kg.CommunitySummary) ([]PartialAnswer, MapMeta, error) {
	ctx, span := tracer.Start(ctx, "community.MapCommunities")
	defer span.End()
	span.SetAttributes(attribute.Int("community.map_targets", len(summaries)))

	meta := MapMeta{CommunitiesAsked: len(summaries)}
	var mu sync.Mutex
	var partials []PartialAnswer

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(mapConcurrency)
	for _, summary := range summaries {
		summary := summary
		g.Go(func() error {
			prompt, err := renderTemplate(mapTmpl, struct {
				Question    string
				Title       string
				MemberCount int
				Summary     string
				KeyEntities string
			}{question, summary.Title, summary.MemberCount, summary.Summary,
				strings.Join(summary.KeyEntities, ", ")})
			if err != nil {
				mu.Lock()
				meta.Failed++
				mu.Unlock()
				return nil
			}

			var resp mapResponse
			if err := a.llm.GenerateJSON(ctx, prompt, &resp); err != nil {
				a.logger.Warn("community map call failed, skipping",
					"community_id", summary.CommunityID, "error", err)
				mu.Lock()
				meta.Failed++
				mu.Unlock()
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			if !resp.Relevant || strings.TrimSpace(resp.Answer) == "" {
				meta.Irrelevant++
				return nil
			}
			partials = append(partials, PartialAnswer{
				CommunityID:    summary.CommunityID,
				CommunityTitle: summary.Title,
				Answer:         resp.Answer,
				Relevance:      resp.Relevance,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, meta, err
	}

	sort.Slice(partials, func(i, j int) bool { return partials[i].Relevance > partials[j].Relevance })
	span.SetAttributes(
		attribute.Int("community.partials", len(partials)),
		attribute.Int("community.map_failed", meta.Failed),
	)
	return partials, meta, nil
}

// ReducePartialAnswers synthesizes partial answers into one answer with
// aggregated sources and a confidence score. An empty partial list
// reduces to the fixed no-information answer with confidence zero.
func (a *Assembler) ReducePartialAnswers(ctx context.Context, question string, partials []PartialAnswer) (Reduced, error) {
	ctx, span := tracer.Start(ctx, "community.ReducePartialAnswers")
	defer span.End()
	span.SetAttributes(attribute.Int("community.partials", len(partials)))

	if len(partials) == 0 {
		return Reduced{Answer: NoRelevantInformation, Sources: []string{}, Confidence: 0}, nil
	}

	prompt, err := renderTemplate(reduceTmpl, struct {
		Question string
		Partials []PartialAnswer
	}{question, partials})
	if err != nil {
		return Reduced{}, err
	}

	var resp reduceResponse
	if err := a.llm.GenerateJSON(ctx, prompt, &resp); err != nil {
		return Reduced{}, err
	}

	sources := make([]string, 0, len(partials))
	for _, p := range partials {
		sources = append(sources, p.CommunityID)
	}
	return Reduced{
		Answer:     strings.TrimSpace(resp.Answer),
		Sources:    sources,
		Confidence: resp.Confidence,
	}, nil
}
