// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/latticeworks/lattice/pkg/flags"
	"github.com/latticeworks/lattice/pkg/kg"
	"github.com/latticeworks/lattice/services/community"
	"github.com/latticeworks/lattice/services/graphstore"
	"github.com/latticeworks/lattice/services/llm"
	"github.com/latticeworks/lattice/services/orchestrator/datatypes"
	"github.com/latticeworks/lattice/services/resolution"
	"github.com/latticeworks/lattice/services/search"
	"github.com/latticeworks/lattice/services/temporal"
	"github.com/latticeworks/lattice/services/trimming"
)

var tracer = otel.Tracer("lattice.orchestrator")

// =============================================================================
// Stage names
// =============================================================================

// Stage labels recorded in ResponseMetadata.DegradedStages and in the
// degraded-stage counter. A listed stage failed and was skipped; the
// query still produced a structured answer.
const (
	stageExtraction = "entity_extraction"
	stageResolution = "entity_resolution"
	stageTraversal  = "graph_traversal"
	stageSearch     = "passage_search"
	stageCommunity  = "community_context"
	stageSynthesis  = "answer_synthesis"
	stageDeadline   = "deadline"
)

// budgetExpiredAnswer is returned when the time budget runs out before
// answer generation. The assembled context still ships with it.
const budgetExpiredAnswer = "The time budget for this query expired before an answer could be generated. The retrieved context is attached."

// synthesisFailedAnswer is returned when the final generation call
// fails after retrieval succeeded.
const synthesisFailedAnswer = "An answer could not be generated for this question. The retrieved context is attached."

// =============================================================================
// Service
// =============================================================================

// Config wires the pipeline's collaborators. Store, LLM, Temporal, and
// Trimming are required; everything else has a working default.
type Config struct {
	Store    graphstore.Store
	LLM      llm.Client
	Temporal *temporal.Service
	Trimming *trimming.Engine

	// Resolution defaults to a disabled cache.
	Resolution *resolution.Cache

	// Detector and Assembler enable community context. Leaving either
	// nil turns the community stage off.
	Detector  community.Detector
	Assembler *community.Assembler

	// Index enables the passage search stage. Nil skips it silently;
	// a wired but unavailable index degrades instead.
	Index search.Index

	// Persona defaults to NopPersona.
	Persona PersonaService

	// Budget overrides the feature-flag query budget when it returns a
	// positive duration.
	Budget LatencyBudget

	// Flags defaults to a static store of flag defaults.
	Flags *flags.Store

	// Metrics enables prometheus instrumentation. Nil disables it.
	Metrics prometheus.Registerer

	Logger *slog.Logger
}

// Service runs the answer pipeline: extract, resolve, expand, trim,
// search, assemble community context, generate.
//
// Thread Safety: safe for concurrent use.
type Service struct {
	store      graphstore.Store
	llm        llm.Client
	temporal   *temporal.Service
	trimming   *trimming.Engine
	resolution *resolution.Cache
	detector   community.Detector
	assembler  *community.Assembler
	index      search.Index
	persona    PersonaService
	budget     LatencyBudget
	flags      *flags.Store
	metrics    *pipelineMetrics
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewService validates the wiring and constructs a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("orchestrator: graph store is required")
	}
	if cfg.LLM == nil {
		return nil, errors.New("orchestrator: llm client is required")
	}
	if cfg.Temporal == nil {
		return nil, errors.New("orchestrator: temporal service is required")
	}
	if cfg.Trimming == nil {
		return nil, errors.New("orchestrator: trimming engine is required")
	}
	if cfg.Resolution == nil {
		cfg.Resolution = resolution.NewCache(resolution.Config{})
	}
	if cfg.Persona == nil {
		cfg.Persona = NopPersona{}
	}
	if cfg.Flags == nil {
		cfg.Flags = flags.NewStore(flags.Defaults())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:      cfg.Store,
		llm:        cfg.LLM,
		temporal:   cfg.Temporal,
		trimming:   cfg.Trimming,
		resolution: cfg.Resolution,
		detector:   cfg.Detector,
		assembler:  cfg.Assembler,
		index:      cfg.Index,
		persona:    cfg.Persona,
		budget:     cfg.Budget,
		flags:      cfg.Flags,
		metrics:    newPipelineMetrics(cfg.Metrics),
		validate:   validator.New(),
		logger:     cfg.Logger.With("component", "orchestrator"),
	}, nil
}

// =============================================================================
// Entry point
// =============================================================================

// Answer runs one query through the pipeline. Invalid input is the
// only error path; every downstream failure degrades the response
// instead, with the skipped stage recorded in the metadata.
func (s *Service) Answer(ctx context.Context, req datatypes.QueryRequest) (datatypes.QueryResponse, error) {
	start := time.Now()
	mode := req.Mode
	if mode == "" {
		mode = datatypes.ModeLocal
	}

	queryID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "orchestrator.Answer")
	defer span.End()
	span.SetAttributes(
		attribute.String("query.id", queryID),
		attribute.String("query.mode", string(mode)),
		attribute.String("query.user", req.Access.UserID),
	)
	logger := s.logger.With("query_id", queryID)
	logger.Info("answering query", "mode", string(mode), "user", req.Access.UserID)

	if err := s.validate.Struct(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid query")
		s.metrics.observeQuery(string(mode), "invalid", time.Since(start))
		return datatypes.QueryResponse{}, fmt.Errorf("invalid query: %w", err)
	}
	if req.Access.UserID == "" {
		err := errors.New("invalid query: access user id is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid query")
		s.metrics.observeQuery(string(mode), "invalid", time.Since(start))
		return datatypes.QueryResponse{}, err
	}

	at := time.Now()
	if req.At != "" {
		parsed, err := temporal.ParseTime(req.At)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid timestamp")
			s.metrics.observeQuery(string(mode), "invalid", time.Since(start))
			return datatypes.QueryResponse{}, fmt.Errorf("invalid query: %w", err)
		}
		at = parsed
	}

	snap := s.flags.Current()
	if budget := s.budgetFor(req.Question, snap); budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	var resp datatypes.QueryResponse
	if mode == datatypes.ModeGlobal {
		resp = s.answerGlobal(ctx, req, at, snap)
	} else {
		resp = s.answerLocal(ctx, req, at, snap)
	}

	resp.Metadata.At = at
	resp.Metadata.Elapsed = time.Since(start)
	status := "ok"
	if len(resp.Metadata.DegradedStages) > 0 {
		status = "degraded"
	}
	span.SetAttributes(
		attribute.Int("query.degraded_stages", len(resp.Metadata.DegradedStages)),
		attribute.Int("query.entities", len(resp.Entities)),
	)
	s.metrics.observeQuery(string(mode), status, time.Since(start))
	return resp, nil
}

func (s *Service) budgetFor(question string, snap flags.Snapshot) time.Duration {
	if s.budget != nil {
		if b := s.budget.BudgetFor(question); b > 0 {
			return b
		}
	}
	return snap.QueryBudget
}

// =============================================================================
// Local mode
// =============================================================================

func (s *Service) answerLocal(ctx context.Context, req datatypes.QueryRequest, at time.Time, snap flags.Snapshot) datatypes.QueryResponse {
	ctx, span := tracer.Start(ctx, "orchestrator.answerLocal")
	defer span.End()

	meta := datatypes.ResponseMetadata{}
	degrade := func(stage string, err error) {
		meta.DegradedStages = append(meta.DegradedStages, stage)
		s.metrics.recordDegraded(stage)
		s.logger.Warn("pipeline stage degraded", "stage", stage, "error", err)
	}

	names, err := s.extractEntities(ctx, req.Question)
	if err != nil {
		degrade(stageExtraction, err)
	}

	seeds, resolutionDegraded := s.resolveSeeds(ctx, names)
	if resolutionDegraded {
		degrade(stageResolution, errors.New("one or more lookups failed"))
	}

	var traversal temporal.TraversalResult
	if len(seeds) > 0 {
		traversal, err = s.temporal.TraverseAt(ctx, seeds, at, temporal.TraverseOptions{
			MaxDepth:    snap.MaxTraversalDepth,
			MaxEntities: snap.MaxTraversalEntities,
		})
		if err != nil {
			degrade(stageTraversal, err)
			traversal = temporal.TraversalResult{}
		}
	}
	meta.Truncated = traversal.MaxDepthReached || traversal.MaxEntitiesReached
	for _, seed := range traversal.InvalidSeeds {
		meta.InvalidSeeds = append(meta.InvalidSeeds, datatypes.InvalidSeed{Name: seed.Name, Reason: string(seed.Reason)})
	}

	ranked := s.rankByPersona(req.Persona, traversal.Entities)

	entities, _ := s.trimming.FilterGraphEntities(ctx, ranked, req.Access)
	allowed := make(map[string]bool, len(entities))
	for _, e := range entities {
		allowed[e.ID] = true
	}
	relationships := s.weighRelationships(req.Persona, s.trimming.FilterGraphRelationships(traversal.Relationships, allowed))

	var passages []kg.Passage
	if s.index != nil && ctx.Err() == nil {
		if !s.index.Available() {
			degrade(stageSearch, errors.New("search index unavailable"))
		} else {
			filter := trimming.BuildSearchFilter(req.Access)
			hits, err := s.index.Search(ctx, req.Question, filter, snap.MaxSearchPassages)
			if err != nil {
				degrade(stageSearch, err)
			} else {
				passages, _ = s.trimming.FilterPassages(ctx, hits, req.Access)
			}
		}
	}

	includeCommunity := snap.CommunityContextEnabled
	if req.IncludeCommunity != nil {
		includeCommunity = *req.IncludeCommunity
	}
	maxSummaries := snap.MaxCommunitySummaries
	if req.MaxSummaries > 0 {
		maxSummaries = req.MaxSummaries
	}
	meta.SummaryCapApplied = maxSummaries

	var summaries []kg.CommunitySummary
	if includeCommunity && s.detector != nil && s.assembler != nil && len(entities) > 0 && ctx.Err() == nil {
		partition, err := s.detector.DetectSubgraphCommunities(ctx, entities, relationships)
		if err != nil {
			degrade(stageCommunity, err)
		} else {
			result, err := s.assembler.AssembleContext(ctx, partition, entities, relationships, maxSummaries)
			if err != nil {
				degrade(stageCommunity, err)
			} else {
				summaries = result.Summaries
				meta.CachedSummariesAvailable = result.CachedAvailable
				meta.SummaryCapApplied = result.CapApplied
				meta.CommunityContextUsed = len(summaries) > 0
			}
		}
	}

	resp := datatypes.QueryResponse{
		Entities:      entities,
		Relationships: relationships,
		Passages:      passages,
		Summaries:     summaries,
		Sources:       passageSources(passages),
	}

	if ctx.Err() != nil {
		degrade(stageDeadline, ctx.Err())
		resp.Answer = budgetExpiredAnswer
		resp.Confidence = 0
		resp.Metadata = meta
		return resp
	}

	answer, err := s.synthesize(ctx, req, entities, relationships, passages, summaries)
	if err != nil {
		degrade(stageSynthesis, err)
		resp.Answer = synthesisFailedAnswer
		resp.Confidence = 0
	} else {
		resp.Answer = answer
		resp.Confidence = confidenceFor(len(entities), len(passages), len(summaries), len(meta.DegradedStages))
	}
	resp.Metadata = meta
	return resp
}

// extractionResponse is the JSON shape of the entity extraction call.
type extractionResponse struct {
	Entities []string `json:"entities"`
}

func (s *Service) extractEntities(ctx context.Context, question string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.extractEntities")
	defer span.End()

	prompt, err := renderPrompt(extractionTmpl, struct{ Question string }{Question: question})
	if err != nil {
		return nil, err
	}
	var extracted extractionResponse
	if err := s.llm.GenerateJSON(ctx, prompt, &extracted); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		return nil, fmt.Errorf("extracting entities: %w", err)
	}
	span.SetAttributes(attribute.Int("extraction.count", len(extracted.Entities)))
	return extracted.Entities, nil
}

// resolveSeeds maps extracted names to canonical graph entities through
// the resolution cache. A not-found name is cached as a nil canonical
// entry so repeat questions skip the lookup. Lookup errors drop the
// name and mark the stage degraded rather than failing the query.
func (s *Service) resolveSeeds(ctx context.Context, names []string) ([]string, bool) {
	ctx, span := tracer.Start(ctx, "orchestrator.resolveSeeds")
	defer span.End()

	seeds := make([]string, 0, len(names))
	degraded := false
	for _, name := range names {
		if entity, ok := s.resolution.GetCanonicalEntity(name); ok {
			if entity != nil {
				seeds = append(seeds, entity.Name)
			}
			continue
		}
		entity, found, err := s.store.FindByName(ctx, name)
		if err != nil {
			s.logger.Warn("entity lookup failed", "name", name, "error", err)
			degraded = true
			continue
		}
		if !found {
			s.resolution.SetCanonicalEntity(name, nil)
			continue
		}
		s.resolution.SetCanonicalEntity(name, &entity)
		seeds = append(seeds, entity.Name)
	}
	span.SetAttributes(
		attribute.Int("resolution.requested", len(names)),
		attribute.Int("resolution.resolved", len(seeds)),
	)
	return seeds, degraded
}

// rankByPersona orders entities by the persona's expansion score,
// highest first. Ties break on id so the ordering is deterministic.
func (s *Service) rankByPersona(persona string, entities []kg.Entity) []kg.Entity {
	ranked := make([]kg.Entity, len(entities))
	copy(ranked, entities)
	scores := make(map[string]float64, len(ranked))
	for _, e := range ranked {
		scores[e.ID] = s.persona.CalculateEntityScore(persona, e.Type, 0, e.Importance)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if scores[ranked[i].ID] != scores[ranked[j].ID] {
			return scores[ranked[i].ID] > scores[ranked[j].ID]
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked
}

// weighRelationships orders trimmed edges by the persona's weight for
// their type, heaviest first. A non-positive weight drops the edge so
// a persona can suppress relationship types it never wants in context.
func (s *Service) weighRelationships(persona string, relationships []kg.Relationship) []kg.Relationship {
	weights := make(map[string]float64, len(relationships))
	kept := make([]kg.Relationship, 0, len(relationships))
	for _, r := range relationships {
		w, ok := weights[r.Type]
		if !ok {
			w = s.persona.GetRelationshipWeight(persona, r.Type)
			weights[r.Type] = w
		}
		if w <= 0 {
			continue
		}
		kept = append(kept, r)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return weights[kept[i].Type] > weights[kept[j].Type]
	})
	return kept
}

func (s *Service) synthesize(ctx context.Context, req datatypes.QueryRequest, entities []kg.Entity, relationships []kg.Relationship, passages []kg.Passage, summaries []kg.CommunitySummary) (string, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.synthesize")
	defer span.End()

	nameByID := make(map[string]string, len(entities))
	for _, e := range entities {
		nameByID[e.ID] = e.Name
	}
	lines := make([]relationshipLine, 0, len(relationships))
	for _, r := range relationships {
		lines = append(lines, relationshipLine{
			FromName: nameOrID(nameByID, r.From),
			ToName:   nameOrID(nameByID, r.To),
			Type:     r.Type,
		})
	}

	prompt, err := renderPrompt(answerTmpl, answerContext{
		Question:      req.Question,
		Entities:      entities,
		Relationships: lines,
		Passages:      passages,
		Summaries:     summaries,
	})
	if err != nil {
		return "", err
	}
	if hint := s.persona.GetPromptHint(req.Persona); hint != "" {
		prompt = hint + "\n\n" + prompt
	}

	temperature := float32(0.2)
	answer, err := s.llm.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You answer questions about an enterprise knowledge graph using only the supplied context."},
		{Role: "user", Content: prompt},
	}, llm.GenerationParams{Temperature: &temperature})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return "", fmt.Errorf("generating answer: %w", err)
	}
	return answer, nil
}

func nameOrID(nameByID map[string]string, id string) string {
	if name, ok := nameByID[id]; ok {
		return name
	}
	return id
}

func passageSources(passages []kg.Passage) []string {
	seen := make(map[string]bool, len(passages))
	sources := make([]string, 0, len(passages))
	for _, p := range passages {
		if p.Source == "" || seen[p.Source] {
			continue
		}
		seen[p.Source] = true
		sources = append(sources, p.Source)
	}
	return sources
}

// confidenceFor is a coarse self-assessment: empty context means the
// answer is a guess, and every degraded stage lowers trust in what
// context there is.
func confidenceFor(entities, passages, summaries, degraded int) float64 {
	if entities == 0 && passages == 0 && summaries == 0 {
		return 0.1
	}
	confidence := 0.9 - 0.15*float64(degraded)
	if confidence < 0.2 {
		confidence = 0.2
	}
	return confidence
}

// =============================================================================
// Global mode
// =============================================================================

// answerGlobal answers corpus-wide questions by map-reduce over
// community summaries of the temporally valid, access-trimmed graph.
func (s *Service) answerGlobal(ctx context.Context, req datatypes.QueryRequest, at time.Time, snap flags.Snapshot) datatypes.QueryResponse {
	ctx, span := tracer.Start(ctx, "orchestrator.answerGlobal")
	defer span.End()

	meta := datatypes.ResponseMetadata{}
	degrade := func(stage string, err error) {
		meta.DegradedStages = append(meta.DegradedStages, stage)
		s.metrics.recordDegraded(stage)
		s.logger.Warn("pipeline stage degraded", "stage", stage, "error", err)
	}
	noInfo := func() datatypes.QueryResponse {
		return datatypes.QueryResponse{
			Answer:   community.NoRelevantInformation,
			Metadata: meta,
		}
	}

	if s.detector == nil || s.assembler == nil {
		degrade(stageCommunity, errors.New("community collaborators not wired"))
		return noInfo()
	}

	snapshot, err := s.temporal.SnapshotAt(ctx, at, temporal.SnapshotOptions{})
	if err != nil {
		degrade(stageTraversal, err)
		return noInfo()
	}

	entities, _ := s.trimming.FilterGraphEntities(ctx, snapshot.Entities, req.Access)
	allowed := make(map[string]bool, len(entities))
	for _, e := range entities {
		allowed[e.ID] = true
	}
	relationships := s.trimming.FilterGraphRelationships(snapshot.Relationships, allowed)
	if len(entities) == 0 {
		return noInfo()
	}

	maxSummaries := snap.MaxCommunitySummaries
	if req.MaxSummaries > 0 {
		maxSummaries = req.MaxSummaries
	}
	meta.SummaryCapApplied = maxSummaries

	partition, err := s.detector.DetectCommunities(ctx, entities, relationships)
	if err != nil {
		degrade(stageCommunity, err)
		return noInfo()
	}
	result, err := s.assembler.AssembleContext(ctx, partition, entities, relationships, maxSummaries)
	if err != nil {
		degrade(stageCommunity, err)
		return noInfo()
	}
	meta.CachedSummariesAvailable = result.CachedAvailable
	meta.SummaryCapApplied = result.CapApplied
	meta.CommunityContextUsed = len(result.Summaries) > 0

	if ctx.Err() != nil {
		degrade(stageDeadline, ctx.Err())
		resp := noInfo()
		resp.Answer = budgetExpiredAnswer
		resp.Summaries = result.Summaries
		return resp
	}

	partials, mapMeta, err := s.assembler.MapCommunities(ctx, req.Question, result.Summaries)
	if err != nil {
		degrade(stageSynthesis, err)
		resp := noInfo()
		resp.Summaries = result.Summaries
		return resp
	}
	if mapMeta.Failed > 0 {
		degrade(stageCommunity, fmt.Errorf("%d of %d communities failed to answer", mapMeta.Failed, mapMeta.CommunitiesAsked))
	}

	reduced, err := s.assembler.ReducePartialAnswers(ctx, req.Question, partials)
	if err != nil {
		degrade(stageSynthesis, err)
		resp := noInfo()
		resp.Summaries = result.Summaries
		return resp
	}

	return datatypes.QueryResponse{
		Answer:     reduced.Answer,
		Confidence: reduced.Confidence,
		Summaries:  result.Summaries,
		Sources:    reduced.Sources,
		Metadata:   meta,
	}
}
