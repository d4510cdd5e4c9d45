// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

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

// =============================================================================
// Fakes
// =============================================================================

// scriptedLLM answers each pipeline prompt from a canned script keyed
// on the prompt's leading instruction line.
type scriptedLLM struct {
	mu sync.Mutex

	extracted      []string
	failExtraction bool

	chatReply string
	chatErr   error
	chatCalls int
}

func (l *scriptedLLM) Chat(_ context.Context, _ []llm.Message, _ llm.GenerationParams) (string, error) {
	l.mu.Lock()
	l.chatCalls++
	l.mu.Unlock()
	if l.chatErr != nil {
		return "", l.chatErr
	}
	return l.chatReply, nil
}

func (l *scriptedLLM) GenerateJSON(_ context.Context, prompt string, out any) error {
	var payload string
	switch {
	case strings.Contains(prompt, "Extract the named entities"):
		if l.failExtraction {
			return errors.New("model unavailable")
		}
		raw, err := json.Marshal(map[string]any{"entities": l.extracted})
		if err != nil {
			return err
		}
		payload = string(raw)
	case strings.Contains(prompt, "You are summarizing one community"):
		payload = `{"title": "Acme Cluster", "summary": "Acme and the products it builds.", "keyEntities": ["Acme"]}`
	case strings.Contains(prompt, "You are answering a question using one community"):
		payload = `{"answer": "Acme builds widgets.", "relevance": 0.8, "relevant": true}`
	case strings.Contains(prompt, "You are synthesizing one final answer"):
		payload = `{"answer": "Overall, Acme builds widgets.", "confidence": 0.77}`
	default:
		return fmt.Errorf("unscripted prompt: %.60s", prompt)
	}
	return json.Unmarshal([]byte(payload), out)
}

func (l *scriptedLLM) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

// staticDetector returns a fixed partition.
type staticDetector struct {
	partition     kg.Partition
	err           error
	globalCalls   int
	subgraphCalls int
}

func (d *staticDetector) DetectCommunities(context.Context, []kg.Entity, []kg.Relationship) (kg.Partition, error) {
	d.globalCalls++
	return d.partition, d.err
}

func (d *staticDetector) DetectSubgraphCommunities(context.Context, []kg.Entity, []kg.Relationship) (kg.Partition, error) {
	d.subgraphCalls++
	return d.partition, d.err
}

// countingStore counts name lookups on its way through to a memory
// store.
type countingStore struct {
	inner     *graphstore.MemoryStore
	nameCalls int
}

func (s *countingStore) FindByID(ctx context.Context, id string) (kg.Entity, bool, error) {
	return s.inner.FindByID(ctx, id)
}

func (s *countingStore) FindByName(ctx context.Context, name string) (kg.Entity, bool, error) {
	s.nameCalls++
	return s.inner.FindByName(ctx, name)
}

func (s *countingStore) AllEntities(ctx context.Context) ([]kg.Entity, error) {
	return s.inner.AllEntities(ctx)
}

func (s *countingStore) AllRelationships(ctx context.Context) ([]kg.Relationship, error) {
	return s.inner.AllRelationships(ctx)
}

func (s *countingStore) Neighbors(ctx context.Context, id string, direction graphstore.Direction) ([]graphstore.NeighborRecord, error) {
	return s.inner.Neighbors(ctx, id, direction)
}

// unavailableIndex simulates a degraded search backend.
type unavailableIndex struct{}

func (unavailableIndex) Search(context.Context, string, trimming.SearchFilter, int) ([]kg.Passage, error) {
	return nil, errors.New("index offline")
}

func (unavailableIndex) Available() bool { return false }

// =============================================================================
// Fixtures
// =============================================================================

func buildGraph() *graphstore.MemoryStore {
	store := graphstore.NewMemoryStore()
	store.AddEntity(kg.Entity{
		ID: "acme", Name: "Acme", Type: "organization", Importance: 0.9,
		Access: kg.AccessAttributes{Classification: kg.ClassificationInternal},
	})
	store.AddEntity(kg.Entity{
		ID: "widget", Name: "Widget", Type: "product", Importance: 0.5,
		Access: kg.AccessAttributes{Classification: kg.ClassificationInternal},
	})
	store.AddEntity(kg.Entity{
		ID: "skunk", Name: "Skunkworks", Type: "project", Importance: 0.7,
		Access: kg.AccessAttributes{Classification: kg.ClassificationRestricted},
	})
	store.AddRelationship(kg.Relationship{From: "acme", To: "widget", Type: "produces"})
	store.AddRelationship(kg.Relationship{From: "acme", To: "skunk", Type: "runs"})
	return store
}

func readerAccess() kg.AccessContext {
	return kg.AccessContext{UserID: "u1", Roles: []string{"reader"}}
}

func clusterPartition() kg.Partition {
	return kg.Partition{
		Assignments: map[string]string{"acme": "c1", "widget": "c1", "skunk": "c2"},
		Communities: []kg.Community{
			{ID: "c1", Members: []string{"acme", "widget"}, Size: 2},
			{ID: "c2", Members: []string{"skunk"}, Size: 1},
		},
	}
}

// weightedPersona scores by importance and weights relationship types
// from a fixed table. Unlisted types keep the neutral weight.
type weightedPersona struct {
	weights map[string]float64
	hint    string
}

func (p *weightedPersona) CalculateEntityScore(_, _ string, priorScore, importance float64) float64 {
	return priorScore + importance
}

func (p *weightedPersona) GetPromptHint(string) string { return p.hint }

func (p *weightedPersona) GetRelationshipWeight(_, relationshipType string) float64 {
	if w, ok := p.weights[relationshipType]; ok {
		return w
	}
	return 1.0
}

type serviceOptions struct {
	llm      *scriptedLLM
	store    graphstore.Store
	detector community.Detector
	index    search.Index
	budget   LatencyBudget
	persona  PersonaService
}

func newTestService(t *testing.T, opts serviceOptions) *Service {
	t.Helper()
	if opts.store == nil {
		opts.store = buildGraph()
	}
	cfg := Config{
		Store:      opts.store,
		LLM:        opts.llm,
		Temporal:   temporal.NewService(opts.store, nil),
		Trimming:   trimming.NewEngine(trimming.DefaultConfig()),
		Resolution: resolution.NewCache(resolution.DefaultConfig()),
		Detector:   opts.detector,
		Index:      opts.index,
		Budget:     opts.budget,
		Persona:    opts.persona,
	}
	if opts.detector != nil {
		cache := community.NewSummaryCache(community.DefaultCacheConfig())
		cfg.Assembler = community.NewAssembler(cache, opts.llm, nil)
	}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func hasStage(stages []string, stage string) bool {
	for _, s := range stages {
		if s == stage {
			return true
		}
	}
	return false
}

// =============================================================================
// Tests
// =============================================================================

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := NewService(Config{})
	if err == nil {
		t.Fatal("NewService(Config{}) error = nil, want missing-store error")
	}
}

func TestAnswerLocal(t *testing.T) {
	model := &scriptedLLM{
		extracted: []string{"Acme"},
		chatReply: "Acme produces the Widget line.",
	}
	detector := &staticDetector{partition: clusterPartition()}
	index := search.NewStaticIndex([]kg.Passage{
		{
			ID: "p1", Title: "Handbook", Text: "Acme produces widgets.", Source: "handbook.pdf",
			Access: kg.AccessAttributes{Classification: kg.ClassificationInternal},
		},
	})
	svc := newTestService(t, serviceOptions{llm: model, detector: detector, index: index})

	resp, err := svc.Answer(context.Background(), datatypes.QueryRequest{
		Question: "What does Acme produce?",
		Access:   readerAccess(),
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Answer != model.chatReply {
		t.Errorf("Answer = %q, want %q", resp.Answer, model.chatReply)
	}
	if len(resp.Metadata.DegradedStages) != 0 {
		t.Errorf("DegradedStages = %v, want none", resp.Metadata.DegradedStages)
	}

	gotIDs := make(map[string]bool)
	for _, e := range resp.Entities {
		gotIDs[e.ID] = true
	}
	if !gotIDs["acme"] || !gotIDs["widget"] {
		t.Errorf("entities = %v, want acme and widget", gotIDs)
	}
	if gotIDs["skunk"] {
		t.Error("restricted entity skunk visible to reader")
	}
	if len(resp.Relationships) != 1 || resp.Relationships[0].Type != "produces" {
		t.Errorf("relationships = %v, want single produces edge", resp.Relationships)
	}
	if len(resp.Passages) != 1 {
		t.Errorf("passages = %d, want 1", len(resp.Passages))
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != "handbook.pdf" {
		t.Errorf("sources = %v, want [handbook.pdf]", resp.Sources)
	}
	if !resp.Metadata.CommunityContextUsed || len(resp.Summaries) != 1 {
		t.Errorf("community context used = %v with %d summaries, want true with 1",
			resp.Metadata.CommunityContextUsed, len(resp.Summaries))
	}
	if detector.subgraphCalls != 1 {
		t.Errorf("subgraph detections = %d, want 1", detector.subgraphCalls)
	}
	if resp.Confidence < 0.5 {
		t.Errorf("Confidence = %v, want >= 0.5 for a clean run", resp.Confidence)
	}
}

func TestAnswerRejectsInvalidInput(t *testing.T) {
	svc := newTestService(t, serviceOptions{llm: &scriptedLLM{chatReply: "x"}})

	cases := []struct {
		name string
		req  datatypes.QueryRequest
	}{
		{"empty question", datatypes.QueryRequest{Access: readerAccess()}},
		{"missing user", datatypes.QueryRequest{Question: "hi", Access: kg.AccessContext{Roles: []string{"reader"}}}},
		{"bad timestamp", datatypes.QueryRequest{Question: "hi", Access: readerAccess(), At: "not-a-time"}},
		{"bad mode", datatypes.QueryRequest{Question: "hi", Access: readerAccess(), Mode: "sideways"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Answer(context.Background(), tc.req); err == nil {
				t.Error("Answer() error = nil, want validation error")
			}
		})
	}
}

func TestAnswerExtractionFailureDegrades(t *testing.T) {
	model := &scriptedLLM{failExtraction: true, chatReply: "I do not have enough context."}
	svc := newTestService(t, serviceOptions{llm: model})

	resp, err := svc.Answer(context.Background(), datatypes.QueryRequest{
		Question: "What does Acme produce?",
		Access:   readerAccess(),
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !hasStage(resp.Metadata.DegradedStages, "entity_extraction") {
		t.Errorf("DegradedStages = %v, want entity_extraction", resp.Metadata.DegradedStages)
	}
	if resp.Answer != model.chatReply {
		t.Errorf("Answer = %q, want the degraded-context reply", resp.Answer)
	}
	if resp.Confidence != 0.1 {
		t.Errorf("Confidence = %v, want 0.1 with no context at all", resp.Confidence)
	}
}

func TestAnswerSearchUnavailableDegrades(t *testing.T) {
	model := &scriptedLLM{extracted: []string{"Acme"}, chatReply: "graph answer"}
	svc := newTestService(t, serviceOptions{llm: model, index: unavailableIndex{}})

	resp, err := svc.Answer(context.Background(), datatypes.QueryRequest{
		Question: "What does Acme produce?",
		Access:   readerAccess(),
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !hasStage(resp.Metadata.DegradedStages, "passage_search") {
		t.Errorf("DegradedStages = %v, want passage_search", resp.Metadata.DegradedStages)
	}
	if len(resp.Passages) != 0 {
		t.Errorf("passages = %d, want 0 from an offline index", len(resp.Passages))
	}
	if resp.Answer != model.chatReply {
		t.Errorf("Answer = %q, want graph-only reply", resp.Answer)
	}
}

func TestAnswerSynthesisFailure(t *testing.T) {
	model := &scriptedLLM{extracted: []string{"Acme"}, chatErr: errors.New("model timeout")}
	svc := newTestService(t, serviceOptions{llm: model})

	resp, err := svc.Answer(context.Background(), datatypes.QueryRequest{
		Question: "What does Acme produce?",
		Access:   readerAccess(),
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !hasStage(resp.Metadata.DegradedStages, "answer_synthesis") {
		t.Errorf("DegradedStages = %v, want answer_synthesis", resp.Metadata.DegradedStages)
	}
	if resp.Answer != synthesisFailedAnswer {
		t.Errorf("Answer = %q, want the synthesis fallback", resp.Answer)
	}
	if resp.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", resp.Confidence)
	}
	if len(resp.Entities) == 0 {
		t.Error("entities empty, want retrieved context attached to the fallback")
	}
}

func TestAnswerBudgetExpiry(t *testing.T) {
	model := &scriptedLLM{extracted: []string{"Acme"}, chatReply: "should not be used"}
	svc := newTestService(t, serviceOptions{llm: model, budget: StaticBudget(time.Nanosecond)})

	resp, err := svc.Answer(context.Background(), datatypes.QueryRequest{
		Question: "What does Acme produce?",
		Access:   readerAccess(),
	})
	if err != nil {
		t.Fatalf("Answer() error = %v, want degraded response instead", err)
	}
	if resp.Answer != budgetExpiredAnswer {
		t.Errorf("Answer = %q, want the budget-expired notice", resp.Answer)
	}
	if !hasStage(resp.Metadata.DegradedStages, "deadline") {
		t.Errorf("DegradedStages = %v, want deadline", resp.Metadata.DegradedStages)
	}
	if resp.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", resp.Confidence)
	}
}

func TestAnswerCachesNegativeResolution(t *testing.T) {
	store := &countingStore{inner: buildGraph()}
	model := &scriptedLLM{extracted: []string{"Ghost Corp"}, chatReply: "no such company"}
	svc := newTestService(t, serviceOptions{llm: model, store: store})

	req := datatypes.QueryRequest{Question: "Who is Ghost Corp?", Access: readerAccess()}
	for i := 0; i < 2; i++ {
		if _, err := svc.Answer(context.Background(), req); err != nil {
			t.Fatalf("Answer() #%d error = %v", i+1, err)
		}
	}
	if store.nameCalls != 1 {
		t.Errorf("FindByName calls = %d, want 1 (second lookup served by the negative cache)", store.nameCalls)
	}
}

func TestAnswerGlobal(t *testing.T) {
	model := &scriptedLLM{chatReply: "unused in global mode"}
	detector := &staticDetector{partition: clusterPartition()}
	svc := newTestService(t, serviceOptions{llm: model, detector: detector})

	resp, err := svc.Answer(context.Background(), datatypes.QueryRequest{
		Question: "What are the main themes across the graph?",
		Access:   readerAccess(),
		Mode:     datatypes.ModeGlobal,
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if detector.globalCalls != 1 {
		t.Errorf("global detections = %d, want 1", detector.globalCalls)
	}
	if resp.Answer != "Overall, Acme builds widgets." {
		t.Errorf("Answer = %q, want the synthesized reduce output", resp.Answer)
	}
	if resp.Confidence != 0.77 {
		t.Errorf("Confidence = %v, want 0.77", resp.Confidence)
	}
	// The restricted community c2 is trimmed out of the admitted
	// subgraph, so only c1 contributes a partial answer.
	if len(resp.Sources) != 1 || resp.Sources[0] != "c1" {
		t.Errorf("Sources = %v, want [c1]", resp.Sources)
	}
	if !resp.Metadata.CommunityContextUsed {
		t.Error("CommunityContextUsed = false, want true")
	}
	if model.chatCalls != 0 {
		t.Errorf("Chat calls = %d, want 0 in global mode", model.chatCalls)
	}
}

func TestAnswerPinnedTimestamp(t *testing.T) {
	store := graphstore.NewMemoryStore()
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store.AddEntity(kg.Entity{
		ID: "acme", Name: "Acme", Type: "organization", ValidFrom: &from,
		Access: kg.AccessAttributes{Classification: kg.ClassificationInternal},
	})
	model := &scriptedLLM{extracted: []string{"Acme"}, chatReply: "nothing yet"}
	svc := newTestService(t, serviceOptions{llm: model, store: store})

	resp, err := svc.Answer(context.Background(), datatypes.QueryRequest{
		Question: "What was Acme in early 2024?",
		Access:   readerAccess(),
		At:       "2024-01-15",
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(resp.Entities) != 0 {
		t.Errorf("entities = %v, want none before Acme's validity window", resp.Entities)
	}
	if len(resp.Metadata.InvalidSeeds) != 1 {
		t.Fatalf("InvalidSeeds = %v, want the pre-validity seed recorded", resp.Metadata.InvalidSeeds)
	}
	if got := resp.Metadata.InvalidSeeds[0].Reason; got != string(temporal.SourceNotValid) {
		t.Errorf("InvalidSeeds[0].Reason = %q, want %q", got, temporal.SourceNotValid)
	}
	want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if !resp.Metadata.At.Equal(want) {
		t.Errorf("Metadata.At = %v, want %v", resp.Metadata.At, want)
	}
}

func TestAnswerPersonaWeighsRelationships(t *testing.T) {
	store := graphstore.NewMemoryStore()
	internal := kg.AccessAttributes{Classification: kg.ClassificationInternal}
	store.AddEntity(kg.Entity{ID: "acme", Name: "Acme", Type: "organization", Access: internal})
	store.AddEntity(kg.Entity{ID: "widget", Name: "Widget", Type: "product", Access: internal})
	store.AddEntity(kg.Entity{ID: "depot", Name: "Depot", Type: "facility", Access: internal})
	store.AddEntity(kg.Entity{ID: "fax", Name: "Fax Gateway", Type: "system", Access: internal})
	store.AddRelationship(kg.Relationship{From: "acme", To: "widget", Type: "produces"})
	store.AddRelationship(kg.Relationship{From: "acme", To: "depot", Type: "stores_at"})
	store.AddRelationship(kg.Relationship{From: "acme", To: "fax", Type: "deprecated_link"})

	model := &scriptedLLM{extracted: []string{"Acme"}, chatReply: "Acme stores widgets at the depot."}
	persona := &weightedPersona{weights: map[string]float64{
		"stores_at":       2.0,
		"produces":        0.5,
		"deprecated_link": 0,
	}}
	svc := newTestService(t, serviceOptions{llm: model, store: store, persona: persona})

	resp, err := svc.Answer(context.Background(), datatypes.QueryRequest{
		Question: "Where does Acme keep its inventory?",
		Access:   readerAccess(),
		Persona:  "logistics",
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(resp.Relationships) != 2 {
		t.Fatalf("relationships = %v, want the zero-weight edge suppressed", resp.Relationships)
	}
	if resp.Relationships[0].Type != "stores_at" || resp.Relationships[1].Type != "produces" {
		t.Errorf("relationship order = [%s, %s], want heaviest type first",
			resp.Relationships[0].Type, resp.Relationships[1].Type)
	}
	for _, r := range resp.Relationships {
		if r.Type == "deprecated_link" {
			t.Errorf("zero-weight relationship %s/%s survived trimming", r.From, r.To)
		}
	}
}
