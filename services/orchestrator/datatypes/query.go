// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the request and response shapes of the
// query orchestrator.
package datatypes

import (
	"time"

	"github.com/latticeworks/lattice/pkg/kg"
)

// QueryMode selects the answering strategy.
type QueryMode string

const (
	// ModeLocal expands the graph around the question's entities.
	ModeLocal QueryMode = "local"

	// ModeGlobal answers broad questions by map-reduce over community
	// summaries instead of local graph expansion.
	ModeGlobal QueryMode = "global"
)

// QueryRequest is one question against the knowledge graph.
type QueryRequest struct {
	// Question is the natural-language question. Required.
	Question string `json:"question" validate:"required,min=1"`

	// Access is the identity the query runs as. A user id is required;
	// everything else may be empty.
	Access kg.AccessContext `json:"access" validate:"required"`

	// Persona optionally selects a weighting/prompt profile.
	Persona string `json:"persona,omitempty"`

	// At optionally pins the query to a point in time. Empty means now.
	// Malformed values are rejected before any external call.
	At string `json:"at,omitempty"`

	// Mode defaults to ModeLocal.
	Mode QueryMode `json:"mode,omitempty" validate:"omitempty,oneof=local global"`

	// IncludeCommunity toggles community context. Nil means the
	// feature-flag default (included).
	IncludeCommunity *bool `json:"includeCommunity,omitempty"`

	// MaxSummaries caps how many community summaries go into context.
	// Zero means the feature-flag default.
	MaxSummaries int `json:"maxSummaries,omitempty" validate:"gte=0,lte=50"`
}

// ResponseMetadata records how the answer was produced.
type ResponseMetadata struct {
	// CommunityContextUsed reports whether community summaries were in
	// the prompt context.
	CommunityContextUsed bool `json:"communityContextUsed"`

	// CachedSummariesAvailable counts the community summaries served
	// from cache rather than generated.
	CachedSummariesAvailable int `json:"cachedSummariesAvailable"`

	// SummaryCapApplied is the maxSummaries value actually in effect.
	SummaryCapApplied int `json:"summaryCapApplied"`

	// DegradedStages lists pipeline stages that failed and were
	// skipped instead of failing the query.
	DegradedStages []string `json:"degradedStages,omitempty"`

	// Truncated reports whether graph expansion hit a depth or entity
	// budget.
	Truncated bool `json:"truncated"`

	// InvalidSeeds lists extracted entities that could not anchor the
	// temporal traversal, with the reason.
	InvalidSeeds []InvalidSeed `json:"invalidSeeds,omitempty"`

	// At is the resolved point in time of the query.
	At time.Time `json:"at"`

	// Elapsed is the total processing time.
	Elapsed time.Duration `json:"elapsed"`
}

// InvalidSeed mirrors the temporal layer's per-seed failure record.
type InvalidSeed struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// QueryResponse is the structured answer. Security- and availability-
// related conditions produce a low-confidence or empty response, never
// an error.
type QueryResponse struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`

	Entities      []kg.Entity           `json:"entities,omitempty"`
	Relationships []kg.Relationship     `json:"relationships,omitempty"`
	Passages      []kg.Passage          `json:"passages,omitempty"`
	Summaries     []kg.CommunitySummary `json:"communitySummaries,omitempty"`
	Sources       []string              `json:"sources,omitempty"`

	Metadata ResponseMetadata `json:"metadata"`
}
