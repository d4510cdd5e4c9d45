// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator composes the resolution cache, temporal layer,
// trimming engine, community assembler, and the external search and
// LLM collaborators into the end-to-end answer pipeline.
package orchestrator

import "time"

// PersonaService biases retrieval and phrasing toward a user archetype.
// Implementations are external; NopPersona is the neutral default.
type PersonaService interface {
	// CalculateEntityScore re-scores an entity's expansion priority.
	CalculateEntityScore(persona, entityType string, priorScore, importance float64) float64

	// GetPromptHint returns a persona-specific prompt preamble, or ""
	// when the persona has none.
	GetPromptHint(persona string) string

	// GetRelationshipWeight weights a relationship type for the
	// persona.
	GetRelationshipWeight(persona, relationshipType string) float64
}

// NopPersona applies no persona weighting.
type NopPersona struct{}

func (NopPersona) CalculateEntityScore(_, _ string, priorScore, importance float64) float64 {
	return priorScore + importance
}

func (NopPersona) GetPromptHint(string) string { return "" }

func (NopPersona) GetRelationshipWeight(string, string) float64 { return 1.0 }

// LatencyBudget supplies the per-query time budget. Retry and backoff
// live behind the external circuit breaker, never here.
type LatencyBudget interface {
	BudgetFor(question string) time.Duration
}

// StaticBudget is a fixed per-query budget.
type StaticBudget time.Duration

func (b StaticBudget) BudgetFor(string) time.Duration { return time.Duration(b) }
