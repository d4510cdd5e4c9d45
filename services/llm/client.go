// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm defines the narrow interface the Lattice core uses to
// talk to a completion/embedding service, plus OpenAI- and
// Ollama-backed implementations.
//
// The core never retries LLM calls itself; retry/backoff belongs to the
// external circuit-breaker collaborator. Implementations must respect
// context cancellation so stage budgets propagate.
package llm

import "context"

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams tunes a single completion call. Nil fields use the
// backend's defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Client defines the standard interface for any LLM backend.
//
// Thread Safety: implementations must be safe for concurrent use; the
// community assembler fans calls out across communities.
type Client interface {
	// Chat runs a chat completion over the given messages and returns
	// the assistant's reply text.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// GenerateJSON runs a completion constrained to JSON output and
	// unmarshals the result into out. Implementations should tolerate
	// models that wrap JSON in markdown fences.
	GenerateJSON(ctx context.Context, prompt string, out any) error

	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}
