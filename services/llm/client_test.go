// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStripJSONFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"plain fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounding whitespace", "  \n```json\n{\"a\": 1}\n```\n ", `{"a": 1}`},
		{"no closing fence", "```json\n{\"a\": 1}", `{"a": 1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripJSONFences(tc.in); got != tc.want {
				t.Errorf("StripJSONFences(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func newOllamaTestServer(t *testing.T, content string) (*httptest.Server, *OllamaClient) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		resp := ollamaChatResponse{
			Message: Message{Role: "assistant", Content: content},
			Done:    true,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	client := &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    srv.URL,
		model:      "test-model",
	}
	return srv, client
}

func TestOllamaChat(t *testing.T) {
	_, client := newOllamaTestServer(t, "hello there")

	got, err := client.Chat(context.Background(), []Message{
		{Role: "user", Content: "hi"},
	}, GenerationParams{})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if got != "hello there" {
		t.Errorf("Chat() = %q, want %q", got, "hello there")
	}
}

func TestOllamaGenerateJSONToleratesFences(t *testing.T) {
	_, client := newOllamaTestServer(t, "```json\n{\"entities\": [\"Acme\"]}\n```")

	var out struct {
		Entities []string `json:"entities"`
	}
	if err := client.GenerateJSON(context.Background(), "extract", &out); err != nil {
		t.Fatalf("GenerateJSON() error = %v", err)
	}
	if len(out.Entities) != 1 || out.Entities[0] != "Acme" {
		t.Errorf("entities = %v, want [Acme]", out.Entities)
	}
}

func TestOllamaGenerateJSONMalformed(t *testing.T) {
	_, client := newOllamaTestServer(t, "not json at all")

	var out map[string]any
	if err := client.GenerateJSON(context.Background(), "extract", &out); err == nil {
		t.Error("GenerateJSON() error = nil, want parse error")
	}
}
