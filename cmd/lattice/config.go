// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/latticeworks/lattice/pkg/kg"
)

// Config is the CLI's config.yaml shape. Every section has a working
// default so a missing file still yields a usable in-memory stack.
type Config struct {
	Graph     GraphConfig     `yaml:"graph"`
	Search    SearchConfig    `yaml:"search"`
	LLM       LLMConfig       `yaml:"llm"`
	Community CommunityConfig `yaml:"community"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`

	// FlagsFile points at the feature-flag YAML. When set, the file is
	// watched and flag changes apply without a restart.
	FlagsFile string `yaml:"flagsFile"`
}

// GraphConfig selects the graph backend.
type GraphConfig struct {
	// Backend is "memory" or "neo4j".
	Backend  string `yaml:"backend"`
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Fixture is a JSON file of entities, relationships, and passages
	// loaded into the memory backend.
	Fixture string `yaml:"fixture"`
}

// SearchConfig selects the passage search backend.
type SearchConfig struct {
	// Backend is "weaviate", "fixture", or "off".
	Backend string `yaml:"backend"`
	Host    string `yaml:"host"`
	Scheme  string `yaml:"scheme"`
}

// LLMConfig selects the model backend. Credentials and model names
// come from the backend's environment variables.
type LLMConfig struct {
	// Backend is "openai" or "ollama".
	Backend string `yaml:"backend"`
}

// CommunityConfig controls community summary persistence.
type CommunityConfig struct {
	// SummariesPath is the badger directory for persisted summaries.
	// Empty uses an in-memory store.
	SummariesPath string `yaml:"summariesPath"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	// OTLPEndpoint is the collector's gRPC endpoint. Empty disables
	// export.
	OTLPEndpoint string `yaml:"otlpEndpoint"`
}

// LoggingConfig mirrors pkg/logging.Config.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

func defaultConfig() Config {
	return Config{
		Graph:  GraphConfig{Backend: "memory"},
		Search: SearchConfig{Backend: "fixture", Scheme: "http"},
		LLM:    LLMConfig{Backend: "ollama"},
	}
}

// loadConfig reads a config file, filling gaps from defaults. A
// missing file is not an error; a malformed one is.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Fixture is the JSON shape of a demo graph file.
type Fixture struct {
	Entities      []kg.Entity       `json:"entities"`
	Relationships []kg.Relationship `json:"relationships"`
	Passages      []kg.Passage      `json:"passages"`
}

func loadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture: %w", err)
	}
	var fixture Fixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture: %w", err)
	}
	return fixture, nil
}
