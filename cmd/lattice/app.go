// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/latticeworks/lattice/pkg/flags"
	"github.com/latticeworks/lattice/pkg/logging"
	"github.com/latticeworks/lattice/services/community"
	"github.com/latticeworks/lattice/services/graphstore"
	"github.com/latticeworks/lattice/services/llm"
	"github.com/latticeworks/lattice/services/orchestrator"
	"github.com/latticeworks/lattice/services/resolution"
	"github.com/latticeworks/lattice/services/search"
	"github.com/latticeworks/lattice/services/temporal"
	"github.com/latticeworks/lattice/services/trimming"
)

// app holds the wired service stack for one CLI invocation.
type app struct {
	config     Config
	logger     *logging.Logger
	store      graphstore.Store
	temporal   *temporal.Service
	resolution *resolution.Cache
	service    *orchestrator.Service

	cleanups []func()
}

// Close releases backends in reverse construction order.
func (a *app) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

// buildApp wires the graph store, LLM, search index, community stack,
// and orchestrator from config.
func buildApp(ctx context.Context, cfg Config) (*app, error) {
	a := &app{config: cfg}

	a.logger = logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "cli",
		JSON:    cfg.Logging.JSON,
	})
	a.cleanups = append(a.cleanups, func() { _ = a.logger.Close() })
	slogger := a.logger.Slog()

	if cfg.Telemetry.OTLPEndpoint != "" {
		cleanup, err := initTracer(ctx, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.cleanups = append(a.cleanups, func() { cleanup(context.Background()) })
	}

	snap := flags.Defaults()
	if cfg.FlagsFile != "" {
		loaded, err := flags.Load(cfg.FlagsFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		snap = loaded
	}
	flagStore := flags.NewStore(snap).WithLogger(slogger)
	if cfg.FlagsFile != "" {
		go func() {
			if err := flagStore.Watch(ctx, cfg.FlagsFile); err != nil {
				a.logger.Warn("flag watch stopped", "error", err)
			}
		}()
	}

	var fixture Fixture
	switch cfg.Graph.Backend {
	case "", "memory":
		memory := graphstore.NewMemoryStore()
		if cfg.Graph.Fixture != "" {
			loaded, err := loadFixture(cfg.Graph.Fixture)
			if err != nil {
				a.Close()
				return nil, err
			}
			fixture = loaded
			for _, e := range fixture.Entities {
				memory.AddEntity(e)
			}
			for _, r := range fixture.Relationships {
				memory.AddRelationship(r)
			}
		}
		a.store = memory
	case "neo4j":
		driver, err := neo4j.NewDriverWithContext(cfg.Graph.URI,
			neo4j.BasicAuth(cfg.Graph.Username, cfg.Graph.Password, ""))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect neo4j: %w", err)
		}
		a.cleanups = append(a.cleanups, func() { _ = driver.Close(context.Background()) })
		a.store = graphstore.NewNeo4jStore(driver)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown graph backend %q", cfg.Graph.Backend)
	}

	var model llm.Client
	var err error
	switch cfg.LLM.Backend {
	case "", "ollama":
		model, err = llm.NewOllamaClient()
	case "openai":
		model, err = llm.NewOpenAIClient()
	default:
		err = fmt.Errorf("unknown llm backend %q", cfg.LLM.Backend)
	}
	if err != nil {
		a.Close()
		return nil, err
	}

	var index search.Index
	switch cfg.Search.Backend {
	case "weaviate":
		client, err := weaviate.NewClient(weaviate.Config{
			Host:   cfg.Search.Host,
			Scheme: cfg.Search.Scheme,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect weaviate: %w", err)
		}
		index = search.NewWeaviateIndex(client, slogger)
	case "", "fixture":
		index = search.NewStaticIndex(fixture.Passages)
	case "off":
	default:
		a.Close()
		return nil, fmt.Errorf("unknown search backend %q", cfg.Search.Backend)
	}

	summaryStore, err := community.OpenSummaryStore(community.StoreConfig{
		Path:     cfg.Community.SummariesPath,
		InMemory: cfg.Community.SummariesPath == "",
		Logger:   slogger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cleanups = append(a.cleanups, func() { _ = summaryStore.Close() })
	summaryCache := community.NewSummaryCache(community.CacheConfig{
		TTL:    snap.SummaryTTL,
		Store:  summaryStore,
		Logger: slogger,
	})

	a.temporal = temporal.NewService(a.store, slogger)

	resolutionCfg := resolution.DefaultConfig()
	resolutionCfg.Enabled = snap.ResolutionCacheEnabled
	resolutionCfg.Metrics = resolution.NewMetrics(prometheus.DefaultRegisterer)
	resolutionCfg.Logger = slogger
	a.resolution = resolution.NewCache(resolutionCfg)

	a.service, err = orchestrator.NewService(orchestrator.Config{
		Store:      a.store,
		LLM:        model,
		Temporal:   a.temporal,
		Trimming: trimming.NewEngine(trimming.Config{
			Enabled: snap.TrimmingEnabled,
			Metrics: prometheus.DefaultRegisterer,
			Logger:  slogger,
		}),
		Resolution: a.resolution,
		Detector:   community.NewComponentDetector(),
		Assembler:  community.NewAssembler(summaryCache, model, slogger),
		Index:      index,
		Flags:      flagStore,
		Metrics:    prometheus.DefaultRegisterer,
		Logger:     slogger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}
