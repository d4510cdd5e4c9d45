// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package flags provides runtime feature flags and numeric thresholds
// for the Lattice query core.
//
// Flags are loaded from a YAML file and can be hot-reloaded while the
// process runs. Consumers never hold a *Store reference across a query:
// they call Current() once at query start and pass the immutable
// Snapshot value down the pipeline, so a reload mid-query cannot tear
// a single query's configuration.
//
// # Usage
//
//	store := flags.NewStore(flags.Defaults())
//	go store.Watch(ctx, "/etc/lattice/flags.yaml")
//
//	snap := store.Current()
//	if snap.CommunityContextEnabled { ... }
package flags

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Snapshot is one immutable view of all runtime flags and thresholds.
// Zero values are replaced by Defaults() at load time.
type Snapshot struct {
	// ResolutionCacheEnabled toggles the entity resolution cache. When
	// false every cache get is a miss and every set is a no-op.
	ResolutionCacheEnabled bool `yaml:"resolution_cache_enabled"`

	// TrimmingEnabled toggles the security trimming engine. When false
	// the engine is a pure pass-through; intended for single-tenant
	// deployments with no access control requirements.
	TrimmingEnabled bool `yaml:"trimming_enabled"`

	// CommunityContextEnabled includes community summaries in assembled
	// context by default. Requests can still opt out individually.
	CommunityContextEnabled bool `yaml:"community_context_enabled"`

	// QueryBudget is the overall per-query latency budget. Stages check
	// the deadline at their boundaries; an elapsed budget degrades the
	// answer instead of hanging.
	QueryBudget time.Duration `yaml:"query_budget"`

	// MaxTraversalDepth bounds BFS expansion depth.
	MaxTraversalDepth int `yaml:"max_traversal_depth"`

	// MaxTraversalEntities bounds total entities collected per traversal.
	MaxTraversalEntities int `yaml:"max_traversal_entities"`

	// MaxCommunitySummaries caps summaries concatenated into context.
	MaxCommunitySummaries int `yaml:"max_community_summaries"`

	// MaxSearchPassages bounds passages requested from the search index.
	MaxSearchPassages int `yaml:"max_search_passages"`

	// SummaryTTL is the community summary cache TTL.
	SummaryTTL time.Duration `yaml:"summary_ttl"`
}

// Defaults returns the flag values used when no file is present.
func Defaults() Snapshot {
	return Snapshot{
		ResolutionCacheEnabled:  true,
		TrimmingEnabled:         true,
		CommunityContextEnabled: true,
		QueryBudget:             30 * time.Second,
		MaxTraversalDepth:       2,
		MaxTraversalEntities:    50,
		MaxCommunitySummaries:   5,
		MaxSearchPassages:       10,
		SummaryTTL:              time.Hour,
	}
}

// normalize fills unset numeric fields from defaults so a sparse YAML
// file cannot zero out a bound.
func (s Snapshot) normalize() Snapshot {
	def := Defaults()
	if s.QueryBudget <= 0 {
		s.QueryBudget = def.QueryBudget
	}
	if s.MaxTraversalDepth <= 0 {
		s.MaxTraversalDepth = def.MaxTraversalDepth
	}
	if s.MaxTraversalEntities <= 0 {
		s.MaxTraversalEntities = def.MaxTraversalEntities
	}
	if s.MaxCommunitySummaries <= 0 {
		s.MaxCommunitySummaries = def.MaxCommunitySummaries
	}
	if s.MaxSearchPassages <= 0 {
		s.MaxSearchPassages = def.MaxSearchPassages
	}
	if s.SummaryTTL <= 0 {
		s.SummaryTTL = def.SummaryTTL
	}
	return s
}

// Load reads a Snapshot from a YAML file, filling gaps from Defaults().
func Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read flags file: %w", err)
	}

	snap := Defaults()
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse flags file: %w", err)
	}
	return snap.normalize(), nil
}

// Store holds the current Snapshot and supports atomic replacement.
//
// Thread Safety: all methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	current Snapshot
	logger  *slog.Logger
}

// NewStore creates a Store seeded with the given snapshot.
func NewStore(initial Snapshot) *Store {
	return &Store{current: initial.normalize(), logger: slog.Default()}
}

// WithLogger sets the logger used by Watch. Returns the store for chaining.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
	return s
}

// Current returns the live snapshot by value.
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Replace swaps in a new snapshot. Used by Watch and by tests.
func (s *Store) Replace(snap Snapshot) {
	s.mu.Lock()
	s.current = snap.normalize()
	s.mu.Unlock()
}

// Watch reloads the store whenever the flags file changes. Blocks until
// the context is cancelled. Reload failures keep the previous snapshot
// and log a warning; a flags file disappearing is not fatal.
func (s *Store) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files via
	// rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	// Debounce bursts of write events from atomic-save editors.
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			snap, err := Load(path)
			if err != nil {
				s.logger.Warn("flags reload failed, keeping previous snapshot",
					"path", path, "error", err)
				continue
			}
			s.Replace(snap)
			s.logger.Info("flags reloaded", "path", path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("flags watcher error", "error", err)
		}
	}
}
