// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package community

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/latticeworks/lattice/pkg/kg"
)

const summaryKeyPrefix = "summary/"

// SummaryStore persists community summaries in an embedded BadgerDB so
// they survive restarts. The in-memory cache sits in front of it;
// the store is only consulted on a cache miss.
//
// Thread Safety: safe for concurrent use.
type SummaryStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// StoreConfig configures the summary store.
type StoreConfig struct {
	// Path is the directory for database files. Required unless
	// InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// Logger defaults to slog.Default(). BadgerDB's own logging is
	// always routed through it at debug level or discarded.
	Logger *slog.Logger
}

// OpenSummaryStore opens (or creates) the store.
func OpenSummaryStore(cfg StoreConfig) (*SummaryStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent summary store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create summary store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open summary store: %w", err)
	}
	return &SummaryStore{db: db, logger: logger}, nil
}

// Get loads a persisted summary. ok=false means the community has no
// persisted summary.
func (s *SummaryStore) Get(communityID string) (kg.CommunitySummary, bool, error) {
	var summary kg.CommunitySummary
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(summaryKeyPrefix + communityID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &summary)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return kg.CommunitySummary{}, false, nil
	}
	if err != nil {
		return kg.CommunitySummary{}, false, fmt.Errorf("loading summary %s: %w", communityID, err)
	}
	return summary, true, nil
}

// Put persists a summary under its community id.
func (s *SummaryStore) Put(summary kg.CommunitySummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding summary %s: %w", summary.CommunityID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(summaryKeyPrefix+summary.CommunityID), payload)
	})
	if err != nil {
		return fmt.Errorf("persisting summary %s: %w", summary.CommunityID, err)
	}
	return nil
}

// Close releases the underlying database.
func (s *SummaryStore) Close() error {
	return s.db.Close()
}
