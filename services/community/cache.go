// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package community

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/latticeworks/lattice/pkg/kg"
)

// GenerateFunc produces a summary for one community on a cache miss.
type GenerateFunc func(ctx context.Context) (kg.CommunitySummary, error)

// SummaryCache is a bounded TTL cache of community summaries with an
// optional persistent store behind it. Generation for the same
// community id is coalesced: when two requests miss on the same id
// concurrently, the second awaits the first's result instead of
// issuing a duplicate LLM call.
//
// Thread Safety: safe for concurrent use. Writes are last-writer-wins
// per community id.
type SummaryCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = newest insert

	ttl     time.Duration
	maxSize int
	store   *SummaryStore
	logger  *slog.Logger
	flight  singleflight.Group

	hits, misses int64
}

type summaryEntry struct {
	id         string
	summary    kg.CommunitySummary
	insertedAt time.Time
}

// CacheConfig sizes the summary cache. Store is optional; when set,
// summaries are written through on generation and reloaded lazily on
// in-memory misses.
type CacheConfig struct {
	TTL     time.Duration
	MaxSize int
	Store   *SummaryStore
	Logger  *slog.Logger
}

// DefaultCacheConfig returns the production TTL and bound.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: time.Hour, MaxSize: 500}
}

// NewSummaryCache constructs a SummaryCache from config.
func NewSummaryCache(cfg CacheConfig) *SummaryCache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 500
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		store:   cfg.Store,
		logger:  logger,
	}
}

// Get returns the cached summary for a community id, consulting the
// persistent store on an in-memory miss.
func (c *SummaryCache) Get(id string) (kg.CommunitySummary, bool) {
	c.mu.Lock()
	if el, ok := c.entries[id]; ok {
		entry := el.Value.(*summaryEntry)
		if time.Since(entry.insertedAt) <= c.ttl {
			c.hits++
			c.mu.Unlock()
			return entry.summary, true
		}
		c.order.Remove(el)
		delete(c.entries, id)
	}
	c.misses++
	c.mu.Unlock()

	if c.store != nil {
		summary, ok, err := c.store.Get(id)
		if err != nil {
			c.logger.Warn("summary store read failed", "community_id", id, "error", err)
			return kg.CommunitySummary{}, false
		}
		if ok {
			c.put(summary, false)
			return summary, true
		}
	}
	return kg.CommunitySummary{}, false
}

// Put caches a summary and writes it through to the store.
func (c *SummaryCache) Put(summary kg.CommunitySummary) {
	c.put(summary, true)
}

func (c *SummaryCache) put(summary kg.CommunitySummary, persist bool) {
	c.mu.Lock()
	if el, ok := c.entries[summary.CommunityID]; ok {
		c.order.Remove(el)
		delete(c.entries, summary.CommunityID)
	}
	el := c.order.PushFront(&summaryEntry{
		id:         summary.CommunityID,
		summary:    summary,
		insertedAt: time.Now(),
	})
	c.entries[summary.CommunityID] = el
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*summaryEntry).id)
	}
	c.mu.Unlock()

	if persist && c.store != nil {
		if err := c.store.Put(summary); err != nil {
			c.logger.Warn("summary write-through failed",
				"community_id", summary.CommunityID, "error", err)
		}
	}
}

// GetOrGenerate returns the cached summary or generates it, coalescing
// concurrent generations for the same community id into one call.
func (c *SummaryCache) GetOrGenerate(ctx context.Context, id string, generate GenerateFunc) (kg.CommunitySummary, error) {
	if summary, ok := c.Get(id); ok {
		return summary, nil
	}

	result, err, _ := c.flight.Do(id, func() (interface{}, error) {
		// Another caller may have populated the slot while this one
		// waited on the flight lock.
		if summary, ok := c.Get(id); ok {
			return summary, nil
		}
		summary, err := generate(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(summary)
		return summary, nil
	})
	if err != nil {
		return kg.CommunitySummary{}, err
	}
	return result.(kg.CommunitySummary), nil
}

// Stats returns hit and miss counts.
func (c *SummaryCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of in-memory entries.
func (c *SummaryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
