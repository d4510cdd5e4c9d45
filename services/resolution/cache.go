// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package resolution implements the multi-tier entity resolution cache.
//
// Resolving a mention string to a canonical graph entity costs an
// embedding call, a similarity scan, and graph lookups. Each step has
// its own tier here so partial work survives: a new document can reuse
// embeddings and pairwise similarities computed for an old one even
// when the per-document resolution itself is cold.
//
// Tiers (each with independent TTL and size bound):
//
//   - resolved:   (normalizedName, documentID) -> *kg.Entity
//   - embedding:  (name, type, description)    -> []float32
//   - similarity: unordered (idA, idB)         -> float64
//   - canonical:  normalizedName               -> *kg.Entity
//   - similar:    (name, type, options)        -> []kg.Entity
//
// A stored nil entity is a cached negative result ("this mention does
// not resolve"), distinct from a miss: Get methods return ok=true for
// it. The resolved tier is keyed per document because the same mention
// can legitimately resolve differently in different source contexts.
//
// # Concurrency
//
// The cache is shared across concurrently executing queries. Writes are
// last-writer-wins per key; a read racing an invalidation may observe
// the value written just before, which is acceptable within TTLs.
package resolution

import (
	"log/slog"
	"time"

	"github.com/latticeworks/lattice/pkg/kg"
)

// Tier names, used for stats and metric labels.
const (
	TierResolved   = "resolved"
	TierEmbedding  = "embedding"
	TierSimilarity = "similarity"
	TierCanonical  = "canonical"
	TierSimilar    = "similar_entities"
)

// Config sizes the five tiers. Zero TTLs mean no expiry; zero sizes use
// the tier default.
type Config struct {
	Enabled bool

	ResolvedTTL   time.Duration
	EmbeddingTTL  time.Duration
	SimilarityTTL time.Duration
	CanonicalTTL  time.Duration
	SimilarTTL    time.Duration

	ResolvedSize   int
	EmbeddingSize  int
	SimilaritySize int
	CanonicalSize  int
	SimilarSize    int

	// Clock overrides time for TTL checks. Nil uses the wall clock.
	Clock Clock

	// Metrics enables prometheus counters. Nil disables them.
	Metrics *Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns production tier sizes and TTLs.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		ResolvedTTL:    30 * time.Minute,
		EmbeddingTTL:   24 * time.Hour,
		SimilarityTTL:  6 * time.Hour,
		CanonicalTTL:   time.Hour,
		SimilarTTL:     15 * time.Minute,
		ResolvedSize:   10000,
		EmbeddingSize:  5000,
		SimilaritySize: 20000,
		CanonicalSize:  5000,
		SimilarSize:    2000,
	}
}

// Cache is the multi-tier entity resolution cache.
//
// Thread Safety: safe for concurrent use.
type Cache struct {
	enabled bool
	logger  *slog.Logger

	resolved   *tier[*kg.Entity]
	embeddings *tier[[]float32]
	similarity *tier[float64]
	canonical  *tier[*kg.Entity]
	similar    *tier[[]kg.Entity]
}

// NewCache constructs a Cache from config.
func NewCache(cfg Config) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		enabled:    cfg.Enabled,
		logger:     logger,
		resolved:   newTier[*kg.Entity](TierResolved, cfg.ResolvedTTL, cfg.ResolvedSize, cfg.Clock, cfg.Metrics),
		embeddings: newTier[[]float32](TierEmbedding, cfg.EmbeddingTTL, cfg.EmbeddingSize, cfg.Clock, cfg.Metrics),
		similarity: newTier[float64](TierSimilarity, cfg.SimilarityTTL, cfg.SimilaritySize, cfg.Clock, cfg.Metrics),
		canonical:  newTier[*kg.Entity](TierCanonical, cfg.CanonicalTTL, cfg.CanonicalSize, cfg.Clock, cfg.Metrics),
		similar:    newTier[[]kg.Entity](TierSimilar, cfg.SimilarTTL, cfg.SimilarSize, cfg.Clock, cfg.Metrics),
	}
}

// Enabled reports whether the cache is active. A disabled cache is a
// pure pass-through: every get misses, every set is a no-op, and no
// counters move.
func (c *Cache) Enabled() bool { return c.enabled }

// =============================================================================
// Resolved entity tier (per document)
// =============================================================================

// GetResolvedEntity returns the cached resolution of a mention within
// one document. ok=false means not cached; (nil, true) means the
// mention was previously resolved to nothing.
func (c *Cache) GetResolvedEntity(normalizedName, documentID string) (*kg.Entity, bool) {
	if !c.enabled {
		return nil, false
	}
	return c.resolved.get(resolvedKey(normalizedName, documentID))
}

// SetResolvedEntity caches a per-document resolution. Pass nil to cache
// a negative result.
func (c *Cache) SetResolvedEntity(normalizedName, documentID string, entity *kg.Entity) {
	if !c.enabled {
		return
	}
	c.resolved.set(resolvedKey(normalizedName, documentID), entity)
}

// =============================================================================
// Embedding tier
// =============================================================================

// GetEmbedding returns the cached vector for a (name, type,
// description) triple.
func (c *Cache) GetEmbedding(name, entityType, description string) ([]float32, bool) {
	if !c.enabled {
		return nil, false
	}
	return c.embeddings.get(embeddingKey(name, entityType, description))
}

// SetEmbedding caches a vector under the triple key.
func (c *Cache) SetEmbedding(name, entityType, description string, vector []float32) {
	if !c.enabled {
		return
	}
	c.embeddings.set(embeddingKey(name, entityType, description), vector)
}

// =============================================================================
// Similarity tier (symmetric)
// =============================================================================

// GetSimilarity returns the cached pairwise similarity. The pair is
// unordered: a value stored under (a, b) is found under (b, a).
func (c *Cache) GetSimilarity(idA, idB string) (float64, bool) {
	if !c.enabled {
		return 0, false
	}
	return c.similarity.get(similarityKey(idA, idB))
}

// SetSimilarity caches a pairwise similarity score.
func (c *Cache) SetSimilarity(idA, idB string, score float64) {
	if !c.enabled {
		return
	}
	c.similarity.set(similarityKey(idA, idB), score)
}

// =============================================================================
// Canonical entity tier
// =============================================================================

// GetCanonicalEntity returns the cached canonical entity for a
// normalized name. (nil, true) is a cached negative result.
func (c *Cache) GetCanonicalEntity(normalizedName string) (*kg.Entity, bool) {
	if !c.enabled {
		return nil, false
	}
	return c.canonical.get(canonicalKey(normalizedName))
}

// SetCanonicalEntity caches the canonical entity for a name.
func (c *Cache) SetCanonicalEntity(normalizedName string, entity *kg.Entity) {
	if !c.enabled {
		return
	}
	c.canonical.set(canonicalKey(normalizedName), entity)
}

// =============================================================================
// Similar entities tier
// =============================================================================

// GetSimilarEntities returns the cached similar-entity list for a
// (name, type, options) lookup. An empty cached list comes back as an
// empty non-nil slice with ok=true, distinct from a miss.
func (c *Cache) GetSimilarEntities(normalizedName, entityType string, opts SimilarOptions) ([]kg.Entity, bool) {
	if !c.enabled {
		return nil, false
	}
	return c.similar.get(similarKey(normalizedName, entityType, opts))
}

// SetSimilarEntities caches a similar-entity list.
func (c *Cache) SetSimilarEntities(normalizedName, entityType string, opts SimilarOptions, entities []kg.Entity) {
	if !c.enabled {
		return
	}
	if entities == nil {
		entities = []kg.Entity{}
	}
	c.similar.set(similarKey(normalizedName, entityType, opts), entities)
}

// =============================================================================
// Invalidation
// =============================================================================

// InvalidateEntity removes every tier entry referencing the named
// entity: per-document resolutions, embeddings, the canonical slot,
// similar-entity lists, and (when the canonical slot knew the entity's
// id) similarity pairs containing that id.
func (c *Cache) InvalidateEntity(name string) {
	if !c.enabled {
		return
	}
	normalized := normalizeName(name)

	// Capture the id before dropping the canonical slot, so similarity
	// pairs can be cascaded.
	var id string
	if entity, ok := c.canonical.get(canonicalKey(normalized)); ok && entity != nil {
		id = entity.ID
	}

	removed := 0
	removed += c.resolved.deleteFunc(func(key string) bool {
		return resolvedKeyMatchesName(key, normalized)
	})
	removed += c.embeddings.deleteFunc(func(key string) bool {
		return embeddingKeyMatchesName(key, normalized)
	})
	if c.canonical.delete(canonicalKey(normalized)) {
		removed++
	}
	removed += c.similar.deleteFunc(func(key string) bool {
		return similarKeyMatchesName(key, normalized)
	})
	if id != "" {
		removed += c.similarity.deleteFunc(func(key string) bool {
			return similarityKeyContains(key, id)
		})
	}

	c.logger.Debug("invalidated entity across cache tiers",
		"entity", normalized, "entries_removed", removed)
}

// InvalidateDocument removes resolved-entity entries scoped to one
// document, leaving other documents' entries for the same entities
// untouched.
func (c *Cache) InvalidateDocument(documentID string) {
	if !c.enabled {
		return
	}
	removed := c.resolved.deleteFunc(func(key string) bool {
		return resolvedKeyMatchesDocument(key, documentID)
	})
	c.logger.Debug("invalidated document resolutions",
		"document_id", documentID, "entries_removed", removed)
}

// InvalidateSimilarity removes every similarity pair containing the
// given id in either position.
func (c *Cache) InvalidateSimilarity(id string) {
	if !c.enabled {
		return
	}
	removed := c.similarity.deleteFunc(func(key string) bool {
		return similarityKeyContains(key, id)
	})
	c.logger.Debug("invalidated similarity pairs",
		"entity_id", id, "entries_removed", removed)
}

// =============================================================================
// Observability
// =============================================================================

// Stats returns a snapshot of every tier's counters.
func (c *Cache) Stats() []TierStats {
	return []TierStats{
		c.resolved.stats(),
		c.embeddings.stats(),
		c.similarity.stats(),
		c.canonical.stats(),
		c.similar.stats(),
	}
}

// Purge empties all tiers and resets counters. Intended for tests and
// full reloads.
func (c *Cache) Purge() {
	c.resolved.purge()
	c.embeddings.purge()
	c.similarity.purge()
	c.canonical.purge()
	c.similar.purge()
}
