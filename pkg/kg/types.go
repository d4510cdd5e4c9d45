// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package kg defines the shared domain types for the Lattice knowledge
// graph core: entities, relationships, communities, summaries, passages,
// and the per-request access context.
//
// Types in this package are plain values. The graph store owns entity
// state; the query-time core treats every Entity it receives as an
// immutable value for the duration of a query and never mutates it in
// place (redaction copies first).
package kg

import "time"

// =============================================================================
// Access attributes
// =============================================================================

// Classification is an ordered sensitivity tier gating read access.
type Classification string

const (
	ClassificationPublic       Classification = "public"
	ClassificationInternal     Classification = "internal"
	ClassificationConfidential Classification = "confidential"
	ClassificationRestricted   Classification = "restricted"
)

// LifecycleStatus tracks review state. Unset is treated as approved.
type LifecycleStatus string

const (
	StatusApproved      LifecycleStatus = "approved"
	StatusPendingReview LifecycleStatus = "pending_review"
	StatusRejected      LifecycleStatus = "rejected"
)

// Visibility controls the ownership rule. "public" bypasses ownership
// checks entirely; "private" admits only the owner and allowed viewers.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// AccessAttributes carries everything the security trimming engine needs
// to decide whether a single item is visible to a user, plus the
// sensitive fields that get redacted for lower-privilege viewers.
type AccessAttributes struct {
	Classification         Classification  `json:"classification,omitempty"`
	Status                 LifecycleStatus `json:"status,omitempty"`
	Visibility             Visibility      `json:"visibility,omitempty"`
	UploadedBy             string          `json:"uploadedBy,omitempty"`
	AllowedViewers         []string        `json:"allowedViewers,omitempty"`
	AllowedGroups          []string        `json:"allowedGroups,omitempty"`
	RestrictedToDepartment string          `json:"restrictedToDepartment,omitempty"`

	// Reviewer-only fields, stripped for everyone below the reviewer tier.
	InternalNotes      string            `json:"internalNotes,omitempty"`
	ReviewerComments   string            `json:"reviewerComments,omitempty"`
	ProcessingMetadata map[string]string `json:"processingMetadata,omitempty"`
}

// AccessContext is the effective identity a query runs as. It is derived
// per request and never persisted.
type AccessContext struct {
	UserID     string   `json:"userId"`
	Roles      []string `json:"roles"`
	Groups     []string `json:"groups,omitempty"`
	Department string   `json:"department,omitempty"`
}

// =============================================================================
// Graph types
// =============================================================================

// Entity is a node in the knowledge graph.
//
// ValidFrom/ValidTo bound the entity's temporal validity window. A nil
// bound means unbounded on that side. The window convention is
// [validFrom, validTo] at instant granularity: a point exactly at
// ValidTo is still valid (see temporal.ValidAt).
//
// Supersedes/SupersededBy form a doubly-linked version chain. An entity
// with SupersededBy set is still valid up to its own ValidTo; successor
// windows are independent and need not be contiguous.
type Entity struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	Importance  float64 `json:"importance,omitempty"`

	MentionCount    int      `json:"mentionCount,omitempty"`
	SourceDocuments []string `json:"sourceDocuments,omitempty"`

	ValidFrom    *time.Time `json:"validFrom,omitempty"`
	ValidTo      *time.Time `json:"validTo,omitempty"`
	Supersedes   string     `json:"supersedes,omitempty"`
	SupersededBy string     `json:"supersededBy,omitempty"`

	Access AccessAttributes `json:"access"`
}

// Relationship is a typed directed edge between two entities. A nil
// CreatedAt means the edge is valid at every point in time.
type Relationship struct {
	From       string     `json:"from"`
	To         string     `json:"to"`
	Type       string     `json:"type"`
	Confidence float64    `json:"confidence,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
}

// =============================================================================
// Communities
// =============================================================================

// Community is a detected cluster of densely-interconnected entities.
// Produced by the external detector; consumed read-only here.
type Community struct {
	ID           string         `json:"id"`
	Members      []string       `json:"members"`
	Size         int            `json:"size"`
	DominantType string         `json:"dominantType,omitempty"`
	TypeCounts   map[string]int `json:"typeCounts,omitempty"`
}

// Partition is the output shape of the community detector.
// Assignments maps entity id to community id.
type Partition struct {
	Assignments map[string]string `json:"communities"`
	Communities []Community       `json:"communityList"`
	Modularity  float64           `json:"modularity"`
	Metadata    PartitionMeta     `json:"metadata"`
}

// PartitionMeta describes how a partition was produced.
type PartitionMeta struct {
	Method     string    `json:"method,omitempty"`
	Scoped     bool      `json:"scoped,omitempty"`
	DetectedAt time.Time `json:"detectedAt,omitempty"`
}

// CommunitySummary is LLM-generated narrative context for one community.
type CommunitySummary struct {
	CommunityID string   `json:"communityId"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	KeyEntities []string `json:"keyEntities,omitempty"`
	MemberCount int      `json:"memberCount"`
}

// =============================================================================
// Search passages
// =============================================================================

// Passage is a ranked hit from the hybrid/vector search index. Passages
// carry the same access attributes as entities and go through the same
// trimming engine before they can appear in assembled context.
type Passage struct {
	ID             string           `json:"id"`
	Title          string           `json:"title,omitempty"`
	Text           string           `json:"text"`
	Score          float64          `json:"score"`
	Source         string           `json:"source,omitempty"`
	EntityMentions []string         `json:"entityMentions,omitempty"`
	Access         AccessAttributes `json:"access"`
}
