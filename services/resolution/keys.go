// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolution

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Key construction for the five tiers. Keys embed a normalized form of
// each component and a separator that normalization cannot produce, so
// composite keys never collide across differing argument sets.

const keySep = "\x1f"

// normalizeName lowercases and collapses whitespace so "Apple Inc" and
// " apple  inc " resolve to the same cache slot.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func resolvedKey(normalizedName, documentID string) string {
	return normalizeName(normalizedName) + keySep + documentID
}

// resolvedKeyMatchesName reports whether a resolved-tier key refers to
// the given normalized entity name (any document).
func resolvedKeyMatchesName(key, normalizedName string) bool {
	return strings.HasPrefix(key, normalizedName+keySep)
}

// resolvedKeyMatchesDocument reports whether a resolved-tier key is
// scoped to the given document.
func resolvedKeyMatchesDocument(key, documentID string) bool {
	return strings.HasSuffix(key, keySep+documentID)
}

// embeddingKey is keyed on the (name, type, description) triple so the
// same name with a different description gets its own vector. The
// description is hashed; it can be long.
func embeddingKey(name, entityType, description string) string {
	h := fnv.New64a()
	h.Write([]byte(description))
	return normalizeName(name) + keySep + strings.ToLower(entityType) +
		keySep + fmt.Sprintf("%016x", h.Sum64())
}

// similarityKey orders the two ids canonically so (a,b) and (b,a) share
// one slot.
func similarityKey(idA, idB string) string {
	if idB < idA {
		idA, idB = idB, idA
	}
	return idA + keySep + idB
}

// similarityKeyContains reports whether a similarity key has the given
// id in either position.
func similarityKeyContains(key, id string) bool {
	parts := strings.SplitN(key, keySep, 2)
	if len(parts) != 2 {
		return false
	}
	return parts[0] == id || parts[1] == id
}

func canonicalKey(normalizedName string) string {
	return normalizeName(normalizedName)
}

// SimilarOptions tunes a similar-entities lookup. The canonical key
// form includes every field, so differing option sets never collide.
type SimilarOptions struct {
	Limit             int     `json:"limit,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	IncludeSuperseded bool    `json:"includeSuperseded,omitempty"`
}

func similarKey(normalizedName, entityType string, opts SimilarOptions) string {
	return normalizeName(normalizedName) + keySep + strings.ToLower(entityType) +
		keySep + fmt.Sprintf("limit=%d|threshold=%g|superseded=%t",
		opts.Limit, opts.Threshold, opts.IncludeSuperseded)
}

// similarKeyMatchesName reports whether a similar-entities key refers
// to the given normalized name.
func similarKeyMatchesName(key, normalizedName string) bool {
	return strings.HasPrefix(key, normalizedName+keySep)
}

// embeddingKeyMatchesName reports whether an embedding key refers to
// the given normalized name.
func embeddingKeyMatchesName(key, normalizedName string) bool {
	return strings.HasPrefix(key, normalizedName+keySep)
}
