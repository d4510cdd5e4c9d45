// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package search

import (
	"context"
	"sort"
	"strings"

	"github.com/latticeworks/lattice/pkg/kg"
	"github.com/latticeworks/lattice/services/trimming"
)

// StaticIndex serves a fixed passage set with naive term-overlap
// ranking. It backs tests and the CLI demo fixture, where running a
// real vector index would be overkill.
type StaticIndex struct {
	passages []kg.Passage
}

// NewStaticIndex builds an index over a fixed passage set.
func NewStaticIndex(passages []kg.Passage) *StaticIndex {
	return &StaticIndex{passages: passages}
}

// Available implements Index. A static index never degrades.
func (s *StaticIndex) Available() bool { return true }

// Search implements Index with case-insensitive term matching and the
// same conservative filter semantics the weaviate index applies
// server-side.
func (s *StaticIndex) Search(ctx context.Context, query string, filter trimming.SearchFilter, limit int) ([]kg.Passage, error) {
	if limit <= 0 {
		limit = 10
	}
	terms := strings.Fields(strings.ToLower(query))

	var matched []kg.Passage
	for _, p := range s.passages {
		if !passesFilter(p, filter) {
			continue
		}
		score := termOverlap(p, terms)
		if score == 0 {
			continue
		}
		p.Score = score
		matched = append(matched, p)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Score > matched[j].Score })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func passesFilter(p kg.Passage, filter trimming.SearchFilter) bool {
	if len(filter.AllowedClassifications) > 0 {
		classification := p.Access.Classification
		if classification == "" {
			classification = kg.ClassificationInternal
		}
		found := false
		for _, c := range filter.AllowedClassifications {
			if c == classification {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(p.Access.AllowedGroups) > 0 && len(filter.Groups) > 0 {
		shared := false
		for _, g := range filter.Groups {
			for _, allowed := range p.Access.AllowedGroups {
				if g == allowed {
					shared = true
					break
				}
			}
		}
		if !shared {
			return false
		}
	}
	if len(filter.AllowedClassifications) > 0 &&
		p.Access.RestrictedToDepartment != "" &&
		p.Access.RestrictedToDepartment != filter.Department {
		return false
	}
	return true
}

func termOverlap(p kg.Passage, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(p.Title + " " + p.Text)
	hits := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
