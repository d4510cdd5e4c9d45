// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package search

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/latticeworks/lattice/pkg/kg"
	"github.com/latticeworks/lattice/services/trimming"
)

var tracer = otel.Tracer("lattice.search")

// PassageClassName is the weaviate class holding indexed passages.
const PassageClassName = "Passage"

// failureThreshold is how many consecutive failures mark the index
// degraded. One success resets the count.
const failureThreshold = 3

// WeaviateIndex implements Index against a weaviate instance.
//
// Thread Safety: safe for concurrent use.
type WeaviateIndex struct {
	client *weaviate.Client
	logger *slog.Logger

	consecutiveFailures atomic.Int32
}

// NewWeaviateIndex wraps an already-configured weaviate client.
func NewWeaviateIndex(client *weaviate.Client, logger *slog.Logger) *WeaviateIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateIndex{client: client, logger: logger}
}

// Available implements Index.
func (w *WeaviateIndex) Available() bool {
	return w.consecutiveFailures.Load() < failureThreshold
}

func (w *WeaviateIndex) recordFailure(err error) {
	n := w.consecutiveFailures.Add(1)
	if n == failureThreshold {
		w.logger.Warn("search index marked degraded", "consecutive_failures", n, "error", err)
	}
}

func (w *WeaviateIndex) recordSuccess() {
	if w.consecutiveFailures.Swap(0) >= failureThreshold {
		w.logger.Info("search index recovered")
	}
}

// Search implements Index via a near-text query with the access filter
// applied server-side.
func (w *WeaviateIndex) Search(ctx context.Context, query string, filter trimming.SearchFilter, limit int) ([]kg.Passage, error) {
	ctx, span := tracer.Start(ctx, "search.WeaviateIndex.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("search.limit", limit))
	if limit <= 0 {
		limit = 10
	}

	nearText := w.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "passageId"},
		{Name: "title"},
		{Name: "text"},
		{Name: "source"},
		{Name: "entityMentions"},
		{Name: "classification"},
		{Name: "status"},
		{Name: "visibility"},
		{Name: "restrictedToDepartment"},
		{Name: "_additional { certainty }"},
	}

	builder := w.client.GraphQL().Get().
		WithClassName(PassageClassName).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit)
	if where := buildWhere(filter); where != nil {
		builder = builder.WithWhere(where)
	}

	result, err := builder.Do(ctx)
	if err != nil {
		w.recordFailure(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("passage search: %w", err)
	}
	if len(result.Errors) > 0 {
		err := fmt.Errorf("passage search: %s", result.Errors[0].Message)
		w.recordFailure(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	w.recordSuccess()

	passages := parsePassages(result)
	span.SetAttributes(attribute.Int("search.results", len(passages)))
	return passages, nil
}

// buildWhere translates the trimming filter into a weaviate where
// clause. Nil means no server-side narrowing (an admin with no groups
// or department).
func buildWhere(filter trimming.SearchFilter) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder

	if len(filter.AllowedClassifications) > 0 {
		values := make([]string, len(filter.AllowedClassifications))
		for i, c := range filter.AllowedClassifications {
			values[i] = string(c)
		}
		operands = append(operands, filters.Where().
			WithPath([]string{"classification"}).
			WithOperator(filters.ContainsAny).
			WithValueString(values...))
	}

	if len(filter.Groups) > 0 {
		operands = append(operands, filters.Where().
			WithOperator(filters.Or).
			WithOperands([]*filters.WhereBuilder{
				filters.Where().
					WithPath([]string{"allowedGroups"}).
					WithOperator(filters.IsNull).
					WithValueBoolean(true),
				filters.Where().
					WithPath([]string{"allowedGroups"}).
					WithOperator(filters.ContainsAny).
					WithValueString(filter.Groups...),
			}))
	}

	// An empty classification list means full access (admin); the
	// department restriction does not apply to those users.
	if len(filter.AllowedClassifications) > 0 {
		departmentClause := filters.Where().
			WithPath([]string{"restrictedToDepartment"}).
			WithOperator(filters.IsNull).
			WithValueBoolean(true)
		if filter.Department != "" {
			departmentClause = filters.Where().
				WithOperator(filters.Or).
				WithOperands([]*filters.WhereBuilder{
					departmentClause,
					filters.Where().
						WithPath([]string{"restrictedToDepartment"}).
						WithOperator(filters.Equal).
						WithValueString(filter.Department),
				})
		}
		operands = append(operands, departmentClause)
	}

	if len(operands) == 0 {
		return nil
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().
		WithOperator(filters.And).
		WithOperands(operands)
}

// parsePassages walks the GraphQL response shape down to passage maps.
func parsePassages(result *models.GraphQLResponse) []kg.Passage {
	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	items, ok := get[PassageClassName].([]interface{})
	if !ok {
		return nil
	}

	passages := make([]kg.Passage, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		p := kg.Passage{
			ID:     stringField(obj, "passageId"),
			Title:  stringField(obj, "title"),
			Text:   stringField(obj, "text"),
			Source: stringField(obj, "source"),
			Access: kg.AccessAttributes{
				Classification:         kg.Classification(stringField(obj, "classification")),
				Status:                 kg.LifecycleStatus(stringField(obj, "status")),
				Visibility:             kg.Visibility(stringField(obj, "visibility")),
				RestrictedToDepartment: stringField(obj, "restrictedToDepartment"),
			},
		}
		if mentions, ok := obj["entityMentions"].([]interface{}); ok {
			for _, m := range mentions {
				if s, ok := m.(string); ok {
					p.EntityMentions = append(p.EntityMentions, s)
				}
			}
		}
		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				p.Score = certainty
			}
		}
		passages = append(passages, p)
	}
	return passages
}

func stringField(obj map[string]interface{}, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}
