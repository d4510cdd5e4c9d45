// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graphstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/latticeworks/lattice/pkg/kg"
)

// Neo4jStore adapts a Neo4j database to the Store interface.
//
// Expected schema: (:Entity) nodes with the properties emitted below,
// [:REL] edges with a "type" property. The adapter is read-only.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

// NewNeo4jStore wraps an existing driver. The caller owns the driver's
// lifecycle and should close it after the store is no longer used.
func NewNeo4jStore(driver neo4j.DriverWithContext) *Neo4jStore {
	return &Neo4jStore{driver: driver}
}

// FindByID implements Store.
func (s *Neo4jStore) FindByID(ctx context.Context, id string) (kg.Entity, bool, error) {
	return s.findOne(ctx,
		`MATCH (e:Entity {id: $key}) RETURN e LIMIT 1`, id)
}

// FindByName implements Store.
func (s *Neo4jStore) FindByName(ctx context.Context, name string) (kg.Entity, bool, error) {
	return s.findOne(ctx,
		`MATCH (e:Entity) WHERE toLower(e.name) = toLower($key) RETURN e LIMIT 1`, name)
}

func (s *Neo4jStore) findOne(ctx context.Context, cypher, key string) (kg.Entity, bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, map[string]any{"key": key})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		node, ok := record.Get("e")
		if !ok {
			return nil, fmt.Errorf("result missing entity column")
		}
		return node, nil
	})
	if err != nil {
		if isNoRecords(err) {
			return kg.Entity{}, false, nil
		}
		return kg.Entity{}, false, fmt.Errorf("neo4j lookup failed: %w", err)
	}

	node, ok := result.(neo4j.Node)
	if !ok {
		return kg.Entity{}, false, fmt.Errorf("unexpected result type %T", result)
	}
	return entityFromNode(node), true, nil
}

// AllEntities implements Store.
func (s *Neo4jStore) AllEntities(ctx context.Context) ([]kg.Entity, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (e:Entity) RETURN e`, nil)
		if err != nil {
			return nil, err
		}
		var entities []kg.Entity
		for res.Next(ctx) {
			if node, ok := res.Record().Get("e"); ok {
				if n, ok := node.(neo4j.Node); ok {
					entities = append(entities, entityFromNode(n))
				}
			}
		}
		return entities, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j entity scan failed: %w", err)
	}
	return result.([]kg.Entity), nil
}

// AllRelationships implements Store.
func (s *Neo4jStore) AllRelationships(ctx context.Context) ([]kg.Relationship, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`MATCH (a:Entity)-[r:REL]->(b:Entity)
			 RETURN a.id AS from, b.id AS to, r`, nil)
		if err != nil {
			return nil, err
		}
		var edges []kg.Relationship
		for res.Next(ctx) {
			record := res.Record()
			edge, ok := relationshipFromRecord(record)
			if !ok {
				continue
			}
			edges = append(edges, edge)
		}
		return edges, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j relationship scan failed: %w", err)
	}
	return result.([]kg.Relationship), nil
}

// Neighbors implements Store.
func (s *Neo4jStore) Neighbors(ctx context.Context, id string, direction Direction) ([]NeighborRecord, error) {
	const outQuery = `MATCH (a:Entity {id: $id})-[r:REL]->(n:Entity)
		 RETURN a.id AS from, n.id AS to, r, n`
	const inQuery = `MATCH (a:Entity {id: $id})<-[r:REL]-(n:Entity)
		 RETURN n.id AS from, a.id AS to, r, n`

	var cypher string
	switch direction {
	case DirectionOut:
		cypher = outQuery
	case DirectionIn:
		cypher = inQuery
	default:
		cypher = outQuery + `
		 UNION
		 ` + inQuery
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		var records []NeighborRecord
		for res.Next(ctx) {
			record := res.Record()
			edge, ok := relationshipFromRecord(record)
			if !ok {
				continue
			}
			nodeVal, ok := record.Get("n")
			if !ok {
				continue
			}
			node, ok := nodeVal.(neo4j.Node)
			if !ok {
				continue
			}
			records = append(records, NeighborRecord{
				Relationship: edge,
				Entity:       entityFromNode(node),
			})
		}
		return records, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j neighbor query failed: %w", err)
	}
	return result.([]NeighborRecord), nil
}

// =============================================================================
// Record mapping
// =============================================================================

func entityFromNode(node neo4j.Node) kg.Entity {
	props := node.Props
	e := kg.Entity{
		ID:          stringProp(props, "id"),
		Name:        stringProp(props, "name"),
		Type:        stringProp(props, "type"),
		Description: stringProp(props, "description"),
		Importance:  floatProp(props, "importance"),

		Supersedes:   stringProp(props, "supersedes"),
		SupersededBy: stringProp(props, "supersededBy"),
	}
	if v, ok := props["mentionCount"].(int64); ok {
		e.MentionCount = int(v)
	}
	if docs, ok := props["sourceDocuments"].([]any); ok {
		for _, d := range docs {
			if s, ok := d.(string); ok {
				e.SourceDocuments = append(e.SourceDocuments, s)
			}
		}
	}
	e.ValidFrom = timeProp(props, "validFrom")
	e.ValidTo = timeProp(props, "validTo")

	e.Access = kg.AccessAttributes{
		Classification:         kg.Classification(stringProp(props, "classification")),
		Status:                 kg.LifecycleStatus(stringProp(props, "status")),
		Visibility:             kg.Visibility(stringProp(props, "visibility")),
		UploadedBy:             stringProp(props, "uploadedBy"),
		RestrictedToDepartment: stringProp(props, "restrictedToDepartment"),
		InternalNotes:          stringProp(props, "internalNotes"),
		ReviewerComments:       stringProp(props, "reviewerComments"),
	}
	e.Access.AllowedViewers = stringSliceProp(props, "allowedViewers")
	e.Access.AllowedGroups = stringSliceProp(props, "allowedGroups")
	return e
}

func relationshipFromRecord(record *neo4j.Record) (kg.Relationship, bool) {
	fromVal, ok := record.Get("from")
	if !ok {
		return kg.Relationship{}, false
	}
	toVal, ok := record.Get("to")
	if !ok {
		return kg.Relationship{}, false
	}
	relVal, ok := record.Get("r")
	if !ok {
		return kg.Relationship{}, false
	}
	rel, ok := relVal.(neo4j.Relationship)
	if !ok {
		return kg.Relationship{}, false
	}

	edge := kg.Relationship{
		From:       fmt.Sprintf("%v", fromVal),
		To:         fmt.Sprintf("%v", toVal),
		Type:       stringProp(rel.Props, "type"),
		Confidence: floatProp(rel.Props, "confidence"),
	}
	edge.CreatedAt = timeProp(rel.Props, "createdAt")
	return edge, true
}

func stringProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func stringSliceProp(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func timeProp(props map[string]any, key string) *time.Time {
	switch v := props[key].(type) {
	case time.Time:
		t := v
		return &t
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return &t
		}
	}
	return nil
}

func isNoRecords(err error) bool {
	// The driver returns a usage error rather than a typed sentinel when
	// Single finds no records.
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no more records") ||
		strings.Contains(msg, "contains no records")
}
