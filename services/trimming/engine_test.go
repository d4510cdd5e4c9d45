// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package trimming

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/latticeworks/lattice/pkg/kg"
)

func reader() kg.AccessContext {
	return kg.AccessContext{UserID: "u-reader", Roles: []string{"reader"}}
}

func reviewer() kg.AccessContext {
	return kg.AccessContext{UserID: "u-reviewer", Roles: []string{"reviewer"}}
}

func admin() kg.AccessContext {
	return kg.AccessContext{UserID: "u-admin", Roles: []string{"admin"}}
}

func TestEvaluate_Classification(t *testing.T) {
	t.Run("reader denied restricted", func(t *testing.T) {
		d := Evaluate(kg.AccessAttributes{Classification: kg.ClassificationRestricted}, reader())
		if d.Allowed {
			t.Fatal("reader must not see restricted content")
		}
		if d.Reason != ReasonClassification {
			t.Errorf("expected classification_denied, got %q", d.Reason)
		}
	})

	t.Run("reviewer admitted to confidential", func(t *testing.T) {
		d := Evaluate(kg.AccessAttributes{Classification: kg.ClassificationConfidential}, reviewer())
		if !d.Allowed {
			t.Errorf("reviewer should see confidential content, denied with %q", d.Reason)
		}
	})

	t.Run("admin admitted to any classification", func(t *testing.T) {
		for _, c := range []kg.Classification{
			kg.ClassificationPublic, kg.ClassificationInternal,
			kg.ClassificationConfidential, kg.ClassificationRestricted,
		} {
			if d := Evaluate(kg.AccessAttributes{Classification: c}, admin()); !d.Allowed {
				t.Errorf("admin denied %q content", c)
			}
		}
	})

	t.Run("missing classification defaults to internal", func(t *testing.T) {
		if d := Evaluate(kg.AccessAttributes{}, reader()); !d.Allowed {
			t.Error("reader should see unclassified (internal) content")
		}
		if d := Evaluate(kg.AccessAttributes{}, kg.AccessContext{Roles: []string{"unknown"}}); d.Allowed {
			t.Error("a user with no recognized role should not see internal content")
		}
	})

	t.Run("weak roles do not combine", func(t *testing.T) {
		multi := kg.AccessContext{Roles: []string{"reader", "contributor"}}
		d := Evaluate(kg.AccessAttributes{Classification: kg.ClassificationConfidential}, multi)
		if d.Allowed {
			t.Error("reader+contributor must not reach confidential")
		}
	})
}

func TestEvaluate_ANDComposition(t *testing.T) {
	// A document passing every rule except one must be denied,
	// whichever rule that is.
	base := kg.AccessAttributes{
		Classification: kg.ClassificationInternal,
		Status:         kg.StatusApproved,
	}
	user := kg.AccessContext{
		UserID:     "u1",
		Roles:      []string{"contributor"},
		Groups:     []string{"eng"},
		Department: "platform",
	}
	if d := Evaluate(base, user); !d.Allowed {
		t.Fatalf("baseline should be admitted, denied with %q", d.Reason)
	}

	cases := []struct {
		name   string
		mutate func(*kg.AccessAttributes)
		reason DenialReason
	}{
		{"classification", func(a *kg.AccessAttributes) { a.Classification = kg.ClassificationRestricted }, ReasonClassification},
		{"status", func(a *kg.AccessAttributes) { a.Status = kg.StatusPendingReview }, ReasonStatus},
		{"group", func(a *kg.AccessAttributes) { a.AllowedGroups = []string{"finance"} }, ReasonGroup},
		{"department", func(a *kg.AccessAttributes) { a.RestrictedToDepartment = "legal" }, ReasonDepartment},
		{"ownership", func(a *kg.AccessAttributes) {
			a.Visibility = kg.VisibilityPrivate
			a.UploadedBy = "someone-else"
		}, ReasonOwnership},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			attrs := base
			tc.mutate(&attrs)
			d := Evaluate(attrs, user)
			if d.Allowed {
				t.Fatalf("failing the %s rule alone must deny", tc.name)
			}
			if d.Reason != tc.reason {
				t.Errorf("expected reason %q, got %q", tc.reason, d.Reason)
			}
		})
	}
}

func TestEvaluate_Ownership(t *testing.T) {
	private := kg.AccessAttributes{
		Visibility:     kg.VisibilityPrivate,
		UploadedBy:     "owner-1",
		AllowedViewers: []string{"viewer-1"},
	}

	t.Run("owner admitted", func(t *testing.T) {
		user := kg.AccessContext{UserID: "owner-1", Roles: []string{"reader"}}
		if d := Evaluate(private, user); !d.Allowed {
			t.Errorf("owner denied: %q", d.Reason)
		}
	})
	t.Run("allowed viewer admitted", func(t *testing.T) {
		user := kg.AccessContext{UserID: "viewer-1", Roles: []string{"reader"}}
		if d := Evaluate(private, user); !d.Allowed {
			t.Errorf("allowed viewer denied: %q", d.Reason)
		}
	})
	t.Run("stranger denied", func(t *testing.T) {
		user := kg.AccessContext{UserID: "stranger", Roles: []string{"reviewer"}}
		d := Evaluate(private, user)
		if d.Allowed {
			t.Fatal("stranger must not see a private document")
		}
		if d.Reason != ReasonOwnership {
			t.Errorf("expected ownership_denied, got %q", d.Reason)
		}
	})
}

func TestRedact(t *testing.T) {
	attrs := kg.AccessAttributes{
		UploadedBy:         "owner@example.com",
		AllowedViewers:     []string{"v1"},
		AllowedGroups:      []string{"eng"},
		InternalNotes:      "draft notes",
		ReviewerComments:   "needs work",
		ProcessingMetadata: map[string]string{"pipeline": "v2"},
	}

	t.Run("reader loses everything sensitive", func(t *testing.T) {
		out := Redact(attrs, reader())
		if out.InternalNotes != "" || out.ReviewerComments != "" || out.ProcessingMetadata != nil {
			t.Error("reviewer-only fields must be stripped for readers")
		}
		if out.UploadedBy != "" || out.AllowedViewers != nil || out.AllowedGroups != nil {
			t.Error("ownership fields must be stripped for non-admins")
		}
	})

	t.Run("reviewer keeps review fields, loses ownership fields", func(t *testing.T) {
		out := Redact(attrs, reviewer())
		if out.InternalNotes == "" || out.ReviewerComments == "" {
			t.Error("reviewer fields should survive for reviewers")
		}
		if out.UploadedBy != "" {
			t.Error("ownership fields must still be stripped below admin")
		}
	})

	t.Run("admin keeps all fields", func(t *testing.T) {
		out := Redact(attrs, admin())
		if out.UploadedBy != attrs.UploadedBy || out.InternalNotes != attrs.InternalNotes {
			t.Error("admins must see all fields")
		}
	})

	t.Run("input not mutated", func(t *testing.T) {
		Redact(attrs, reader())
		if attrs.InternalNotes == "" {
			t.Error("Redact must copy, not mutate")
		}
	})
}

func TestFilterGraphEntities(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	ctx := context.Background()

	entities := []kg.Entity{
		{ID: "open", Access: kg.AccessAttributes{Classification: kg.ClassificationPublic}},
		{ID: "hidden", Access: kg.AccessAttributes{Classification: kg.ClassificationRestricted}},
		{ID: "draft", Access: kg.AccessAttributes{Status: kg.StatusPendingReview}},
	}

	filtered, denied := engine.FilterGraphEntities(ctx, entities, reader())
	if len(filtered) != 1 || filtered[0].ID != "open" {
		t.Errorf("expected only the public entity, got %+v", filtered)
	}
	if len(denied) != 2 {
		t.Fatalf("expected 2 denials, got %d", len(denied))
	}
	if engine.DenialCount() != 2 {
		t.Errorf("denial log should hold 2 records, has %d", engine.DenialCount())
	}
}

func TestFilterGraphRelationships_DiamondPath(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	// Two visible entities each point at the same hidden one. Every
	// edge touching the hidden node must vanish.
	relationships := []kg.Relationship{
		{From: "a", To: "hidden", Type: "REL"},
		{From: "b", To: "hidden", Type: "REL"},
		{From: "hidden", To: "c", Type: "REL"},
		{From: "a", To: "b", Type: "REL"},
	}
	allowed := map[string]bool{"a": true, "b": true, "c": true}

	kept := engine.FilterGraphRelationships(relationships, allowed)
	if len(kept) != 1 || kept[0].From != "a" || kept[0].To != "b" {
		t.Errorf("expected only a->b to survive, got %+v", kept)
	}
}

func TestDenialRecords_NeverLeakContent(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	ctx := context.Background()

	secrets := []string{
		"Project Nightfall", "the merger closes Friday",
		"owner@example.com", "board-member-1",
	}
	entities := []kg.Entity{
		{
			ID:          "doc-class",
			Name:        secrets[0],
			Description: secrets[1],
			Access:      kg.AccessAttributes{Classification: kg.ClassificationRestricted},
		},
		{
			ID:     "doc-status",
			Name:   secrets[0],
			Access: kg.AccessAttributes{Status: kg.StatusRejected},
		},
		{
			ID:     "doc-group",
			Name:   secrets[0],
			Access: kg.AccessAttributes{AllowedGroups: []string{"board"}},
		},
		{
			ID:     "doc-dept",
			Name:   secrets[0],
			Access: kg.AccessAttributes{RestrictedToDepartment: "legal"},
		},
		{
			ID:   "doc-owner",
			Name: secrets[0],
			Access: kg.AccessAttributes{
				Visibility:     kg.VisibilityPrivate,
				UploadedBy:     secrets[2],
				AllowedViewers: []string{secrets[3]},
			},
		},
	}

	_, denied := engine.FilterGraphEntities(ctx, entities, reader())
	if len(denied) != len(entities) {
		t.Fatalf("expected every entity denied, got %d of %d", len(denied), len(entities))
	}

	seen := map[DenialReason]bool{}
	for _, rec := range denied {
		seen[rec.Reason] = true
		serialized, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("marshaling denial record: %v", err)
		}
		for _, secret := range secrets {
			if strings.Contains(string(serialized), secret) {
				t.Errorf("denial record for %s leaks %q: %s", rec.ID, secret, serialized)
			}
		}
	}
	for _, reason := range []DenialReason{
		ReasonClassification, ReasonStatus, ReasonGroup, ReasonDepartment, ReasonOwnership,
	} {
		if !seen[reason] {
			t.Errorf("expected at least one %q denial", reason)
		}
	}
}

func TestDenialLog_Bounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DenialLogSize = 3
	engine := NewEngine(cfg)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		engine.FilterGraphEntities(ctx, []kg.Entity{
			{ID: string(rune('a' + i)), Access: kg.AccessAttributes{Classification: kg.ClassificationRestricted}},
		}, reader())
	}

	log := engine.DenialLog()
	if len(log) != 3 {
		t.Fatalf("expected log capped at 3, got %d", len(log))
	}
	// Oldest evicted first: the survivors are the last three denials.
	if log[0].ID != "h" || log[2].ID != "j" {
		t.Errorf("expected oldest-first [h i j], got %+v", log)
	}
}

func TestDenialLog_Concurrent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DenialLogSize = 16
	engine := NewEngine(cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				engine.FilterGraphEntities(ctx, []kg.Entity{
					{ID: "x", Access: kg.AccessAttributes{Classification: kg.ClassificationRestricted}},
				}, reader())
				engine.DenialLog()
			}
		}()
	}
	wg.Wait()

	if got := engine.DenialCount(); got != 16 {
		t.Errorf("expected a full log of 16, got %d", got)
	}
}

func TestEngine_Disabled(t *testing.T) {
	engine := NewEngine(Config{Enabled: false})
	ctx := context.Background()

	entities := []kg.Entity{
		{ID: "hidden", Access: kg.AccessAttributes{
			Classification: kg.ClassificationRestricted,
			InternalNotes:  "kept verbatim",
		}},
	}

	filtered, denied := engine.FilterGraphEntities(ctx, entities, reader())
	if len(filtered) != 1 || len(denied) != 0 {
		t.Fatal("disabled engine must pass everything through")
	}
	if filtered[0].Access.InternalNotes != "kept verbatim" {
		t.Error("disabled engine must not redact")
	}
	if engine.DenialCount() != 0 {
		t.Error("disabled engine must not log denials")
	}

	relationships := []kg.Relationship{{From: "a", To: "missing"}}
	if kept := engine.FilterGraphRelationships(relationships, map[string]bool{}); len(kept) != 1 {
		t.Error("disabled engine must keep all relationships")
	}
}

func TestBuildSearchFilter(t *testing.T) {
	t.Run("reader filter", func(t *testing.T) {
		user := kg.AccessContext{
			UserID: "u1", Roles: []string{"reader"},
			Groups: []string{"eng"}, Department: "platform",
		}
		f := BuildSearchFilter(user)
		if len(f.AllowedClassifications) != 2 {
			t.Errorf("reader should be limited to public+internal, got %v", f.AllowedClassifications)
		}
		expr := f.Expression()
		if !strings.Contains(expr, "classification IN") {
			t.Errorf("expected classification clause, got %q", expr)
		}
		if !strings.Contains(expr, "'eng'") {
			t.Errorf("expected group clause, got %q", expr)
		}
	})

	t.Run("admin gets no classification clause but keeps groups", func(t *testing.T) {
		user := kg.AccessContext{
			UserID: "u2", Roles: []string{"admin"}, Groups: []string{"ops"},
		}
		f := BuildSearchFilter(user)
		if len(f.AllowedClassifications) != 0 {
			t.Error("admin filter must not constrain classification")
		}
		expr := f.Expression()
		if strings.Contains(expr, "classification") {
			t.Errorf("expected no classification clause, got %q", expr)
		}
		if !strings.Contains(expr, "'ops'") {
			t.Errorf("expected group clause for admin, got %q", expr)
		}
	})

	t.Run("quote injection neutralized", func(t *testing.T) {
		user := kg.AccessContext{
			UserID: "u3", Roles: []string{"reader"},
			Groups:     []string{"eng' OR classification = 'restricted"},
			Department: "it'; DROP TABLE docs; --",
		}
		expr := BuildSearchFilter(user).Expression()
		if strings.Contains(expr, "eng' OR") {
			t.Errorf("unescaped group token broke out of its quotes: %q", expr)
		}
		if strings.Contains(expr, "it';") {
			t.Errorf("unescaped department token in filter: %q", expr)
		}
		if !strings.Contains(expr, `\'`) {
			t.Errorf("expected escaped quotes in filter, got %q", expr)
		}
	})
}
