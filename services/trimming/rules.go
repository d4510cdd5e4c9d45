// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package trimming is the security trimming engine: it decides, per
// item and per user, whether graph content and search passages are
// visible, redacts sensitive fields for lower-privilege viewers, and
// builds conservative pre-query filters for the search index.
//
// Every evaluation is a pure function of (item attributes, access
// context); the only shared mutable state is the bounded denial log.
package trimming

import (
	"strings"

	"github.com/latticeworks/lattice/pkg/kg"
)

// Role names recognized by the engine.
const (
	RoleReader      = "reader"
	RoleContributor = "contributor"
	RoleReviewer    = "reviewer"
	RoleAdmin       = "admin"
)

// roleLevels orders roles by privilege. A user's effective level is the
// maximum across their roles: several weak roles never combine to
// exceed the single strongest one.
var roleLevels = map[string]int{
	RoleReader:      1,
	RoleContributor: 2,
	RoleReviewer:    3,
	RoleAdmin:       4,
}

// classificationMinLevel maps each classification tier to the minimum
// role level that may read it. Readers see public and internal;
// confidential needs a reviewer; restricted needs an admin.
var classificationMinLevel = map[kg.Classification]int{
	kg.ClassificationPublic:       0,
	kg.ClassificationInternal:     1,
	kg.ClassificationConfidential: 3,
	kg.ClassificationRestricted:   4,
}

// EffectiveLevel returns the user's privilege level: the highest level
// among their recognized roles. Unknown roles contribute nothing.
func EffectiveLevel(access kg.AccessContext) int {
	level := 0
	for _, role := range access.Roles {
		if l, ok := roleLevels[strings.ToLower(role)]; ok && l > level {
			level = l
		}
	}
	return level
}

// IsAdmin reports whether any of the user's roles is admin.
func IsAdmin(access kg.AccessContext) bool {
	return EffectiveLevel(access) >= roleLevels[RoleAdmin]
}

// IsReviewer reports whether the user is at or above the reviewer tier.
func IsReviewer(access kg.AccessContext) bool {
	return EffectiveLevel(access) >= roleLevels[RoleReviewer]
}

// DenialReason is the coarse code recorded when an item is withheld.
// Nothing else about the item may appear in a denial record.
type DenialReason string

const (
	ReasonClassification DenialReason = "classification_denied"
	ReasonStatus         DenialReason = "status_restricted"
	ReasonGroup          DenialReason = "group_denied"
	ReasonDepartment     DenialReason = "department_denied"
	ReasonOwnership      DenialReason = "ownership_denied"
)

// Decision is the outcome of evaluating one item against one user.
type Decision struct {
	Allowed            bool
	Reason             DenialReason
	RequiredPermission string
}

var allowed = Decision{Allowed: true}

func denied(reason DenialReason, required string) Decision {
	return Decision{Reason: reason, RequiredPermission: required}
}

// Evaluate runs the access rules in fixed order, short-circuiting on
// the first denial: classification, then lifecycle status, then group,
// then department, then ownership. An item is admitted only when every
// applicable rule passes. Admins bypass all rules.
//
// The fixed ordering makes denial reasons deterministic: an item
// failing several rules always reports the same one.
func Evaluate(attrs kg.AccessAttributes, access kg.AccessContext) Decision {
	if IsAdmin(access) {
		return allowed
	}
	if d := checkClassification(attrs, access); !d.Allowed {
		return d
	}
	if d := checkStatus(attrs, access); !d.Allowed {
		return d
	}
	if d := checkGroups(attrs, access); !d.Allowed {
		return d
	}
	if d := checkDepartment(attrs, access); !d.Allowed {
		return d
	}
	return checkOwnership(attrs, access)
}

// checkClassification gates by sensitivity tier. A missing
// classification is treated as internal, the permissive default the
// graph store has always used.
func checkClassification(attrs kg.AccessAttributes, access kg.AccessContext) Decision {
	classification := attrs.Classification
	if classification == "" {
		classification = kg.ClassificationInternal
	}
	required, ok := classificationMinLevel[classification]
	if !ok {
		// Unknown tiers are treated as the most sensitive.
		required = classificationMinLevel[kg.ClassificationRestricted]
	}
	if EffectiveLevel(access) < required {
		return denied(ReasonClassification, "classification:"+string(classification))
	}
	return allowed
}

// checkStatus hides unreviewed and rejected items from everyone below
// the reviewer tier. Approved and unset statuses are visible to all.
func checkStatus(attrs kg.AccessAttributes, access kg.AccessContext) Decision {
	switch attrs.Status {
	case kg.StatusPendingReview, kg.StatusRejected:
		if !IsReviewer(access) {
			return denied(ReasonStatus, "role:"+RoleReviewer)
		}
	}
	return allowed
}

// checkGroups requires at least one shared group when the item declares
// allowed groups. An absent or empty list imposes no restriction.
func checkGroups(attrs kg.AccessAttributes, access kg.AccessContext) Decision {
	if len(attrs.AllowedGroups) == 0 {
		return allowed
	}
	for _, g := range access.Groups {
		for _, allowedGroup := range attrs.AllowedGroups {
			if g == allowedGroup {
				return allowed
			}
		}
	}
	return denied(ReasonGroup, "group:any-of-allowed")
}

// checkDepartment requires an exact department match when the item is
// restricted to one.
func checkDepartment(attrs kg.AccessAttributes, access kg.AccessContext) Decision {
	if attrs.RestrictedToDepartment == "" {
		return allowed
	}
	if access.Department != attrs.RestrictedToDepartment {
		return denied(ReasonDepartment, "department:match")
	}
	return allowed
}

// checkOwnership enforces private visibility: the requester must be
// the uploader or an allowed viewer. Public visibility bypasses the
// rule; an item with no explicit match denies.
func checkOwnership(attrs kg.AccessAttributes, access kg.AccessContext) Decision {
	if attrs.Visibility == kg.VisibilityPublic || attrs.Visibility == "" {
		return allowed
	}
	if access.UserID != "" && access.UserID == attrs.UploadedBy {
		return allowed
	}
	for _, viewer := range attrs.AllowedViewers {
		if access.UserID != "" && access.UserID == viewer {
			return allowed
		}
	}
	return denied(ReasonOwnership, "ownership:owner-or-viewer")
}

// Redact strips sensitive fields according to the viewer's tier:
// reviewer-only fields for non-reviewers, ownership fields for
// non-admins. The input is copied, never mutated.
func Redact(attrs kg.AccessAttributes, access kg.AccessContext) kg.AccessAttributes {
	out := attrs
	if !IsReviewer(access) {
		out.InternalNotes = ""
		out.ReviewerComments = ""
		out.ProcessingMetadata = nil
	}
	if !IsAdmin(access) {
		out.UploadedBy = ""
		out.AllowedViewers = nil
		out.AllowedGroups = nil
	}
	return out
}
