// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package trimming

import (
	"fmt"
	"strings"

	"github.com/latticeworks/lattice/pkg/kg"
)

// SearchFilter is the conservative pre-query filter handed to the
// search index before retrieval. It narrows what the index returns;
// the engine still re-evaluates every returned passage, because
// index-level filtering is never treated as authoritative.
//
// An empty AllowedClassifications means no classification clause
// (admins have full classification access).
type SearchFilter struct {
	AllowedClassifications []kg.Classification
	Groups                 []string
	Department             string
}

// BuildSearchFilter derives the pre-query filter for a user. Admins get
// no classification clause but still get a group clause when they
// belong to groups. All user-supplied tokens are escaped before they
// can reach a filter expression.
func BuildSearchFilter(access kg.AccessContext) SearchFilter {
	filter := SearchFilter{
		Groups:     escapeAll(access.Groups),
		Department: EscapeToken(access.Department),
	}
	if IsAdmin(access) {
		return filter
	}

	level := EffectiveLevel(access)
	for _, c := range []kg.Classification{
		kg.ClassificationPublic,
		kg.ClassificationInternal,
		kg.ClassificationConfidential,
		kg.ClassificationRestricted,
	} {
		if level >= classificationMinLevel[c] {
			filter.AllowedClassifications = append(filter.AllowedClassifications, c)
		}
	}
	return filter
}

// Expression renders the filter as a textual predicate for indexes that
// take a query string. Tokens were already escaped at construction.
func (f SearchFilter) Expression() string {
	var clauses []string
	if len(f.AllowedClassifications) > 0 {
		values := make([]string, len(f.AllowedClassifications))
		for i, c := range f.AllowedClassifications {
			values[i] = fmt.Sprintf("'%s'", c)
		}
		clauses = append(clauses, fmt.Sprintf("classification IN (%s)", strings.Join(values, ", ")))
	}
	if len(f.Groups) > 0 {
		values := make([]string, len(f.Groups))
		for i, g := range f.Groups {
			values[i] = fmt.Sprintf("'%s'", g)
		}
		clauses = append(clauses,
			fmt.Sprintf("(allowedGroups IS EMPTY OR allowedGroups ANY (%s))", strings.Join(values, ", ")))
	}
	// An empty classification list means full access; the department
	// restriction does not apply to those users.
	if len(f.AllowedClassifications) > 0 && f.Department != "" {
		clauses = append(clauses,
			fmt.Sprintf("(restrictedToDepartment IS EMPTY OR restrictedToDepartment = '%s')", f.Department))
	}
	return strings.Join(clauses, " AND ")
}

// EscapeToken neutralizes single quotes and backslashes in a
// user-supplied token so it cannot break out of a quoted filter value.
func EscapeToken(token string) string {
	token = strings.ReplaceAll(token, `\`, `\\`)
	return strings.ReplaceAll(token, "'", `\'`)
}

func escapeAll(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = EscapeToken(t)
	}
	return out
}
