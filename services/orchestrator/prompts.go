// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/latticeworks/lattice/pkg/kg"
)

const extractionPromptTemplate = `Extract the named entities from this question about a knowledge graph.

Question: {{.Question}}

Return a JSON object with exactly this field:
{
  "entities": ["each distinct entity name mentioned in the question"]
}
Return an empty list when the question names no specific entities.`

const answerPromptTemplate = `Answer the question using ONLY the context below. If the context does
not contain the answer, say so plainly.

=== ENTITIES ===
{{range .Entities}}- {{.Name}} ({{.Type}}){{if .Description}}: {{.Description}}{{end}}
{{else}}(none)
{{end}}
=== RELATIONSHIPS ===
{{range .Relationships}}- {{.FromName}} -[{{.Type}}]-> {{.ToName}}
{{else}}(none)
{{end}}
=== SOURCE PASSAGES ===
{{range .Passages}}[{{.Title}}]
{{.Text}}

{{else}}(none)
{{end}}
=== COMMUNITY INSIGHTS ===
{{range .Summaries}}[{{.Title}}]
{{.Summary}}

{{else}}(none)
{{end}}
Question: {{.Question}}`

var (
	extractionTmpl = template.Must(template.New("extraction").Parse(extractionPromptTemplate))
	answerTmpl     = template.Must(template.New("answer").Parse(answerPromptTemplate))
)

// relationshipLine is a relationship rendered with entity names instead
// of raw ids.
type relationshipLine struct {
	FromName string
	ToName   string
	Type     string
}

// answerContext is the data behind the answer prompt's labeled
// sections.
type answerContext struct {
	Question      string
	Entities      []kg.Entity
	Relationships []relationshipLine
	Passages      []kg.Passage
	Summaries     []kg.CommunitySummary
}

func renderPrompt(tmpl *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", tmpl.Name(), err)
	}
	return sb.String(), nil
}
