// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package community

import (
	"fmt"
	"strings"
	"text/template"
)

const summaryPromptTemplate = `You are summarizing one community of a knowledge graph.

The community has {{.MemberCount}} members. Its most important entities:
{{range .Entities}}- {{.Name}} ({{.Type}}){{if .Description}}: {{.Description}}{{end}}
{{end}}
Relationships inside the community:
{{range .Relationships}}- {{.From}} -[{{.Type}}]-> {{.To}}
{{end}}
Return a JSON object with exactly these fields:
{
  "title": "short descriptive title for the community",
  "summary": "2-4 sentence narrative of what connects these entities",
  "keyEntities": ["up to 5 most central entity names"]
}`

const mapPromptTemplate = `You are answering a question using one community of a knowledge graph.

Question: {{.Question}}

Community "{{.Title}}" ({{.MemberCount}} members):
{{.Summary}}

Key entities: {{.KeyEntities}}

Answer the question using ONLY this community's information. If the
community contains nothing relevant, say so.

Return a JSON object with exactly these fields:
{
  "answer": "partial answer grounded in this community",
  "relevance": 0.0,
  "relevant": true
}
Set "relevant" to false and "relevance" to 0 when the community has no
useful information.`

const reducePromptTemplate = `You are synthesizing one final answer from partial answers, each
grounded in a different community of a knowledge graph.

Question: {{.Question}}

Partial answers:
{{range $i, $p := .Partials}}[{{$p.CommunityTitle}}] (relevance {{printf "%.2f" $p.Relevance}})
{{$p.Answer}}

{{end}}
Synthesize these into a single coherent answer. Prefer higher-relevance
partials; resolve contradictions explicitly.

Return a JSON object with exactly these fields:
{
  "answer": "the synthesized answer",
  "confidence": 0.0
}`

var (
	summaryTmpl = template.Must(template.New("summary").Parse(summaryPromptTemplate))
	mapTmpl     = template.Must(template.New("map").Parse(mapPromptTemplate))
	reduceTmpl  = template.Must(template.New("reduce").Parse(reducePromptTemplate))
)

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", tmpl.Name(), err)
	}
	return sb.String(), nil
}
