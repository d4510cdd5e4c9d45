// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package search wraps the hybrid/vector search index behind a narrow
// interface. The weaviate implementation applies the trimming engine's
// conservative pre-query filter and tracks its own availability so the
// orchestrator can skip the passage stage instead of failing a query.
package search

import (
	"context"

	"github.com/latticeworks/lattice/pkg/kg"
	"github.com/latticeworks/lattice/services/trimming"
)

// Index is the search collaborator: a free-text query in, ranked
// passages out. The filter narrows retrieval; results still pass
// through the trimming engine afterwards.
type Index interface {
	// Search returns up to limit passages ranked by relevance.
	Search(ctx context.Context, query string, filter trimming.SearchFilter, limit int) ([]kg.Passage, error)

	// Available reports whether the index is currently usable. A
	// degraded index returns false and the caller degrades to an empty
	// passage section instead of erroring.
	Available() bool
}
