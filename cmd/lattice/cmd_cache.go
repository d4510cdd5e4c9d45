// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheStatsCmd = &cobra.Command{
	Use:   "cache-stats",
	Short: "Show per-tier statistics of the entity resolution cache",
	RunE:  runCacheStats,
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := buildApp(ctx, config)
	if err != nil {
		return err
	}
	defer app.Close()

	fmt.Printf("%-12s %8s %8s %8s %8s %10s\n", "TIER", "SIZE", "HITS", "MISSES", "SETS", "EVICTIONS")
	for _, stats := range app.resolution.Stats() {
		fmt.Printf("%-12s %8d %8d %8d %8d %10d\n",
			stats.Name, stats.Size, stats.Hits, stats.Misses, stats.Sets, stats.Evictions)
	}
	return nil
}
