// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/latticeworks/lattice/services/orchestrator/datatypes"
)

var (
	askPersona      string
	askAt           string
	askMode         string
	askNoCommunity  bool
	askMaxSummaries int

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against the knowledge graph",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
)

func init() {
	askCmd.Flags().StringVar(&askPersona, "persona", "", "Persona profile to weight retrieval and phrasing")
	askCmd.Flags().StringVar(&askAt, "at", "", "Pin the query to a point in time (RFC3339 or YYYY-MM-DD)")
	askCmd.Flags().StringVar(&askMode, "mode", "local", "Answering mode: local (graph expansion) or global (community map-reduce)")
	askCmd.Flags().BoolVar(&askNoCommunity, "no-community", false, "Skip community context")
	askCmd.Flags().IntVar(&askMaxSummaries, "max-summaries", 0, "Cap on community summaries in context (0 = flag default)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question := strings.Join(args, " ")

	app, err := buildApp(ctx, config)
	if err != nil {
		return err
	}
	defer app.Close()

	req := datatypes.QueryRequest{
		Question:     question,
		Access:       accessFromFlags(),
		Persona:      askPersona,
		At:           askAt,
		Mode:         datatypes.QueryMode(askMode),
		MaxSummaries: askMaxSummaries,
	}
	if askNoCommunity {
		exclude := false
		req.IncludeCommunity = &exclude
	}

	resp, err := app.service.Answer(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("Answer:\n%s\n", resp.Answer)
	fmt.Printf("\nConfidence: %.2f\n", resp.Confidence)
	if len(resp.Sources) > 0 {
		fmt.Println("\nSources:")
		for i, source := range resp.Sources {
			fmt.Printf("%d. %s\n", i+1, source)
		}
	}
	if len(resp.Metadata.InvalidSeeds) > 0 {
		fmt.Println("\nUnresolved entities:")
		for _, seed := range resp.Metadata.InvalidSeeds {
			fmt.Printf("- %s (%s)\n", seed.Name, seed.Reason)
		}
	}
	if len(resp.Metadata.DegradedStages) > 0 {
		fmt.Printf("\nDegraded stages: %s\n", strings.Join(resp.Metadata.DegradedStages, ", "))
	}
	if resp.Metadata.Truncated {
		fmt.Println("Note: graph expansion was truncated by a depth or entity budget.")
	}
	fmt.Printf("\n(%d entities, %d relationships, %d passages, %d summaries in %s)\n",
		len(resp.Entities), len(resp.Relationships), len(resp.Passages),
		len(resp.Summaries), resp.Metadata.Elapsed.Round(time.Millisecond))
	return nil
}
