// Copyright (C) 2025 Lattice Works (engineering@latticeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"

	"github.com/latticeworks/lattice/pkg/kg"
)

// --- Global Command Variables ---
var (
	configPath string
	config     Config

	// Identity flags. Every command runs as a concrete user; the
	// trimming engine decides what that user can see.
	userID     string
	roles      []string
	groups     []string
	department string

	rootCmd = &cobra.Command{
		Use:   "lattice",
		Short: "Query a temporal, access-controlled knowledge graph",
		Long: `Lattice answers natural-language questions over a knowledge graph,
with point-in-time queries, per-user security trimming, and
community-level context.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			config = loaded
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "local", "User id the command runs as")
	rootCmd.PersistentFlags().StringSliceVar(&roles, "roles", []string{"reader"}, "Roles of the user (reader, contributor, reviewer, admin)")
	rootCmd.PersistentFlags().StringSliceVar(&groups, "groups", nil, "Group memberships of the user")
	rootCmd.PersistentFlags().StringVar(&department, "department", "", "Department of the user")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(cacheStatsCmd)
}

func accessFromFlags() kg.AccessContext {
	return kg.AccessContext{
		UserID:     userID,
		Roles:      roles,
		Groups:     groups,
		Department: department,
	}
}
