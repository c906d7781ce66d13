// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "rustus",
	Short: "Rustus - a TUS protocol upload server",
	Long: `Rustus is a server implementing the TUS 1.0.0 resumable upload
protocol with pluggable info storages, data storages and lifecycle hooks.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config_dir", ".", "Directory for configuration files")
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
