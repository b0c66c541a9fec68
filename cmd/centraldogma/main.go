// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package main provides the centraldogma server CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "centraldogma",
		Short: "Central Dogma - versioned configuration repository service",
		Long: `Central Dogma is a versioned key-value configuration store backed by a
content-addressable commit log.

Clients read JSON documents at any revision, mutate them with JSON Patch
(RFC 6902 with extensions) or JSON Merge Patch (RFC 7386), and long-poll
for the first commit past a baseline revision that touches a matching
path pattern.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
