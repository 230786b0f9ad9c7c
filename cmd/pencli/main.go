// Copyright 2024 The Leveled Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Command pencli is a small introspection tool for a ledger directory,
// mirroring the teacher's own cmd/pebble benchmarking/introspection
// tool in shape: a cobra root command with one subcommand per
// operation, each opening the store read-only-in-spirit (pencli never
// runs a compactor worker loop longer than the command needs it) and
// printing a human-readable report.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/project-fifo/leveled/config"
	"github.com/project-fifo/leveled/internal/base"
	"github.com/project-fifo/leveled/penciller"
)

var rootCmd = &cobra.Command{
	Use:   "pencli [command] (flags)",
	Short: "pencli introspects a leveled ledger directory",
	Long:  ``,
}

var root string

func main() {
	log.SetFlags(0)
	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(manifestCmd, fetchCmd)
	for _, cmd := range []*cobra.Command{manifestCmd, fetchCmd} {
		cmd.Flags().StringVarP(&root, "root", "r", ".", "ledger root directory")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "print the current manifest's per-level file counts",
	Long:  ``,
	Args:  cobra.NoArgs,
	Run:   runManifest,
}

func runManifest(cmd *cobra.Command, args []string) {
	p, err := penciller.Open(config.Default(root))
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close()

	fmt.Printf("level  files\n")
	for level := 0; level <= base.MaxLevels; level++ {
		fmt.Printf("%5d  %5d\n", level, p.LevelFileCount(level))
	}
}

var fetchKey string

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "point-lookup a single key and print its value",
	Long:  ``,
	Args:  cobra.NoArgs,
	Run:   runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchKey, "key", "k", "", "key to look up")
}

func runFetch(cmd *cobra.Command, args []string) {
	if fetchKey == "" {
		log.Fatal("pencli fetch: --key is required")
	}
	p, err := penciller.Open(config.Default(root))
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close()

	rec, ok, err := p.Fetch(base.Key(fetchKey))
	if err != nil {
		log.Fatal(err)
	}
	if !ok {
		fmt.Println("not found")
		return
	}
	fmt.Printf("sqn=%d tombstone=%v payload=%q\n", rec.Value.SQN, rec.Value.IsTombstone(), rec.Value.Payload)
}
