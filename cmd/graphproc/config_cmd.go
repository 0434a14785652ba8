package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/mattjoyce/graphproc/internal/config"
	"github.com/mattjoyce/graphproc/internal/workers"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 || hasHelpFlag(args[:1]) {
		fmt.Fprintln(os.Stderr, "Usage: graphproc config <check|lock> [--config <path>]")
		return 1
	}
	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "lock":
		return runConfigLock(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config check: %v\n", err)
		return 1
	}

	result, err := config.Check(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config check: %v\n", err)
		return 1
	}
	for _, w := range result.Warnings {
		fmt.Printf("WARN  %s\n", w)
	}
	for _, e := range result.Errors {
		fmt.Printf("ERROR %s\n", e)
	}
	if !result.Passed {
		return 1
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Printf("ERROR %v\n", err)
		return 1
	}
	catalog := workers.Builtins()
	for _, spec := range cfg.WorkerSpecs() {
		if _, ok := catalog[spec.Name]; !ok {
			fmt.Printf("ERROR unknown worker %q\n", spec.Name)
			return 1
		}
	}

	fmt.Printf("OK    %s (%d workers enabled, stage %q)\n", cfg.SourcePath, len(cfg.WorkerSpecs()), cfg.Pipeline.Stage)
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config lock: %v\n", err)
		return 1
	}

	manifest, err := config.Lock(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config lock: %v\n", err)
		return 1
	}
	names := make([]string, 0, len(manifest.Hashes))
	for name := range manifest.Hashes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s  %s\n", manifest.Hashes[name], name)
	}
	return 0
}
