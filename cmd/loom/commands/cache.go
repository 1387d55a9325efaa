// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/loom-build/loom/cmd/loom/cli"
	"github.com/loom-build/loom/lib/cache"
	"github.com/loom-build/loom/lib/config"
)

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:    "cache",
		Summary: "Inspect and maintain the cache archive store",
		Description: `Operations on the cache archive store.

Archives accumulate one per job identity; nothing evicts them during
runs. Use "stats" to see what the store holds and "prune" to evict by
age or total size.`,
		Subcommands: []*cli.Command{
			cacheStatsCommand(),
			cachePruneCommand(),
		},
	}
}

// cacheStats is the --json output shape for cache stats.
type cacheStats struct {
	Dir          string `json:"dir"`
	ArchiveCount int    `json:"archive_count"`
	TotalBytes   int64  `json:"total_bytes"`
	Oldest       string `json:"oldest,omitempty"`
	Newest       string `json:"newest,omitempty"`
	FreeBytes    uint64 `json:"free_bytes"`
}

func cacheStatsCommand() *cli.Command {
	var (
		configPath string
		jsonOutput bool
	)

	return &cli.Command{
		Name:    "stats",
		Summary: "Show archive count, sizes, and free disk space",
		Usage:   "loom cache stats [--json]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("stats", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to the loom config file")
			flagSet.BoolVar(&jsonOutput, "json", false, "emit stats as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("stats takes no arguments, got %q", args[0])
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			manager, err := cache.NewManager(cache.Options{Dir: cfg.Paths.Cache})
			if err != nil {
				return err
			}
			defer manager.Close()

			stats, err := manager.Stats()
			if err != nil {
				return err
			}

			if jsonOutput {
				out := cacheStats{
					Dir:          stats.Dir,
					ArchiveCount: stats.ArchiveCount,
					TotalBytes:   stats.TotalBytes,
					FreeBytes:    stats.FreeBytes,
				}
				if !stats.Oldest.IsZero() {
					out.Oldest = stats.Oldest.UTC().Format(time.RFC3339)
					out.Newest = stats.Newest.UTC().Format(time.RFC3339)
				}
				data, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return fmt.Errorf("encoding stats: %w", err)
				}
				fmt.Printf("%s\n", data)
				return nil
			}

			fmt.Printf("cache store: %s\n", stats.Dir)
			fmt.Printf("  archives:  %d\n", stats.ArchiveCount)
			fmt.Printf("  total:     %s\n", formatBytes(stats.TotalBytes))
			if !stats.Oldest.IsZero() {
				fmt.Printf("  oldest:    %s\n", stats.Oldest.UTC().Format(time.RFC3339))
				fmt.Printf("  newest:    %s\n", stats.Newest.UTC().Format(time.RFC3339))
			}
			fmt.Printf("  free disk: %s\n", formatBytes(int64(stats.FreeBytes)))
			return nil
		},
	}
}

func cachePruneCommand() *cli.Command {
	var (
		configPath string
		olderThan  time.Duration
		maxSize    int64
	)

	return &cli.Command{
		Name:    "prune",
		Summary: "Evict archives by age and total size",
		Description: `Evict cache archives, oldest first.

--older-than evicts every archive saved longer ago than the given
duration. --max-size then evicts oldest-first until the store fits
under the given byte count. Either criterion may be used alone; with
no flags, the limits from the config file's cache section apply.
Orphaned archive files with no index entry are always removed.`,
		Usage: "loom cache prune [--older-than DUR] [--max-size BYTES]",
		Examples: []cli.Example{
			{
				Description: "Drop archives older than 30 days",
				Command:     "loom cache prune --older-than 720h",
			},
			{
				Description: "Shrink the store to 5 GB",
				Command:     "loom cache prune --max-size 5368709120",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("prune", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "path to the loom config file")
			flagSet.DurationVar(&olderThan, "older-than", 0, "evict archives older than this (e.g. 720h)")
			flagSet.Int64Var(&maxSize, "max-size", 0, "evict oldest archives until the store fits under this many bytes")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("prune takes no arguments, got %q", args[0])
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			// Flags override the config limits; zero leaves the
			// config value in force.
			if olderThan == 0 {
				if olderThan, err = cfg.CacheMaxAge(); err != nil {
					return err
				}
			}
			if maxSize == 0 {
				maxSize = cfg.Cache.MaxTotalBytes
			}
			if olderThan == 0 && maxSize == 0 {
				return fmt.Errorf("nothing to prune: pass --older-than or --max-size, or set cache limits in the config file")
			}

			manager, err := cache.NewManager(cache.Options{
				Dir:    cfg.Paths.Cache,
				Logger: cli.NewCommandLogger(cfg.Log.Level, cfg.Log.Format),
			})
			if err != nil {
				return err
			}
			defer manager.Close()

			result, err := manager.PruneArchives(olderThan, maxSize)
			if err != nil {
				return err
			}

			fmt.Printf("pruned %d archives, freed %s\n", result.Removed, formatBytes(result.FreedBytes))
			return nil
		},
	}
}

// loadConfig loads and validates the operator configuration. An
// explicit path skips the LOOM_CONFIG / home-directory search.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return nil, &cli.ExitError{Code: cli.ExitConfig}
	}
	return cfg, nil
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(bytes int64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
