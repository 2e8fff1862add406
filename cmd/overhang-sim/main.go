// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/overhang/lib/config"
	"github.com/bureau-foundation/overhang/lib/cube"
	"github.com/bureau-foundation/overhang/lib/process"
	"github.com/bureau-foundation/overhang/lib/version"
)

func main() {
	if err := run(); err != nil {
		var mismatch *verifyError
		if errors.As(err, &mismatch) {
			process.ExitCode(2, err)
		}
		process.Fatal(err)
	}
}

type options struct {
	configPath string
	pages      int
	workers    int
	output     string
	logLevel   string
	seed       uint64
}

func run() error {
	var opts options
	var showVersion bool

	flagSet := pflag.NewFlagSet("overhang-sim", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to an overhang .yaml or .jsonc config (default: $OVERHANG_CONFIG, else built-in defaults)")
	flagSet.IntVar(&opts.pages, "pages", 0, "side of a square page grid, overriding pages.width and pages.height")
	flagSet.IntVar(&opts.workers, "workers", 0, "background workers, overriding workers (0 means one per CPU)")
	flagSet.StringVar(&opts.output, "output", "", "world file to write (default: <storage.directory>/world.ovh)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn, or error, overriding log.level")
	flagSet.Uint64Var(&opts.seed, "seed", 1, "seed for metaball placement")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion {
		version.Print("overhang-sim")
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(flagSet, opts)
	if err != nil {
		return err
	}
	output := opts.output
	if output == "" {
		if err := cfg.EnsurePaths(); err != nil {
			return err
		}
		output = filepath.Join(cfg.Storage.Directory, "world.ovh")
	}

	logger := newLogger(cfg.Log.SlogLevel())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := simulate(ctx, cfg, opts.seed, output, logger)
	if err != nil {
		return err
	}
	logger.Info("simulation complete",
		"pages", report.Pages,
		"fragments", report.Fragments,
		"mixed", report.Statuses[cube.Mixed],
		"surface_builds", report.Builds,
		"ray_hits", report.RayHits,
		"bytes", report.Bytes,
		"bucket_allocations", report.Pool.Allocations,
	)
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `overhang-sim runs one load, sculpt, build, save, and reload cycle over a
grid of terrain pages and checks that every region survives the trip.

Usage:
  overhang-sim [flags]

Examples:
  # Built-in defaults, world written under ~/.cache/overhang
  overhang-sim

  # A 4x4 grid from a config file, zstd and all
  overhang-sim --config overhang.yaml --pages 4 --output /tmp/world.ovh

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

// loadConfig reads --config, else OVERHANG_CONFIG, else the defaults,
// then applies the flags that were set explicitly.
func loadConfig(flagSet *pflag.FlagSet, opts options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case os.Getenv("OVERHANG_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if flagSet.Changed("pages") {
		cfg.Pages.Width, cfg.Pages.Height = opts.pages, opts.pages
	}
	if flagSet.Changed("workers") {
		cfg.Workers = opts.workers
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// summary describes a completed simulation.
type summary struct {
	Pages     int
	Fragments int
	Statuses  map[cube.EmptyStatus]int
	Builds    uint64
	RayHits   int
	Bytes     int64
	Pool      cube.PoolStats
}

// simulate runs the whole cycle and tears everything down again.
func simulate(ctx context.Context, cfg *config.Config, seed uint64, output string, logger *slog.Logger) (*summary, error) {
	w, err := newWorld(cfg, seed, logger)
	if err != nil {
		return nil, err
	}
	defer w.close()

	live, err := w.generate()
	if err != nil {
		return nil, err
	}
	defer live.destroy()

	statuses, err := w.mutate(ctx, live)
	if err != nil {
		return nil, err
	}
	if err := w.buildSurfaces(ctx, live); err != nil {
		return nil, err
	}
	hits, err := w.probe(live)
	if err != nil {
		return nil, err
	}
	saved, written, err := w.save(live, output)
	if err != nil {
		return nil, err
	}

	reloaded, loaded, err := w.reload(output)
	if err != nil {
		return nil, err
	}
	defer reloaded.destroy()
	if err := verify(saved, loaded); err != nil {
		return nil, err
	}

	result := &summary{
		Pages:    len(live.keys),
		Statuses: statuses,
		Builds:   w.builder.Builds(),
		RayHits:  hits,
		Bytes:    written,
	}
	for range live.fragments() {
		result.Fragments++
	}

	if err := unloadAll(reloaded); err != nil {
		return nil, err
	}
	live.destroy()
	result.Pool = w.pool.Stats()
	if result.Pool.Outstanding != 0 {
		return nil, fmt.Errorf("%d buckets still checked out after teardown", result.Pool.Outstanding)
	}
	return result, nil
}
