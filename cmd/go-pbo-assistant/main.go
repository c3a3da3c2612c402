// Package main provides the go-pbo-assistant CLI entry point.
//
// go-pbo-assistant stress-tests one physical CPU core at a time with
// mprime and y-cruncher to validate per-core Precision Boost Overdrive
// curve-optimizer offsets.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/randomizedcoder/go-pbo-assistant/internal/config"
	"github.com/randomizedcoder/go-pbo-assistant/internal/logging"
	"github.com/randomizedcoder/go-pbo-assistant/internal/orchestrator"
	"github.com/randomizedcoder/go-pbo-assistant/internal/plan"
	"github.com/randomizedcoder/go-pbo-assistant/internal/report"
	"github.com/randomizedcoder/go-pbo-assistant/internal/topology"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-pbo-assistant
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-pbo-assistant %s\n", version)
			return report.ExitPassed
		}
	}

	// Parse command-line flags
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return report.ExitPassed
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return report.ExitError
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return report.ExitError
	}

	// Initialize logger
	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.Discard()
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	resolver := topology.NewResolver(cfg.CPUInfoPath, logger)
	topo, err := resolver.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Topology error: %v\n", err)
		return report.ExitError
	}

	if cfg.ListCores {
		if err := report.WriteTopology(os.Stdout, topo); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return report.ExitError
		}
		return report.ExitPassed
	}

	p, err := buildPlan(cfg, topo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Plan error: %v\n", err)
		return report.ExitError
	}

	if cfg.PrintPlan {
		if err := report.WritePlan(os.Stdout, p, topo, cfg.OffsetPerCore); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return report.ExitError
		}
		return report.ExitPassed
	}

	// Log startup
	logger.Info("starting",
		"version", version,
		"cpu", topo.ModelName(),
		"physical_cores", topo.PhysicalCount,
		"logical_cpus", topo.LogicalCount,
		"cores", p.CoreIDs,
		"methods", p.Methods,
		"metrics_addr", cfg.MetricsAddr,
	)

	orch := orchestrator.New(cfg, orchestrator.Inputs{
		Resolver: resolver,
		Topology: topo,
		Plan:     p,
		Version:  version,
	}, logger)

	switch err := orch.Run(context.Background()); {
	case err == nil:
		return report.ExitPassed
	case errors.Is(err, orchestrator.ErrCoresFailed):
		return report.ExitFailed
	default:
		logger.Error("run_failed", "error", err)
		if cfg.TUIEnabled {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return report.ExitError
	}
}

func buildPlan(cfg *config.Config, topo *topology.Topology) (*plan.Plan, error) {
	requested, err := plan.ParseCoreList(cfg.Cores)
	if err != nil {
		return nil, err
	}
	methods, err := cfg.ParsedMethods()
	if err != nil {
		return nil, err
	}
	return plan.New(cfg.DurationPerCore, requested, methods, topo.SelectableCount())
}
