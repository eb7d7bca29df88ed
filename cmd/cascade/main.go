package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlasdeploy/cascade/internal/core/domain"
	"github.com/atlasdeploy/cascade/internal/manifest"
	"github.com/atlasdeploy/cascade/internal/shell/store"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file")
	manifestPath := flag.String("manifest", "", "Path to rollout manifest (YAML)")
	composePath := flag.String("compose", "", "Path to a Docker Compose file to import units from")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cascade %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	logger := SetupLogger(cfg)
	logger.Info("starting cascade",
		"version", Version,
		"config", *configPath,
	)

	units, err := loadUnits(*manifestPath, *composePath)
	if err != nil {
		logger.Error("failed to load units", "error", err)
		return ExitManifestError
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		if errors.Is(err, store.ErrConnectionFailed) || errors.Is(err, store.ErrMigrationFailed) {
			return ExitDatabaseError
		}
		return ExitDockerError
	}
	defer app.Close()

	if cfg.API.Enabled {
		app.ServeAPI()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := app.Coordinate(ctx, units)
	if err != nil && result == nil {
		logger.Error("coordination failed", "error", err)
		return ExitRolloutFailed
	}

	printSummary(result)
	switch {
	case errors.Is(err, domain.ErrCoordinationHalted):
		return ExitRolloutHalted
	case len(result.Failed) > 0:
		return ExitRolloutFailed
	default:
		return ExitSuccess
	}
}

// loadUnits reads units from the rollout manifest or a compose file.
func loadUnits(manifestPath, composePath string) ([]domain.Unit, error) {
	switch {
	case manifestPath != "" && composePath != "":
		return nil, fmt.Errorf("-manifest and -compose are mutually exclusive")
	case manifestPath != "":
		content, err := os.ReadFile(manifestPath)
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		m, err := manifest.Parse(content)
		if err != nil {
			return nil, err
		}
		return m.DomainUnits(), nil
	case composePath != "":
		content, err := os.ReadFile(composePath)
		if err != nil {
			return nil, fmt.Errorf("read compose file: %w", err)
		}
		return manifest.FromCompose(string(content))
	default:
		return nil, fmt.Errorf("one of -manifest or -compose is required")
	}
}

// printSummary writes the final run summary to stdout.
func printSummary(result *domain.CoordinationResult) {
	fmt.Printf("\ncoordination %s (%s)\n", result.CoordinationID, result.Strategy)
	fmt.Printf("  batches:   %d\n", len(result.Batches))
	fmt.Printf("  succeeded: %d\n", len(result.Successful))
	fmt.Printf("  failed:    %d\n", len(result.Failed))
	if result.Halted {
		fmt.Println("  halted:    continuation threshold exceeded")
	}
	fmt.Printf("  duration:  %s\n", result.Duration.Round(time.Millisecond))

	for _, r := range result.Failed {
		fmt.Printf("  FAILED %s: %s\n", r.UnitID, r.Error)
		if r.Rollback != nil {
			fmt.Printf("    rollback %s: success=%v attempts=%d\n", r.Rollback.RollbackID, r.Rollback.Success, r.Rollback.Attempts)
		}
	}
}
