// Package probe provides the HTTP-based validation, test, and
// post-rollback check collaborators.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/atlasdeploy/cascade/internal/core/domain"
	"github.com/atlasdeploy/cascade/internal/pipeline"
)

// =============================================================================
// Prober
// =============================================================================

// Config configures probe behavior.
type Config struct {
	// Timeout bounds each individual HTTP probe.
	Timeout time.Duration

	// SuitePaths are the paths requested by the test suite, relative to
	// the deployment's URL.
	SuitePaths []string
}

// DefaultConfig returns the default probe configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:    10 * time.Second,
		SuitePaths: []string{"/", "/healthz"},
	}
}

// StateReader supplies the recorded deployment state for the rollback
// state check. *store.SQLiteStore satisfies it.
type StateReader interface {
	LoadState(ctx context.Context, unitID string) (*domain.DeploymentState, error)
}

// Prober implements pipeline.Validator, pipeline.TestRunner, and the
// rollback engine's Checker over plain HTTP.
type Prober struct {
	client *http.Client
	states StateReader
	config Config
	logger *slog.Logger
}

// New creates a prober. states may be nil when the rollback state check
// is disabled.
func New(config Config, states StateReader, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if len(config.SuitePaths) == 0 {
		config.SuitePaths = DefaultConfig().SuitePaths
	}
	return &Prober{
		client: &http.Client{Timeout: config.Timeout},
		states: states,
		config: config,
		logger: logger.With("component", "probe"),
	}
}

// =============================================================================
// Pre-Deployment Validation (pipeline.Validator)
// =============================================================================

// Validate runs the pre-deployment checks for a unit and reports the
// structured issue list.
func (p *Prober) Validate(ctx context.Context, unit domain.Unit, opts domain.Options) (*pipeline.ValidationReport, error) {
	var issues []string

	if unit.ID == "" {
		issues = append(issues, "unit has no ID")
	}
	if unit.Image == "" && unit.Target == "" {
		issues = append(issues, "unit declares neither an image nor a target")
	}
	for _, need := range unit.Needs {
		if need == unit.ID {
			issues = append(issues, fmt.Sprintf("unit depends on itself (%s)", need))
		}
	}

	return &pipeline.ValidationReport{Valid: len(issues) == 0, Issues: issues}, nil
}

// =============================================================================
// Post-Deployment Tests (pipeline.TestRunner)
// =============================================================================

// RunSuite requests each configured path against the target and counts
// passes and failures. A response below 500 counts as a pass: the suite
// checks reachability, not application semantics.
func (p *Prober) RunSuite(ctx context.Context, target string, opts domain.Options) (*domain.TestSummary, error) {
	if target == "" {
		return nil, fmt.Errorf("no target to test")
	}

	summary := &domain.TestSummary{}
	for _, path := range p.config.SuitePaths {
		summary.Total++
		if err := p.get(ctx, target+path); err != nil {
			summary.Failed++
			p.logger.Debug("suite probe failed", "target", target, "path", path, "error", err)
		} else {
			summary.Passed++
		}
	}
	return summary, nil
}

// =============================================================================
// Post-Rollback Checks (rollback.Checker)
// =============================================================================

// CheckState confirms the state store still holds the prior state the
// rollback restored to.
func (p *Prober) CheckState(ctx context.Context, unit domain.Unit, prior *domain.DeploymentState) error {
	if p.states == nil {
		return nil
	}
	current, err := p.states.LoadState(ctx, unit.ID)
	if err != nil {
		return fmt.Errorf("state check: %w", err)
	}
	if prior != nil && current.Image != prior.Image {
		return fmt.Errorf("state check: recorded image %q does not match restored image %q", current.Image, prior.Image)
	}
	return nil
}

// CheckConnectivity confirms the unit's target answers at all.
func (p *Prober) CheckConnectivity(ctx context.Context, unit domain.Unit) error {
	target := unit.Target
	if target == "" {
		return nil // nothing reachable was ever promised
	}
	if err := p.get(ctx, target); err != nil {
		return fmt.Errorf("connectivity check: %w", err)
	}
	return nil
}

// CheckFunctionality runs the test suite against the unit's target and
// fails on any probe failure.
func (p *Prober) CheckFunctionality(ctx context.Context, unit domain.Unit) error {
	if unit.Target == "" {
		return nil
	}
	summary, err := p.RunSuite(ctx, unit.Target, domain.Options{})
	if err != nil {
		return fmt.Errorf("functionality check: %w", err)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("functionality check: %d/%d probes failed", summary.Failed, summary.Total)
	}
	return nil
}

// get issues one GET and fails on transport errors or 5xx responses.
func (p *Prober) get(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
