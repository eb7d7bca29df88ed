package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atlasdeploy/cascade/internal/coordinator"
	"github.com/atlasdeploy/cascade/internal/core/domain"
	"github.com/atlasdeploy/cascade/internal/metrics"
	"github.com/atlasdeploy/cascade/internal/pipeline"
	"github.com/atlasdeploy/cascade/internal/rollback"
	"github.com/atlasdeploy/cascade/internal/shell/api"
	"github.com/atlasdeploy/cascade/internal/shell/docker"
	"github.com/atlasdeploy/cascade/internal/shell/probe"
	"github.com/atlasdeploy/cascade/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess       = 0
	ExitConfigError   = 1
	ExitDatabaseError = 2
	ExitDockerError   = 3
	ExitManifestError = 4
	ExitRolloutFailed = 5
	ExitRolloutHalted = 6
)

// =============================================================================
// App
// =============================================================================

// App wires the collaborators and owns their lifecycles.
type App struct {
	config      *Config
	store       *store.SQLiteStore
	deployer    *docker.Deployer
	coordinator *coordinator.Coordinator
	pipe        *pipeline.Pipeline
	engine      *rollback.Engine
	recorder    *stateRecorder
	handler     *api.Handler
	httpServer  *http.Server
	logger      *slog.Logger
}

// NewApp builds the full collaborator graph from configuration.
func NewApp(cfg *Config, logger *slog.Logger) (*App, error) {
	st, err := store.NewSQLiteStore(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	deployer, err := docker.NewDeployer(cfg.Docker.Host, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect docker: %w", err)
	}

	prober := probe.New(probe.Config{
		Timeout:    cfg.Probe.Timeout,
		SuitePaths: cfg.Probe.SuitePaths,
	}, st, logger)

	registry := prometheus.NewRegistry()
	mtr := metrics.New(registry)

	engine := rollback.New(rollback.Deps{
		States:   st,
		Steps:    deployer,
		Checks:   prober,
		Recovery: newRecoverer(deployer, logger),
		Sink:     st,
		Observer: mtr,
		Logger:   logger,
	})

	recorder := newStateRecorder(st, logger)
	observer := domain.MultiObserver{mtr, recorder}

	pipe := pipeline.New(pipeline.Deps{
		Deployer:  deployer,
		Validator: prober,
		Tests:     prober,
		Auditor:   st,
		Rollback:  engine,
		Observer:  observer,
		Logger:    logger,
	})

	handler := api.NewHandler(pipe.Registry(), engine.History(), registry, logger)

	app := &App{
		config:   cfg,
		store:    st,
		deployer: deployer,
		pipe:     pipe,
		engine:   engine,
		recorder: recorder,
		handler:  handler,
		logger:   logger,
	}
	app.coordinator = coordinator.New(pipe, nil,
		domain.MultiObserver{mtr, handler.Observer()}, logger)
	return app, nil
}

// Coordinate runs one coordination over the given units.
func (a *App) Coordinate(ctx context.Context, units []domain.Unit) (*domain.CoordinationResult, error) {
	a.recorder.SetUnits(units)
	return a.coordinator.Run(ctx, units, a.config.Options())
}

// ServeAPI starts the status API listener in the background.
func (a *App) ServeAPI() {
	a.httpServer = &http.Server{
		Addr:         a.config.API.Listen,
		Handler:      a.handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		a.logger.Info("status api listening", "addr", a.config.API.Listen)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("status api failed", "error", err)
		}
	}()
}

// Close releases all resources.
func (a *App) Close() {
	if a.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.httpServer.Shutdown(shutdownCtx)
		cancel()
	}
	a.recorder.Close()
	if err := a.deployer.Close(); err != nil {
		a.logger.Warn("docker close failed", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", "error", err)
	}
}

// =============================================================================
// State Recorder
// =============================================================================

// stateRecorder persists the deployment state of every successful unit
// so later rollbacks have a prior state to restore to. Observer
// callbacks must not block, so results are handed to a background
// writer through a buffered queue; Close drains it.
type stateRecorder struct {
	domain.NopObserver
	store  *store.SQLiteStore
	logger *slog.Logger

	mu    sync.Mutex
	units map[string]domain.Unit

	queue chan domain.UnitResult
	done  chan struct{}
}

func newStateRecorder(st *store.SQLiteStore, logger *slog.Logger) *stateRecorder {
	r := &stateRecorder{
		store:  st,
		logger: logger.With("component", "state-recorder"),
		queue:  make(chan domain.UnitResult, 64),
		done:   make(chan struct{}),
	}
	go r.drain()
	return r
}

func (r *stateRecorder) SetUnits(units []domain.Unit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units = make(map[string]domain.Unit, len(units))
	for _, u := range units {
		r.units[u.ID] = u
	}
}

func (r *stateRecorder) unit(id string) domain.Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.units[id]
}

func (r *stateRecorder) UnitCompleted(result domain.UnitResult) {
	select {
	case r.queue <- result:
	default:
		r.logger.Warn("state recorder queue full, dropping", "unit", result.UnitID)
	}
}

func (r *stateRecorder) drain() {
	defer close(r.done)
	for result := range r.queue {
		r.persist(result)
	}
}

func (r *stateRecorder) persist(result domain.UnitResult) {
	unit := r.unit(result.UnitID)
	state := &domain.DeploymentState{
		UnitID:     result.UnitID,
		Image:      unit.Image,
		URL:        result.URL,
		DeployedAt: time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.SaveState(ctx, state); err != nil {
		r.logger.Warn("failed to record deployment state", "unit", result.UnitID, "error", err)
	}
}

// Close stops accepting results and blocks until queued writes finish.
func (r *stateRecorder) Close() {
	close(r.queue)
	<-r.done
}

// =============================================================================
// Recoverer
// =============================================================================

// dockerRecoverer maps validation issue categories onto concrete
// container remediations.
type dockerRecoverer struct {
	deployer *docker.Deployer
	logger   *slog.Logger
}

func newRecoverer(deployer *docker.Deployer, logger *slog.Logger) *dockerRecoverer {
	return &dockerRecoverer{deployer: deployer, logger: logger.With("component", "recovery")}
}

// Apply restarts the unit's container for connectivity issues and
// redeploys it for functionality issues. State issues have no container
// level remediation; they surface as recommendations only.
func (d *dockerRecoverer) Apply(ctx context.Context, unit domain.Unit, category domain.ValidationIssueCategory) error {
	switch category {
	case domain.IssueConnectivity:
		if err := d.deployer.Stop(ctx, unit); err != nil {
			return err
		}
		return d.deployer.Restart(ctx, unit)
	case domain.IssueFunctionality:
		_, err := d.deployer.Deploy(ctx, unit, domain.Options{})
		return err
	default:
		return nil
	}
}
