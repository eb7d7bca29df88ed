// Package e2e wires the real coordinator, pipeline, rollback engine,
// prober, and SQLite store together and runs whole rollouts in-process.
// Only the platform deployer is faked; everything else is the production
// wiring.
package e2e

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasdeploy/cascade/internal/coordinator"
	"github.com/atlasdeploy/cascade/internal/core/domain"
	"github.com/atlasdeploy/cascade/internal/manifest"
	"github.com/atlasdeploy/cascade/internal/pipeline"
	"github.com/atlasdeploy/cascade/internal/rollback"
	"github.com/atlasdeploy/cascade/internal/shell/probe"
	"github.com/atlasdeploy/cascade/internal/shell/store"
)

// =============================================================================
// In-Process Stack
// =============================================================================

// stubDeployer stands in for the Docker deployer: it "deploys" by
// answering on the shared httptest server and fails the configured units.
type stubDeployer struct {
	mu       sync.Mutex
	target   string
	failIDs  map[string]bool
	deployed []string
}

func (d *stubDeployer) Deploy(ctx context.Context, unit domain.Unit, opts domain.Options) (*pipeline.DeployOutcome, error) {
	d.mu.Lock()
	d.deployed = append(d.deployed, unit.ID)
	d.mu.Unlock()
	if d.failIDs[unit.ID] {
		return nil, errors.New("simulated platform failure")
	}
	return &pipeline.DeployOutcome{URL: d.target, Duration: time.Millisecond}, nil
}

func (d *stubDeployer) deployOrder() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.deployed...)
}

// stubSteps completes every rollback step against nothing in particular.
type stubSteps struct{}

func (stubSteps) Backup(context.Context, domain.Unit, *domain.DeploymentState) (string, error) {
	return "backup-ref", nil
}
func (stubSteps) Stop(context.Context, domain.Unit) error { return nil }
func (stubSteps) Restore(context.Context, domain.Unit, *domain.DeploymentState) error {
	return nil
}
func (stubSteps) Restart(context.Context, domain.Unit) error { return nil }
func (stubSteps) Verify(context.Context, domain.Unit) error { return nil }
func (stubSteps) CleanupFromBackup(context.Context, domain.Unit, string) error { return nil }

type stack struct {
	store    *store.SQLiteStore
	deployer *stubDeployer
	engine   *rollback.Engine
	pipe     *pipeline.Pipeline
	coord    *coordinator.Coordinator
}

func newStack(t *testing.T, target string) *stack {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "cascade.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	deployer := &stubDeployer{target: target, failIDs: map[string]bool{}}
	prober := probe.New(probe.Config{Timeout: time.Second, SuitePaths: []string{"/healthz"}}, st, nil)

	engine := rollback.New(rollback.Deps{
		States: st,
		Steps:  stubSteps{},
		Checks: prober,
		Sink:   st,
	})

	pipe := pipeline.New(pipeline.Deps{
		Deployer:  deployer,
		Validator: prober,
		Tests:     prober,
		Auditor:   st,
		Rollback:  engine,
	})

	return &stack{
		store:    st,
		deployer: deployer,
		engine:   engine,
		pipe:     pipe,
		coord:    coordinator.New(pipe, nil, nil, nil),
	}
}

func rolloutOptions() domain.Options {
	opts := domain.DefaultOptions()
	opts.CoordinationTimeout = time.Minute
	opts.PropagationDelay = 0
	opts.Rollback.Retry.InitialDelay = time.Millisecond
	// The stub steps cannot restore a real target, so skip the probes
	// that would require one.
	opts.Rollback.Checks = []domain.ValidationCheck{domain.CheckState}
	return opts
}

const rolloutManifest = `
version: "1"
units:
  - name: db
    image: postgres:16
  - name: api
    needs: [db]
    image: api:v2
  - name: web
    needs: [api]
    image: web:v2
`

// =============================================================================
// Rollouts
// =============================================================================

func TestRollout_ManifestToCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newStack(t, srv.URL)

	m, err := manifest.Parse([]byte(rolloutManifest))
	require.NoError(t, err)
	units := m.DomainUnits()

	opts := rolloutOptions()
	opts.BatchSize = 1

	result, err := s.coord.Run(context.Background(), units, opts)
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Len(t, result.Successful, 3)

	// Dependency order survives all the way to the platform calls.
	order := s.deployer.deployOrder()
	require.Equal(t, []string{"db", "api", "web"}, order)

	// Every unit left a started and a succeeded audit event.
	for _, id := range []string{"db", "api", "web"} {
		trail, err := s.store.ListEvents(context.Background(), id)
		require.NoError(t, err)
		require.Len(t, trail, 2, "audit trail for %s", id)
		assert.Equal(t, domain.AuditStarted, trail[0].Status)
		assert.Equal(t, domain.AuditSucceeded, trail[1].Status)
	}
}

func TestRollout_FailureRollsBackAndPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newStack(t, srv.URL)

	// A prior deployment exists, so rollback is feasible.
	require.NoError(t, s.store.SaveState(context.Background(), &domain.DeploymentState{
		UnitID:     "api",
		Image:      "api:v1",
		DeployedAt: time.Now().UTC(),
	}))
	s.deployer.failIDs["api"] = true

	units := []domain.Unit{
		{ID: "db", Image: "postgres:16"},
		{ID: "api", Needs: []string{"db"}, Image: "api:v2"},
	}
	opts := rolloutOptions()
	opts.BatchSize = 1
	opts.ContinuationThreshold = 1.0

	result, err := s.coord.Run(context.Background(), units, opts)
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	failed := result.Failed[0]
	assert.Equal(t, "api", failed.UnitID)

	// The rollback ran, succeeded, and was persisted.
	require.NotNil(t, failed.Rollback)
	assert.True(t, failed.Rollback.Success)
	persisted, err := s.store.GetRollbackResult(context.Background(), failed.Rollback.RollbackID)
	require.NoError(t, err)
	assert.Equal(t, "api", persisted.UnitID)

	assert.Equal(t, 1, s.engine.History().CountForUnit("api"))
}

func TestRollout_HaltStopsLaterBatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newStack(t, srv.URL)
	s.deployer.failIDs["a"] = true
	s.deployer.failIDs["b"] = true

	units := []domain.Unit{
		{ID: "a", Image: "a:v1"}, {ID: "b", Image: "b:v1"}, {ID: "c", Image: "c:v1"},
		{ID: "d", Image: "d:v1"}, {ID: "e", Image: "e:v1"}, {ID: "f", Image: "f:v1"},
	}
	opts := rolloutOptions()
	opts.BatchSize = 3
	opts.ContinuationThreshold = 0.5
	opts.Rollback.Enabled = false

	result, err := s.coord.Run(context.Background(), units, opts)
	require.ErrorIs(t, err, domain.ErrCoordinationHalted)
	assert.True(t, result.Halted)
	assert.Len(t, s.deployer.deployOrder(), 3, "second batch never reaches the platform")
}
