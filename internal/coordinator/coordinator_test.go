package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

// =============================================================================
// Fake Executor
// =============================================================================

// fakeExecutor records call order and fails the configured unit IDs.
type fakeExecutor struct {
	mu       sync.Mutex
	order    []string
	failIDs  map[string]bool
	panicIDs map[string]bool
	delay    time.Duration
}

func (f *fakeExecutor) Execute(ctx context.Context, coordinationID string, unit domain.Unit, opts domain.Options) domain.UnitResult {
	f.mu.Lock()
	f.order = append(f.order, unit.ID)
	f.mu.Unlock()

	if f.panicIDs[unit.ID] {
		panic("collaborator blew up")
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			err := ctx.Err()
			return domain.UnitResult{UnitID: unit.ID, Err: err, Error: err.Error()}
		case <-time.After(f.delay):
		}
	}
	if f.failIDs[unit.ID] {
		err := errors.New("deploy failed")
		return domain.UnitResult{UnitID: unit.ID, Success: false, Err: err, Error: err.Error()}
	}
	return domain.UnitResult{UnitID: unit.ID, Success: true}
}

func (f *fakeExecutor) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *fakeExecutor) indexOf(t *testing.T, id string) int {
	t.Helper()
	for i, got := range f.callOrder() {
		if got == id {
			return i
		}
	}
	t.Fatalf("unit %s was never executed", id)
	return -1
}

type batchObserver struct {
	domain.NopObserver
	mu      sync.Mutex
	started []int
	results []domain.BatchResult
	runs    []*domain.CoordinationResult
}

func (o *batchObserver) BatchStarted(coordinationID string, index, size int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, index)
}

func (o *batchObserver) BatchCompleted(coordinationID string, result domain.BatchResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, result)
}

func (o *batchObserver) CoordinationCompleted(result *domain.CoordinationResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, result)
}

func testOptions() domain.Options {
	opts := domain.DefaultOptions()
	opts.CoordinationTimeout = time.Minute
	return opts
}

// =============================================================================
// Tests
// =============================================================================

func TestRun_AllUnitsSucceed(t *testing.T) {
	exec := &fakeExecutor{}
	c := New(exec, nil, nil, nil)

	units := []domain.Unit{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	opts := testOptions()
	opts.BatchSize = 2

	result, err := c.Run(context.Background(), units, opts)

	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Len(t, result.Successful, 4)
	assert.Empty(t, result.Failed)
	require.Len(t, result.Batches, 2)
	assert.Equal(t, 2, result.Batches[0].Size)
	assert.NotEmpty(t, result.CoordinationID)
	assert.Equal(t, "rolling", result.Strategy)
}

func TestRun_DependentDeploysAfterPrerequisite(t *testing.T) {
	exec := &fakeExecutor{}
	c := New(exec, nil, nil, nil)

	units := []domain.Unit{
		{ID: "u1"},
		{ID: "u2"},
		{ID: "u5", Needs: []string{"u2"}},
	}
	opts := testOptions()
	opts.BatchSize = 2 // [u1 u2] then [u5], so u2 settles before u5 starts

	result, err := c.Run(context.Background(), units, opts)

	require.NoError(t, err)
	assert.Len(t, result.Successful, 3)
	assert.Less(t, exec.indexOf(t, "u2"), exec.indexOf(t, "u5"))
}

func TestRun_BatchesRunSequentially(t *testing.T) {
	exec := &fakeExecutor{delay: 20 * time.Millisecond}
	obs := &batchObserver{}
	c := New(exec, nil, obs, nil)

	units := []domain.Unit{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	opts := testOptions()
	opts.BatchSize = 2

	_, err := c.Run(context.Background(), units, opts)

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, obs.started)

	// Both units of batch 0 must be dispatched before any unit of batch 1.
	order := exec.callOrder()
	require.Len(t, order, 4)
	assert.ElementsMatch(t, []string{"a", "b"}, order[:2])
	assert.ElementsMatch(t, []string{"c", "d"}, order[2:])
}

func TestRun_HaltsWhenThresholdExceeded(t *testing.T) {
	exec := &fakeExecutor{failIDs: map[string]bool{"a": true, "b": true}}
	obs := &batchObserver{}
	c := New(exec, nil, obs, nil)

	units := []domain.Unit{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}, {ID: "f"}}
	opts := testOptions()
	opts.BatchSize = 3
	opts.ContinuationThreshold = 0.5

	result, err := c.Run(context.Background(), units, opts)

	require.ErrorIs(t, err, domain.ErrCoordinationHalted)
	require.NotNil(t, result, "partial result accompanies the halt error")
	assert.True(t, result.Halted)
	assert.False(t, result.Success())

	// Only the first batch ran: 2 of 3 failed (rate 0.67 > 0.5).
	require.Len(t, result.Batches, 1)
	assert.Len(t, result.Failed, 2)
	assert.Len(t, result.Successful, 1)
	assert.Len(t, exec.callOrder(), 3, "second batch must never start")

	require.Len(t, obs.runs, 1, "observers still see the halted run")
	assert.True(t, obs.runs[0].Halted)
}

func TestRun_FailureAtThresholdContinues(t *testing.T) {
	exec := &fakeExecutor{failIDs: map[string]bool{"a": true}}
	c := New(exec, nil, nil, nil)

	units := []domain.Unit{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	opts := testOptions()
	opts.BatchSize = 2
	opts.ContinuationThreshold = 0.5

	result, err := c.Run(context.Background(), units, opts)

	require.NoError(t, err, "a rate equal to the threshold does not halt")
	assert.False(t, result.Halted)
	require.Len(t, result.Batches, 2)
	assert.Len(t, result.Failed, 1)
	assert.Len(t, result.Successful, 3)
}

func TestRun_CycleAbortsByDefault(t *testing.T) {
	exec := &fakeExecutor{}
	c := New(exec, nil, nil, nil)

	units := []domain.Unit{
		{ID: "a", Needs: []string{"b"}},
		{ID: "b", Needs: []string{"a"}},
	}

	result, err := c.Run(context.Background(), units, testOptions())

	require.Error(t, err)
	var cycleErr *domain.CycleError
	assert.ErrorAs(t, err, &cycleErr)
	assert.Nil(t, result)
	assert.Empty(t, exec.callOrder(), "no unit runs when resolution fails")
}

func TestRun_UnorderedFallbackWhenOptedIn(t *testing.T) {
	exec := &fakeExecutor{}
	c := New(exec, nil, nil, nil)

	units := []domain.Unit{
		{ID: "a", Needs: []string{"b"}},
		{ID: "b", Needs: []string{"a"}},
	}
	opts := testOptions()
	opts.AllowUnordered = true

	result, err := c.Run(context.Background(), units, opts)

	require.NoError(t, err)
	assert.Len(t, result.Successful, 2)
	assert.Equal(t, []string{"a", "b"}, exec.callOrder(), "falls back to submission order")
}

func TestRun_PanicContainedAsFailure(t *testing.T) {
	exec := &fakeExecutor{panicIDs: map[string]bool{"b": true}}
	c := New(exec, nil, nil, nil)

	units := []domain.Unit{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	opts := testOptions()
	opts.BatchSize = 3
	opts.ContinuationThreshold = 0.5

	result, err := c.Run(context.Background(), units, opts)

	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "b", result.Failed[0].UnitID)
	assert.Contains(t, result.Failed[0].Error, "panic")
	assert.Len(t, result.Successful, 2)
}

func TestRun_UnitBudgetEnforced(t *testing.T) {
	exec := &fakeExecutor{delay: time.Second}
	c := New(exec, nil, nil, nil)

	opts := testOptions()
	opts.BatchSize = 1
	opts.CoordinationTimeout = 20 * time.Millisecond
	opts.ContinuationThreshold = 1.0

	result, err := c.Run(context.Background(), []domain.Unit{{ID: "slow"}}, opts)

	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.ErrorIs(t, result.Failed[0].Err, context.DeadlineExceeded)
}

func TestRun_NoUnits(t *testing.T) {
	exec := &fakeExecutor{}
	c := New(exec, nil, nil, nil)

	result, err := c.Run(context.Background(), nil, testOptions())

	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Empty(t, result.Batches)
}
