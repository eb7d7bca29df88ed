package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cascade.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_StateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := &domain.DeploymentState{
		UnitID:     "web",
		Image:      "web:v1",
		URL:        "http://localhost:8080",
		DeployedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Rollbacks:  1,
		Metadata:   map[string]string{"region": "eu-west-1"},
	}
	require.NoError(t, s.SaveState(ctx, state))

	got, err := s.LoadState(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "web:v1", got.Image)
	assert.Equal(t, "http://localhost:8080", got.URL)
	assert.True(t, got.DeployedAt.Equal(state.DeployedAt))
	assert.Equal(t, 1, got.Rollbacks)
	assert.Equal(t, "eu-west-1", got.Metadata["region"])
}

func TestSQLiteStore_SaveStateUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, &domain.DeploymentState{
		UnitID: "web", Image: "web:v1", DeployedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.SaveState(ctx, &domain.DeploymentState{
		UnitID: "web", Image: "web:v2", DeployedAt: time.Now().UTC(), Rollbacks: 2,
	}))

	got, err := s.LoadState(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "web:v2", got.Image)
	assert.Equal(t, 2, got.Rollbacks)
}

func TestSQLiteStore_LoadStateNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadState(context.Background(), "ghost")
	require.ErrorIs(t, err, domain.ErrStateNotFound)
	assert.Contains(t, err.Error(), "ghost")
}

func TestSQLiteStore_AuditTrail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events := []domain.AuditEvent{
		{AuditID: "audit-1", DeploymentID: "deploy-1", UnitID: "api", Status: domain.AuditStarted},
		{AuditID: "audit-1", DeploymentID: "deploy-1", UnitID: "api", Status: domain.AuditSucceeded,
			Metadata: map[string]string{"url": "http://localhost:9090"}},
		{AuditID: "audit-2", DeploymentID: "deploy-2", UnitID: "web", Status: domain.AuditFailed},
	}
	for _, e := range events {
		require.NoError(t, s.RecordEvent(ctx, e))
	}

	trail, err := s.ListEvents(ctx, "api")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, domain.AuditStarted, trail[0].Status)
	assert.Equal(t, domain.AuditSucceeded, trail[1].Status)
	assert.Equal(t, "http://localhost:9090", trail[1].Metadata["url"])

	empty, err := s.ListEvents(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLiteStore_RollbackResultRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	result := &domain.RollbackResult{
		RollbackID: "rb-1",
		UnitID:     "web",
		Success:    true,
		Attempts:   2,
		Duration:   1500 * time.Millisecond,
		LastAttempt: &domain.RollbackAttempt{
			Number: 2,
			Steps:  []domain.StepResult{{Name: "restore", Success: true}},
		},
		Report:    "Rollback rb-1 for unit web",
		StartedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveRollbackResult(ctx, result))

	got, err := s.GetRollbackResult(ctx, "rb-1")
	require.NoError(t, err)
	assert.Equal(t, "web", got.UnitID)
	assert.True(t, got.Success)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.LastAttempt)
	assert.Equal(t, "restore", got.LastAttempt.Steps[0].Name)
}

func TestSQLiteStore_SaveRollbackResultIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &domain.RollbackResult{RollbackID: "rb-1", UnitID: "web", Attempts: 1}
	second := &domain.RollbackResult{RollbackID: "rb-1", UnitID: "web", Attempts: 99}

	require.NoError(t, s.SaveRollbackResult(ctx, first))
	require.NoError(t, s.SaveRollbackResult(ctx, second))

	got, err := s.GetRollbackResult(ctx, "rb-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts, "first write wins")
}

func TestSQLiteStore_GetRollbackResultNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRollbackResult(context.Background(), "rb-404")
	assert.ErrorIs(t, err, domain.ErrStateNotFound)
}

func TestStoreError_Unwrap(t *testing.T) {
	err := NewStoreError("LoadState", "web", "query failed", ErrConnectionFailed)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Contains(t, err.Error(), "LoadState")
	assert.Contains(t, err.Error(), "web")
}
