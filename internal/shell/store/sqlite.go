package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore persists deployment states, audit events, and rollback
// results. It serves the rollback engine as StateStore and HistorySink,
// and the pipeline as Auditor.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens the database and runs embedded migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func runMigrations(db *sqlx.DB) error {
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{NoTxWrap: true})
	if err != nil {
		return NewStoreError("runMigrations", "", "failed to create migration driver", ErrMigrationFailed)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return NewStoreError("runMigrations", "", "failed to load migrations", ErrMigrationFailed)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return NewStoreError("runMigrations", "", "failed to create migrator", ErrMigrationFailed)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return NewStoreError("runMigrations", "", fmt.Sprintf("migration failed: %v", err), ErrMigrationFailed)
	}
	return nil
}

// =============================================================================
// Deployment State (rollback.StateStore)
// =============================================================================

type stateRow struct {
	UnitID     string    `db:"unit_id"`
	Image      string    `db:"image"`
	URL        string    `db:"url"`
	DeployedAt time.Time `db:"deployed_at"`
	Rollbacks  int       `db:"rollbacks"`
	Metadata   string    `db:"metadata"`
}

// LoadState returns the unit's last recorded deployment state, or
// domain.ErrStateNotFound.
func (s *SQLiteStore) LoadState(ctx context.Context, unitID string) (*domain.DeploymentState, error) {
	var row stateRow
	err := s.db.GetContext(ctx, &row,
		`SELECT unit_id, image, url, deployed_at, rollbacks, metadata
		 FROM deployment_states WHERE unit_id = ?`, unitID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("unit %q: %w", unitID, domain.ErrStateNotFound)
	}
	if err != nil {
		return nil, NewStoreError("LoadState", unitID, "query failed", err)
	}

	state := &domain.DeploymentState{
		UnitID:     row.UnitID,
		Image:      row.Image,
		URL:        row.URL,
		DeployedAt: row.DeployedAt,
		Rollbacks:  row.Rollbacks,
	}
	if row.Metadata != "" && row.Metadata != "{}" {
		if err := json.Unmarshal([]byte(row.Metadata), &state.Metadata); err != nil {
			return nil, NewStoreError("LoadState", unitID, "bad metadata", ErrInvalidData)
		}
	}
	return state, nil
}

// SaveState upserts the unit's deployment state.
func (s *SQLiteStore) SaveState(ctx context.Context, state *domain.DeploymentState) error {
	metadata := "{}"
	if len(state.Metadata) > 0 {
		raw, err := json.Marshal(state.Metadata)
		if err != nil {
			return NewStoreError("SaveState", state.UnitID, "bad metadata", ErrInvalidData)
		}
		metadata = string(raw)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deployment_states (unit_id, image, url, deployed_at, rollbacks, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(unit_id) DO UPDATE SET
		   image = excluded.image,
		   url = excluded.url,
		   deployed_at = excluded.deployed_at,
		   rollbacks = excluded.rollbacks,
		   metadata = excluded.metadata`,
		state.UnitID, state.Image, state.URL, state.DeployedAt, state.Rollbacks, metadata)
	if err != nil {
		return NewStoreError("SaveState", state.UnitID, "upsert failed", err)
	}
	return nil
}

// =============================================================================
// Audit Events (pipeline.Auditor)
// =============================================================================

// RecordEvent appends one audit event.
func (s *SQLiteStore) RecordEvent(ctx context.Context, event domain.AuditEvent) error {
	metadata := "{}"
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return NewStoreError("RecordEvent", event.AuditID, "bad metadata", ErrInvalidData)
		}
		metadata = string(raw)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (audit_id, deployment_id, unit_id, status, metadata)
		 VALUES (?, ?, ?, ?, ?)`,
		event.AuditID, event.DeploymentID, event.UnitID, string(event.Status), metadata)
	if err != nil {
		return NewStoreError("RecordEvent", event.AuditID, "insert failed", err)
	}
	return nil
}

type auditRow struct {
	AuditID      string `db:"audit_id"`
	DeploymentID string `db:"deployment_id"`
	UnitID       string `db:"unit_id"`
	Status       string `db:"status"`
	Metadata     string `db:"metadata"`
}

// ListEvents returns the unit's audit trail, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, unitID string) ([]domain.AuditEvent, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT audit_id, deployment_id, unit_id, status, metadata
		 FROM audit_events WHERE unit_id = ? ORDER BY id ASC`, unitID)
	if err != nil {
		return nil, NewStoreError("ListEvents", unitID, "query failed", err)
	}

	events := make([]domain.AuditEvent, 0, len(rows))
	for _, row := range rows {
		event := domain.AuditEvent{
			AuditID:      row.AuditID,
			DeploymentID: row.DeploymentID,
			UnitID:       row.UnitID,
			Status:       domain.AuditStatus(row.Status),
		}
		if row.Metadata != "" && row.Metadata != "{}" {
			if err := json.Unmarshal([]byte(row.Metadata), &event.Metadata); err != nil {
				return nil, NewStoreError("ListEvents", row.AuditID, "bad metadata", ErrInvalidData)
			}
		}
		events = append(events, event)
	}
	return events, nil
}

// =============================================================================
// Rollback Results (rollback.HistorySink)
// =============================================================================

// SaveRollbackResult persists a finalized rollback result as JSON.
func (s *SQLiteStore) SaveRollbackResult(ctx context.Context, result *domain.RollbackResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return NewStoreError("SaveRollbackResult", result.RollbackID, "marshal failed", ErrInvalidData)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rollback_results (rollback_id, unit_id, success, attempts, duration_ms, result)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(rollback_id) DO NOTHING`,
		result.RollbackID, result.UnitID, result.Success, result.Attempts,
		result.Duration.Milliseconds(), string(raw))
	if err != nil {
		return NewStoreError("SaveRollbackResult", result.RollbackID, "insert failed", err)
	}
	return nil
}

// GetRollbackResult loads one persisted rollback result.
func (s *SQLiteStore) GetRollbackResult(ctx context.Context, rollbackID string) (*domain.RollbackResult, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw,
		`SELECT result FROM rollback_results WHERE rollback_id = ?`, rollbackID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rollback %q: %w", rollbackID, domain.ErrStateNotFound)
	}
	if err != nil {
		return nil, NewStoreError("GetRollbackResult", rollbackID, "query failed", err)
	}

	var result domain.RollbackResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, NewStoreError("GetRollbackResult", rollbackID, "unmarshal failed", ErrInvalidData)
	}
	return &result, nil
}
