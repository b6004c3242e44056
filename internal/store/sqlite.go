package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/gantry/internal/model"

	_ "modernc.org/sqlite"
)

const createNetworksTable = `
CREATE TABLE IF NOT EXISTS networks (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    fragments   INTEGER NOT NULL,
    status      TEXT NOT NULL,
    created_at  DATETIME NOT NULL,
    removed_at  DATETIME
)`

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    run_id      INTEGER,
    network     TEXT NOT NULL,
    status      TEXT NOT NULL,
    error       TEXT,
    outputs     BLOB,
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    finished_at DATETIME
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createNetworksTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create networks table: %w", err)
	}

	if _, err := db.Exec(createRunsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateNetwork inserts a new network registration record.
func (s *SQLiteStore) CreateNetwork(ctx context.Context, n *model.Network) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO networks (id, name, fragments, status, created_at, removed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.Name, n.Fragments, n.Status, n.CreatedAt, n.RemovedAt,
	)
	if err != nil {
		return fmt.Errorf("insert network: %w", err)
	}
	return nil
}

// GetNetwork retrieves the most recent registration record for a name.
func (s *SQLiteStore) GetNetwork(ctx context.Context, name string) (*model.Network, error) {
	n := &model.Network{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, fragments, status, created_at, removed_at
		FROM networks WHERE name = ? ORDER BY created_at DESC LIMIT 1`, name,
	).Scan(&n.ID, &n.Name, &n.Fragments, &n.Status, &n.CreatedAt, &n.RemovedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get network: %w", err)
	}
	return n, nil
}

// ListNetworks returns a paginated list of network records ordered by
// created_at DESC, along with the total record count.
func (s *SQLiteStore) ListNetworks(ctx context.Context, limit, offset int) ([]*model.Network, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM networks").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count networks: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, name, fragments, status, created_at, removed_at
		FROM networks ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list networks: %w", err)
	}
	defer rows.Close()

	var networks []*model.Network
	for rows.Next() {
		n := &model.Network{}
		if err := rows.Scan(&n.ID, &n.Name, &n.Fragments, &n.Status, &n.CreatedAt, &n.RemovedAt); err != nil {
			return nil, 0, fmt.Errorf("scan network: %w", err)
		}
		networks = append(networks, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate networks: %w", err)
	}

	return networks, total, nil
}

// MarkNetworkRemoved flags the active registration record for a name as
// removed. Marking an unknown or already-removed name is a no-op, matching
// the host manager's idempotent removal semantics.
func (s *SQLiteStore) MarkNetworkRemoved(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE networks SET status = ?, removed_at = ? WHERE name = ? AND status = ?",
		model.NetworkRemoved, time.Now().UTC(), name, model.NetworkActive,
	)
	if err != nil {
		return fmt.Errorf("mark network removed: %w", err)
	}
	return nil
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, run_id, network, status, error, outputs, duration_ms, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.Network, r.Status, r.Error, r.Outputs, r.DurationMS, r.CreatedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run record by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r := &model.Run{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, network, status, error, outputs, duration_ms, created_at, finished_at
		FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.RunID, &r.Network, &r.Status, &r.Error, &r.Outputs, &r.DurationMS, &r.CreatedAt, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns a paginated list of run records ordered by created_at
// DESC, along with the total record count.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, run_id, network, status, error, outputs, duration_ms, created_at, finished_at
		FROM runs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r := &model.Run{}
		if err := rows.Scan(&r.ID, &r.RunID, &r.Network, &r.Status, &r.Error, &r.Outputs, &r.DurationMS, &r.CreatedAt, &r.FinishedAt); err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

// FinishRun records a run's terminal state: status, numeric run identifier,
// error, outputs, duration, and finish time.
func (s *SQLiteStore) FinishRun(ctx context.Context, r *model.Run) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET run_id = ?, status = ?, error = ?, outputs = ?,
			duration_ms = ?, finished_at = ? WHERE id = ?`,
		r.RunID, r.Status, r.Error, r.Outputs, r.DurationMS, r.FinishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetRunStats aggregates run counts and the average duration of finished
// runs.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &RunStats{
		CountByStatus:  make(map[string]int),
		CountByNetwork: make(map[string]int),
	}

	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx, "SELECT status, COUNT(*) FROM runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	netRows, err := tx.QueryContext(ctx, "SELECT network, COUNT(*) FROM runs GROUP BY network")
	if err != nil {
		return nil, fmt.Errorf("count by network: %w", err)
	}
	defer netRows.Close()
	for netRows.Next() {
		var network string
		var count int
		if err := netRows.Scan(&network, &count); err != nil {
			return nil, fmt.Errorf("scan network count: %w", err)
		}
		stats.CountByNetwork[network] = count
	}
	if err := netRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate network counts: %w", err)
	}

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM runs WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}
