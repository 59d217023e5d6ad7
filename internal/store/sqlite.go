package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"jupitor/internal/domain"
	"jupitor/internal/util"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ PositionStore = (*SQLiteStore)(nil)
var _ SignalStore = (*SQLiteStore)(nil)
var _ JobStore = (*SQLiteStore)(nil)

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at TEXT NOT NULL
);`

// SQLiteStore implements OrderStore, PositionStore, SignalStore, and
// JobStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A sweep's worker pool and its job-saving caller can open the same
	// SQLite file concurrently; retry the migration past a transient
	// "database is locked" error instead of failing the whole run on it.
	migrateErr := util.Retry(context.Background(), 3, 20*time.Millisecond, func() error {
		_, err := db.Exec(jobsSchema)
		return err
	})
	if migrateErr != nil {
		db.Close()
		return nil, fmt.Errorf("migrating jobs table: %w", migrateErr)
	}
	// TODO: run migrations / create tables for orders, positions, signals
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder inserts a new order into the database.
func (s *SQLiteStore) SaveOrder(_ context.Context, _ *domain.Order) error {
	// TODO: implement INSERT INTO orders
	return nil
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(_ context.Context, _ string) (*domain.Order, error) {
	// TODO: implement SELECT FROM orders WHERE id = ?
	return nil, nil
}

// ListOrders returns all orders matching the given status.
func (s *SQLiteStore) ListOrders(_ context.Context, _ domain.OrderStatus) ([]domain.Order, error) {
	// TODO: implement SELECT FROM orders WHERE status = ?
	return nil, nil
}

// UpdateOrder persists changes to an existing order.
func (s *SQLiteStore) UpdateOrder(_ context.Context, _ *domain.Order) error {
	// TODO: implement UPDATE orders SET ... WHERE id = ?
	return nil
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

// SavePosition inserts or updates a position for a symbol.
func (s *SQLiteStore) SavePosition(_ context.Context, _ *domain.Position) error {
	// TODO: implement INSERT OR REPLACE INTO positions
	return nil
}

// GetPosition retrieves the current position for a symbol.
func (s *SQLiteStore) GetPosition(_ context.Context, _ string) (*domain.Position, error) {
	// TODO: implement SELECT FROM positions WHERE symbol = ?
	return nil, nil
}

// ListPositions returns all open positions.
func (s *SQLiteStore) ListPositions(_ context.Context) ([]domain.Position, error) {
	// TODO: implement SELECT FROM positions
	return nil, nil
}

// DeletePosition removes the position for a symbol.
func (s *SQLiteStore) DeletePosition(_ context.Context, _ string) error {
	// TODO: implement DELETE FROM positions WHERE symbol = ?
	return nil
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

// SaveSignal inserts a new signal into the database.
func (s *SQLiteStore) SaveSignal(_ context.Context, _ *domain.Signal) error {
	// TODO: implement INSERT INTO signals
	return nil
}

// ListSignals returns the most recent signals for a strategy, up to limit.
func (s *SQLiteStore) ListSignals(_ context.Context, _ string, _ int) ([]domain.Signal, error) {
	// TODO: implement SELECT FROM signals WHERE strategy_id = ? ORDER BY created_at DESC LIMIT ?
	return nil, nil
}

// ---------------------------------------------------------------------------
// JobStore implementation
// ---------------------------------------------------------------------------

// SaveJob inserts rec, or updates it in place if rec.ID already exists.
func (s *SQLiteStore) SaveJob(ctx context.Context, rec JobRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, name, payload, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, payload = excluded.payload`,
		rec.ID, rec.Name, rec.Payload, rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving job %s: %w", rec.ID, err)
	}
	return nil
}

// GetJob retrieves a job by id.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, payload, created_at FROM jobs WHERE id = ?`, id)
	var rec JobRecord
	var createdAt string
	rec.ID = id
	if err := row.Scan(&rec.Name, &rec.Payload, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return JobRecord{}, fmt.Errorf("job %s not found", id)
		}
		return JobRecord{}, fmt.Errorf("getting job %s: %w", id, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return JobRecord{}, fmt.Errorf("parsing created_at for job %s: %w", id, err)
	}
	rec.CreatedAt = ts
	return rec, nil
}

// ListJobs returns every saved job, most recently created first.
func (s *SQLiteStore) ListJobs(ctx context.Context) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, payload, created_at FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var rec JobRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for job %s: %w", rec.ID, err)
		}
		rec.CreatedAt = ts
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteJob removes a saved job by id; deleting a missing id is not an
// error.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting job %s: %w", id, err)
	}
	return nil
}
