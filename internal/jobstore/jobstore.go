// Package jobstore persists sweep jobs (a template tree, its parameter
// ranges, ticker-list substitutions, and run options) through
// internal/store's JobStore, so a sweep can be re-enumerated and re-run
// byte-for-byte later. Storage only ever sees an opaque JSON payload; this
// package owns the schema.
package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jupitor/internal/backtest"
	"jupitor/internal/store"
	"jupitor/internal/sweep"
	"jupitor/internal/tree"
)

// Job is one saved sweep definition.
type Job struct {
	ID          string
	Name        string
	Template    *tree.FlowNode
	Ranges      []sweep.ParameterRange
	TickerLists map[string][]string
	Options     backtest.Options
	CreatedAt   time.Time
}

// payload is the JSON document stored in a JobRecord's Payload; it excludes
// the fields JobRecord already carries natively (id, name, created_at).
type payload struct {
	Template    *tree.FlowNode
	Ranges      []sweep.ParameterRange
	TickerLists map[string][]string
	Options     backtest.Options
}

// Store saves and loads Jobs through a store.JobStore.
type Store struct {
	jobs store.JobStore
}

// NewStore wraps an already-open store.JobStore (typically a
// *store.SQLiteStore).
func NewStore(jobs store.JobStore) *Store {
	return &Store{jobs: jobs}
}

// Open opens (or creates) a SQLite-backed job store at dbPath. It is a
// convenience wrapper around store.NewSQLiteStore + NewStore for callers
// that don't need to share the underlying connection with other stores.
func Open(dbPath string) (*Store, error) {
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("jobstore: open %s: %w", dbPath, err)
	}
	return NewStore(s), nil
}

// Close closes the underlying store, if it implements io.Closer-like
// Close() error (true of *store.SQLiteStore).
func (s *Store) Close() error {
	if closer, ok := s.jobs.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// SaveJob assigns job a uuid if it has none, then inserts or updates it.
func (s *Store) SaveJob(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	p := payload{Template: job.Template, Ranges: job.Ranges, TickerLists: job.TickerLists, Options: job.Options}
	blob, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("jobstore: marshal job %s: %w", job.ID, err)
	}

	rec := store.JobRecord{ID: job.ID, Name: job.Name, Payload: blob, CreatedAt: job.CreatedAt}
	if err := s.jobs.SaveJob(ctx, rec); err != nil {
		return fmt.Errorf("jobstore: save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	rec, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("jobstore: get job %s: %w", id, err)
	}
	return decodeJob(rec)
}

// ListJobs returns every saved job, most recently created first.
func (s *Store) ListJobs(ctx context.Context) ([]Job, error) {
	recs, err := s.jobs.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list jobs: %w", err)
	}
	out := make([]Job, 0, len(recs))
	for _, rec := range recs {
		job, err := decodeJob(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, nil
}

// DeleteJob removes a saved job by id.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	if err := s.jobs.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("jobstore: delete job %s: %w", id, err)
	}
	return nil
}

func decodeJob(rec store.JobRecord) (*Job, error) {
	var p payload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return nil, fmt.Errorf("jobstore: unmarshal job %s: %w", rec.ID, err)
	}
	return &Job{
		ID:          rec.ID,
		Name:        rec.Name,
		Template:    p.Template,
		Ranges:      p.Ranges,
		TickerLists: p.TickerLists,
		Options:     p.Options,
		CreatedAt:   rec.CreatedAt,
	}, nil
}
