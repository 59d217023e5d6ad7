package jobstore

import (
	"context"
	"path/filepath"
	"testing"

	"jupitor/internal/backtest"
	"jupitor/internal/sweep"
	"jupitor/internal/tree"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleJob() *Job {
	return &Job{
		Name: "SPY momentum sweep",
		Template: &tree.FlowNode{
			ID:        "root",
			Kind:      tree.KindPosition,
			Positions: []string{"SPY"},
		},
		Ranges: []sweep.ParameterRange{
			{ID: "r1", Type: sweep.Period, NodeID: "root", Path: "volWindow", Enabled: true, Min: 10, Max: 30, Step: 10, CurrentValue: 10},
		},
		TickerLists: map[string][]string{"universe": {"SPY", "QQQ"}},
		Options:     backtest.Options{Mode: backtest.CC, CostBps: 10, WarmupStart: 0, RiskFreeRate: 0.02},
	}
}

func TestSaveJobAssignsIDAndRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := sampleJob()
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected SaveJob to assign a non-empty id")
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Name != job.Name {
		t.Errorf("Name = %q, want %q", got.Name, job.Name)
	}
	if got.Template.Positions[0] != "SPY" {
		t.Errorf("Template.Positions = %v, want [SPY]", got.Template.Positions)
	}
	if len(got.Ranges) != 1 || got.Ranges[0].Max != 30 {
		t.Errorf("Ranges round-trip mismatch: %+v", got.Ranges)
	}
	if got.TickerLists["universe"][1] != "QQQ" {
		t.Errorf("TickerLists round-trip mismatch: %+v", got.TickerLists)
	}
	if got.Options.CostBps != 10 || got.Options.Mode != backtest.CC {
		t.Errorf("Options round-trip mismatch: %+v", got.Options)
	}

	// Re-enumerating the round-tripped job must yield as many combinations
	// as enumerating the original, in-memory job.
	wantCombos := sweep.Enumerate(job.Ranges, job.TickerLists)
	gotCombos := sweep.Enumerate(got.Ranges, got.TickerLists)
	if len(wantCombos) != len(gotCombos) {
		t.Fatalf("enumerated %d combinations after round-trip, want %d", len(gotCombos), len(wantCombos))
	}
}

func TestSaveJobUpdatesInPlaceOnRepeatedID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := sampleJob()
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	job.Name = "renamed sweep"
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob (update): %v", err)
	}

	jobs, err := s.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1 after an update", len(jobs))
	}
	if jobs[0].Name != "renamed sweep" {
		t.Errorf("Name = %q, want %q", jobs[0].Name, "renamed sweep")
	}
}

func TestGetJobMissingIDReturnsError(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetJob(context.Background(), "does-not-exist"); err == nil {
		t.Error("expected an error for a missing job id")
	}
}

func TestDeleteJobRemovesIt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := sampleJob()
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if err := s.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, job.ID); err == nil {
		t.Error("expected GetJob to fail after deletion")
	}
}
