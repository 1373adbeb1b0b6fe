package runlog

import (
	"context"
	"testing"

	"wireit/internal/executor"
	"wireit/internal/manifest"
)

func TestDB_BeginFinishRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	root := manifest.Reference{PackageDir: "/repo", Name: "build"}
	runID, err := db.BeginRun(ctx, root, "graphhash123")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if runID == "" {
		t.Fatal("expected a non-empty run ID")
	}

	if err := db.FinishRun(ctx, runID, StatusSucceeded, nil); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := db.RecentRuns(ctx, root, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].RunID != runID {
		t.Fatalf("expected run ID %q, got %q", runID, runs[0].RunID)
	}
	if runs[0].Status != StatusSucceeded {
		t.Fatalf("expected status %q, got %q", StatusSucceeded, runs[0].Status)
	}
	if runs[0].EndTime.IsZero() {
		t.Fatal("expected EndTime to be set after FinishRun")
	}
}

func TestDB_RecordResultAndRestartCount(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	root := manifest.Reference{PackageDir: "/repo", Name: "build"}
	svcRef := manifest.Reference{PackageDir: "/repo", Name: "server"}

	for i := 0; i < 3; i++ {
		runID, err := db.BeginRun(ctx, root, "graphhash")
		if err != nil {
			t.Fatalf("BeginRun: %v", err)
		}
		result := &executor.Result{
			Scripts: map[manifest.Reference]executor.ScriptResult{
				svcRef: {Reference: svcRef, Outcome: executor.OutcomeRan, ExitCode: 0},
			},
		}
		if err := db.RecordResult(ctx, runID, result); err != nil {
			t.Fatalf("RecordResult: %v", err)
		}
		if err := db.FinishRun(ctx, runID, StatusSucceeded, nil); err != nil {
			t.Fatalf("FinishRun: %v", err)
		}
	}

	count, err := db.RestartCount(ctx, root, svcRef)
	if err != nil {
		t.Fatalf("RestartCount: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 restarts, got %d", count)
	}
}

func TestDB_FinishRunRecordsError(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	root := manifest.Reference{PackageDir: "/repo", Name: "build"}
	runID, err := db.BeginRun(ctx, root, "graphhash")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	if err := db.FinishRun(ctx, runID, StatusFailed, errTest("boom")); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := db.RecentRuns(ctx, root, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Error != "boom" {
		t.Fatalf("expected recorded error %q, got %+v", "boom", runs)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
