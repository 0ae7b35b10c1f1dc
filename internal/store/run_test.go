package store

import (
	"errors"
	"testing"
	"time"
)

func TestRunRepository_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	repo := s.Runs()

	run := &Run{
		ID:        "run-1",
		Kind:      RunKindRun,
		InputDir:  "dataset_test",
		OutputDir: "output_test",
		Artifact:  "output_test/hand_keypoints.json",
	}
	if err := repo.Create(run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	if run.StartedAt.IsZero() {
		t.Error("StartedAt should be set after create")
	}
	if run.Status != RunStatusRunning {
		t.Errorf("expected status running, got %q", run.Status)
	}

	got, err := repo.GetByID("run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}

	if got.Kind != RunKindRun || got.InputDir != "dataset_test" || got.OutputDir != "output_test" {
		t.Errorf("unexpected run %+v", got)
	}
	if got.Artifact != run.Artifact {
		t.Errorf("expected artifact %q, got %q", run.Artifact, got.Artifact)
	}
	if got.FinishedAt != nil {
		t.Errorf("expected running run to have no finish time, got %v", got.FinishedAt)
	}
	if d := got.StartedAt.Sub(run.StartedAt); d > time.Second || d < -time.Second {
		t.Errorf("StartedAt mismatch: %v vs %v", got.StartedAt, run.StartedAt)
	}
}

func TestRunRepository_GetByID_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Runs().GetByID("non-existent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunRepository_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	repo := s.Runs()

	if err := repo.Create(&Run{ID: "dup", Kind: RunKindExtract, InputDir: "a"}); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := repo.Create(&Run{ID: "dup", Kind: RunKindExtract, InputDir: "b"}); err == nil {
		t.Error("expected error for duplicate run ID")
	}
}

func TestRunRepository_Finish(t *testing.T) {
	s := newTestStore(t)
	repo := s.Runs()

	t.Run("completed", func(t *testing.T) {
		run := &Run{ID: "ok", Kind: RunKindExtract, InputDir: "in"}
		if err := repo.Create(run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}

		run.Images, run.Hands, run.Skipped = 4, 3, 1
		if err := repo.Finish(run, nil); err != nil {
			t.Fatalf("failed to finish run: %v", err)
		}

		got, err := repo.GetByID("ok")
		if err != nil {
			t.Fatalf("failed to get run: %v", err)
		}
		if got.Status != RunStatusCompleted || got.Error != "" {
			t.Errorf("unexpected status %q error %q", got.Status, got.Error)
		}
		if got.Images != 4 || got.Hands != 3 || got.Skipped != 1 {
			t.Errorf("unexpected counts %+v", got)
		}
		if got.FinishedAt == nil {
			t.Error("FinishedAt should be set")
		}
	})

	t.Run("failed", func(t *testing.T) {
		run := &Run{ID: "bad", Kind: RunKindRender, InputDir: "in"}
		if err := repo.Create(run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
		if err := repo.Finish(run, errors.New("input folder missing")); err != nil {
			t.Fatalf("failed to finish run: %v", err)
		}

		got, err := repo.GetByID("bad")
		if err != nil {
			t.Fatalf("failed to get run: %v", err)
		}
		if got.Status != RunStatusFailed || got.Error != "input folder missing" {
			t.Errorf("unexpected status %q error %q", got.Status, got.Error)
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		err := repo.Finish(&Run{ID: "ghost"}, nil)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRunRepository_List(t *testing.T) {
	s := newTestStore(t)
	repo := s.Runs()

	// Empty list
	runs, err := repo.List(0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected 0 runs, got %d", len(runs))
	}

	for _, id := range []string{"first", "second", "third"} {
		if err := repo.Create(&Run{ID: id, Kind: RunKindExtract, InputDir: "in"}); err != nil {
			t.Fatalf("failed to create run %s: %v", id, err)
		}
	}

	runs, err = repo.List(0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].ID != "third" || runs[2].ID != "first" {
		t.Errorf("expected newest first, got %s..%s", runs[0].ID, runs[2].ID)
	}

	limited, err := repo.List(2)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 runs with limit, got %d", len(limited))
	}
}

func TestRunRepository_Delete(t *testing.T) {
	s := newTestStore(t)
	repo := s.Runs()

	if err := repo.Create(&Run{ID: "gone", Kind: RunKindExtract, InputDir: "in"}); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := repo.Delete("gone"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	if _, err := repo.GetByID("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := repo.Delete("gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
}
