package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// RunKind names what a run did.
type RunKind string

const (
	// RunKindExtract is a detection pass producing a keypoint document.
	RunKindExtract RunKind = "extract"
	// RunKindRender is a drawing pass over an existing document.
	RunKindRender RunKind = "render"
	// RunKindRun is an extraction followed by rendering.
	RunKindRun RunKind = "run"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one recorded extraction or rendering run.
type Run struct {
	ID        string
	Kind      RunKind
	Status    RunStatus
	InputDir  string
	OutputDir string
	// Artifact is the keypoint document path written or read by the run.
	Artifact   string
	Images     int
	Hands      int
	Skipped    int
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// RunRepository records run history.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a run in the running state.
func (r *RunRepository) Create(run *Run) error {
	run.Status = RunStatusRunning
	run.StartedAt = time.Now().UTC()
	run.FinishedAt = nil

	_, err := r.db.Exec(
		`INSERT INTO runs (id, kind, status, input_dir, output_dir, artifact, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), string(run.Status), run.InputDir, run.OutputDir, run.Artifact, run.StartedAt,
	)
	return err
}

// Finish stores the final counts of a run. The run is marked failed when
// runErr is not nil and completed otherwise.
func (r *RunRepository) Finish(run *Run, runErr error) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Status = RunStatusCompleted
	run.Error = ""
	if runErr != nil {
		run.Status = RunStatusFailed
		run.Error = runErr.Error()
	}

	result, err := r.db.Exec(
		`UPDATE runs SET status = ?, images = ?, hands = ?, skipped = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		string(run.Status), run.Images, run.Hands, run.Skipped, run.Error, now, run.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

const runColumns = `id, kind, status, input_dir, output_dir, artifact, images, hands, skipped, error, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var kind, status string
	var finished sql.NullTime

	err := row.Scan(&run.ID, &kind, &status, &run.InputDir, &run.OutputDir, &run.Artifact,
		&run.Images, &run.Hands, &run.Skipped, &run.Error, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	run.Kind = RunKind(kind)
	run.Status = RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// List returns runs in reverse creation order. A limit of zero or less returns
// every run.
func (r *RunRepository) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// Delete removes a run and the document stored with it.
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
