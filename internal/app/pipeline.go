package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/ayusman/handkp/internal/detector"
	"github.com/ayusman/handkp/internal/extract"
	"github.com/ayusman/handkp/internal/keypoints"
	"github.com/ayusman/handkp/internal/render"
	"github.com/ayusman/handkp/internal/store"
)

// Extract detects hands in the input folder and writes the keypoint
// document (and the CSV export when configured).
func (a *App) Extract(ctx context.Context) (*Result, error) {
	return a.execute(ctx, store.RunKindExtract, func(ctx context.Context, res *Result) error {
		if err := a.extractStage(ctx, res); err != nil {
			return err
		}
		return a.writeArtifacts(res.Document)
	})
}

// Render draws the saved keypoint document onto the input images.
func (a *App) Render(ctx context.Context) (*Result, error) {
	return a.execute(ctx, store.RunKindRender, func(ctx context.Context, res *Result) error {
		doc, err := keypoints.Load(a.config.Settings.JSONPath)
		if err != nil {
			return err
		}
		res.Document = doc
		return a.renderStage(ctx, res)
	})
}

// Run extracts, writes the artifacts and renders the in-memory document in
// one pass.
func (a *App) Run(ctx context.Context) (*Result, error) {
	return a.execute(ctx, store.RunKindRun, a.runBody)
}

// Start begins a combined run in the background and returns its ID. The
// run outlives the request that started it; progress is reported through
// events and the run history. Settings errors are returned here, before an
// ID is handed out; once Start returns, the ID is recorded and the run ends
// with exactly one completed or failed event.
func (a *App) Start(ctx context.Context) (string, error) {
	if !a.mu.TryLock() {
		return "", ErrBusy
	}
	run, err := a.begin(newRunID(), store.RunKindRun)
	if err != nil {
		a.mu.Unlock()
		return "", err
	}
	go func() {
		defer a.mu.Unlock()
		if _, err := a.finish(ctx, run, a.runBody); err != nil {
			a.log.Printf("Background run %s ended: %v", run.ID, err)
		}
	}()
	return run.ID, nil
}

func (a *App) runBody(ctx context.Context, res *Result) error {
	if err := a.extractStage(ctx, res); err != nil {
		return err
	}
	if err := a.writeArtifacts(res.Document); err != nil {
		return err
	}
	return a.renderStage(ctx, res)
}

type stageFunc func(context.Context, *Result) error

// execute serializes runs.
func (a *App) execute(ctx context.Context, kind store.RunKind, body stageFunc) (*Result, error) {
	if !a.mu.TryLock() {
		return nil, ErrBusy
	}
	defer a.mu.Unlock()

	run, err := a.begin(newRunID(), kind)
	if err != nil {
		return nil, err
	}
	return a.finish(ctx, run, body)
}

// begin checks the settings, records the run and emits its started event.
// No event is emitted when it fails. The caller holds a.mu.
func (a *App) begin(id string, kind store.RunKind) (*store.Run, error) {
	settings := a.config.Settings
	if kind != store.RunKindExtract && settings.OutputDir == "" {
		return nil, errors.New("output_dir must be set to render")
	}

	run := &store.Run{
		ID:        id,
		Kind:      kind,
		InputDir:  settings.InputDir,
		OutputDir: settings.OutputDir,
		Artifact:  settings.JSONPath,
	}
	if kind == store.RunKindExtract {
		run.OutputDir = ""
	}
	if a.config.Store != nil {
		if err := a.config.Store.Runs().Create(run); err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
	}

	a.log.Printf("Starting %s run %s", kind, id)
	a.emit(Event{RunID: id, Stage: StageRun, Status: StatusStarted})
	return run, nil
}

// finish runs body under the artifact lock, records the outcome and emits
// the single terminal event of the run. The caller holds a.mu.
func (a *App) finish(ctx context.Context, run *store.Run, body stageFunc) (*Result, error) {
	res := &Result{RunID: run.ID, Kind: run.Kind}
	runErr := a.runLocked(ctx, res, body)

	if a.config.Store != nil {
		a.record(run, res, runErr)
	}

	if runErr != nil {
		a.log.Printf("Run %s failed: %v", res.RunID, runErr)
		a.emit(Event{RunID: res.RunID, Stage: StageRun, Status: StatusFailed, Error: runErr.Error()})
		return res, runErr
	}

	a.emit(Event{RunID: res.RunID, Stage: StageRun, Status: StatusCompleted})
	return res, nil
}

func (a *App) runLocked(ctx context.Context, res *Result, body stageFunc) error {
	unlock, err := acquireArtifactLock(ctx, a.config.Settings.JSONPath, a.config.LockTimeout)
	if err != nil {
		return err
	}
	defer unlock()
	return body(ctx, res)
}

// record stores the final counts and the document of a run. Storage errors
// are logged; the artifacts on disk remain authoritative.
func (a *App) record(run *store.Run, res *Result, runErr error) {
	if res.Document != nil {
		stats := res.Document.Stats()
		run.Images = stats.Images
		run.Hands = stats.Hands
		if err := a.config.Store.Documents().Save(run.ID, res.Document); err != nil {
			a.log.Printf("Error storing document for run %s: %v", run.ID, err)
		}
	}
	if res.Extract != nil {
		run.Skipped += len(res.Extract.Skipped)
	}
	if res.Render != nil {
		run.Skipped += len(res.Render.Skipped)
	}
	if err := a.config.Store.Runs().Finish(run, runErr); err != nil {
		a.log.Printf("Error recording run %s: %v", run.ID, err)
	}
}

func (a *App) extractStage(ctx context.Context, res *Result) error {
	settings := a.config.Settings
	ex := extract.New(extract.Options{
		NewDetector: a.config.NewDetector,
		Extensions:  settings.Extensions,
		Workers:     settings.Workers,
		Logger:      a.log,
		OnProgress: func(filename string, status extract.Status, hands int, err error) {
			a.emit(Event{
				RunID:    res.RunID,
				Stage:    StageExtract,
				Filename: filename,
				Status:   string(status),
				Hands:    hands,
				Error:    errString(err),
			})
		},
	})

	doc, report, err := ex.Extract(ctx, settings.InputDir)
	if err != nil {
		return err
	}
	res.Document = doc
	res.Extract = report
	return nil
}

func (a *App) renderStage(ctx context.Context, res *Result) error {
	settings := a.config.Settings
	r := render.New(render.Options{
		Workers: settings.Workers,
		Logger:  a.log,
		OnImage: func(filename string, ann render.Annotation, err error) {
			ev := Event{
				RunID:    res.RunID,
				Stage:    StageRender,
				Filename: filename,
				Status:   StatusRendered,
				Hands:    ann.Markers / detector.NumLandmarks,
				Error:    errString(err),
			}
			if err != nil {
				ev.Status = StatusSkipped
			}
			a.emit(ev)
		},
	})

	report, err := r.Render(ctx, res.Document, settings.InputDir, settings.OutputDir)
	if err != nil {
		return err
	}
	res.Render = report
	return nil
}

// writeArtifacts saves the document as JSON, plus CSV when configured.
func (a *App) writeArtifacts(doc *keypoints.Document) error {
	settings := a.config.Settings
	if err := keypoints.Save(settings.JSONPath, doc); err != nil {
		return err
	}
	a.log.Printf("Keypoints saved to %s", settings.JSONPath)

	if settings.CSVPath != "" {
		if err := keypoints.SaveCSV(settings.CSVPath, doc); err != nil {
			return err
		}
		a.log.Printf("Keypoints exported to %s", settings.CSVPath)
	}
	return nil
}

// acquireArtifactLock takes the lock file next to the keypoint document,
// polling until timeout or ctx ends.
func acquireArtifactLock(ctx context.Context, jsonPath string, timeout time.Duration) (func(), error) {
	lockPath := jsonPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create lock directory: %w", err)
	}

	l := flock.New(lockPath)
	deadline := time.Now().Add(timeout)
	for {
		locked, err := l.TryLock()
		if err != nil {
			return nil, fmt.Errorf("cannot acquire artifact lock: %w", err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("another run is writing %s (lock: %s)", jsonPath, lockPath)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
