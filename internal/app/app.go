// Package app ties extraction, rendering, artifact output and run history
// together for the CLI and the review server.
package app

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/ayusman/handkp/internal/config"
	"github.com/ayusman/handkp/internal/detector"
	"github.com/ayusman/handkp/internal/extract"
	"github.com/ayusman/handkp/internal/keypoints"
	"github.com/ayusman/handkp/internal/render"
	"github.com/ayusman/handkp/internal/store"
)

// DefaultLockTimeout bounds how long a run waits for another process
// writing the same keypoint document.
const DefaultLockTimeout = 30 * time.Second

var (
	// ErrBusy is returned when a run is started while another one is active.
	ErrBusy = errors.New("a run is already in progress")
	// ErrNoHistory is returned by history queries when no database is configured.
	ErrNoHistory = errors.New("run history is not enabled")
	// ErrUnknownImage is returned when a preview names an image missing from the run's document.
	ErrUnknownImage = errors.New("image not in document")
)

// Config holds configuration options for the application.
type Config struct {
	Settings *config.Config
	// Store records run history. Optional.
	Store *store.Store
	// NewDetector builds detectors for extraction. Defaults to the MediaPipe service.
	NewDetector detector.Factory
	Logger      *log.Logger
	// OnEvent observes progress, possibly from several goroutines.
	OnEvent     func(Event)
	LockTimeout time.Duration
}

// Result describes a finished run.
type Result struct {
	RunID    string
	Kind     store.RunKind
	Document *keypoints.Document
	Extract  *extract.Report
	Render   *render.Report
}

// App runs extraction and rendering jobs one at a time.
type App struct {
	config Config
	log    *log.Logger
	mu     sync.Mutex
}

// New creates a new App instance with the given configuration.
func New(cfg Config) *App {
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}
	if cfg.NewDetector == nil {
		cfg.NewDetector = detector.MediaPipeFactory(cfg.Settings.Detector)
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &App{config: cfg, log: logger}
}

// Settings returns the configuration the app runs with.
func (a *App) Settings() *config.Config {
	return a.config.Settings
}

// Busy reports whether a run is in progress.
func (a *App) Busy() bool {
	if a.mu.TryLock() {
		a.mu.Unlock()
		return false
	}
	return true
}

// History returns recorded runs, newest first.
func (a *App) History(limit int) ([]*store.Run, error) {
	if a.config.Store == nil {
		return nil, ErrNoHistory
	}
	return a.config.Store.Runs().List(limit)
}

// Lookup returns a recorded run and the document stored with it.
func (a *App) Lookup(id string) (*store.Run, *keypoints.Document, error) {
	if a.config.Store == nil {
		return nil, nil, ErrNoHistory
	}
	run, err := a.config.Store.Runs().GetByID(id)
	if err != nil {
		return nil, nil, err
	}
	doc, err := a.config.Store.Documents().Load(id)
	if err != nil {
		return nil, nil, err
	}
	return run, doc, nil
}

// Preview renders one image of a recorded run as PNG without writing files.
func (a *App) Preview(runID, filename string) ([]byte, error) {
	run, doc, err := a.Lookup(runID)
	if err != nil {
		return nil, err
	}
	rec := doc.Find(filename)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownImage, filename)
	}

	r := render.New(render.Options{Logger: a.log})
	data, _, err := r.Preview(rec, run.InputDir, gocv.PNGFileExt)
	return data, err
}

func (a *App) emit(ev Event) {
	if a.config.OnEvent != nil {
		a.config.OnEvent(ev)
	}
}

func newRunID() string {
	return uuid.NewString()
}
