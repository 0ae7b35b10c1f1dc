// Package extract builds a keypoint document by running hand detection over a
// folder of images.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/ayusman/handkp/internal/capture"
	"github.com/ayusman/handkp/internal/detector"
	"github.com/ayusman/handkp/internal/keypoints"
)

// DetectError is returned when the detector fails on one image.
type DetectError struct {
	Filename string
	Err      error
}

func (e *DetectError) Error() string {
	return fmt.Sprintf("detection failed for %s: %v", e.Filename, e.Err)
}

func (e *DetectError) Unwrap() error { return e.Err }

// Skip records an image left out of the document and why.
type Skip struct {
	Filename string
	Err      error
}

// Report summarizes an extraction run.
type Report struct {
	// Accepted is the number of listed files matching the extension set.
	Accepted int
	// Processed is the number of images that made it into the document.
	Processed int
	// Hands is the total number of hands recorded.
	Hands   int
	Skipped []Skip
}

// Status of a single image, passed to the progress callback.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusSkipped   Status = "skipped"
)

// Progress is called once per accepted image, possibly from several goroutines.
type Progress func(filename string, status Status, hands int, err error)

// Options configures an Extractor.
type Options struct {
	// NewDetector builds one detector per worker. Required.
	NewDetector detector.Factory
	// Extensions is the accepted extension set (default capture.DefaultExtensions).
	Extensions []string
	// Workers is the number of images processed in parallel (default 1).
	Workers int
	Logger  *log.Logger
	// OnProgress, when set, observes every accepted image.
	OnProgress Progress
}

// Extractor walks a folder and records detected hands per image.
type Extractor struct {
	opts Options
	log  *log.Logger
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	if len(opts.Extensions) == 0 {
		opts.Extensions = capture.DefaultExtensions
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Extractor{opts: opts, log: logger}
}

// result is the outcome for the image at one listing position.
type result struct {
	record keypoints.ImageRecord
	err    error
}

// Extract processes every accepted image in inputDir. The document lists
// images in directory order, one entry per successfully decoded image,
// including images where no hand was found. Per-image failures are logged
// and reported as skips; only a missing input folder (a
// *capture.MissingInputError), a detector that cannot be built, or context
// cancellation end the run with an error.
func (e *Extractor) Extract(ctx context.Context, inputDir string) (*keypoints.Document, *Report, error) {
	if e.opts.NewDetector == nil {
		return nil, nil, errors.New("extract: no detector factory configured")
	}

	names, err := capture.ListImages(inputDir, e.opts.Extensions)
	if err != nil {
		return nil, nil, err
	}

	workers := e.opts.Workers
	if workers > len(names) {
		workers = len(names)
	}

	// One detector per worker, built up front so a broken detector fails the
	// run before any image is touched.
	detectors := make([]detector.Detector, 0, workers)
	defer func() {
		for _, d := range detectors {
			if err := d.Close(); err != nil {
				e.log.Printf("Error closing detector: %v", err)
			}
		}
	}()
	for i := 0; i < workers; i++ {
		d, err := e.opts.NewDetector()
		if err != nil {
			return nil, nil, fmt.Errorf("create detector: %w", err)
		}
		detectors = append(detectors, d)
	}

	// Each listing position is written by exactly one worker.
	results := make([]result, len(names))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for _, d := range detectors {
		wg.Add(1)
		go func(d detector.Detector) {
			defer wg.Done()
			for i := range jobs {
				results[i] = e.processImage(d, inputDir, names[i])
			}
		}(d)
	}

dispatch:
	for i := range names {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	doc := &keypoints.Document{Images: make([]keypoints.ImageRecord, 0, len(names))}
	report := &Report{Accepted: len(names)}
	for i, res := range results {
		if res.err != nil {
			report.Skipped = append(report.Skipped, Skip{Filename: names[i], Err: res.err})
			continue
		}
		doc.Images = append(doc.Images, res.record)
		report.Processed++
		report.Hands += len(res.record.Hands)
	}

	e.log.Printf("Extracted %d hands from %d/%d images in %s (%d skipped)",
		report.Hands, report.Processed, report.Accepted, inputDir, len(report.Skipped))

	return doc, report, nil
}

// processImage decodes, converts and runs detection on one file.
func (e *Extractor) processImage(d detector.Detector, dir, name string) result {
	res := e.detect(d, dir, name)
	if res.err != nil {
		e.log.Printf("Error: %v, skipping...", res.err)
		e.progress(name, StatusSkipped, 0, res.err)
		return res
	}

	if len(res.record.Hands) > 0 {
		e.log.Printf("Hands detected in %s: %d", name, len(res.record.Hands))
	} else {
		e.log.Printf("No hands detected in %s", name)
	}
	e.progress(name, StatusProcessed, len(res.record.Hands), nil)
	return res
}

func (e *Extractor) detect(d detector.Detector, dir, name string) result {
	e.log.Printf("Processing %s...", name)

	img, err := capture.Load(filepath.Join(dir, name))
	if err != nil {
		return result{err: err}
	}
	defer img.Close()

	rgb, err := capture.ToRGB(img)
	if err != nil {
		return result{err: &capture.DecodeError{Path: filepath.Join(dir, name), Err: err}}
	}
	defer rgb.Close()

	hands, err := d.Detect(rgb)
	if err != nil {
		return result{err: &DetectError{Filename: name, Err: err}}
	}

	return result{record: keypoints.NewImageRecord(name, hands)}
}

func (e *Extractor) progress(name string, status Status, hands int, err error) {
	if e.opts.OnProgress != nil {
		e.opts.OnProgress(name, status, hands, err)
	}
}
