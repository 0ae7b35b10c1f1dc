// Package render draws hand skeletons from a keypoint document onto the
// original images, without running detection again.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/handkp/internal/capture"
	"github.com/ayusman/handkp/internal/detector"
	"github.com/ayusman/handkp/internal/keypoints"
)

// Style controls how keypoints and connections are drawn.
type Style struct {
	MarkerRadius  int
	MarkerColor   color.RGBA
	LineColor     color.RGBA
	LineThickness int
}

// DefaultStyle draws red filled circles of radius 5 and white lines 2px wide.
func DefaultStyle() Style {
	return Style{
		MarkerRadius:  5,
		MarkerColor:   color.RGBA{R: 255, A: 255},
		LineColor:     color.RGBA{R: 255, G: 255, B: 255, A: 255},
		LineThickness: 2,
	}
}

// WriteError is returned when an annotated image cannot be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cannot save annotated image %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Skip records an image or hand that was not drawn and why.
type Skip struct {
	Filename string
	Err      error
}

// Report summarizes a rendering run.
type Report struct {
	Rendered     int
	Markers      int
	Lines        int
	HandsSkipped int
	// Skipped lists images that produced no output.
	Skipped []Skip
	// Invalid lists hands left out of otherwise rendered images.
	Invalid []Skip
}

// Annotation counts what was drawn on one image.
type Annotation struct {
	Markers int
	Lines   int
	Invalid []error
}

// Options configures a Renderer.
type Options struct {
	Style   Style
	Workers int
	Logger  *log.Logger
	// OnImage, when set, is called after each image record, possibly from
	// several goroutines. err is nil when the image was written.
	OnImage func(filename string, ann Annotation, err error)
}

// Renderer draws keypoint documents.
type Renderer struct {
	opts Options
	log  *log.Logger
}

// New creates a Renderer. A zero Style is replaced by DefaultStyle.
func New(opts Options) *Renderer {
	if opts.Style == (Style{}) {
		opts.Style = DefaultStyle()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Renderer{opts: opts, log: logger}
}

// PixelPoint converts a normalized landmark to integer pixel coordinates.
// z is ignored.
func PixelPoint(p detector.Point3D, width, height int) image.Point {
	return image.Pt(
		int(math.Round(p.X*float64(width))),
		int(math.Round(p.Y*float64(height))),
	)
}

// Annotate draws every valid hand of rec onto img in place. Hands whose
// landmark count is not 21 are skipped and reported; the others are drawn.
func (r *Renderer) Annotate(img *gocv.Mat, rec *keypoints.ImageRecord) Annotation {
	var ann Annotation
	width, height := img.Cols(), img.Rows()
	style := r.opts.Style

	for _, hand := range rec.Hands {
		if err := keypoints.ValidateHand(rec.Filename, hand); err != nil {
			ann.Invalid = append(ann.Invalid, err)
			continue
		}

		pixels := make([]image.Point, len(hand.Landmarks))
		for i, lm := range hand.Landmarks {
			pixels[i] = PixelPoint(lm, width, height)
			gocv.Circle(img, pixels[i], style.MarkerRadius, style.MarkerColor, -1)
			ann.Markers++
		}

		for _, c := range detector.HandConnections {
			if !c.InRange(len(pixels)) {
				continue
			}
			gocv.Line(img, pixels[c.From], pixels[c.To], style.LineColor, style.LineThickness)
			ann.Lines++
		}
	}

	return ann
}

// imageResult is the outcome for one document position.
type imageResult struct {
	ann Annotation
	err error
}

// Render writes one annotated copy of each image in doc to outDir, loading
// originals from baseDir by filename. outDir is created if needed. Images
// that cannot be loaded or written, and malformed hands, are logged and
// reported without stopping the batch. A filename listed more than once is
// rendered for its first record only.
func (r *Renderer) Render(ctx context.Context, doc *keypoints.Document, baseDir, outDir string) (*Report, error) {
	if doc == nil {
		return nil, errors.New("render: no keypoint document")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create output folder %s: %w", outDir, err)
	}

	dups := duplicates(doc)
	results := make([]imageResult, len(doc.Images))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < r.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = r.renderImage(&doc.Images[i], baseDir, outDir, dups[i])
			}
		}()
	}

dispatch:
	for i := range doc.Images {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{}
	for i, res := range results {
		name := doc.Images[i].Filename
		for _, err := range res.ann.Invalid {
			report.Invalid = append(report.Invalid, Skip{Filename: name, Err: err})
		}
		report.HandsSkipped += len(res.ann.Invalid)
		if res.err != nil {
			report.Skipped = append(report.Skipped, Skip{Filename: name, Err: res.err})
			continue
		}
		report.Rendered++
		report.Markers += res.ann.Markers
		report.Lines += res.ann.Lines
	}

	r.log.Printf("Rendered %d/%d images into %s (%d skipped, %d hands skipped)",
		report.Rendered, len(doc.Images), outDir, len(report.Skipped), report.HandsSkipped)

	return report, nil
}

// duplicates marks every record whose filename already appeared earlier in
// doc. Two records for one file would write the same output path.
func duplicates(doc *keypoints.Document) []error {
	errs := make([]error, len(doc.Images))
	seen := make(map[string]bool, len(doc.Images))
	for i, rec := range doc.Images {
		key := filepath.Clean(rec.Filename)
		if seen[key] {
			errs[i] = &keypoints.ValidationError{
				Filename:  rec.Filename,
				HandIndex: -1,
				Reason:    "duplicate filename",
			}
			continue
		}
		seen[key] = true
	}
	return errs
}

func (r *Renderer) renderImage(rec *keypoints.ImageRecord, baseDir, outDir string, invalid error) imageResult {
	res := imageResult{err: invalid}
	if invalid == nil {
		res = r.drawImage(rec, baseDir, outDir)
	}
	for _, err := range res.ann.Invalid {
		r.log.Printf("Skipping hand: %v", err)
	}
	if res.err != nil {
		r.log.Printf("Error: %v, skipping...", res.err)
	}
	if r.opts.OnImage != nil {
		r.opts.OnImage(rec.Filename, res.ann, res.err)
	}
	return res
}

func (r *Renderer) drawImage(rec *keypoints.ImageRecord, baseDir, outDir string) imageResult {
	if err := keypoints.ValidateFilename(rec.Filename); err != nil {
		return imageResult{err: err}
	}

	srcPath := filepath.Join(baseDir, rec.Filename)
	img, err := capture.Load(srcPath)
	if err != nil {
		return imageResult{err: &capture.LoadError{Path: srcPath, Err: err}}
	}
	defer img.Close()

	ann := r.Annotate(img, rec)

	outPath := filepath.Join(outDir, rec.Filename)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return imageResult{ann: ann, err: &WriteError{Path: outPath, Err: err}}
	}
	if err := capture.Save(outPath, img); err != nil {
		return imageResult{ann: ann, err: &WriteError{Path: outPath, Err: err}}
	}

	r.log.Printf("Annotated image saved to '%s'", outPath)
	return imageResult{ann: ann}
}

// Preview draws one image record and returns the encoded result in the
// format named by ext (".png", ".jpg").
func (r *Renderer) Preview(rec *keypoints.ImageRecord, baseDir string, ext gocv.FileExt) ([]byte, Annotation, error) {
	if err := keypoints.ValidateFilename(rec.Filename); err != nil {
		return nil, Annotation{}, err
	}

	srcPath := filepath.Join(baseDir, rec.Filename)
	img, err := capture.Load(srcPath)
	if err != nil {
		return nil, Annotation{}, &capture.LoadError{Path: srcPath, Err: err}
	}
	defer img.Close()

	ann := r.Annotate(img, rec)

	buf, err := gocv.IMEncode(ext, *img)
	if err != nil {
		return nil, ann, fmt.Errorf("encode preview: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, ann, nil
}
