package render

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/handkp/internal/capture"
	"github.com/ayusman/handkp/internal/detector"
	"github.com/ayusman/handkp/internal/fixture"
	"github.com/ayusman/handkp/internal/keypoints"
)

var (
	background = color.RGBA{R: 90, G: 90, B: 90, A: 255}
	red        = color.RGBA{R: 255, A: 255}
	white      = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

func quietLogger() *log.Logger {
	return log.New(&bytes.Buffer{}, "", 0)
}

func TestPixelPoint(t *testing.T) {
	tests := []struct {
		name string
		p    detector.Point3D
		w, h int
		want image.Point
	}{
		{"spec example", detector.Point3D{X: 0.5, Y: 0.25}, 100, 200, image.Pt(50, 50)},
		{"origin", detector.Point3D{}, 640, 480, image.Pt(0, 0)},
		{"far corner", detector.Point3D{X: 1, Y: 1}, 640, 480, image.Pt(640, 480)},
		{"rounds half away from zero", detector.Point3D{X: 0.125, Y: 0.375}, 100, 4, image.Pt(13, 2)},
		{"rounds down below half", detector.Point3D{X: 0.1234, Y: 0.9876}, 100, 100, image.Pt(12, 99)},
		{"z ignored", detector.Point3D{X: 0.5, Y: 0.5, Z: -42}, 10, 10, image.Pt(5, 5)},
		{"out of range kept", detector.Point3D{X: 1.1, Y: -0.1}, 100, 100, image.Pt(110, -10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PixelPoint(tt.p, tt.w, tt.h); got != tt.want {
				t.Errorf("PixelPoint(%+v, %d, %d) = %v, want %v", tt.p, tt.w, tt.h, got, tt.want)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(Options{})
	if r.opts.Style != DefaultStyle() {
		t.Errorf("expected default style, got %+v", r.opts.Style)
	}
	if r.opts.Workers != 1 {
		t.Errorf("expected 1 worker, got %d", r.opts.Workers)
	}
}

// setup writes the originals and returns base and output folders.
func setup(t *testing.T, names ...string) (string, string) {
	t.Helper()
	base := t.TempDir()
	for _, name := range names {
		if _, err := fixture.WriteImage(base, name, 400, 400, background); err != nil {
			t.Fatal(err)
		}
	}
	return base, filepath.Join(t.TempDir(), "dataset_test_keypoints")
}

func load(t *testing.T, path string) *gocv.Mat {
	t.Helper()
	img, err := fixture.LoadImage(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { img.Close() })
	return img
}

// hasColorNear reports whether any pixel within radius of p has colour c.
func hasColorNear(img *gocv.Mat, p image.Point, radius int, c color.RGBA) bool {
	for y := p.Y - radius; y <= p.Y+radius; y++ {
		for x := p.X - radius; x <= p.X+radius; x++ {
			if x < 0 || y < 0 || x >= img.Cols() || y >= img.Rows() {
				continue
			}
			if fixture.PixelAt(img, x, y) == c {
				return true
			}
		}
	}
	return false
}

func TestRenderer_TwoImageScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV image codecs")
	}

	base, out := setup(t, "a.png", "b.png")
	hand := fixture.Hand(0, detector.NumLandmarks)
	doc := &keypoints.Document{Images: []keypoints.ImageRecord{
		{Filename: "a.png", Hands: []keypoints.HandRecord{hand}},
		{Filename: "b.png", Hands: []keypoints.HandRecord{}},
	}}

	report, err := New(Options{Logger: quietLogger()}).Render(context.Background(), doc, base, out)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if report.Rendered != 2 || report.Markers != 21 || report.Lines != 20 {
		t.Errorf("unexpected report %+v", report)
	}
	if len(report.Skipped) != 0 || report.HandsSkipped != 0 {
		t.Errorf("expected no skips, got %+v", report)
	}

	annotated := load(t, filepath.Join(out, "a.png"))

	t.Run("markers at every keypoint", func(t *testing.T) {
		for i, lm := range hand.Landmarks {
			p := PixelPoint(lm, 400, 400)
			if !hasColorNear(annotated, p, 5, red) {
				t.Errorf("no marker near keypoint %v at %v", detector.Landmark(i), p)
			}
		}
	})

	t.Run("lines along every connection", func(t *testing.T) {
		for _, c := range detector.HandConnections {
			p1 := PixelPoint(hand.Landmarks[c.From], 400, 400)
			p2 := PixelPoint(hand.Landmarks[c.To], 400, 400)
			mid := image.Pt((p1.X+p2.X)/2, (p1.Y+p2.Y)/2)
			if !hasColorNear(annotated, mid, 1, white) {
				t.Errorf("no line between %v and %v near %v", c.From, c.To, mid)
			}
		}
	})

	t.Run("image without hands is unchanged", func(t *testing.T) {
		original := load(t, filepath.Join(base, "b.png"))
		rendered := load(t, filepath.Join(out, "b.png"))
		if !fixture.SamePixels(original, rendered) {
			t.Error("expected b.png to be identical to its source")
		}
	})

	t.Run("image with hands is changed", func(t *testing.T) {
		original := load(t, filepath.Join(base, "a.png"))
		if fixture.SamePixels(original, annotated) {
			t.Error("expected a.png to be annotated")
		}
	})
}

func TestRenderer_MalformedHandSkipped(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV image codecs")
	}

	base, out := setup(t, "a.png")
	doc := &keypoints.Document{Images: []keypoints.ImageRecord{
		{Filename: "a.png", Hands: []keypoints.HandRecord{
			fixture.Hand(0, 20),
			fixture.Hand(1, detector.NumLandmarks),
		}},
	}}

	report, err := New(Options{Logger: quietLogger()}).Render(context.Background(), doc, base, out)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if report.Rendered != 1 || report.Markers != 21 || report.Lines != 20 {
		t.Errorf("expected sibling hand drawn, got %+v", report)
	}
	if report.HandsSkipped != 1 || len(report.Invalid) != 1 {
		t.Fatalf("expected one skipped hand, got %+v", report)
	}

	var verr *keypoints.ValidationError
	if !errors.As(report.Invalid[0].Err, &verr) || verr.HandIndex != 0 {
		t.Errorf("expected ValidationError for hand 0, got %v", report.Invalid[0].Err)
	}
}

func TestRenderer_SkipsUnloadableImages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV image codecs")
	}

	base, out := setup(t, "a.png")
	if _, err := fixture.WriteCorrupt(base, "corrupt.png"); err != nil {
		t.Fatal(err)
	}

	doc := &keypoints.Document{Images: []keypoints.ImageRecord{
		{Filename: "deleted.png", Hands: []keypoints.HandRecord{fixture.Hand(0, 21)}},
		{Filename: "corrupt.png", Hands: []keypoints.HandRecord{}},
		{Filename: "../escape.png", Hands: []keypoints.HandRecord{}},
		{Filename: "a.png", Hands: []keypoints.HandRecord{fixture.Hand(0, 21)}},
	}}

	var seen []string
	r := New(Options{
		Logger: quietLogger(),
		OnImage: func(name string, _ Annotation, _ error) {
			seen = append(seen, name)
		},
	})
	report, err := r.Render(context.Background(), doc, base, out)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if report.Rendered != 1 || len(report.Skipped) != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(seen) != 4 {
		t.Errorf("expected a callback per image, got %v", seen)
	}

	var loadErr *capture.LoadError
	for _, skip := range report.Skipped[:2] {
		if !errors.As(skip.Err, &loadErr) {
			t.Errorf("%s: expected LoadError, got %v", skip.Filename, skip.Err)
		}
	}
	var verr *keypoints.ValidationError
	if !errors.As(report.Skipped[2].Err, &verr) {
		t.Errorf("expected ValidationError for escaping filename, got %v", report.Skipped[2].Err)
	}

	if _, err := os.Stat(filepath.Join(out, "a.png")); err != nil {
		t.Errorf("expected a.png to be written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "deleted.png")); !os.IsNotExist(err) {
		t.Errorf("expected no output for deleted.png, got %v", err)
	}
}

func TestRenderer_DuplicateFilenames(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV image codecs")
	}

	base, out := setup(t, "a.png", "b.png")
	doc := &keypoints.Document{Images: []keypoints.ImageRecord{
		{Filename: "a.png", Hands: []keypoints.HandRecord{fixture.Hand(0, 21)}},
		{Filename: "b.png", Hands: []keypoints.HandRecord{}},
		{Filename: "./a.png", Hands: []keypoints.HandRecord{}},
		{Filename: "a.png", Hands: []keypoints.HandRecord{}},
	}}

	report, err := New(Options{Logger: quietLogger(), Workers: 4}).Render(context.Background(), doc, base, out)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if report.Rendered != 2 || len(report.Skipped) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, skip := range report.Skipped {
		var verr *keypoints.ValidationError
		if !errors.As(skip.Err, &verr) || verr.HandIndex != -1 {
			t.Errorf("%s: expected image ValidationError, got %v", skip.Filename, skip.Err)
		}
	}

	if fixture.SamePixels(load(t, filepath.Join(base, "a.png")), load(t, filepath.Join(out, "a.png"))) {
		t.Error("expected a.png to carry the hand from its first record")
	}
}

func TestRenderer_NilDocument(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	if _, err := New(Options{Logger: quietLogger()}).Render(context.Background(), nil, t.TempDir(), out); err == nil {
		t.Fatal("expected error for a nil document")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("expected no output folder, got %v", err)
	}
}

func TestRenderer_OverwritesAndCreatesOutput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV image codecs")
	}

	base, _ := setup(t, "a.png")
	out := filepath.Join(t.TempDir(), "deep", "nested", "out")
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(out, "a.png"), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	doc := &keypoints.Document{Images: []keypoints.ImageRecord{{Filename: "a.png", Hands: []keypoints.HandRecord{}}}}
	if _, err := New(Options{Logger: quietLogger()}).Render(context.Background(), doc, base, out); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if !fixture.SamePixels(load(t, filepath.Join(base, "a.png")), load(t, filepath.Join(out, "a.png"))) {
		t.Error("expected stale output to be replaced")
	}
}

func TestRenderer_WorkersMatchSequential(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV image codecs")
	}

	names := []string{"a.png", "b.png", "c.png", "d.png", "e.png"}
	base, _ := setup(t, names...)

	doc := &keypoints.Document{}
	for i, name := range names {
		hands := []keypoints.HandRecord{}
		if i%2 == 0 {
			hands = append(hands, fixture.Hand(0, 21))
		}
		doc.Images = append(doc.Images, keypoints.ImageRecord{Filename: name, Hands: hands})
	}

	seqOut := filepath.Join(t.TempDir(), "seq")
	parOut := filepath.Join(t.TempDir(), "par")

	seq, err := New(Options{Logger: quietLogger()}).Render(context.Background(), doc, base, seqOut)
	if err != nil {
		t.Fatal(err)
	}
	par, err := New(Options{Logger: quietLogger(), Workers: 3}).Render(context.Background(), doc, base, parOut)
	if err != nil {
		t.Fatal(err)
	}

	if seq.Rendered != par.Rendered || seq.Markers != par.Markers || seq.Lines != par.Lines {
		t.Errorf("reports differ: %+v vs %+v", seq, par)
	}
	for _, name := range names {
		if !fixture.SamePixels(load(t, filepath.Join(seqOut, name)), load(t, filepath.Join(parOut, name))) {
			t.Errorf("%s differs between sequential and parallel rendering", name)
		}
	}
}

func TestRenderer_Preview(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV image codecs")
	}

	base, _ := setup(t, "a.png")
	rec := &keypoints.ImageRecord{Filename: "a.png", Hands: []keypoints.HandRecord{fixture.Hand(0, 21)}}

	data, ann, err := New(Options{Logger: quietLogger()}).Preview(rec, base, gocv.PNGFileExt)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if ann.Markers != 21 || ann.Lines != 20 {
		t.Errorf("unexpected annotation %+v", ann)
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		t.Fatalf("preview is not a decodable image: %v", err)
	}
	defer img.Close()
	if img.Cols() != 400 || img.Rows() != 400 {
		t.Errorf("expected 400x400 preview, got %dx%d", img.Cols(), img.Rows())
	}

	t.Run("missing source", func(t *testing.T) {
		missing := &keypoints.ImageRecord{Filename: "gone.png"}
		_, _, err := New(Options{Logger: quietLogger()}).Preview(missing, base, gocv.PNGFileExt)
		var loadErr *capture.LoadError
		if !errors.As(err, &loadErr) {
			t.Errorf("expected LoadError, got %v", err)
		}
	})
}
