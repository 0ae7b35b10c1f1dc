// Package capture provides image acquisition from folders using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
	"golang.org/x/text/cases"
)

// DefaultExtensions is the canonical set of accepted image extensions.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".bmp"}

// ErrEmptyImage is wrapped by DecodeError when OpenCV returns no pixels.
var ErrEmptyImage = errors.New("image decoded to an empty frame")

// MissingInputError is returned when the input folder does not exist or is not
// a directory. It is the only fatal condition of an extraction run.
type MissingInputError struct {
	Dir string
	Err error
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("input folder %q does not exist: %v", e.Dir, e.Err)
}

func (e *MissingInputError) Unwrap() error { return e.Err }

// DecodeError is returned when an image file cannot be read or decoded.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("could not read %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// LoadError is returned when an original image cannot be loaded for rendering.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load image %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ExtensionSet matches file extensions case-insensitively.
type ExtensionSet struct {
	folded map[string]struct{}
}

// NewExtensionSet builds a matcher for exts. Entries without a leading dot get one.
func NewExtensionSet(exts []string) ExtensionSet {
	fold := cases.Fold()
	set := ExtensionSet{folded: make(map[string]struct{}, len(exts))}
	for _, ext := range exts {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set.folded[fold.String(ext)] = struct{}{}
	}
	return set
}

// Match reports whether name ends in one of the accepted extensions.
func (s ExtensionSet) Match(name string) bool {
	ext := filepath.Ext(name)
	if ext == "" {
		return false
	}
	_, ok := s.folded[cases.Fold().String(ext)]
	return ok
}

// ListImages returns the names of the accepted image files directly inside
// dir, in directory listing order. Subdirectories and other files are skipped.
func ListImages(dir string, exts []string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &MissingInputError{Dir: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &MissingInputError{Dir: dir, Err: errors.New("not a directory")}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot list %s: %w", dir, err)
	}

	set := NewExtensionSet(exts)
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if set.Match(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Load decodes the image at path as 8-bit BGR.
// The caller is responsible for closing the returned Mat.
func Load(path string) (*gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil, &DecodeError{Path: path, Err: ErrEmptyImage}
	}
	return &mat, nil
}

// ToRGB returns a copy of a BGR frame with channels 0 and 2 swapped, the
// order the detector expects. Single-channel frames are copied unchanged.
// The caller is responsible for closing the returned Mat.
func ToRGB(frame *gocv.Mat) (*gocv.Mat, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrEmptyImage
	}

	rgb := gocv.NewMat()
	if frame.Channels() < 3 {
		frame.CopyTo(&rgb)
		return &rgb, nil
	}

	gocv.CvtColor(*frame, &rgb, gocv.ColorBGRToRGB)
	if rgb.Empty() {
		rgb.Close()
		return nil, errors.New("convert to rgb: empty result")
	}
	return &rgb, nil
}

// Save encodes img to path, choosing the format from the extension. An
// existing file is replaced.
func Save(path string, img *gocv.Mat) error {
	if ok := gocv.IMWrite(path, *img); !ok {
		return fmt.Errorf("could not encode %s", path)
	}
	return nil
}
