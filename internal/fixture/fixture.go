// Package fixture generates image and keypoint fixtures for tests.
package fixture

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/ayusman/handkp/internal/detector"
	"github.com/ayusman/handkp/internal/keypoints"
)

// Solid returns a w×h BGR image filled with c.
// The caller is responsible for closing the returned Mat.
func Solid(w, h int, c color.RGBA) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0),
		h, w, gocv.MatTypeCV8UC3,
	)
}

// WriteImage encodes a solid w×h image to dir/name and returns its path.
func WriteImage(dir, name string, w, h int, c color.RGBA) (string, error) {
	mat := Solid(w, h, c)
	defer mat.Close()

	path := filepath.Join(dir, name)
	if ok := gocv.IMWrite(path, mat); !ok {
		return "", fmt.Errorf("write fixture %s", path)
	}
	return path, nil
}

// WriteCorrupt writes bytes that no image decoder accepts under an image name.
func WriteCorrupt(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("this is not an image"), 0o644); err != nil {
		return "", fmt.Errorf("write fixture %s: %w", path, err)
	}
	return path, nil
}

// LoadImage decodes the image at path as BGR.
// The caller is responsible for closing the returned Mat.
func LoadImage(path string) (*gocv.Mat, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("decode fixture %s", path)
	}
	return &mat, nil
}

// SamePixels reports whether two images have identical size, type and bytes.
func SamePixels(a, b *gocv.Mat) bool {
	if a.Rows() != b.Rows() || a.Cols() != b.Cols() || a.Type() != b.Type() {
		return false
	}
	return bytes.Equal(a.ToBytes(), b.ToBytes())
}

// PixelAt returns the BGR value at (x, y).
func PixelAt(img *gocv.Mat, x, y int) color.RGBA {
	v := img.GetVecbAt(y, x)
	return color.RGBA{B: v[0], G: v[1], R: v[2], A: 255}
}

// Hand returns a hand record with n landmarks taken from the open palm preset,
// wrapping around when n exceeds the preset.
func Hand(index, n int) keypoints.HandRecord {
	palm := detector.OpenPalmLandmarks()
	h := keypoints.HandRecord{HandIndex: index, Landmarks: make([]detector.Point3D, n)}
	for i := range h.Landmarks {
		h.Landmarks[i] = palm.Points[i%detector.NumLandmarks]
	}
	return h
}
