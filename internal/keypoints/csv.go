package keypoints

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// CSVHeader is the header row of the flattened keypoint table.
var CSVHeader = []string{"filename", "hand", "keypoint_index", "x", "y", "z"}

// WriteCSV writes one row per landmark. Images without hands produce no rows,
// so the CSV form cannot drive a re-render.
func WriteCSV(w io.Writer, doc *Document) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}

	for _, img := range doc.Images {
		for _, h := range img.Hands {
			for i, lm := range h.Landmarks {
				row := []string{
					img.Filename,
					strconv.Itoa(h.HandIndex),
					strconv.Itoa(i),
					formatFloat(lm.X),
					formatFloat(lm.Y),
					formatFloat(lm.Z),
				}
				if err := cw.Write(row); err != nil {
					return err
				}
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the flattened table to path.
func SaveCSV(path string, doc *Document) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create directory %s: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}
	if err := WriteCSV(f, doc); err != nil {
		f.Close()
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return f.Close()
}

// formatFloat uses the shortest representation that parses back to v.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
