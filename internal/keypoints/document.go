// Package keypoints defines the Keypoint Document, the interchange record of
// detected hand landmarks per image, and its JSON and CSV encodings.
package keypoints

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/ayusman/handkp/internal/detector"
)

// Document is the full record of one extraction run. Image order is the
// processing order and is preserved on round-trip.
type Document struct {
	Images []ImageRecord `json:"images"`
}

// ImageRecord holds every hand detected in one input file.
type ImageRecord struct {
	// Filename is relative to the folder the images were read from.
	Filename string       `json:"filename"`
	Hands    []HandRecord `json:"hands"`
}

// HandRecord is one detected hand. HandIndex is the position of the hand in
// the detector output for its image, not an identity across images.
type HandRecord struct {
	HandIndex int                `json:"hand_index"`
	Landmarks []detector.Point3D `json:"landmarks"`
}

// MarshalJSON writes a nil image list as [].
func (d Document) MarshalJSON() ([]byte, error) {
	type document Document
	if d.Images == nil {
		d.Images = []ImageRecord{}
	}
	return json.Marshal(document(d))
}

// MarshalJSON writes a nil hand list as [], so images without detections
// keep their entry in a readable form.
func (r ImageRecord) MarshalJSON() ([]byte, error) {
	type imageRecord ImageRecord
	if r.Hands == nil {
		r.Hands = []HandRecord{}
	}
	return json.Marshal(imageRecord(r))
}

// MarshalJSON writes a nil landmark list as [].
func (h HandRecord) MarshalJSON() ([]byte, error) {
	type handRecord HandRecord
	if h.Landmarks == nil {
		h.Landmarks = []detector.Point3D{}
	}
	return json.Marshal(handRecord(h))
}

// NewImageRecord builds the record for one image from the detector output.
// Landmarks are copied verbatim and hand indices follow detector order. A
// result with no hands yields an empty, non-nil hand list.
func NewImageRecord(filename string, hands []detector.HandLandmarks) ImageRecord {
	rec := ImageRecord{
		Filename: filename,
		Hands:    make([]HandRecord, 0, len(hands)),
	}
	for i := range hands {
		rec.Hands = append(rec.Hands, NewHandRecord(i, &hands[i]))
	}
	return rec
}

// NewHandRecord copies the 21 landmarks of a detected hand.
func NewHandRecord(index int, hand *detector.HandLandmarks) HandRecord {
	landmarks := make([]detector.Point3D, detector.NumLandmarks)
	copy(landmarks, hand.Points[:])
	return HandRecord{
		HandIndex: index,
		Landmarks: landmarks,
	}
}

// ValidationError reports a record that consumers must skip.
type ValidationError struct {
	Filename  string
	HandIndex int // -1 when the whole image record is invalid
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.HandIndex < 0 {
		return fmt.Sprintf("invalid image record %q: %s", e.Filename, e.Reason)
	}
	return fmt.Sprintf("invalid hand %d in %q: %s", e.HandIndex, e.Filename, e.Reason)
}

// ValidateHand checks the landmark count of a hand.
func ValidateHand(filename string, h HandRecord) error {
	if len(h.Landmarks) != detector.NumLandmarks {
		return &ValidationError{
			Filename:  filename,
			HandIndex: h.HandIndex,
			Reason:    fmt.Sprintf("%d landmarks, want %d", len(h.Landmarks), detector.NumLandmarks),
		}
	}
	return nil
}

// ValidateFilename checks that a record's filename is a local relative path,
// so joining it to a base folder cannot escape that folder.
func ValidateFilename(filename string) error {
	if filename == "" || !filepath.IsLocal(filename) {
		return &ValidationError{
			Filename:  filename,
			HandIndex: -1,
			Reason:    "filename must be a relative path inside the image folder",
		}
	}
	return nil
}

// Stats summarizes a document.
type Stats struct {
	Images       int
	Hands        int
	EmptyImages  int
	InvalidHands int
}

// Stats counts images, hands, images without hands and malformed hands.
func (d *Document) Stats() Stats {
	var s Stats
	if d == nil {
		return s
	}
	s.Images = len(d.Images)
	for _, img := range d.Images {
		if len(img.Hands) == 0 {
			s.EmptyImages++
		}
		for _, h := range img.Hands {
			s.Hands++
			if ValidateHand(img.Filename, h) != nil {
				s.InvalidHands++
			}
		}
	}
	return s
}

// Find returns the record for filename, or nil.
func (d *Document) Find(filename string) *ImageRecord {
	if d == nil {
		return nil
	}
	for i := range d.Images {
		if d.Images[i].Filename == filename {
			return &d.Images[i]
		}
	}
	return nil
}
