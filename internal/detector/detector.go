package detector

import "gocv.io/x/gocv"

// Detector defines the interface for hand detection implementations.
//
// A Detector is not safe for concurrent use unless an implementation says
// otherwise. Callers that process images in parallel construct one Detector
// per goroutine through a Factory.
type Detector interface {
	// Detect analyzes an RGB image and returns detected hand landmarks in
	// detector order. Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Factory constructs a fresh Detector.
type Factory func() (Detector, error)

// Config holds configuration options for hand detection.
type Config struct {
	// MaxHands is the maximum number of hands to detect (default: 2).
	MaxHands int `yaml:"max_hands"`

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64 `yaml:"min_confidence"`

	// Script is the path to the MediaPipe service script. Discovered when empty.
	Script string `yaml:"script,omitempty"`

	// Python is the interpreter used to run Script. Discovered when empty.
	Python string `yaml:"python,omitempty"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:      2,
		MinConfidence: 0.5,
	}
}
