// Package config loads and saves handkp.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/handkp/internal/capture"
	"github.com/ayusman/handkp/internal/detector"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "handkp.yaml"

// ServerConfig configures the review server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the in-memory representation of handkp.yaml.
type Config struct {
	InputDir   string          `yaml:"input_dir"`
	OutputDir  string          `yaml:"output_dir"`
	JSONPath   string          `yaml:"json_path"`
	CSVPath    string          `yaml:"csv_path,omitempty"`
	Database   string          `yaml:"database,omitempty"`
	Extensions []string        `yaml:"extensions"`
	Workers    int             `yaml:"workers"`
	Detector   detector.Config `yaml:"detector"`
	Server     ServerConfig    `yaml:"server"`
}

// Default returns the settings used when no file is present.
func Default() *Config {
	return &Config{
		InputDir:   "dataset_test",
		OutputDir:  "dataset_test_keypoints",
		JSONPath:   "hand_keypoints.json",
		Extensions: append([]string(nil), capture.DefaultExtensions...),
		Workers:    1,
		Detector:   detector.DefaultConfig(),
		Server:     ServerConfig{Addr: ":8080"},
	}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// Load reads path on top of Default. A missing file yields the defaults;
// keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	if err := cfg.expand(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expand() error {
	for _, p := range []*string{&c.InputDir, &c.OutputDir, &c.JSONPath, &c.CSVPath, &c.Database, &c.Detector.Script, &c.Detector.Python} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// Save marshals cfg and writes it to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.InputDir == "":
		return errors.New("input_dir must be set")
	case c.JSONPath == "":
		return errors.New("json_path must be set")
	case len(c.Extensions) == 0:
		return errors.New("extensions must list at least one extension")
	case c.Workers < 1:
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	case c.Detector.MaxHands < 1:
		return fmt.Errorf("detector.max_hands must be at least 1, got %d", c.Detector.MaxHands)
	case c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1:
		return fmt.Errorf("detector.min_confidence must be within [0, 1], got %g", c.Detector.MinConfidence)
	}
	return nil
}
