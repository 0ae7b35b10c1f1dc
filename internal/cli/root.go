// Package cli implements the handkp command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ayusman/handkp/internal/app"
	"github.com/ayusman/handkp/internal/config"
	"github.com/ayusman/handkp/internal/detector"
	"github.com/ayusman/handkp/internal/store"
)

// options collects the persistent flags shared by every command.
type options struct {
	configPath string
	inputDir   string
	outputDir  string
	jsonPath   string
	csvPath    string
	database   string
	workers    int
	quiet      bool

	// newDetector builds the detector factory from the loaded settings.
	newDetector func(detector.Config) detector.Factory
}

// NewRootCommand returns the handkp command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&options{newDetector: detector.MediaPipeFactory})
}

func newRootCommand(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:          "handkp",
		Short:        "Hand keypoint extraction and rendering for image folders",
		SilenceUsage: true, // don't print usage on operational errors
		Long: `handkp detects hands in a folder of images, saves their 21 keypoints
per hand to a JSON document, and draws the hand skeletons back onto the
images from that document.`,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", config.FileName, "Configuration file")
	pf.StringVarP(&o.inputDir, "input", "i", "", "Input image folder (overrides input_dir)")
	pf.StringVarP(&o.outputDir, "output", "o", "", "Folder for annotated images (overrides output_dir)")
	pf.StringVar(&o.jsonPath, "json", "", "Keypoint document path (overrides json_path)")
	pf.StringVar(&o.csvPath, "csv", "", "Optional CSV export path (overrides csv_path)")
	pf.StringVar(&o.database, "db", "", "SQLite run history (overrides database)")
	pf.IntVarP(&o.workers, "workers", "w", 0, "Images processed in parallel (overrides workers)")
	pf.BoolVarP(&o.quiet, "quiet", "q", false, "Suppress per-image log lines")

	root.AddCommand(
		newInitCommand(o),
		newExtractCommand(o),
		newRenderCommand(o),
		newRunCommand(o),
		newRunsCommand(o),
		newServeCommand(o),
		newVersionCommand(),
	)
	return root
}

// Execute is called by main.go.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// settings loads the configuration file and applies flag overrides.
func (o *options) settings(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.InputDir = o.inputDir
	}
	if flags.Changed("output") {
		cfg.OutputDir = o.outputDir
	}
	if flags.Changed("json") {
		cfg.JSONPath = o.jsonPath
	}
	if flags.Changed("csv") {
		cfg.CSVPath = o.csvPath
	}
	if flags.Changed("db") {
		cfg.Database = o.database
	}
	if flags.Changed("workers") {
		cfg.Workers = o.workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *options) logger(cmd *cobra.Command) *log.Logger {
	if o.quiet {
		return log.New(io.Discard, "", 0)
	}
	return log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
}

// openStore opens the run history database when one is configured.
func openStore(cfg *config.Config) (*store.Store, error) {
	if cfg.Database == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory: %w", err)
	}
	return store.New(cfg.Database)
}

// openApp builds the app for a command. The returned function closes the
// store.
func (o *options) openApp(cmd *cobra.Command, onEvent func(app.Event)) (*app.App, func(), error) {
	cfg, err := o.settings(cmd)
	if err != nil {
		return nil, nil, err
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {}
	if st != nil {
		closeFn = func() { st.Close() }
	}

	a := app.New(app.Config{
		Settings:    cfg,
		Store:       st,
		NewDetector: o.newDetector(cfg.Detector),
		Logger:      o.logger(cmd),
		OnEvent:     onEvent,
	})
	return a, closeFn, nil
}
