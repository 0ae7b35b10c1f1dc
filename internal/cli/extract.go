package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ayusman/handkp/internal/app"
	"github.com/ayusman/handkp/internal/extract"
	"github.com/ayusman/handkp/internal/render"
)

func newExtractCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Detect hands in the input folder and save their keypoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, closeFn, err := o.openApp(cmd, nil)
			if err != nil {
				return err
			}
			defer closeFn()

			printSection(cmd.OutOrStdout(), "Extract")
			res, err := a.Extract(cmd.Context())
			if err != nil {
				return err
			}
			printExtract(cmd.OutOrStdout(), res.Extract)
			printArtifacts(cmd.OutOrStdout(), a)
			printRecorded(cmd.OutOrStdout(), a, res)
			return nil
		},
	}
}

func newRenderCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "render",
		Short: "Draw the saved keypoints onto copies of the input images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, closeFn, err := o.openApp(cmd, nil)
			if err != nil {
				return err
			}
			defer closeFn()

			printSection(cmd.OutOrStdout(), "Render")
			res, err := a.Render(cmd.Context())
			if err != nil {
				return err
			}
			printRender(cmd.OutOrStdout(), a, res.Render)
			printRecorded(cmd.OutOrStdout(), a, res)
			return nil
		},
	}
}

func newRunCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Extract keypoints, save them and render the annotated images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, closeFn, err := o.openApp(cmd, nil)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := a.Run(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printSection(out, "Extract")
			printExtract(out, res.Extract)
			printArtifacts(out, a)
			printSection(out, "Render")
			printRender(out, a, res.Render)
			printRecorded(out, a, res)
			return nil
		},
	}
}

func printExtract(w io.Writer, r *extract.Report) {
	printOK(w, "", fmt.Sprintf("Extracted %d hands from %d/%d images", r.Hands, r.Processed, r.Accepted))
	for _, s := range r.Skipped {
		printSkip(w, s.Filename, s.Err.Error())
	}
}

func printArtifacts(w io.Writer, a *app.App) {
	settings := a.Settings()
	printOK(w, "", "Keypoints saved to "+settings.JSONPath)
	if settings.CSVPath != "" {
		printOK(w, "", "CSV exported to "+settings.CSVPath)
	}
}

func printRender(w io.Writer, a *app.App, r *render.Report) {
	printOK(w, "", fmt.Sprintf("Rendered %d images into %s", r.Rendered, a.Settings().OutputDir))
	for _, s := range r.Skipped {
		printSkip(w, s.Filename, s.Err.Error())
	}
	for _, s := range r.Invalid {
		printWarn(w, s.Filename, s.Err.Error())
	}
}

func printRecorded(w io.Writer, a *app.App, res *app.Result) {
	if a.Settings().Database != "" {
		printInfo(w, "", fmt.Sprintf("Recorded %s run %s", res.Kind, res.RunID))
	}
}
