package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/handkp/internal/store"
)

func newRunsCommand(o *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "List recorded runs, or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.historyStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if len(args) == 1 {
				return showRun(cmd, st, args[0])
			}
			return listRuns(cmd, st, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 for all)")
	cmd.AddCommand(newRunsRemoveCommand(o))
	return cmd
}

func newRunsRemoveCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete recorded runs and their stored documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.historyStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			var failed int
			for _, id := range args {
				if err := st.Runs().Delete(id); err != nil {
					failed++
					if errors.Is(err, store.ErrNotFound) {
						printErr(out, id, "not found")
						continue
					}
					printErr(out, id, err.Error())
					continue
				}
				printOK(out, id, "deleted")
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs could not be deleted", failed, len(args))
			}
			return nil
		},
	}
}

// historyStore opens the run history, which must be configured.
func (o *options) historyStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := o.settings(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Database == "" {
		return nil, errors.New("run history is not enabled: set database in the config file or pass --db")
	}
	return openStore(cfg)
}

func listRuns(cmd *cobra.Command, st *store.Store, limit int) error {
	runs, err := st.Runs().List(limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		printSkip(out, "", "No runs recorded yet")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tIMAGES\tHANDS\tSKIPPED\tSTARTED")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			run.ID, run.Kind, run.Status, run.Images, run.Hands, run.Skipped,
			run.StartedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func showRun(cmd *cobra.Command, st *store.Store, id string) error {
	run, err := st.Runs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("run %s not found", id)
		}
		return err
	}
	doc, err := st.Documents().Load(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printSection(out, fmt.Sprintf("Run %s", run.ID))
	printInfo(out, "kind", string(run.Kind))
	printInfo(out, "status", string(run.Status))
	printInfo(out, "input", run.InputDir)
	if run.OutputDir != "" {
		printInfo(out, "output", run.OutputDir)
	}
	printInfo(out, "document", run.Artifact)
	if run.Error != "" {
		printErr(out, "error", run.Error)
	}

	for _, img := range doc.Images {
		if len(img.Hands) == 0 {
			printSkip(out, img.Filename, "no hands")
			continue
		}
		printOK(out, img.Filename, fmt.Sprintf("%d hands", len(img.Hands)))
	}
	return nil
}
