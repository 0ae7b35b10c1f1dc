package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ayusman/handkp/internal/config"
)

func newInitCommand(o *options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if _, err := os.Stat(o.configPath); err == nil && !force {
				printSkip(out, "", fmt.Sprintf("%s already exists (use --force to overwrite)", o.configPath))
				return nil
			}

			if err := config.Save(o.configPath, config.Default()); err != nil {
				return err
			}
			printOK(out, "", "Wrote "+o.configPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")
	return cmd
}
