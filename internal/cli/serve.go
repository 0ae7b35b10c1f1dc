package cli

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ayusman/handkp/internal/server"
)

func newServeCommand(o *options) *cobra.Command {
	var addr, staticDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run history and live progress over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hub := server.NewHub()
			a, closeFn, err := o.openApp(cmd, hub.Publish)
			if err != nil {
				return err
			}
			defer closeFn()

			if !cmd.Flags().Changed("addr") {
				addr = a.Settings().Server.Addr
			}

			srv := server.New(server.Config{
				StaticDir: staticDir,
				Runner:    a,
				Events:    hub,
				Context:   cmd.Context(),
			})

			out := cmd.OutOrStdout()
			if a.Settings().Database == "" {
				printWarn(out, "", "No database configured; run history endpoints will be unavailable")
			}
			if staticDir != "" {
				printInfo(out, "", "Serving static files from "+staticDir)
			}
			printOK(out, "", "Listening on "+addr)

			if err := srv.ListenAndServe(cmd.Context(), addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&staticDir, "static", "", "Directory of static files served at /")
	return cmd
}
