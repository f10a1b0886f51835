package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/iati-climate-dataset/internal/app"
)

// newServeCmd creates the 'serve' subcommand, which exposes the pipeline over HTTP.
func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, app.Options{}, func(a App) error {
				return a.Serve(cmd.Context())
			})
		},
	}
}
