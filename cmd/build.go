package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/iati-climate-dataset/internal/app"
)

// newBuildCmd creates the 'build' subcommand, which runs the pipeline once.
func newBuildCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "build <publisher_ref>",
		Short: "Builds the balanced dataset for one publisher",
		Long: `Pages through the publisher's activities, labels them against the climate
finance tag, deduplicates, balances with a fixed seed, and writes
<publisher_ref>.csv to the configured output backend.`,
		Example: "  climatedata build GB-GOV-1",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appOpts := app.Options{Status: opts.stdout, Console: opts.stderr}
			return withApp(cmd.Context(), opts, appOpts, func(a App) error {
				run, err := a.BuildDataset(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				a.Logger().Info("dataset written",
					zap.String("run_id", run.ID),
					zap.String("publisher_ref", run.PublisherRef),
					zap.String("blob_uri", run.BlobURI),
					zap.Int("rows", run.Balanced),
				)
				return nil
			})
		},
	}
}
