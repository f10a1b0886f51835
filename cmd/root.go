package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/iati-climate-dataset/internal/app"
	"github.com/JakeFAU/iati-climate-dataset/internal/config"
	"github.com/JakeFAU/iati-climate-dataset/internal/pipeline"
)

// App defines the application surface commands use, so tests can inject a fake.
type App interface {
	Logger() *zap.Logger
	BuildDataset(ctx context.Context, publisherRef string) (pipeline.Run, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, opts app.Options) (App, error) {
	return app.Build(ctx, cfg, opts)
}

type rootOptions struct {
	cfgFile string
	stdout  io.Writer
	stderr  io.Writer
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}
	cmd := &cobra.Command{
		Use:   "climatedata",
		Short: "Builds balanced climate-finance training sets from the IATI Datastore.",
		Long: `climatedata fetches every activity a publisher has reported to the IATI Datastore,
labels each one as related or not related to climate finance, balances the two
classes and writes the result as a three-column CSV.`,
		SilenceUsage: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newBuildCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	return cmd
}

// withApp loads configuration, builds the App, runs fn, and always closes the
// App afterwards.
func withApp(ctx context.Context, opts *rootOptions, appOpts app.Options, fn func(App) error) (err error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	instance, err := newApp(ctx, cfg, appOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := instance.Close(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close application: %w", cerr))
		}
	}()
	return fn(instance)
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
