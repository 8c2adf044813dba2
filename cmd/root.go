// Package cmd defines and implements the CLI commands for the connectors executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/lcf-connectors/internal/app"
	"github.com/JakeFAU/lcf-connectors/internal/config"
	"github.com/JakeFAU/lcf-connectors/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to build apps on a
// private metrics registry.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, app.Options{Logger: logger})
}

// newLogger is replaceable so tests stay quiet.
var newLogger = logging.New

// newRootCmd creates and configures the root command. The returned function
// releases the application services once the command has run, whether or
// not it succeeded.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile     string
		appInstance *app.App
	)
	cmd := &cobra.Command{
		Use:   "connectors",
		Short: "Crawls Content Server and Meridio repositories into the document index.",
		Long: `connectors manages repository connections, runs crawl jobs through the
Content Server and Meridio connectors, and serves the operator API.

Configuration comes from the file given with --config, then from
CONNECTORS_* environment variables. A .env file in the working directory is
loaded first when present.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the application and hands it to the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err = newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(
		newServeCmd(),
		newCrawlCmd(),
		newInstallCmd(),
		newConnectionsCmd(),
		newHistoryCmd(),
	)

	shutdown := func() {
		if appInstance == nil {
			return
		}
		if err := appInstance.Close(context.Background()); err != nil {
			appInstance.Logger.Warn("shutdown finished with errors", zap.Error(err))
		}
		_ = appInstance.Logger.Sync()
		appInstance = nil
	}
	return cmd, shutdown
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() error {
	root, shutdown := newRootCmd()
	defer shutdown()
	return root.ExecuteContext(context.Background())
}
