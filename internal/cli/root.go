// Package cli wires the rioforms command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/garnizeh/rioforms/api"
	"github.com/garnizeh/rioforms/internal/config"
	"github.com/garnizeh/rioforms/internal/logging"
	"github.com/garnizeh/rioforms/internal/submission"
	"github.com/garnizeh/rioforms/pkg/formservice"
)

type globals struct {
	configPath string
	envFile    string
	version    string
	buildTime  string

	cfg     *config.Config
	logger  *slog.Logger
	syncLog func()
}

// NewRootCmd builds the command tree.
func NewRootCmd(version, buildTime string) *cobra.Command {
	g := &globals{version: version, buildTime: buildTime}

	root := &cobra.Command{
		Use:   "rioforms",
		Short: "Offline-first field forms gateway",
		Long: `rioforms sits between the browser and the forms origin.

It serves the app shell and the catalog from a local cache while the
device is offline, queues submissions in a local database and replays
them in order once the origin is reachable again.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.syncLog != nil {
				g.syncLog()
			}
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to config YAML file")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	root.AddCommand(
		newServeCmd(g),
		newSyncCmd(g),
		newPreloadCmd(g),
		newQueueCmd(g),
		newDBCmd(g),
		newVersionCmd(g),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, version, buildTime string) error {
	return NewRootCmd(version, buildTime).ExecuteContext(ctx)
}

func (g *globals) init() error {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(g.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, syncLog, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(logger)
	api.SetLogger(logger)
	formservice.SetLogger(logger)
	submission.SetLogger(logger)

	g.cfg, g.logger, g.syncLog = cfg, logger, syncLog
	return nil
}

func newVersionCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "rioforms %s (built %s)\n", g.version, g.buildTime)
			return nil
		},
	}
}
