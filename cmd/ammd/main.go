package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/defistate/defistate-amm/cmd/ammd/config"
	"github.com/spf13/cobra"
)

const defaultRPCURL = "http://127.0.0.1:8545"

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	EnvFile    string
	RPCURL     string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ammd",
		Short: "ammd - permissioned constant-product AMM",
		Long:  "Runs a permissioned constant-product AMM and queries it over JSON-RPC.",
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "config.yaml", "path to the configuration file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "optional .env file with AMMD_* overrides")
	cmd.PersistentFlags().StringVar(&opts.RPCURL, "rpc", defaultRPCURL, "ammd endpoint for client commands")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newQuoteCommand(opts))
	cmd.AddCommand(newPoolsCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "serve",
		Short:        "Run the AMM and its JSON-RPC server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.ConfigPath, opts.EnvFile)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.OutOrStdout(), cfg.LogLevel)
			logger.Info("Loaded configuration", "path", opts.ConfigPath)

			// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n, err := newNode(ctx, cfg, logger)
			if err != nil {
				logger.Error("Failed to initialize node", "error", err)
				return err
			}
			defer n.close()

			if err := n.serve(ctx, cfg.RPC); err != nil {
				logger.Error("Node stopped with error", "error", err)
				return err
			}
			logger.Info("Node stopped")
			return nil
		},
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
