// Package main wires together the build-export stream processor binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/buildline/exportstream/internal/app"
	"github.com/buildline/exportstream/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "exportstream: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		cursor  string
		server  string
	)

	cmd := &cobra.Command{
		Use:           "exportstream",
		Short:         "Stream build-export events and run the registered observers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cursor != "" {
				cfg.Listener.Cursor = cursor
			}
			if server != "" {
				cfg.Server.BaseURL = server
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&cursor, "cursor", "", `build feed cursor ("now" or epoch milliseconds)`)
	cmd.Flags().StringVar(&server, "server", "", "base URL of the build-export server")
	return cmd
}

func run(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	zap.ReplaceGlobals(a.Logger())

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
