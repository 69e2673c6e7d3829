package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxlink/voxlink/internal/config"
	"github.com/voxlink/voxlink/internal/log"
	"github.com/voxlink/voxlink/internal/server"
)

func main() {
	var (
		configPath      string
		addr            string
		adminAddr       string
		notesDir        string
		logLevel        string
		shutdownTimeout time.Duration
	)

	root := &cobra.Command{
		Use:   "voxlink-server",
		Short: "Chat, call-signaling and voice-note broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootLog := log.New(logLevel)

			cfg, path, err := config.LoadServer(bootLog, configPath)
			if err != nil {
				return err
			}
			applyFlag(cmd, "addr", func() { cfg.Addr = addr })
			applyFlag(cmd, "admin-addr", func() { cfg.AdminAddr = adminAddr })
			applyFlag(cmd, "notes-dir", func() { cfg.NotesDir = notesDir })
			applyFlag(cmd, "log-level", func() { cfg.LogLevel = logLevel })
			applyFlag(cmd, "shutdown-timeout", func() { cfg.ShutdownTimeout = shutdownTimeout })

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", path).Msg("configuration loaded")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return server.New(cfg, logger).Run(ctx)
		},
	}

	defaults := config.DefaultServer()
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.Flags().StringVar(&addr, "addr", defaults.Addr, "TCP listen address")
	root.Flags().StringVar(&adminAddr, "admin-addr", defaults.AdminAddr, "admin HTTP listen address (empty disables)")
	root.Flags().StringVar(&notesDir, "notes-dir", defaults.NotesDir, "directory for voice-note store-and-forward")
	root.Flags().StringVar(&logLevel, "log-level", defaults.LogLevel, "log level (debug, info, warn, error)")
	root.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", defaults.ShutdownTimeout, "graceful shutdown timeout")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlag overrides a config value only when the flag was set explicitly,
// preserving config-file and env precedence otherwise.
func applyFlag(cmd *cobra.Command, name string, apply func()) {
	if cmd.Flags().Changed(name) {
		apply()
	}
}
