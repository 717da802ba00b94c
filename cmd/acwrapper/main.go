// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

// Package main is the entry point for acwrapper.
//
// acwrapper launches an AC dedicated server, follows its console output and
// serves an extended status document, a status web page and the preset's
// custom content on a single HTTP port.
//
//	acwrapper --executable ./acServer /path/to/preset
//
// The preset directory holds server_cfg.ini and entry_list.ini, plus the
// optional cm_wrapper_params.json and cm_content/ written by the preset
// editor. See package config for every setting and its environment
// variable.
//
// # Signal Handling
//
// SIGINT and SIGTERM stop the wrapped server (SIGTERM, then SIGKILL after
// the stop timeout) and shut the gateway down.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/acwrapper/internal/config"
	"github.com/tomtom215/acwrapper/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		logging.Error().Err(err).Msg("acwrapper failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var o config.Overrides

	cmd := &cobra.Command{
		Use:           "acwrapper [preset-dir]",
		Short:         "Sidecar for an AC dedicated server",
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				o.PresetDir = args[0]
			}

			cfg, err := config.Load(o)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logging.Init(logging.Config{
				Level:     cfg.Logging.Level,
				Format:    cfg.Logging.Format,
				Caller:    cfg.Logging.Caller,
				Timestamp: true,
				Output:    os.Stderr,
			})
			logging.Info().Str("version", version).Msg("Starting acwrapper")
			logging.Debug().Str("config", cfg.String()).Msg("Configuration loaded")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := newWrapper(cfg)
			if err != nil {
				return err
			}
			if err := w.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logging.Info().Msg("acwrapper stopped")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.Executable, "executable", "e", "", "wrapped server binary (default ./acServer)")
	f.StringVarP(&o.TemplatesDir, "templates", "t", "", "status page templates directory")
	f.StringVarP(&o.StaticDir, "static", "s", "", "static files directory")
	f.StringVarP(&o.ConfigFile, "config", "c", "", "YAML config file")
	f.StringVar(&o.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	return cmd
}
