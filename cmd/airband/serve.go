// cmd/airband/serve.go
// Copyright(c) 2025 airband contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/kfowler/airband/config"
	"github.com/kfowler/airband/coordinator"
	"github.com/kfowler/airband/log"
	"github.com/kfowler/airband/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the playback coordinator and dashboard server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFlag)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	lg := log.New(cfg.Logging.Level, cfg.Logging.Dir)
	defer lg.CatchAndReportCrash()

	lg.Infof("airband %s starting", buildVersion)

	coord := coordinator.New(cfg.Coordinator(), lg)
	if err := coord.Start(); err != nil {
		return err
	}
	defer coord.Shutdown()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg.Server.Bind, coord, lg)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return srv.Run(ctx) })

	err := eg.Wait()
	lg.Infof("airband exiting")
	return err
}
