package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/safetycar/internal/dashboard"
)

func newDashboardCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve a read-only HTTP view of caution history",
		Long:  "Starts an HTTP server showing recent caution cycles and Supervisor state transitions, with a Server-Sent-Events stream for live updates. Requires history.enabled in the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "caution.yaml", "path to controller config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides dashboard.port in config)")
	return cmd
}

func runDashboard(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if gormDB == nil {
		return fmt.Errorf("history.enabled is false in %s; dashboard has nothing to show", configPath)
	}
	if !cfg.Dashboard.Enabled && port == 0 {
		return fmt.Errorf("dashboard.enabled is false in %s; pass --port to override", configPath)
	}

	resolvedPort := port
	if resolvedPort == 0 {
		resolvedPort = cfg.Dashboard.Port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return dashboard.Start(ctx, dashboard.StartOpts{
		DB:   gormDB,
		Port: resolvedPort,
		Out:  cmd.OutOrStdout(),
	})
}
