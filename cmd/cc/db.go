package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/safetycar/internal/config"
	"github.com/zulandar/safetycar/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "History database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the history database and migrate its schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "caution.yaml", "path to controller config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("history.enabled is false in %s; nothing to initialize", configPath)
	}

	admin, err := db.ConnectAdmin(cfg.History.Host, cfg.History.Port)
	if err != nil {
		return err
	}
	if err := db.CreateDatabase(admin, cfg.History.Database); err != nil {
		return err
	}

	gormDB, err := db.Connect(cfg.History.Host, cfg.History.Port, cfg.History.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Database %q ready.\n", cfg.History.Database)
	return nil
}
