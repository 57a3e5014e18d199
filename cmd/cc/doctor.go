package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/safetycar/internal/app"
	"github.com/zulandar/safetycar/internal/config"
	"github.com/zulandar/safetycar/internal/db"
)

func newDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and history database reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "caution.yaml", "path to controller config file")
	return cmd
}

type checkResult struct {
	name   string
	status string // "PASS", "FAIL", "WARN"
	detail string
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Caution Controller Doctor")
	fmt.Fprintln(out, "=========================")

	var results []checkResult

	cfg, cfgResult := checkConfig(configPath)
	results = append(results, cfgResult)

	if cfg != nil {
		results = append(results, checkHistoryDB(cfg))
		results = append(results, checkNotify(cfg))
	} else {
		results = append(results, checkResult{"History database", "FAIL", "skipped (no config)"})
	}

	failed := false
	for _, r := range results {
		fmt.Fprintf(out, "[%-4s] %-20s %s\n", r.status, r.name, r.detail)
		if r.status == "FAIL" {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}

func checkConfig(configPath string) (*config.Config, checkResult) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, checkResult{"Config", "FAIL", err.Error()}
	}
	return cfg, checkResult{"Config", "PASS", configPath}
}

func checkHistoryDB(cfg *config.Config) checkResult {
	if !cfg.History.Enabled {
		return checkResult{"History database", "WARN", "disabled in config"}
	}
	gormDB, err := db.Connect(cfg.History.Host, cfg.History.Port, cfg.History.Database)
	if err != nil {
		return checkResult{"History database", "FAIL", err.Error()}
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return checkResult{"History database", "FAIL", err.Error()}
	}
	return checkResult{"History database", "PASS", fmt.Sprintf("%s:%d/%s", cfg.History.Host, cfg.History.Port, cfg.History.Database)}
}

func checkNotify(cfg *config.Config) checkResult {
	if cfg.Notify.Platform == "" {
		if cfg.Digest.Enabled {
			return checkResult{"Notify", "WARN", "digest.enabled is true but notify.platform is unset"}
		}
		return checkResult{"Notify", "WARN", "disabled in config"}
	}
	if _, err := app.BuildNotifier(cfg.Notify); err != nil {
		return checkResult{"Notify", "FAIL", err.Error()}
	}
	return checkResult{"Notify", "PASS", fmt.Sprintf("%s -> %s", cfg.Notify.Platform, cfg.Notify.Channel)}
}
