package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/safetycar/internal/history"
)

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		n          int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent caution cycles and state transitions",
		Long:  "Reads the history database and prints the most recent caution cycles and Supervisor state transitions. Requires history.enabled in the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, n)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "caution.yaml", "path to controller config file")
	cmd.Flags().IntVarP(&n, "limit", "n", 10, "number of recent records to show")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string, n int) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if gormDB == nil {
		return fmt.Errorf("history.enabled is false in %s; nothing to show", configPath)
	}

	out := cmd.OutOrStdout()

	cycles, err := history.RecentCycles(gormDB, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Recent caution cycles (%d):\n", len(cycles))
	for _, c := range cycles {
		status := "in progress"
		if c.EndedAt != nil {
			status = c.EndedAt.Format("15:04:05")
		}
		fmt.Fprintf(out, "  #%d  lap %-4d  %-12s  %-30s  waves=%d eol=%d pace=%d  ended=%s\n",
			c.ID, c.LapAtTrigger, c.TriggerReason, c.Message, c.WaveCount, c.EOLCount, c.PaceLaps, status)
	}

	transitions, err := history.RecentTransitions(gormDB, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nRecent state transitions (%d):\n", len(transitions))
	for _, t := range transitions {
		fmt.Fprintf(out, "  %s  %s -> %s  (%s)\n", t.At.Format("15:04:05"), t.FromState, t.ToState, t.Reason)
	}
	return nil
}
