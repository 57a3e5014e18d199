package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/safetycar/internal/history"
	"golang.org/x/term"
)

func newWatchCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream state transitions in real-time",
		Long:  "Polls the history database for new Supervisor state transitions and displays them as they arrive. On a terminal, the current state is redrawn in place; otherwise lines are appended, suitable for piping to a log.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "caution.yaml", "path to controller config file")
	return cmd
}

func runWatch(cmd *cobra.Command, configPath string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if gormDB == nil {
		return fmt.Errorf("history.enabled is false in %s; nothing to watch", configPath)
	}

	out := cmd.OutOrStdout()
	interactive := isTerminalWriter(out)

	fmt.Fprintln(out, "Watching Supervisor state... (Ctrl+C to stop)")

	recent, err := history.RecentTransitions(gormDB, 10)
	if err != nil {
		return fmt.Errorf("query transitions: %w", err)
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	var lastID uint
	for _, t := range recent {
		printWatchTransition(out, t.At, t.FromState, t.ToState, t.Reason, interactive)
		lastID = t.ID
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			transitions, err := history.TransitionsAfter(gormDB, lastID)
			if err != nil {
				fmt.Fprintf(out, "poll error: %v\n", err)
				continue
			}
			for _, t := range transitions {
				printWatchTransition(out, t.At, t.FromState, t.ToState, t.Reason, interactive)
				lastID = t.ID
			}
		}
	}
}

// printWatchTransition prints a transition line. On a TTY it clears the
// line first so each update overwrites the last; otherwise it appends,
// since a non-interactive consumer (a pipe, a log file) has no cursor to
// move and wants one line per event.
func printWatchTransition(out io.Writer, at time.Time, from, to, reason string, interactive bool) {
	if interactive {
		fmt.Fprint(out, "\r\033[K")
	}
	line := fmt.Sprintf("[%s] %s -> %s", at.Format("15:04:05"), from, to)
	if reason != "" {
		line += fmt.Sprintf(" (%s)", reason)
	}
	if interactive {
		fmt.Fprint(out, line)
		return
	}
	fmt.Fprintln(out, line)
}

// isTerminalWriter reports whether out is a TTY. Non-*os.File writers
// (tests, redirected output) are treated as non-interactive.
func isTerminalWriter(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
