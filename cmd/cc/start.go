package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/safetycar/internal/app"
	"github.com/zulandar/safetycar/internal/config"
	"github.com/zulandar/safetycar/internal/db"
	"github.com/zulandar/safetycar/internal/digest"
	"github.com/zulandar/safetycar/internal/notify"
	"github.com/zulandar/safetycar/internal/sink"
	"github.com/zulandar/safetycar/internal/telemetry"
)

func newStartCmd() *cobra.Command {
	var (
		configPath  string
		telemetryIn string
		commandOut  string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the caution controller",
		Long:  "Starts the Supervisor: polls telemetry, runs detection and aggregation, and drives the full-course-yellow procedure until the process receives an interrupt.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath, telemetryIn, commandOut)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "caution.yaml", "path to controller config file")
	cmd.Flags().StringVar(&telemetryIn, "telemetry-in", "-", "path to a newline-delimited JSON telemetry stream, or - for stdin")
	cmd.Flags().StringVar(&commandOut, "command-out", "-", "path to write emitted command lines, or - for stdout")
	return cmd
}

func runStart(cmd *cobra.Command, configPath, telemetryIn, commandOut string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if gormDB != nil {
		if err := db.AutoMigrate(gormDB); err != nil {
			return fmt.Errorf("migrate history schema: %w", err)
		}
	}

	in, closeIn, err := openInput(telemetryIn)
	if err != nil {
		return err
	}
	defer closeIn()

	out, closeOut, err := openOutput(commandOut)
	if err != nil {
		return err
	}
	defer closeOut()

	source := telemetry.NewJSONSource(in)
	snk := sink.NewWriterSink(out)

	sup, err := app.Build(cfg, source, snk, gormDB, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := connectNotifier(ctx, cfg.Notify, cmd.OutOrStdout())
	if notifier != nil {
		sup.SetNotifier(notifier)
		defer notifier.Close()
	}

	if gormDB != nil && cfg.Digest.Enabled {
		if notifier == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "digest: digest.enabled is true but notify.platform is unset\n")
		} else {
			sched, err := digest.NewScheduler(digest.SchedulerOpts{
				DB:      gormDB,
				Adapter: notifier,
				Cron:    cfg.Digest.Cron,
				Out:     cmd.OutOrStdout(),
			})
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "digest: %v\n", err)
			} else {
				go sched.Run(ctx)
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		sup.RequestShutdown()
		cancel()
	}()

	return sup.Run(ctx)
}

// connectNotifier builds and connects the configured chat adapter, shared
// by the Supervisor's fault alerts and the digest scheduler. Returns nil
// when notify.platform is unset or the connection fails; a failure here
// never stops the controller, since notification is an ambient concern,
// not part of the detection-and-procedure core.
func connectNotifier(ctx context.Context, cfg config.NotifyConfig, out io.Writer) notify.Adapter {
	adapter, err := app.BuildNotifier(cfg)
	if err != nil {
		fmt.Fprintf(out, "notify: %v\n", err)
		return nil
	}
	if adapter == nil {
		return nil
	}
	if err := adapter.Connect(ctx); err != nil {
		fmt.Fprintf(out, "notify: connect: %v\n", err)
		return nil
	}
	return adapter
}

func openInput(path string) (*os.File, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open telemetry input %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

func openOutput(path string) (*os.File, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open command output %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}
