// Package digest builds periodic caution-history summaries from
// internal/history and delivers them through internal/notify on a cron
// schedule. It never touches the core detection-and-procedure engine; a
// digest failure is logged and the scheduler keeps running.
package digest

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/zulandar/safetycar/internal/history"
	"github.com/zulandar/safetycar/internal/notify"
	"gorm.io/gorm"
)

// Report summarizes the caution cycles started within a period.
type Report struct {
	PeriodStart       time.Time
	PeriodEnd         time.Time
	TotalCautions     int
	ByTriggerReason   map[string]int
	AverageTriggerLap float64
	TotalWaveCount    int
	TotalEOLCount     int
	TotalPaceLaps     int
}

// BuildReport queries the history DB for cycles started within [since, until)
// and computes a Report. Returns a zero-valued Report (TotalCautions == 0)
// when no cycles occurred in the period; callers should suppress an empty
// digest rather than post it.
func BuildReport(db *gorm.DB, since, until time.Time) (*Report, error) {
	cycles, err := history.CyclesSince(db, since)
	if err != nil {
		return nil, fmt.Errorf("digest: build report: %w", err)
	}

	report := &Report{
		PeriodStart:     since,
		PeriodEnd:       until,
		ByTriggerReason: make(map[string]int),
	}

	var lapSum int
	for _, c := range cycles {
		if c.StartedAt.After(until) {
			continue
		}
		report.TotalCautions++
		report.ByTriggerReason[c.TriggerReason]++
		lapSum += c.LapAtTrigger
		report.TotalWaveCount += c.WaveCount
		report.TotalEOLCount += c.EOLCount
		report.TotalPaceLaps += c.PaceLaps
	}
	if report.TotalCautions > 0 {
		report.AverageTriggerLap = float64(lapSum) / float64(report.TotalCautions)
	}

	return report, nil
}

// Format renders a Report as a notify.FormattedEvent.
func Format(report *Report) notify.FormattedEvent {
	body := fmt.Sprintf("Period: %s – %s\nCautions: %d\nAverage trigger lap: %.1f\nWave-arounds: %d, end-of-line: %d, pace laps: %d",
		report.PeriodStart.Format("Jan 2 15:04"),
		report.PeriodEnd.Format("Jan 2 15:04"),
		report.TotalCautions,
		report.AverageTriggerLap,
		report.TotalWaveCount,
		report.TotalEOLCount,
		report.TotalPaceLaps,
	)

	fields := []notify.Field{
		{Name: "Cautions", Value: fmt.Sprintf("%d", report.TotalCautions), Short: true},
		{Name: "Avg trigger lap", Value: fmt.Sprintf("%.1f", report.AverageTriggerLap), Short: true},
	}
	for _, reason := range []string{"per-type", "accumulative", "manual"} {
		if n, ok := report.ByTriggerReason[reason]; ok && n > 0 {
			fields = append(fields, notify.Field{Name: reason, Value: fmt.Sprintf("%d", n), Short: true})
		}
	}

	return notify.FormattedEvent{
		Title:    "Caution digest",
		Body:     body,
		Severity: "info",
		Color:    notify.ColorInfo,
		Fields:   fields,
	}
}

// Scheduler fires a digest on a cron schedule and delivers it through an
// Adapter. The reporting window always runs from the previous fire (or
// scheduler start, on the first fire) to now.
type Scheduler struct {
	db      *gorm.DB
	adapter notify.Adapter
	cronExp string
	out     io.Writer
	lastRun time.Time
}

// SchedulerOpts holds parameters for creating a Scheduler.
type SchedulerOpts struct {
	DB      *gorm.DB
	Adapter notify.Adapter
	Cron    string
	Out     io.Writer
}

// NewScheduler creates a digest Scheduler.
func NewScheduler(opts SchedulerOpts) (*Scheduler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("digest: db is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("digest: adapter is required")
	}
	if opts.Cron == "" {
		return nil, fmt.Errorf("digest: cron expression is required")
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Scheduler{
		db:      opts.DB,
		adapter: opts.Adapter,
		cronExp: opts.Cron,
		out:     out,
		lastRun: time.Now(),
	}, nil
}

// Run blocks until ctx is cancelled, firing a digest each time the cron
// expression matches.
func (s *Scheduler) Run(ctx context.Context) {
	d := nextCronDuration(s.cronExp)
	if d <= 0 {
		fmt.Fprintf(s.out, "digest: invalid cron expression %q, scheduler idle\n", s.cronExp)
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.fire(ctx)
			if d := nextCronDuration(s.cronExp); d > 0 {
				timer.Reset(d)
			} else {
				return
			}
		}
	}
}

// fire builds and, unless the period had no activity, sends a single digest.
func (s *Scheduler) fire(ctx context.Context) {
	now := time.Now()
	report, err := BuildReport(s.db, s.lastRun, now)
	s.lastRun = now
	if err != nil {
		log.Printf("digest: %v", err)
		return
	}
	if report.TotalCautions == 0 {
		return
	}

	formatted := Format(report)
	if err := s.adapter.Send(ctx, notify.OutboundMessage{Events: []notify.FormattedEvent{formatted}}); err != nil {
		log.Printf("digest: send: %v", err)
	}
}
