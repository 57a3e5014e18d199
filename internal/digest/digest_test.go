package digest

import (
	"context"
	"testing"
	"time"

	"github.com/zulandar/safetycar/internal/models"
	"github.com/zulandar/safetycar/internal/notify"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.CautionCycle{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

func seedCycle(t *testing.T, db *gorm.DB, reason string, lap int, startedAt time.Time) {
	t.Helper()
	cycle := models.CautionCycle{
		TriggerReason: reason,
		LapAtTrigger:  lap,
		WaveCount:     2,
		EOLCount:      1,
		PaceLaps:      3,
		StartedAt:     startedAt,
	}
	if err := db.Create(&cycle).Error; err != nil {
		t.Fatalf("seed cycle: %v", err)
	}
}

func TestBuildReport_NoActivity(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	report, err := BuildReport(db, now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if report.TotalCautions != 0 {
		t.Errorf("TotalCautions = %d, want 0", report.TotalCautions)
	}
}

func TestBuildReport_AggregatesCycles(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	seedCycle(t, db, "per-type", 10, now.Add(-2*time.Hour))
	seedCycle(t, db, "per-type", 20, now.Add(-1*time.Hour))
	seedCycle(t, db, "manual", 30, now.Add(-30*time.Minute))

	report, err := BuildReport(db, now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if report.TotalCautions != 3 {
		t.Fatalf("TotalCautions = %d, want 3", report.TotalCautions)
	}
	if report.ByTriggerReason["per-type"] != 2 {
		t.Errorf("per-type count = %d, want 2", report.ByTriggerReason["per-type"])
	}
	if report.ByTriggerReason["manual"] != 1 {
		t.Errorf("manual count = %d, want 1", report.ByTriggerReason["manual"])
	}
	wantAvg := float64(10+20+30) / 3
	if report.AverageTriggerLap != wantAvg {
		t.Errorf("AverageTriggerLap = %v, want %v", report.AverageTriggerLap, wantAvg)
	}
	if report.TotalWaveCount != 6 || report.TotalEOLCount != 3 || report.TotalPaceLaps != 9 {
		t.Errorf("totals = %+v, want wave=6 eol=3 pace=9", report)
	}
}

func TestBuildReport_ExcludesCyclesAfterUntil(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	seedCycle(t, db, "per-type", 10, now.Add(-1*time.Hour))
	seedCycle(t, db, "per-type", 15, now.Add(1*time.Hour)) // outside the window

	report, err := BuildReport(db, now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if report.TotalCautions != 1 {
		t.Errorf("TotalCautions = %d, want 1", report.TotalCautions)
	}
}

func TestFormat_IncludesTotals(t *testing.T) {
	report := &Report{
		TotalCautions:     2,
		AverageTriggerLap: 15.5,
		ByTriggerReason:   map[string]int{"per-type": 2},
	}
	evt := Format(report)
	if evt.Title != "Caution digest" {
		t.Errorf("Title = %q", evt.Title)
	}
	if len(evt.Fields) == 0 {
		t.Error("expected formatted fields")
	}
}

type fakeAdapter struct {
	sent []notify.OutboundMessage
}

func (f *fakeAdapter) Connect(ctx context.Context) error { return nil }
func (f *fakeAdapter) Send(ctx context.Context, msg notify.OutboundMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeAdapter) Close() error { return nil }

func TestNewScheduler_RequiresCollaborators(t *testing.T) {
	db := openTestDB(t)
	adapter := &fakeAdapter{}

	if _, err := NewScheduler(SchedulerOpts{Adapter: adapter, Cron: "0 9 * * *"}); err == nil {
		t.Error("expected error for nil db")
	}
	if _, err := NewScheduler(SchedulerOpts{DB: db, Cron: "0 9 * * *"}); err == nil {
		t.Error("expected error for nil adapter")
	}
	if _, err := NewScheduler(SchedulerOpts{DB: db, Adapter: adapter}); err == nil {
		t.Error("expected error for empty cron")
	}
}

func TestScheduler_FireSuppressesEmptyPeriod(t *testing.T) {
	db := openTestDB(t)
	adapter := &fakeAdapter{}
	s, err := NewScheduler(SchedulerOpts{DB: db, Adapter: adapter, Cron: "0 9 * * *"})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.fire(context.Background())
	if len(adapter.sent) != 0 {
		t.Errorf("expected no digest sent for empty period, got %d", len(adapter.sent))
	}
}

func TestScheduler_FireSendsNonEmptyPeriod(t *testing.T) {
	db := openTestDB(t)
	adapter := &fakeAdapter{}
	s, err := NewScheduler(SchedulerOpts{DB: db, Adapter: adapter, Cron: "0 9 * * *"})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	seedCycle(t, db, "per-type", 12, time.Now())

	s.fire(context.Background())
	if len(adapter.sent) != 1 {
		t.Fatalf("expected one digest sent, got %d", len(adapter.sent))
	}
	if len(adapter.sent[0].Events) != 1 {
		t.Errorf("expected one formatted event, got %d", len(adapter.sent[0].Events))
	}
}
