package history

import (
	"testing"
	"time"

	"github.com/zulandar/safetycar/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.CautionCycle{}, &models.DetectionEventRecord{}, &models.SupervisorStateTransition{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

func TestRecordCycleStart_NilDBIsNoop(t *testing.T) {
	id, err := RecordCycleStart(nil, "per-type", "stopped", "msg", 10)
	if err != nil || id != 0 {
		t.Fatalf("expected no-op for nil db, got id=%d err=%v", id, err)
	}
}

func TestRecordCycleStart_AssignsID(t *testing.T) {
	db := openTestDB(t)
	id, err := RecordCycleStart(db, "per-type", "stopped", "stopped cars", 12)
	if err != nil {
		t.Fatalf("RecordCycleStart: %v", err)
	}
	if id == 0 {
		t.Fatal("expected nonzero ID")
	}
}

func TestRecordCycleEvents_AttachesToCycle(t *testing.T) {
	db := openTestDB(t)
	id, _ := RecordCycleStart(db, "per-type", "stopped", "msg", 1)
	events := []models.DetectionEventRecord{
		{EventType: "stopped", SlotIndex: 1, CarNumber: "11", Timestamp: time.Now()},
		{EventType: "stopped", SlotIndex: 2, CarNumber: "22", Timestamp: time.Now()},
	}
	if err := RecordCycleEvents(db, id, events); err != nil {
		t.Fatalf("RecordCycleEvents: %v", err)
	}

	var loaded models.CautionCycle
	if err := db.Preload("Events").First(&loaded, id).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(loaded.Events))
	}
}

func TestRecordCycleEnd_UpdatesCounts(t *testing.T) {
	db := openTestDB(t)
	id, _ := RecordCycleStart(db, "manual", "", "msg", 5)
	if err := RecordCycleEnd(db, id, 3, 1, 2); err != nil {
		t.Fatalf("RecordCycleEnd: %v", err)
	}
	var loaded models.CautionCycle
	db.First(&loaded, id)
	if loaded.WaveCount != 3 || loaded.EOLCount != 1 || loaded.PaceLaps != 2 || loaded.EndedAt == nil {
		t.Fatalf("unexpected cycle state: %+v", loaded)
	}
}

func TestRecordTransition_Persists(t *testing.T) {
	db := openTestDB(t)
	if err := RecordTransition(db, "monitoring", "caution-active", "aggregator-trip"); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}
	var count int64
	db.Model(&models.SupervisorStateTransition{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 transition row, got %d", count)
	}
}

func TestRecentCycles_OrdersNewestFirst(t *testing.T) {
	db := openTestDB(t)
	db.Create(&models.CautionCycle{Message: "first", StartedAt: time.Now().Add(-time.Hour)})
	db.Create(&models.CautionCycle{Message: "second", StartedAt: time.Now()})

	got, err := RecentCycles(db, 10)
	if err != nil {
		t.Fatalf("RecentCycles: %v", err)
	}
	if len(got) != 2 || got[0].Message != "second" {
		t.Fatalf("expected newest-first order, got %+v", got)
	}
}

func TestCyclesSince_FiltersByStart(t *testing.T) {
	db := openTestDB(t)
	cutoff := time.Now()
	db.Create(&models.CautionCycle{Message: "old", StartedAt: cutoff.Add(-time.Hour)})
	db.Create(&models.CautionCycle{Message: "new", StartedAt: cutoff.Add(time.Minute)})

	got, err := CyclesSince(db, cutoff)
	if err != nil {
		t.Fatalf("CyclesSince: %v", err)
	}
	if len(got) != 1 || got[0].Message != "new" {
		t.Fatalf("expected only cycles after cutoff, got %+v", got)
	}
}

func TestRecentTransitions_NilDBReturnsNil(t *testing.T) {
	got, err := RecentTransitions(nil, 5)
	if err != nil || got != nil {
		t.Fatalf("expected nil/nil for nil db, got %+v %v", got, err)
	}
}

func TestTransitionsAfter_ReturnsOnlyNewerRows(t *testing.T) {
	db := openTestDB(t)
	if err := RecordTransition(db, "connecting", "connected", ""); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}
	baseline, err := RecentTransitions(db, 1)
	if err != nil || len(baseline) != 1 {
		t.Fatalf("setup: RecentTransitions: %v %+v", err, baseline)
	}

	RecordTransition(db, "connected", "monitoring", "")
	RecordTransition(db, "monitoring", "caution-active", "aggregator-trip")

	got, err := TransitionsAfter(db, baseline[0].ID)
	if err != nil {
		t.Fatalf("TransitionsAfter: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 transitions after the baseline, got %d", len(got))
	}
	if got[0].ToState != "monitoring" || got[1].ToState != "caution-active" {
		t.Fatalf("expected oldest-first order, got %+v", got)
	}
}

func TestTransitionsAfter_NilDBReturnsNil(t *testing.T) {
	got, err := TransitionsAfter(nil, 0)
	if err != nil || got != nil {
		t.Fatalf("expected nil/nil for nil db, got %+v %v", got, err)
	}
}
