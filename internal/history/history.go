// Package history is the Supervisor's best-effort persistence layer: it
// records caution cycles, their contributing detection events, and state
// transitions for the dashboard and digest. Nothing in the core detection-
// and-procedure engine blocks on it; a nil *gorm.DB or a failed write is
// logged and ignored (spec.md §9, ambient concerns carried regardless of
// the core's Non-goals).
package history

import (
	"fmt"
	"time"

	"github.com/zulandar/safetycar/internal/models"
	"gorm.io/gorm"
)

// RecordCycleStart inserts a new CautionCycle row and returns its ID.
func RecordCycleStart(db *gorm.DB, reason, eventType, message string, lapAtTrigger int) (uint, error) {
	if db == nil {
		return 0, nil
	}
	cycle := models.CautionCycle{
		TriggerReason: reason,
		EventType:     eventType,
		Message:       message,
		LapAtTrigger:  lapAtTrigger,
		StartedAt:     time.Now(),
	}
	if err := db.Create(&cycle).Error; err != nil {
		return 0, fmt.Errorf("history: record cycle start: %w", err)
	}
	return cycle.ID, nil
}

// RecordCycleEvents attaches the events that contributed to a cycle's trip.
func RecordCycleEvents(db *gorm.DB, cycleID uint, events []models.DetectionEventRecord) error {
	if db == nil || cycleID == 0 || len(events) == 0 {
		return nil
	}
	for i := range events {
		events[i].CautionCycleID = cycleID
	}
	if err := db.Create(&events).Error; err != nil {
		return fmt.Errorf("history: record cycle events: %w", err)
	}
	return nil
}

// RecordCycleEnd marks a cycle complete with its final wave/EOL/pace-lap
// counts.
func RecordCycleEnd(db *gorm.DB, cycleID uint, waveCount, eolCount, paceLaps int) error {
	if db == nil || cycleID == 0 {
		return nil
	}
	now := time.Now()
	result := db.Model(&models.CautionCycle{}).Where("id = ?", cycleID).Updates(map[string]interface{}{
		"wave_count": waveCount,
		"eol_count":  eolCount,
		"pace_laps":  paceLaps,
		"ended_at":   now,
	})
	if result.Error != nil {
		return fmt.Errorf("history: record cycle end %d: %w", cycleID, result.Error)
	}
	return nil
}

// RecordTransition logs a Supervisor state-machine transition.
func RecordTransition(db *gorm.DB, from, to, reason string) error {
	if db == nil {
		return nil
	}
	tr := models.SupervisorStateTransition{
		FromState: from,
		ToState:   to,
		Reason:    reason,
		At:        time.Now(),
	}
	if err := db.Create(&tr).Error; err != nil {
		return fmt.Errorf("history: record transition %s->%s: %w", from, to, err)
	}
	return nil
}

// RecentCycles returns the most recent n caution cycles, newest first, for
// the dashboard and digest.
func RecentCycles(db *gorm.DB, n int) ([]models.CautionCycle, error) {
	if db == nil {
		return nil, nil
	}
	var cycles []models.CautionCycle
	if err := db.Order("started_at DESC").Limit(n).Find(&cycles).Error; err != nil {
		return nil, fmt.Errorf("history: recent cycles: %w", err)
	}
	return cycles, nil
}

// CyclesSince returns every caution cycle started at or after since, for
// digest windows (spec.md §11's robfig/cron wiring).
func CyclesSince(db *gorm.DB, since time.Time) ([]models.CautionCycle, error) {
	if db == nil {
		return nil, nil
	}
	var cycles []models.CautionCycle
	if err := db.Where("started_at >= ?", since).Order("started_at ASC").Find(&cycles).Error; err != nil {
		return nil, fmt.Errorf("history: cycles since %s: %w", since, err)
	}
	return cycles, nil
}

// RecentTransitions returns the most recent n state transitions, newest
// first, for the dashboard's SSE backlog.
func RecentTransitions(db *gorm.DB, n int) ([]models.SupervisorStateTransition, error) {
	if db == nil {
		return nil, nil
	}
	var transitions []models.SupervisorStateTransition
	if err := db.Order("at DESC").Limit(n).Find(&transitions).Error; err != nil {
		return nil, fmt.Errorf("history: recent transitions: %w", err)
	}
	return transitions, nil
}

// TransitionsAfter returns every transition with ID greater than lastID,
// oldest first, for a poll-and-follow consumer like cmd/cc's watch command.
func TransitionsAfter(db *gorm.DB, lastID uint) ([]models.SupervisorStateTransition, error) {
	if db == nil {
		return nil, nil
	}
	var transitions []models.SupervisorStateTransition
	if err := db.Where("id > ?", lastID).Order("id ASC").Find(&transitions).Error; err != nil {
		return nil, fmt.Errorf("history: transitions after %d: %w", lastID, err)
	}
	return transitions, nil
}
