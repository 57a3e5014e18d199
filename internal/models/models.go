// Package models defines the GORM-mapped history records persisted by the
// Supervisor's best-effort persistence layer (internal/history).
package models

import "time"

// CautionCycle is one full run of the Procedure Sequencer, from the
// triggering message through hand-off back to green.
type CautionCycle struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	TriggerReason string    `gorm:"size:32;index"` // "per-type", "accumulative", "manual"
	EventType     string    `gorm:"size:32"`        // set when TriggerReason is "per-type"
	Message       string    `gorm:"type:text"`
	LapAtTrigger  int
	WaveCount     int
	EOLCount      int
	PaceLaps      int
	StartedAt     time.Time `gorm:"index"`
	EndedAt       *time.Time

	Events []DetectionEventRecord `gorm:"foreignKey:CautionCycleID"`
}

// DetectionEventRecord is a single detector event that contributed to a
// CautionCycle's trip, kept for the post-session digest (internal/notify)
// and the dashboard's history view.
type DetectionEventRecord struct {
	ID             uint `gorm:"primaryKey;autoIncrement"`
	CautionCycleID uint `gorm:"index"`
	EventType      string `gorm:"size:32"`
	SlotIndex      int
	CarNumber      string `gorm:"size:16"`
	Timestamp      time.Time
}

// SupervisorStateTransition records a state-machine transition for the
// dashboard's SSE stream and historical audit.
type SupervisorStateTransition struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	FromState string    `gorm:"size:32"`
	ToState   string    `gorm:"size:32;index"`
	Reason    string    `gorm:"size:64"`
	At        time.Time `gorm:"index"`
}
