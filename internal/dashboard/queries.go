package dashboard

import (
	"github.com/zulandar/safetycar/internal/history"
	"github.com/zulandar/safetycar/internal/models"
	"gorm.io/gorm"
)

// RecentCycles returns the most recent n caution cycles for display.
func RecentCycles(db *gorm.DB, n int) ([]models.CautionCycle, error) {
	return history.RecentCycles(db, n)
}

// RecentTransitions returns the most recent n Supervisor state transitions
// for display.
func RecentTransitions(db *gorm.DB, n int) ([]models.SupervisorStateTransition, error) {
	return history.RecentTransitions(db, n)
}
