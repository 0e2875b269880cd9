package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RunStatusProcessing = "processing"
	RunStatusCompleted  = "completed"
)

// VerificationRun is one batch submission.
type VerificationRun struct {
	gorm.Model
	RunID       string     `gorm:"size:36;not null;uniqueIndex" json:"run_id"`
	Status      string     `gorm:"default:'processing'" json:"status"` // processing, completed
	Total       int        `gorm:"default:0" json:"total"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Counts by severity
	SuccessCount int `gorm:"default:0" json:"success_count"`
	DangerCount  int `gorm:"default:0" json:"danger_count"`
	WarningCount int `gorm:"default:0" json:"warning_count"`

	// Relations
	Records []VerificationRecord `gorm:"foreignKey:VerificationRunID" json:"results"`
}

// VerificationRecord stores the verdict for one address of a run.
type VerificationRecord struct {
	gorm.Model
	VerificationRunID uint   `gorm:"not null;index" json:"-"`
	Email             string `gorm:"not null" json:"email"`
	Status            string `gorm:"not null" json:"status"` // category label
	Badge             string `gorm:"size:16" json:"badge"`
	Icon              string `gorm:"size:16" json:"icon"`
}
