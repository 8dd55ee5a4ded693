package models

import "time"

// JobRecord is the local history entry for one chat turn submitted from
// this machine.
type JobRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	JobID          string    `gorm:"size:64;uniqueIndex"`
	ConversationID string    `gorm:"size:64;index"`
	Prompt         string    `gorm:"type:text"`
	State          string    `gorm:"size:16;default:submitting;index"`
	Error          string    `gorm:"type:text"`
	StartedAt      time.Time `gorm:"index"`
	FinishedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Duration returns how long the job ran, or zero if it has not finished.
func (r JobRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
