package models

import "time"

// Job statuses.
const (
	JobReady  = "ready"
	JobLeased = "leased"
	JobDone   = "done"
	JobDead   = "dead"
)

// DefaultMaxAttempts caps how often a job is retried before it is
// declared dead.
const DefaultMaxAttempts = 3

// Job is the retryable unit of work behind a Run. A run owns exactly one
// job; retries increment Attempts rather than creating new rows.
type Job struct {
	ID             string `gorm:"primaryKey;size:36"`
	RunID          string `gorm:"size:36;not null;index"`
	Status         string `gorm:"size:16;default:ready;index"`
	Attempts       int    `gorm:"default:0"`
	MaxAttempts    int    `gorm:"default:3"`
	LeaseExpiresAt *time.Time
	Error          string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Run Run `gorm:"foreignKey:RunID"`
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	return j.Status == JobDone || j.Status == JobDead
}

// LeaseExpired reports whether a leased job's lease has lapsed at the
// given instant. A job without a lease timestamp is never considered
// expired.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.Status == JobLeased && j.LeaseExpiresAt != nil && !j.LeaseExpiresAt.After(now)
}
