package models

import "time"

// Run statuses.
const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one logical CI analysis request pinned to a commit.
type Run struct {
	ID         string `gorm:"primaryKey;size:36"`
	Owner      string `gorm:"size:64;not null;index:idx_runs_repo"`
	Repo       string `gorm:"size:128;not null;index:idx_runs_repo"`
	Ref        string `gorm:"size:128"`
	CommitSHA  string `gorm:"size:40;not null;index"`
	DedupKey   string `gorm:"size:255;not null;uniqueIndex"`
	Event      string `gorm:"size:32;default:push"`
	Status     string `gorm:"size:16;default:queued;index"`
	Error      string `gorm:"type:text"`
	OutputDir  string `gorm:"size:255"`
	Summary    string `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	Jobs []Job `gorm:"foreignKey:RunID"`
}

// Terminal reports whether the run has reached a final status.
func (r *Run) Terminal() bool {
	return r.Status == RunSucceeded || r.Status == RunFailed
}
