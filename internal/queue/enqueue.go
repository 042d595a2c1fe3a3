// Package queue implements the durable run/job queue: idempotent
// enqueue with time-windowed deduplication, lease-based claiming, and
// retry/terminal-failure accounting.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mkessler/dossier/internal/models"
	"gorm.io/gorm"
)

// EnqueueOpts holds parameters for enqueueing a run.
type EnqueueOpts struct {
	Owner       string
	Repo        string
	Ref         string
	CommitSHA   string
	Event       string
	DedupWindow time.Duration
	MaxAttempts int
}

// dedupKey is the commit coordinate held by at most one live run at a
// time; the unique index on runs.dedup_key enforces that across
// concurrent transactions, which a SELECT-then-INSERT alone cannot.
func dedupKey(owner, repo, sha string) string {
	return fmt.Sprintf("%s/%s@%s", owner, repo, sha)
}

// retiredKey frees the live key while keeping the row's key unique, so
// the run stays as history and the commit becomes enqueueable again.
func retiredKey(key, runID string) string {
	return fmt.Sprintf("%s#%s", key, runID)
}

// Enqueue inserts a queued Run plus its ready Job in one transaction.
// If a run for the same (owner, repo, commit) was created inside the
// dedup window and has not failed, that run is returned instead and no
// rows are written. The bool result reports whether a new run was
// created.
//
// Duplicate concurrent deliveries race on the runs.dedup_key unique
// index: the loser's insert is rejected and a second pass returns the
// winner's run.
func Enqueue(db *gorm.DB, opts EnqueueOpts) (*models.Run, bool, error) {
	if opts.Owner == "" {
		return nil, false, fmt.Errorf("queue: owner is required")
	}
	if opts.Repo == "" {
		return nil, false, fmt.Errorf("queue: repo is required")
	}
	if opts.CommitSHA == "" {
		return nil, false, fmt.Errorf("queue: commit SHA is required")
	}
	if opts.Event == "" {
		opts.Event = "push"
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 6 * time.Hour
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = models.DefaultMaxAttempts
	}

	run, created, err := enqueueOnce(db, opts)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		run, created, err = enqueueOnce(db, opts)
	}
	return run, created, err
}

func enqueueOnce(db *gorm.DB, opts EnqueueOpts) (*models.Run, bool, error) {
	key := dedupKey(opts.Owner, opts.Repo, opts.CommitSHA)

	var (
		run     models.Run
		created bool
	)

	err := db.Transaction(func(tx *gorm.DB) error {
		// Replay-safe against at-least-once webhook delivery: the
		// run holding the live key wins while it is inside the window
		// and has not failed. A failed run does not suppress the
		// enqueue; re-pushing after a failure is the manual retry
		// path.
		result := tx.Where("dedup_key = ?", key).Find(&run)
		if result.Error != nil {
			return fmt.Errorf("queue: dedup lookup: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			cutoff := time.Now().Add(-opts.DedupWindow)
			if run.Status != models.RunFailed && run.CreatedAt.After(cutoff) {
				return nil
			}
			if err := tx.Model(&models.Run{}).Where("id = ?", run.ID).
				Update("dedup_key", retiredKey(key, run.ID)).Error; err != nil {
				return fmt.Errorf("queue: retire dedup key for run %s: %w", run.ID, err)
			}
		}

		run = models.Run{
			ID:        uuid.NewString(),
			Owner:     opts.Owner,
			Repo:      opts.Repo,
			Ref:       opts.Ref,
			CommitSHA: opts.CommitSHA,
			DedupKey:  key,
			Event:     opts.Event,
			Status:    models.RunQueued,
		}
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("queue: create run: %w", err)
		}

		job := models.Job{
			ID:          uuid.NewString(),
			RunID:       run.ID,
			Status:      models.JobReady,
			MaxAttempts: opts.MaxAttempts,
		}
		if err := tx.Create(&job).Error; err != nil {
			return fmt.Errorf("queue: create job: %w", err)
		}

		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &run, created, nil
}
