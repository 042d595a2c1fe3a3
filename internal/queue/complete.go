package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/mkessler/dossier/internal/models"
	"gorm.io/gorm"
)

// ErrLeaseLost reports that the job was reclaimed by another worker
// between this worker's claim and its completion write. The caller's
// result must be discarded; the reclaiming worker owns the job now.
var ErrLeaseLost = errors.New("queue: lease lost before completion")

// MarkRunning transitions a freshly claimed run to running and records
// the start time.
func MarkRunning(db *gorm.DB, run *models.Run) error {
	now := time.Now()
	if err := db.Model(&models.Run{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
		"status":     models.RunRunning,
		"started_at": now,
	}).Error; err != nil {
		return fmt.Errorf("queue: mark run %s running: %w", run.ID, err)
	}
	run.Status = models.RunRunning
	run.StartedAt = &now
	return nil
}

// finishJob applies updates to the job only while this worker still
// holds its lease. Attempts increments on every claim, so matching on
// the claimed attempt number rejects writes from a worker whose lease
// expired and whose job was re-leased. Zero rows affected means the
// lease was lost.
func finishJob(tx *gorm.DB, job *models.Job, updates map[string]interface{}) error {
	res := tx.Model(&models.Job{}).
		Where("id = ? AND status = ? AND attempts = ?", job.ID, models.JobLeased, job.Attempts).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("queue: finish job %s: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("queue: job %s: %w", job.ID, ErrLeaseLost)
	}
	return nil
}

// CompleteSuccess finalizes a successful attempt: job done, run
// succeeded with output location and optional summary JSON. Returns
// ErrLeaseLost (and writes nothing) when the job was reclaimed while
// this worker was processing.
func CompleteSuccess(db *gorm.DB, run *models.Run, job *models.Job, outputDir, summary string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := finishJob(tx, job, map[string]interface{}{
			"status":           models.JobDone,
			"lease_expires_at": nil,
			"error":            "",
		}); err != nil {
			return err
		}

		now := time.Now()
		if err := tx.Model(&models.Run{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
			"status":      models.RunSucceeded,
			"finished_at": now,
			"output_dir":  outputDir,
			"summary":     summary,
			"error":       "",
		}).Error; err != nil {
			return fmt.Errorf("queue: finish run %s: %w", run.ID, err)
		}

		job.Status = models.JobDone
		job.LeaseExpiresAt = nil
		run.Status = models.RunSucceeded
		run.FinishedAt = &now
		run.OutputDir = outputDir
		run.Summary = summary
		return nil
	})
}

// CompleteFailure records a failed attempt. Below the attempt cap the
// job goes back to ready for a future lease; at the cap the job is dead
// and the run failed. Every failure is treated as retryable until the
// cap; there is no transient/permanent distinction. Returns whether
// the job is now dead, or ErrLeaseLost when the job was reclaimed
// while this worker was processing.
func CompleteFailure(db *gorm.DB, run *models.Run, job *models.Job, errMsg string) (bool, error) {
	dead := job.Attempts >= job.MaxAttempts

	err := db.Transaction(func(tx *gorm.DB) error {
		jobStatus := models.JobReady
		if dead {
			jobStatus = models.JobDead
		}
		if err := finishJob(tx, job, map[string]interface{}{
			"status":           jobStatus,
			"lease_expires_at": nil,
			"error":            errMsg,
		}); err != nil {
			return err
		}

		runUpdates := map[string]interface{}{
			"error": errMsg,
		}
		if dead {
			runUpdates["status"] = models.RunFailed
			runUpdates["finished_at"] = time.Now()
		} else {
			runUpdates["status"] = models.RunQueued
		}
		if err := tx.Model(&models.Run{}).Where("id = ?", run.ID).Updates(runUpdates).Error; err != nil {
			return fmt.Errorf("queue: fail run %s: %w", run.ID, err)
		}

		job.Status = jobStatus
		job.LeaseExpiresAt = nil
		job.Error = errMsg
		run.Error = errMsg
		if dead {
			now := time.Now()
			run.Status = models.RunFailed
			run.FinishedAt = &now
		} else {
			run.Status = models.RunQueued
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return dead, nil
}
