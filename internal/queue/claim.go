package queue

import (
	"fmt"
	"time"

	"github.com/mkessler/dossier/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimNext atomically claims the oldest eligible job and returns it
// with its parent run. Eligible means status ready, or status leased
// with an expired lease (the reclaim path after a worker crash). It uses
// SELECT ... FOR UPDATE SKIP LOCKED inside a single transaction so
// concurrent callers never double-claim; the row lock is released when
// the claim transaction commits, not held across processing.
//
// Returns an error wrapping gorm.ErrRecordNotFound when nothing is
// eligible.
//
// Note: SQLite has no SKIP LOCKED. Correctness is preserved there via
// its single-writer transaction serialization; just lower concurrency.
func ClaimNext(db *gorm.DB, leaseFor time.Duration) (*models.Run, *models.Job, error) {
	if leaseFor <= 0 {
		return nil, nil, fmt.Errorf("queue: lease duration must be positive")
	}

	var (
		claimed models.Job
		run     models.Run
	)

	err := db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		q := tx.Where("status = ? OR (status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)",
			models.JobReady, models.JobLeased, now)
		if supportsSkipLocked(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		result := q.Order("created_at ASC, id ASC").
			Limit(1).
			Find(&claimed)

		if result.Error != nil {
			return fmt.Errorf("queue: find eligible job: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("queue: no eligible jobs: %w", gorm.ErrRecordNotFound)
		}

		expiry := now.Add(leaseFor)
		if err := tx.Model(&models.Job{}).Where("id = ?", claimed.ID).Updates(map[string]interface{}{
			"status":           models.JobLeased,
			"lease_expires_at": expiry,
			"attempts":         gorm.Expr("attempts + 1"),
		}).Error; err != nil {
			return fmt.Errorf("queue: lease job %s: %w", claimed.ID, err)
		}
		claimed.Status = models.JobLeased
		claimed.LeaseExpiresAt = &expiry
		claimed.Attempts++

		if err := tx.First(&run, "id = ?", claimed.RunID).Error; err != nil {
			return fmt.Errorf("queue: load run %s: %w", claimed.RunID, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &run, &claimed, nil
}

// supportsSkipLocked reports whether the connected dialect understands
// the SKIP LOCKED locking option.
func supportsSkipLocked(tx *gorm.DB) bool {
	return tx.Dialector.Name() != "sqlite"
}
