package queue

import (
	"errors"
	"fmt"

	"github.com/mkessler/dossier/internal/models"
	"gorm.io/gorm"
)

// StatusCounts returns job counts grouped by status. Statuses with no
// jobs are present with a zero count so repeated calls with unchanged
// state return identical maps.
func StatusCounts(db *gorm.DB) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := db.Model(&models.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("queue: status counts: %w", err)
	}

	counts := map[string]int64{
		models.JobReady:  0,
		models.JobLeased: 0,
		models.JobDone:   0,
		models.JobDead:   0,
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// RunStatusCounts returns run counts grouped by status, zero-filled
// the same way as StatusCounts.
func RunStatusCounts(db *gorm.DB) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := db.Model(&models.Run{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("queue: run status counts: %w", err)
	}

	counts := map[string]int64{
		models.RunQueued:    0,
		models.RunRunning:   0,
		models.RunSucceeded: 0,
		models.RunFailed:    0,
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// LastFinishedRun returns the most recently finished run, or nil when
// no run has finished yet.
func LastFinishedRun(db *gorm.DB) (*models.Run, error) {
	var run models.Run
	err := db.Where("finished_at IS NOT NULL").
		Order("finished_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: last finished run: %w", err)
	}
	return &run, nil
}

// ListRuns returns runs newest-first, optionally filtered by owner and
// repo. limit <= 0 or > 100 defaults to 50.
func ListRuns(db *gorm.DB, owner, repo string, limit int) ([]models.Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := db.Order("created_at DESC").Limit(limit)
	if owner != "" {
		q = q.Where("owner = ?", owner)
	}
	if repo != "" {
		q = q.Where("repo = ?", repo)
	}
	var runs []models.Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("queue: list runs: %w", err)
	}
	return runs, nil
}

// GetRun fetches a single run by ID.
func GetRun(db *gorm.DB, id string) (*models.Run, error) {
	var run models.Run
	if err := db.First(&run, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("queue: get run %s: %w", id, err)
	}
	return &run, nil
}
