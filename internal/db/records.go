package db

import (
	"errors"
	"fmt"

	"github.com/zulandar/opal/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordJob inserts rec or, when its job ID already exists, updates the
// lifecycle columns.
func RecordJob(db *gorm.DB, rec models.JobRecord) error {
	if rec.JobID == "" {
		return fmt.Errorf("db: record job: job id is required")
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"conversation_id", "state", "error", "finished_at", "updated_at"}),
	}).Create(&rec)
	if result.Error != nil {
		return fmt.Errorf("db: record job %s: %w", rec.JobID, result.Error)
	}
	return nil
}

// ListJobs returns the most recent jobs first. A non-empty state filters.
func ListJobs(db *gorm.DB, state string, limit int) ([]models.JobRecord, error) {
	q := db.Order("started_at DESC").Order("id DESC")
	if state != "" {
		q = q.Where("state = ?", state)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []models.JobRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("db: list jobs: %w", err)
	}
	return recs, nil
}

// GetJob returns the record for jobID.
func GetJob(db *gorm.DB, jobID string) (*models.JobRecord, error) {
	var rec models.JobRecord
	if err := db.Where("job_id = ?", jobID).First(&rec).Error; err != nil {
		return nil, fmt.Errorf("db: get job %s: %w", jobID, err)
	}
	return &rec, nil
}

// JobRecorder adapts a connection to the job package's Recorder.
type JobRecorder struct {
	DB *gorm.DB
}

// RecordJob implements job.Recorder.
func (r JobRecorder) RecordJob(rec models.JobRecord) error {
	return RecordJob(r.DB, rec)
}

// RecordIngest stores a completed ingestion.
func RecordIngest(db *gorm.DB, rec *models.IngestRecord) error {
	if err := db.Create(rec).Error; err != nil {
		return fmt.Errorf("db: record ingest %s: %w", rec.Origin, err)
	}
	return nil
}

// FindIngestByChecksum returns the latest ingestion with the given content
// checksum, or nil if there is none.
func FindIngestByChecksum(db *gorm.DB, checksum string) (*models.IngestRecord, error) {
	var rec models.IngestRecord
	err := db.Where("checksum = ?", checksum).Order("id DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: find ingest %s: %w", checksum, err)
	}
	return &rec, nil
}

// ListIngests returns the most recent ingestions first.
func ListIngests(db *gorm.DB, limit int) ([]models.IngestRecord, error) {
	q := db.Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []models.IngestRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("db: list ingests: %w", err)
	}
	return recs, nil
}
