package models

import "time"

// IngestRecord remembers a file or URL already sent for ingestion so the
// drop-folder watcher does not upload the same content twice.
type IngestRecord struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	Origin           string `gorm:"size:512;not null;index"` // file path or URL
	Kind             string `gorm:"size:16;not null"`        // pdf, yaml, url
	Checksum         string `gorm:"size:64;index"`
	SourceDocumentID string `gorm:"size:64"`
	ChunksCreated    int
	Message          string `gorm:"type:text"`
	CreatedAt        time.Time
}
