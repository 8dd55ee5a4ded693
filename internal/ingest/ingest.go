// Package ingest feeds the OPAL knowledge base: single uploads, a watched
// drop folder, and URLs re-ingested on cron schedules. Every upload is
// remembered in the local store so unchanged content is not sent twice.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/zulandar/opal/internal/config"
	"github.com/zulandar/opal/internal/db"
	"github.com/zulandar/opal/internal/models"
	"gorm.io/gorm"
)

// Ingest kinds.
const (
	KindPDF  = "pdf"
	KindYAML = "yaml"
	KindURL  = "url"
)

// Uploader is the slice of the backend client ingestion needs.
type Uploader interface {
	IngestPDF(ctx context.Context, filename string, r io.Reader, title, description string) (*models.IngestResponse, error)
	IngestYAML(ctx context.Context, filename string, r io.Reader) (*models.IngestYAMLResponse, error)
	IngestURL(ctx context.Context, req models.IngestURLRequest) (*models.IngestResponse, error)
}

// Ingester uploads files and URLs and records each upload.
type Ingester struct {
	api Uploader
	db  *gorm.DB // optional; nil disables dedup and history
}

// NewIngester creates an Ingester. gdb may be nil.
func NewIngester(api Uploader, gdb *gorm.DB) (*Ingester, error) {
	if api == nil {
		return nil, fmt.Errorf("ingest: api client is required")
	}
	return &Ingester{api: api, db: gdb}, nil
}

// KindOf maps a file extension to an ingest kind, or "" if unsupported.
func KindOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return KindPDF
	case ".yaml", ".yml":
		return KindYAML
	}
	return ""
}

// TitleFromFilename derives a document title from a file name:
// "drought_tolerance-review.pdf" becomes "drought tolerance review".
func TitleFromFilename(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}

// FileOpts overrides per-file metadata.
type FileOpts struct {
	Title       string // PDF title; defaults to TitleFromFilename
	Description string
	Force       bool // upload even if the checksum was seen before
}

// IngestFile uploads one PDF or YAML file. It returns the stored record and
// whether the upload was skipped because identical content was already
// ingested.
func (i *Ingester) IngestFile(ctx context.Context, path string, opts FileOpts) (*models.IngestRecord, bool, error) {
	kind := KindOf(path)
	if kind == "" {
		return nil, false, fmt.Errorf("ingest: %s: unsupported file type", path)
	}

	sum, err := checksumFile(path)
	if err != nil {
		return nil, false, err
	}
	if !opts.Force && i.db != nil {
		prev, err := db.FindIngestByChecksum(i.db, sum)
		if err != nil {
			return nil, false, fmt.Errorf("ingest: %s: %w", path, err)
		}
		if prev != nil {
			return prev, true, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()

	rec := &models.IngestRecord{Origin: path, Kind: kind, Checksum: sum}
	name := filepath.Base(path)
	switch kind {
	case KindPDF:
		title := opts.Title
		if title == "" {
			title = TitleFromFilename(path)
		}
		resp, err := i.api.IngestPDF(ctx, name, f, title, opts.Description)
		if err != nil {
			return nil, false, fmt.Errorf("ingest: upload %s: %w", name, err)
		}
		rec.SourceDocumentID = resp.SourceDocumentID
		rec.ChunksCreated = resp.ChunksCreated
		rec.Message = resp.Message
	case KindYAML:
		resp, err := i.api.IngestYAML(ctx, name, f)
		if err != nil {
			return nil, false, fmt.Errorf("ingest: upload %s: %w", name, err)
		}
		rec.Message = fmt.Sprintf("%s (%d labs, %d facilities, %d capabilities)",
			resp.Message, resp.LabsCreated, resp.FacilitiesCreated, resp.CapabilitiesCreated)
	}

	i.record(rec)
	return rec, false, nil
}

// IngestURL asks the backend to scrape and ingest a page. URLs are always
// sent; pages change without their address changing.
func (i *Ingester) IngestURL(ctx context.Context, req models.IngestURLRequest) (*models.IngestRecord, error) {
	resp, err := i.api.IngestURL(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("ingest: url %s: %w", req.URL, err)
	}
	rec := &models.IngestRecord{
		Origin:           req.URL,
		Kind:             KindURL,
		SourceDocumentID: resp.SourceDocumentID,
		ChunksCreated:    resp.ChunksCreated,
		Message:          resp.Message,
	}
	i.record(rec)
	return rec, nil
}

// IngestSchedule runs one configured URL schedule.
func (i *Ingester) IngestSchedule(ctx context.Context, s config.ScheduleConfig) (*models.IngestRecord, error) {
	return i.IngestURL(ctx, models.IngestURLRequest{URL: s.URL, Title: s.Title, Description: s.Description})
}

func (i *Ingester) record(rec *models.IngestRecord) {
	if i.db == nil {
		return
	}
	if err := db.RecordIngest(i.db, rec); err != nil {
		log.Printf("ingest: record %s: %v", rec.Origin, err)
	}
}

// checksumFile returns the hex SHA-256 of the file's content.
func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("ingest: read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
