package models

import "time"

// Source document types.
const (
	SourcePDF    = "pdf"
	SourceHTML   = "html"
	SourceDoc    = "doc"
	SourceYAML   = "yaml"
	SourceManual = "manual"
)

// SourceDocument is an ingested document in the knowledge base.
type SourceDocument struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	URLOrPath  string         `json:"url_or_path"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IngestedAt time.Time      `json:"ingested_at"`
}

// SourceChunk is one embedded chunk of a source document.
type SourceChunk struct {
	ID               string         `json:"id"`
	SourceDocumentID string         `json:"source_document_id"`
	Text             string         `json:"text"`
	ChunkIndex       int            `json:"chunk_index"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// IngestURLRequest is the body of POST /ingest/url.
type IngestURLRequest struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// IngestResponse is returned by the PDF and URL ingestion endpoints.
type IngestResponse struct {
	SourceDocumentID string `json:"source_document_id"`
	ChunksCreated    int    `json:"chunks_created"`
	Message          string `json:"message"`
}

// IngestYAMLResponse summarizes a capability-registry YAML ingestion.
type IngestYAMLResponse struct {
	Message             string `json:"message"`
	LabsCreated         int    `json:"labs_created"`
	FacilitiesCreated   int    `json:"facilities_created"`
	CapabilitiesCreated int    `json:"capabilities_created"`
}
