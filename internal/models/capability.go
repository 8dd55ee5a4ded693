package models

import "time"

// Lab is an OPAL member laboratory.
type Lab struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Institution string            `json:"institution"`
	Location    string            `json:"location,omitempty"`
	Contacts    map[string]any    `json:"contacts,omitempty"`
	URLs        map[string]string `json:"urls,omitempty"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Capability is a registry entry describing a research service a lab
// facility offers, with its lab and facility context.
type Capability struct {
	ID                 string         `json:"id"`
	FacilityID         string         `json:"facility_id"`
	SourceDocumentID   string         `json:"source_document_id,omitempty"`
	Name               string         `json:"name"`
	Description        string         `json:"description,omitempty"`
	Modalities         []string       `json:"modalities,omitempty"`
	Throughput         string         `json:"throughput,omitempty"`
	SampleRequirements map[string]any `json:"sample_requirements,omitempty"`
	Constraints        map[string]any `json:"constraints,omitempty"`
	TypicalOutputs     []string       `json:"typical_outputs,omitempty"`
	ReadinessLevel     string         `json:"readiness_level,omitempty"`
	Tags               []string       `json:"tags,omitempty"`
	FacilityName       string         `json:"facility_name"`
	LabName            string         `json:"lab_name"`
	LabInstitution     string         `json:"lab_institution"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// CapabilitySearchResult is one hit of GET /capabilities/search.
type CapabilitySearchResult struct {
	Capability     Capability     `json:"capability"`
	RelevanceScore float64        `json:"relevance_score"`
	SourceChunks   []SearchResult `json:"source_chunks"`
}
