// Package models defines the OPAL wire contracts exchanged with the backend
// and the GORM records kept in the local history store.
package models

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single transcript entry. Messages are immutable once
// appended and ordered chronologically.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message        string         `json:"message"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

// PlanRequest asks for a plan directly, outside any conversation. Goal
// travels as a query parameter; the rest is the JSON body.
type PlanRequest struct {
	Goal        string         `json:"-"`
	Context     map[string]any `json:"context,omitempty"`
	Constraints []string       `json:"constraints,omitempty"`
}

// JobSubmission is returned by POST /chat before any work has run.
type JobSubmission struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// ChatResponse is the result payload of a completed chat job.
type ChatResponse struct {
	Message        string         `json:"message"`
	ConversationID string         `json:"conversation_id"`
	Plan           *OPALPlan      `json:"plan,omitempty"`
	Sources        []SearchResult `json:"sources"`
}

// SearchResult is a scored retrieval hit. ChunkID is the deduplication key.
type SearchResult struct {
	ChunkID          string         `json:"chunk_id"`
	SourceDocumentID string         `json:"source_document_id"`
	SourceTitle      string         `json:"source_title"`
	Text             string         `json:"text"`
	Score            float64        `json:"score"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}
