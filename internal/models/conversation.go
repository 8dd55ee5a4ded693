package models

import "time"

// ConversationSummary is one row of GET /conversations.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        *string   `json:"title"`
	Preview      string    `json:"preview"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DisplayTitle returns the title, or the preview when untitled.
func (s ConversationSummary) DisplayTitle() string {
	if s.Title != nil && *s.Title != "" {
		return *s.Title
	}
	return s.Preview
}

// ConversationDetail is a persisted conversation with its full state.
type ConversationDetail struct {
	ID        string         `json:"id"`
	Title     *string        `json:"title"`
	Messages  []ChatMessage  `json:"messages"`
	Plan      *OPALPlan      `json:"plan"`
	Sources   []SearchResult `json:"sources"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ConversationUpdate is the body of PATCH /conversations/{id}.
type ConversationUpdate struct {
	Title *string `json:"title,omitempty"`
}

// DeleteResponse is returned by the DELETE endpoints.
type DeleteResponse struct {
	Message       string `json:"message"`
	ID            string `json:"id,omitempty"`
	ChunksDeleted int    `json:"chunks_deleted,omitempty"`
}

// Health is returned by GET /health.
type Health struct {
	Status string `json:"status"`
}
