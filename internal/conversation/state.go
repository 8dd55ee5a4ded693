package conversation

import (
	"time"

	"github.com/zulandar/opal/internal/models"
	"github.com/zulandar/opal/internal/render"
)

// State is an immutable snapshot of a conversation. Slices are copies; the
// plan is shared but never mutated after it is merged.
type State struct {
	ConversationID string                `json:"conversation_id"`
	Messages       []models.ChatMessage  `json:"messages"`
	Plan           *models.OPALPlan      `json:"plan"`
	PlanWarnings   []models.PlanWarning  `json:"plan_warnings,omitempty"`
	Sources        []models.SearchResult `json:"sources"`
	Loading        bool                  `json:"loading"`
	Progress       *models.Job           `json:"progress,omitempty"`
}

// Document prepares the snapshot for export.
func (s State) Document(now time.Time) render.Document {
	return render.Document{
		ConversationID: s.ConversationID,
		ExportedAt:     now,
		Messages:       s.Messages,
		Plan:           s.Plan,
		PlanWarnings:   s.PlanWarnings,
		Sources:        s.Sources,
	}
}

// EventKind distinguishes state changes from progress updates.
type EventKind string

const (
	EventState    EventKind = "state"
	EventProgress EventKind = "progress"
)

// Event is delivered to subscribers after every change.
type Event struct {
	Kind     EventKind   `json:"kind"`
	State    State       `json:"state"`
	Progress *models.Job `json:"progress,omitempty"`
}

// State returns a snapshot of the current conversation.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	s := State{
		ConversationID: c.convID,
		Messages:       append([]models.ChatMessage(nil), c.messages...),
		Plan:           c.plan,
		PlanWarnings:   append([]models.PlanWarning(nil), c.warnings...),
		Sources:        c.sources.Items(),
		Loading:        c.loading,
	}
	if c.progress != nil {
		p := *c.progress
		s.Progress = &p
	}
	return s
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it. fn runs on the goroutine that caused the change and must
// not call back into the Controller's mutating methods.
func (c *Controller) Subscribe(fn func(Event)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Controller) emit(kind EventKind, progress *models.Job) {
	c.subMu.Lock()
	if len(c.subs) == 0 {
		c.subMu.Unlock()
		return
	}
	fns := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	ev := Event{Kind: kind, State: c.State(), Progress: progress}
	for _, fn := range fns {
		fn(ev)
	}
}
