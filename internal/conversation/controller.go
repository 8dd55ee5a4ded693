// Package conversation owns the client-side state of one chat session: the
// transcript, the current plan, and the accumulated citations. It drives
// each turn through the job lifecycle and merges the result.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/zulandar/opal/internal/config"
	"github.com/zulandar/opal/internal/job"
	"github.com/zulandar/opal/internal/models"
)

var (
	// ErrTurnInFlight is returned when a turn is started while another is loading.
	ErrTurnInFlight = errors.New("conversation: a turn is already in flight")
	// ErrEmptyMessage is returned for blank turn content.
	ErrEmptyMessage = errors.New("conversation: message is empty")
	// ErrDiscarded marks a turn whose result arrived after the conversation
	// was reset or replaced.
	ErrDiscarded = errors.New("conversation: result discarded")
)

// FallbackErrorMessage is shown when a failed turn carries no message.
const FallbackErrorMessage = "Sorry, something went wrong while generating a response. Please try again."

// API fetches persisted conversations.
type API interface {
	GetConversation(ctx context.Context, id string) (*models.ConversationDetail, error)
}

// Executor runs one chat job to completion.
type Executor interface {
	Execute(ctx context.Context, run *job.Run, req models.ChatRequest, opts job.WaitOpts) (*models.ChatResponse, error)
}

// ControllerOpts holds parameters for creating a Controller.
type ControllerOpts struct {
	API  API
	Jobs Executor
	// Welcome is the first message of every new conversation.
	Welcome string
	// LoadErrorPolicy is config.LoadErrorLog or config.LoadErrorSurface.
	LoadErrorPolicy string
	Wait            job.WaitOpts
}

// Controller is the single writer of conversation state. All methods are
// safe for concurrent use.
type Controller struct {
	api     API
	jobs    Executor
	welcome string
	policy  string
	wait    job.WaitOpts

	mu       sync.Mutex
	epoch    uint64
	convID   string
	messages []models.ChatMessage
	plan     *models.OPALPlan
	warnings []models.PlanWarning
	sources  *SourceSet
	loading  bool
	progress *models.Job
	run      *job.Run

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// NewController creates a Controller in the welcome state.
func NewController(opts ControllerOpts) *Controller {
	c := &Controller{
		api:     opts.API,
		jobs:    opts.Jobs,
		welcome: opts.Welcome,
		policy:  opts.LoadErrorPolicy,
		wait:    opts.Wait,
		subs:    make(map[int]func(Event)),
	}
	if c.welcome == "" {
		c.welcome = config.DefaultWelcomeMessage
	}
	if c.policy == "" {
		c.policy = config.LoadErrorLog
	}
	c.resetLocked()
	return c
}

// Turn is one in-flight or finished chat turn.
type Turn struct {
	done chan struct{}
	resp *models.ChatResponse
	err  error
}

// Done is closed once the turn has been merged or discarded.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Result returns the turn outcome. It is only meaningful after Done.
// A failed turn has already been recorded in the transcript.
func (t *Turn) Result() (*models.ChatResponse, error) { return t.resp, t.err }

// Wait blocks until the turn finishes or ctx is done.
func (t *Turn) Wait(ctx context.Context) (*models.ChatResponse, error) {
	select {
	case <-t.done:
		return t.resp, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StartTurn appends the user message, marks the conversation as loading and
// runs the job in the background. The returned Turn completes once the
// assistant reply (or an error message) is in the transcript.
func (c *Controller) StartTurn(ctx context.Context, content string) (*Turn, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	c.messages = append(c.messages, models.ChatMessage{Role: models.RoleUser, Content: content})
	c.loading = true
	c.progress = nil
	run := job.NewRun()
	c.run = run
	epoch, convID := c.epoch, c.convID
	c.mu.Unlock()
	c.emit(EventState, nil)

	t := &Turn{done: make(chan struct{})}
	go c.runTurn(ctx, t, run, epoch, models.ChatRequest{Message: content, ConversationID: convID})
	return t, nil
}

// SendTurn runs a turn to completion. Job failures are not returned; they
// appear in the transcript. Only rejections and ctx errors are returned.
func (c *Controller) SendTurn(ctx context.Context, content string) error {
	t, err := c.StartTurn(ctx, content)
	if err != nil {
		return err
	}
	select {
	case <-t.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) runTurn(ctx context.Context, t *Turn, run *job.Run, epoch uint64, req models.ChatRequest) {
	defer close(t.done)

	var (
		resp *models.ChatResponse
		err  error
	)
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("conversation: turn panicked: %v", r)
		}
		c.settle(t, epoch, req.ConversationID, resp, err)
	}()

	opts := c.wait
	opts.OnProgress = func(snap models.Job) { c.reportProgress(epoch, snap) }
	resp, err = c.jobs.Execute(ctx, run, req, opts)
}

// settle merges a finished turn unless the conversation moved on.
func (c *Controller) settle(t *Turn, epoch uint64, convID string, resp *models.ChatResponse, err error) {
	c.mu.Lock()
	if c.epoch != epoch || c.convID != convID {
		c.mu.Unlock()
		t.err = ErrDiscarded
		return
	}

	c.loading = false
	c.progress = nil
	c.run = nil

	if err != nil {
		msg := strings.TrimSpace(err.Error())
		if msg == "" {
			msg = FallbackErrorMessage
		}
		c.messages = append(c.messages, models.ChatMessage{Role: models.RoleAssistant, Content: msg})
		c.mu.Unlock()
		log.Printf("conversation: turn failed: %v", err)
		t.err = err
		c.emit(EventState, nil)
		return
	}

	c.messages = append(c.messages, models.ChatMessage{Role: models.RoleAssistant, Content: resp.Message})
	if resp.Plan != nil {
		c.plan = resp.Plan
		c.warnings = models.ValidatePlan(resp.Plan)
	}
	c.sources.Merge(resp.Sources)
	if resp.ConversationID != "" {
		c.convID = resp.ConversationID
	}
	c.mu.Unlock()

	t.resp = resp
	c.emit(EventState, nil)
}

func (c *Controller) reportProgress(epoch uint64, snap models.Job) {
	c.mu.Lock()
	if c.epoch != epoch || !c.loading {
		c.mu.Unlock()
		return
	}
	c.progress = &snap
	c.mu.Unlock()
	c.emit(EventProgress, &snap)
}

// Cancel abandons the in-flight turn, if any. The turn still completes with
// a cancellation message in the transcript.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	run := c.run
	c.mu.Unlock()
	if run == nil {
		return false
	}
	return run.Cancel()
}

// NewConversation abandons any in-flight turn and resets to the welcome state.
func (c *Controller) NewConversation() {
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
	c.emit(EventState, nil)
}

// LoadConversation replaces the whole state with a persisted conversation.
// On failure the state is left as it was; with the surface policy an
// assistant message describing the failure is appended.
func (c *Controller) LoadConversation(ctx context.Context, id string) error {
	detail, err := c.api.GetConversation(ctx, id)
	if err != nil {
		log.Printf("conversation: load %s: %v", id, err)
		if c.policy == config.LoadErrorSurface {
			c.mu.Lock()
			c.messages = append(c.messages, models.ChatMessage{
				Role:    models.RoleAssistant,
				Content: fmt.Sprintf("Could not load conversation %s: %v", id, err),
			})
			c.mu.Unlock()
			c.emit(EventState, nil)
		}
		return fmt.Errorf("conversation: load %s: %w", id, err)
	}

	c.mu.Lock()
	c.resetLocked()
	c.convID = detail.ID
	if c.convID == "" {
		c.convID = id
	}
	if len(detail.Messages) > 0 {
		c.messages = append([]models.ChatMessage(nil), detail.Messages...)
	}
	if detail.Plan != nil {
		c.plan = detail.Plan
		c.warnings = models.ValidatePlan(detail.Plan)
	}
	c.sources = NewSourceSet(detail.Sources...)
	c.mu.Unlock()
	c.emit(EventState, nil)
	return nil
}

// resetLocked cancels the in-flight run and starts a new epoch in the
// welcome state. Callers hold c.mu.
func (c *Controller) resetLocked() {
	if c.run != nil {
		c.run.Cancel()
	}
	c.epoch++
	c.convID = ""
	c.messages = []models.ChatMessage{{Role: models.RoleAssistant, Content: c.welcome}}
	c.plan = nil
	c.warnings = nil
	c.sources = NewSourceSet()
	c.loading = false
	c.progress = nil
	c.run = nil
}

// ConversationID returns the current backend conversation ID, empty for a
// conversation that has not been saved yet.
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.convID
}
