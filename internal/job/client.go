package job

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/zulandar/opal/internal/models"
)

// API is the slice of the backend client a job run needs.
type API interface {
	Fetcher
	SubmitChat(ctx context.Context, req models.ChatRequest) (*models.JobSubmission, error)
}

// Recorder persists job history. Implementations must upsert by JobID.
type Recorder interface {
	RecordJob(rec models.JobRecord) error
}

// Client submits chat turns and waits for their results.
type Client struct {
	api      API
	poller   *Poller
	recorder Recorder
	now      func() time.Time
}

// NewClient creates a Client. rec may be nil.
func NewClient(api API, rec Recorder) *Client {
	return &Client{
		api:      api,
		poller:   NewPoller(api),
		recorder: rec,
		now:      time.Now,
	}
}

// Execute submits req and polls until the job reaches a terminal status,
// driving run through its states along the way. If run is cancelled while
// Execute is in flight, Execute returns ErrCancelled and drops any result.
func (c *Client) Execute(ctx context.Context, run *Run, req models.ChatRequest, opts WaitOpts) (*models.ChatResponse, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := run.begin(cancel); err != nil {
		return nil, err
	}

	started := c.now()
	sub, err := c.api.SubmitChat(ctx, req)
	if err != nil {
		return nil, c.finish(run, nil, req, started, err)
	}
	run.setJobID(sub.JobID)

	if err := run.transition(StatePolling); err != nil {
		return nil, err
	}
	c.record(run, req, started, nil)

	resp, err := c.poller.Wait(ctx, sub.JobID, opts)
	if err := c.finish(run, resp, req, started, err); err != nil {
		return nil, err
	}
	return resp, nil
}

// finish moves run to its terminal state and records the outcome.
func (c *Client) finish(run *Run, resp *models.ChatResponse, req models.ChatRequest, started time.Time, err error) error {
	if resp != nil && req.ConversationID == "" {
		req.ConversationID = resp.ConversationID
	}
	if terr := run.end(terminalFor(err), err); terr != nil {
		// Cancelled while the request was in flight.
		c.record(run, req, started, ErrCancelled)
		return terr
	}
	c.record(run, req, started, err)
	return err
}

func terminalFor(err error) State {
	switch {
	case err == nil:
		return StateResolved
	case errors.Is(err, ErrTimeout):
		return StateTimedOut
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return StateCancelled
	default:
		return StateFailed
	}
}

func (c *Client) record(run *Run, req models.ChatRequest, started time.Time, err error) {
	if c.recorder == nil {
		return
	}
	jobID := run.JobID()
	if jobID == "" {
		return
	}
	state := run.State()
	rec := models.JobRecord{
		JobID:          jobID,
		ConversationID: req.ConversationID,
		Prompt:         req.Message,
		State:          string(state),
		StartedAt:      started,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if state.Terminal() {
		now := c.now()
		rec.FinishedAt = &now
	}
	if rerr := c.recorder.RecordJob(rec); rerr != nil {
		log.Printf("job: record %s: %v", jobID, rerr)
	}
}
