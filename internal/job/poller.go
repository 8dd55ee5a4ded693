package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zulandar/opal/internal/api"
	"github.com/zulandar/opal/internal/models"
)

const (
	// DefaultMaxWaitTime bounds how long Wait polls before timing out.
	DefaultMaxWaitTime = 10 * time.Minute
	// DefaultPollInterval is the delay between status fetches.
	DefaultPollInterval = 5 * time.Second
)

var (
	// ErrJobFailed means the backend reported status "failed".
	ErrJobFailed = errors.New("job failed")
	// ErrInvalidTerminalState means the backend reported "completed"
	// without a usable result.
	ErrInvalidTerminalState = errors.New("job completed without a result")
	// ErrTimeout means no terminal status arrived before the deadline.
	ErrTimeout = errors.New("job timed out")
	// ErrCancelled means the run was abandoned by the caller.
	ErrCancelled = errors.New("job cancelled")
)

// Fetcher returns the current snapshot of a job.
type Fetcher interface {
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
}

// WaitOpts configures a single Wait call. Zero durations use the defaults.
type WaitOpts struct {
	MaxWaitTime  time.Duration
	PollInterval time.Duration
	// OnProgress is called synchronously with each non-terminal snapshot.
	OnProgress func(models.Job)
}

func (o WaitOpts) withDefaults() WaitOpts {
	if o.MaxWaitTime <= 0 {
		o.MaxWaitTime = DefaultMaxWaitTime
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// Poller polls a job until it reaches a terminal status.
type Poller struct {
	fetcher Fetcher
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a Poller backed by f.
func NewPoller(f Fetcher) *Poller {
	return &Poller{fetcher: f, now: time.Now, sleep: sleepContext}
}

// Wait polls jobID until it completes, fails, or MaxWaitTime elapses.
// A 404 while polling is treated as the job record not being visible yet
// and is retried. Any other fetch error is returned immediately.
//
// The deadline bounds the fetches and sleeps as well as the loop: a snapshot
// that arrives after it is discarded and Wait reports a timeout.
func (p *Poller) Wait(ctx context.Context, jobID string, opts WaitOpts) (*models.ChatResponse, error) {
	opts = opts.withDefaults()
	start := p.now()
	pollCtx, cancel := context.WithTimeout(ctx, opts.MaxWaitTime)
	defer cancel()

	for {
		if ctx.Err() != nil {
			return nil, cancelledError(jobID)
		}
		if p.remaining(start, opts) <= 0 {
			return nil, timeoutError(jobID, opts)
		}

		snap, err := p.fetcher.GetJob(pollCtx, jobID)
		switch {
		case ctx.Err() != nil:
			return nil, cancelledError(jobID)
		case pollCtx.Err() != nil || p.remaining(start, opts) <= 0:
			return nil, timeoutError(jobID, opts)
		case err != nil && !api.IsNotFound(err):
			return nil, err
		case err == nil:
			resp, done, terr := p.settle(jobID, snap)
			if done {
				return resp, terr
			}
			if opts.OnProgress != nil {
				opts.OnProgress(*snap)
			}
		}

		wait := min(opts.PollInterval, p.remaining(start, opts))
		if err := p.sleep(pollCtx, wait); err != nil {
			if ctx.Err() != nil {
				return nil, cancelledError(jobID)
			}
			return nil, timeoutError(jobID, opts)
		}
	}
}

// remaining is the time left before the deadline.
func (p *Poller) remaining(start time.Time, opts WaitOpts) time.Duration {
	return opts.MaxWaitTime - p.now().Sub(start)
}

func timeoutError(jobID string, opts WaitOpts) error {
	return &api.Error{
		Message: fmt.Sprintf("Job timed out after %s", opts.MaxWaitTime),
		Status:  http.StatusGatewayTimeout,
		Context: map[string]any{"job_id": jobID, "max_wait_time": opts.MaxWaitTime.Milliseconds()},
		Err:     ErrTimeout,
	}
}

// settle inspects a snapshot. done is true when the snapshot is terminal.
func (p *Poller) settle(jobID string, snap *models.Job) (*models.ChatResponse, bool, error) {
	switch snap.Status {
	case models.JobCompleted:
		if !snap.HasResult() {
			return nil, true, &api.Error{
				Message: "Job completed but no result was returned",
				Status:  http.StatusInternalServerError,
				Context: map[string]any{"job_id": jobID},
				Err:     ErrInvalidTerminalState,
			}
		}
		var resp models.ChatResponse
		if err := json.Unmarshal(snap.Result, &resp); err != nil {
			return nil, true, &api.Error{
				Message: "Job completed with an unreadable result",
				Status:  http.StatusInternalServerError,
				Body:    snap.Result,
				Context: map[string]any{"job_id": jobID},
				Err:     ErrInvalidTerminalState,
			}
		}
		return &resp, true, nil

	case models.JobFailed:
		msg := snap.Error
		if msg == "" {
			msg = "Job failed"
		}
		return nil, true, &api.Error{
			Message: msg,
			Status:  http.StatusInternalServerError,
			Context: map[string]any{"job_id": jobID, "error": snap.Error},
			Err:     ErrJobFailed,
		}
	}
	return nil, false, nil
}

func cancelledError(jobID string) error {
	return &api.Error{
		Message: "Job cancelled",
		Context: map[string]any{"job_id": jobID},
		Err:     ErrCancelled,
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
