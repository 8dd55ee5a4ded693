package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/zulandar/opal/internal/models"
)

// SubmitChat posts a chat message and returns the job handle immediately.
// It does not wait for the job to finish.
func (c *Client) SubmitChat(ctx context.Context, req models.ChatRequest) (*models.JobSubmission, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("api: chat message is required")
	}
	var sub models.JobSubmission
	if err := c.doJSON(ctx, http.MethodPost, "/chat", req, &sub); err != nil {
		return nil, err
	}
	if sub.JobID == "" {
		return nil, fmt.Errorf("api: submit chat: response has no job_id")
	}
	return &sub, nil
}

// GetJob fetches the current snapshot of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := c.getJSON(ctx, "/chat/"+url.PathEscape(jobID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GeneratePlan asks the planner for a plan without a conversation. The call
// blocks until the plan is generated.
func (c *Client) GeneratePlan(ctx context.Context, req models.PlanRequest) (*models.OPALPlan, error) {
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return nil, fmt.Errorf("api: plan goal is required")
	}
	var plan models.OPALPlan
	path := "/chat/plan?" + url.Values{"goal": {goal}}.Encode()
	if err := c.doJSON(ctx, http.MethodPost, path, req, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}
