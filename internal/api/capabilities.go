package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/zulandar/opal/internal/models"
)

// CapabilityFilter narrows GET /capabilities.
type CapabilityFilter struct {
	LabID      string
	FacilityID string
	Skip       int
	Limit      int
}

// CapabilityQuery is a semantic search over the capability registry.
type CapabilityQuery struct {
	Q        string
	Lab      string
	Modality string
	Tags     []string
	TopK     int
}

// ListCapabilities returns registry entries. Responses are cached.
func (c *Client) ListCapabilities(ctx context.Context, f CapabilityFilter) ([]models.Capability, error) {
	q := url.Values{}
	if f.LabID != "" {
		q.Set("lab_id", f.LabID)
	}
	if f.FacilityID != "" {
		q.Set("facility_id", f.FacilityID)
	}
	if f.Skip > 0 {
		q.Set("skip", fmt.Sprint(f.Skip))
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprint(f.Limit))
	}
	path := "/capabilities"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []models.Capability
	if err := c.getJSON(ctx, path, &out, cached()); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchCapabilities runs a scored capability search. Responses are cached.
func (c *Client) SearchCapabilities(ctx context.Context, query CapabilityQuery) ([]models.CapabilitySearchResult, error) {
	if query.Q == "" {
		return nil, fmt.Errorf("api: search query is required")
	}
	q := url.Values{}
	q.Set("q", query.Q)
	if query.Lab != "" {
		q.Set("lab", query.Lab)
	}
	if query.Modality != "" {
		q.Set("modality", query.Modality)
	}
	for _, tag := range query.Tags {
		q.Add("tags", tag)
	}
	if query.TopK > 0 {
		q.Set("top_k", fmt.Sprint(query.TopK))
	}
	var out []models.CapabilitySearchResult
	if err := c.getJSON(ctx, "/capabilities/search?"+q.Encode(), &out, cached()); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCapability fetches one capability with its lab context.
func (c *Client) GetCapability(ctx context.Context, id string) (*models.Capability, error) {
	var out models.Capability
	if err := c.getJSON(ctx, "/capabilities/"+url.PathEscape(id), &out, cached()); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListLabs returns all OPAL member labs. Responses are cached.
func (c *Client) ListLabs(ctx context.Context) ([]models.Lab, error) {
	var out []models.Lab
	if err := c.getJSON(ctx, "/labs", &out, cached()); err != nil {
		return nil, err
	}
	return out, nil
}
