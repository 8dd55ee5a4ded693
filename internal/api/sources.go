package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/zulandar/opal/internal/models"
)

func pageQuery(skip, limit int) string {
	q := url.Values{}
	if skip > 0 {
		q.Set("skip", fmt.Sprint(skip))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// ListSources returns ingested source documents.
func (c *Client) ListSources(ctx context.Context, skip, limit int) ([]models.SourceDocument, error) {
	var out []models.SourceDocument
	if err := c.getJSON(ctx, "/sources"+pageQuery(skip, limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSource fetches one source document.
func (c *Client) GetSource(ctx context.Context, id string) (*models.SourceDocument, error) {
	var out models.SourceDocument
	if err := c.getJSON(ctx, "/sources/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSourceChunks returns the embedded chunks of a source document.
func (c *Client) ListSourceChunks(ctx context.Context, id string, skip, limit int) ([]models.SourceChunk, error) {
	var out []models.SourceChunk
	if err := c.getJSON(ctx, "/sources/"+url.PathEscape(id)+"/chunks"+pageQuery(skip, limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSource removes a source document and its chunks.
func (c *Client) DeleteSource(ctx context.Context, id string) (*models.DeleteResponse, error) {
	var out models.DeleteResponse
	if err := c.doJSON(ctx, http.MethodDelete, "/sources/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	c.Invalidate()
	return &out, nil
}

// Health checks backend liveness.
func (c *Client) Health(ctx context.Context) (*models.Health, error) {
	var out models.Health
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
