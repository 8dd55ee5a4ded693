package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/zulandar/opal/internal/models"
)

// IngestPDF uploads a PDF for chunking and embedding.
func (c *Client) IngestPDF(ctx context.Context, filename string, r io.Reader, title, description string) (*models.IngestResponse, error) {
	if title == "" {
		return nil, fmt.Errorf("api: ingest pdf: title is required")
	}
	fields := map[string]string{"title": title}
	if description != "" {
		fields["description"] = description
	}
	var out models.IngestResponse
	if err := c.upload(ctx, "/ingest/pdf", filename, r, fields, &out); err != nil {
		return nil, err
	}
	c.Invalidate()
	return &out, nil
}

// IngestURL asks the backend to scrape and ingest a web page.
func (c *Client) IngestURL(ctx context.Context, req models.IngestURLRequest) (*models.IngestResponse, error) {
	if req.URL == "" || req.Title == "" {
		return nil, fmt.Errorf("api: ingest url: url and title are required")
	}
	var out models.IngestResponse
	if err := c.doJSON(ctx, http.MethodPost, "/ingest/url", req, &out); err != nil {
		return nil, err
	}
	c.Invalidate()
	return &out, nil
}

// IngestYAML uploads a capability-registry YAML file.
func (c *Client) IngestYAML(ctx context.Context, filename string, r io.Reader) (*models.IngestYAMLResponse, error) {
	var out models.IngestYAMLResponse
	if err := c.upload(ctx, "/ingest/yaml", filename, r, nil, &out); err != nil {
		return nil, err
	}
	c.Invalidate()
	return &out, nil
}

// upload posts a multipart form with a single "file" part.
func (c *Client) upload(ctx context.Context, path, filename string, r io.Reader, fields map[string]string, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("api: build upload %s: %w", path, err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("api: read upload %s: %w", filename, err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("api: build upload %s: %w", path, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("api: build upload %s: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, &buf, out, WithHeader("Content-Type", mw.FormDataContentType()))
}
