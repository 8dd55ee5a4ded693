package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// BuildAPIURL is the build-time default API base URL, set via
// -ldflags "-X github.com/zulandar/opal/internal/config.BuildAPIURL=...".
var BuildAPIURL = ""

// DefaultAPIPath is the last-resort base path, joined onto the origin.
const DefaultAPIPath = "/api"

// runtimeConfigTimeout bounds the one-time config.json fetch.
const runtimeConfigTimeout = 3 * time.Second

// Endpoint sources, reported for diagnostics.
const (
	SourceRuntime  = "runtime"
	SourceConfig   = "config"
	SourceBuild    = "build"
	SourceFallback = "fallback"
)

// Endpoint is the resolved API location. It is built once at process start
// and passed to every component that talks to the backend.
type Endpoint struct {
	BaseURL string
	Source  string
}

// runtimeConfig is the shape of the served config.json document.
type runtimeConfig struct {
	APIURL string `json:"apiUrl"`
}

// ResolveEndpoint determines the API base URL. Order: the runtime config
// document at Origin+RuntimeConfigPath, the configured base_url (or
// OPAL_API_URL), the build-time default, then DefaultAPIPath. Any failure
// fetching or parsing the runtime document falls through to the next source.
func ResolveEndpoint(ctx context.Context, client *http.Client, api APIConfig) *Endpoint {
	if client == nil {
		client = http.DefaultClient
	}
	u, err := fetchRuntimeConfig(ctx, client, api.Origin+api.RuntimeConfigPath)
	if err == nil {
		return &Endpoint{BaseURL: joinOrigin(api.Origin, u), Source: SourceRuntime}
	}
	log.Printf("config: runtime config unavailable, using fallback: %v", err)
	if api.BaseURL != "" {
		return &Endpoint{BaseURL: joinOrigin(api.Origin, api.BaseURL), Source: SourceConfig}
	}
	if BuildAPIURL != "" {
		return &Endpoint{BaseURL: joinOrigin(api.Origin, BuildAPIURL), Source: SourceBuild}
	}
	return &Endpoint{BaseURL: joinOrigin(api.Origin, DefaultAPIPath), Source: SourceFallback}
}

// fetchRuntimeConfig fetches config.json and returns its apiUrl.
func fetchRuntimeConfig(ctx context.Context, client *http.Client, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, runtimeConfigTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	var rc runtimeConfig
	if err := json.Unmarshal(body, &rc); err != nil {
		return "", fmt.Errorf("parse %s: %w", url, err)
	}
	if strings.TrimSpace(rc.APIURL) == "" {
		return "", fmt.Errorf("parse %s: apiUrl is empty", url)
	}
	return strings.TrimSpace(rc.APIURL), nil
}

// joinOrigin resolves a relative base path against origin and strips any
// trailing slash.
func joinOrigin(origin, base string) string {
	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") {
		return strings.TrimRight(base, "/")
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimRight(origin, "/") + strings.TrimRight(base, "/")
}
