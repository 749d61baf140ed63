// Package core is the HTTP client for the Stackboard core service, the
// system of record for workspaces, projects, cards and run records.
package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotFound is returned when the core service reports a missing resource.
var ErrNotFound = fmt.Errorf("resource not found")

// Client talks to the core service REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Config configures the core client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// NewClient creates a core service client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("core base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("core request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("core returned %d for %s %s: %s", resp.StatusCode, method, path, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// GetCard fetches a card by ID.
func (c *Client) GetCard(ctx context.Context, cardID string) (*Card, error) {
	var card Card
	if err := c.do(ctx, http.MethodGet, "/v1/cards/"+cardID, nil, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// GetProject fetches a project by ID.
func (c *Client) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var project Project
	if err := c.do(ctx, http.MethodGet, "/v1/projects/"+projectID, nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// CreateRun registers a new run record.
func (c *Client) CreateRun(ctx context.Context, run Run) error {
	return c.do(ctx, http.MethodPost, "/v1/runs", run, nil)
}

// UpdateRun applies a partial update to a run record.
func (c *Client) UpdateRun(ctx context.Context, runID string, update RunUpdate) error {
	return c.do(ctx, http.MethodPatch, "/v1/runs/"+runID, update, nil)
}

// TransitionCard moves a card to another state, such as "review" after a
// successful run.
func (c *Client) TransitionCard(ctx context.Context, cardID, state string) error {
	body := map[string]string{"state": state}
	return c.do(ctx, http.MethodPost, "/v1/cards/"+cardID+"/transition", body, nil)
}
