package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var _ Repository = (*Client)(nil)

// Client talks to the server's /api/employees routes
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new records API client for the server at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// List fetches all records
func (c *Client) List(ctx context.Context) ([]Record, error) {
	var out []Record
	if err := c.do(ctx, http.MethodGet, "/api/employees", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches one record
func (c *Client) Get(ctx context.Context, id string) (Record, error) {
	var out Record
	err := c.do(ctx, http.MethodGet, "/api/employees/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Create adds a record
func (c *Client) Create(ctx context.Context, r Record) (Record, error) {
	var out Record
	err := c.do(ctx, http.MethodPost, "/api/employees", r, &out)
	return out, err
}

// Update applies a partial update
func (c *Client) Update(ctx context.Context, id string, patch Patch) (Record, error) {
	var out Record
	err := c.do(ctx, http.MethodPut, "/api/employees/"+url.PathEscape(id), patch, &out)
	return out, err
}

// Delete removes a record
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/employees/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return ErrInvalid
	case resp.StatusCode >= 300:
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("records API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}
