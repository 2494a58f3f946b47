package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"qosd-go/internal/models"
)

// Client talks JSON to a qosd daemon or a collector.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL ("http://host:port").
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Classify posts a flow to the daemon and returns its classification.
func (c *Client) Classify(ctx context.Context, req models.ClassificationRequest) (models.ClassificationResult, error) {
	var res models.ClassificationResult
	err := c.do(ctx, http.MethodPost, "/api/v1/qosd/classify", req, &res)
	return res, err
}

// Apply posts an override update.
func (c *Client) Apply(ctx context.Context, req models.OverrideRequest) (models.OverrideResponse, error) {
	var res models.OverrideResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/qosd/apply", req, &res)
	return res, err
}

// Live fetches the ranked host list. limit <= 0 lets the daemon choose.
func (c *Client) Live(ctx context.Context, limit int) ([]models.HostSummary, error) {
	path := "/api/v1/qosd/live"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var res models.LiveResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Hosts, nil
}

// Policies fetches the collector's persona policy table.
func (c *Client) Policies(ctx context.Context) (map[string]models.PolicyEntry, error) {
	var res map[string]models.PolicyEntry
	if err := c.do(ctx, http.MethodGet, "/policies", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// PublishEvents sends a batch of telemetry events to the collector.
func (c *Client) PublishEvents(ctx context.Context, events []models.TelemetryEvent) error {
	return c.do(ctx, http.MethodPost, "/ingest", events, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}
