package kairo

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
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Kairo server (e.g. "http://localhost:8080").
	BaseURL string

	// Actor is the default actor recorded on outcomes submitted through
	// RecordOutcome when the request leaves it empty.
	Actor string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 60 seconds,
	// longer than the server's default reasoning timeout.
	Timeout time.Duration
}

// Client is an HTTP client for the Kairo API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	actor   string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kairo: BaseURL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("kairo: invalid BaseURL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		actor:   cfg.Actor,
		client:  httpClient,
	}, nil
}

// Decide asks the orchestrator whether to run one of the available playbooks.
// Every successful call leaves a pending record in the audit trail.
func (c *Client) Decide(ctx context.Context, req DecideRequest) (*Decision, error) {
	var resp Decision
	if err := c.post(ctx, "/v1/decide", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecordOutcome appends the outcome of an earlier decision. The original
// record is never modified.
func (c *Client) RecordOutcome(ctx context.Context, req OutcomeRequest) (*OutcomeResponse, error) {
	if req.Actor == "" {
		req.Actor = c.actor
	}
	var resp OutcomeResponse
	if err := c.post(ctx, "/v1/audit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Recent returns up to limit audit records, newest first. A non-positive
// limit uses the server default.
func (c *Client) Recent(ctx context.Context, limit int) (*RecentResponse, error) {
	path := "/v1/audit/recent"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp RecentResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Retune asks the server to recompute its tuning config now.
func (c *Client) Retune(ctx context.Context) (*Tuning, error) {
	var resp Tuning
	if err := c.post(ctx, "/v1/retune", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTuning returns the tuning config currently applied by the gate.
func (c *Client) GetTuning(ctx context.Context) (*TuningView, error) {
	var resp TuningView
	if err := c.get(ctx, "/v1/tuning", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health reports server and store status. An unhealthy server answers 503
// with a body; that body is returned without an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("kairo: create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kairo: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusServiceUnavailable {
		resp.StatusCode = http.StatusOK
	}
	var h Health
	if err := handleResponse(resp, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kairo: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("kairo: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kairo: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kairo: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kairo: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("kairo: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return fmt.Errorf("kairo: response has no data")
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Stage = envelope.Error.Stage
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
