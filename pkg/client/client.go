// Package client is a Go client for the food-log API. It submits meal media
// for asynchronous analysis and polls until the analysis settles.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"
)

const (
	DefaultPollInterval = time.Second
	defaultMaxFailures  = 3
)

// Client is a food-log API client
type Client struct {
	baseURL      string
	httpClient   *http.Client
	token        string
	pollInterval time.Duration
	maxFailures  int
}

// Option is a client configuration option
type Option func(*Client)

// WithTimeout sets the HTTP client timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithToken sets the bearer token for authentication
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPollInterval sets how long Poll waits between status requests
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithMaxPollFailures sets how many consecutive failed status requests
// Poll tolerates before giving up.
func WithMaxPollFailures(n int) Option {
	return func(c *Client) {
		c.maxFailures = n
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		pollInterval: DefaultPollInterval,
		maxFailures:  defaultMaxFailures,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Portion struct {
	Count float64 `json:"count"`
	Unit  string  `json:"unit"`
}

type Food struct {
	Name             string  `json:"name"`
	EstimatedPortion Portion `json:"estimatedPortion"`
	SizeDescription  string  `json:"sizeDescription"`
	TypicalServing   string  `json:"typicalServing"`
	Calories         float64 `json:"calories"`
	Protein          float64 `json:"protein"`
}

// Analysis is the status document returned by GET /analysis/{id}.
type Analysis struct {
	Status         string   `json:"status"`
	Foods          []Food   `json:"foods,omitempty"`
	MealSummary    string   `json:"mealSummary,omitempty"`
	MealCategories []string `json:"mealCategories,omitempty"`
	Image          string   `json:"image,omitempty"`
	Error          string   `json:"error,omitempty"`
}

const (
	StatusPending  = "pending"
	StatusComplete = "complete"
	StatusError    = "error"
)

func (a *Analysis) Terminal() bool {
	return a.Status == StatusComplete || a.Status == StatusError
}

// Error is a non-success HTTP answer from the API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// TransportError means a request never produced an API answer.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("request failed: %v", e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// AnalysisFailedError is a settled analysis whose status is "error". The
// request itself succeeded.
type AnalysisFailedError struct {
	ID      string
	Message string
}

func (e *AnalysisFailedError) Error() string {
	return fmt.Sprintf("analysis %s failed: %s", e.ID, e.Message)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &TransportError{Err: fmt.Errorf("failed to read response: %w", err)}
	}
	return resp.StatusCode, respBody, nil
}

func apiError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		payload.Error = http.StatusText(status)
	}
	return &Error{StatusCode: status, Message: payload.Error}
}

// SubmitImage uploads a photo for asynchronous analysis and returns its id.
func (c *Client) SubmitImage(ctx context.Context, data []byte, contentType string) (string, error) {
	return c.submit(ctx, "image", data, contentType)
}

// SubmitAudio uploads a voice note for asynchronous analysis.
func (c *Client) SubmitAudio(ctx context.Context, data []byte, contentType string) (string, error) {
	return c.submit(ctx, "audio", data, contentType)
}

func (c *Client) submit(ctx context.Context, field string, data []byte, contentType string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, field))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}

	status, body, err := c.do(ctx, http.MethodPost, "/analyze?mode=async", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	if status != http.StatusAccepted {
		return "", apiError(status, body)
	}

	var resp struct {
		AnalysisID string `json:"analysisId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.AnalysisID == "" {
		return "", fmt.Errorf("failed to parse submit response: %s", body)
	}
	return resp.AnalysisID, nil
}

// Analysis fetches the current state of an analysis once.
func (c *Client) Analysis(ctx context.Context, id string) (*Analysis, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/analysis/"+url.PathEscape(id), "", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return nil, apiError(status, body)
	}

	var a Analysis
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}
	return &a, nil
}

// Poll requests the analysis at a fixed interval until it settles. A
// complete analysis is returned; an error status comes back as
// *AnalysisFailedError. Transport failures are retried up to the
// configured limit and then returned as *TransportError; API errors such
// as 404 stop immediately.
func (c *Client) Poll(ctx context.Context, id string) (*Analysis, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		a, err := c.Analysis(ctx, id)
		switch {
		case err == nil:
			failures = 0
			if a.Status == StatusError {
				return a, &AnalysisFailedError{ID: id, Message: a.Error}
			}
			if a.Terminal() {
				return a, nil
			}
		case isTransport(err) && ctx.Err() == nil:
			failures++
			if failures >= c.maxFailures {
				return nil, err
			}
		default:
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func isTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
