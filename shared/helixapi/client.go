package helixapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/helix-jobs/shared/retry"
)

const defaultTimeout = 30 * time.Second

// Config holds the job API client configuration
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	Retry       retry.Policy
	HTTPClient  *http.Client
}

// Client talks to the job API over HTTP
type Client struct {
	baseURL     *url.URL
	accessToken string
	retry       retry.Policy
	http        *http.Client
}

// APIError is returned for any non-2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("job api returned %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if sent again
func (e *APIError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return false
	default:
		return true
	}
}

// NewClient creates a new job API client
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("job api base url is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse job api base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}

	return &Client{
		baseURL:     base,
		accessToken: cfg.AccessToken,
		retry:       policy,
		http:        httpClient,
	}, nil
}

// RetryPolicy returns the policy callers should use when retrying job submission
func (c *Client) RetryPolicy() retry.Policy {
	return c.retry
}

// NewJob registers a job. A 4xx answer is marked permanent so that retry.Do
// gives up on it immediately.
func (c *Client) NewJob(ctx context.Context, req *JobCreationRequest) (*JobCreationResult, error) {
	var result JobCreationResult
	if err := c.do(ctx, http.MethodPost, "api/jobs", nil, req, &result); err != nil {
		return nil, permanentIfRejected(err)
	}
	return &result, nil
}

// JobDetails fetches the current state of a job
func (c *Client) JobDetails(ctx context.Context, jobName string) (*JobDetails, error) {
	var details JobDetails
	if err := c.do(ctx, http.MethodGet, "api/jobs/"+jobName, nil, nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// ListWorkItems lists the work items expanded from a job's manifest
func (c *Client) ListWorkItems(ctx context.Context, jobName string) ([]WorkItemSummary, error) {
	var items []WorkItemSummary
	if err := c.do(ctx, http.MethodGet, "api/jobs/"+jobName+"/workitems", nil, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// CancelJob cancels a job that has not reached a terminal state
func (c *Client) CancelJob(ctx context.Context, jobName, cancellationToken string) error {
	query := url.Values{}
	if cancellationToken != "" {
		query.Set("cancellationToken", cancellationToken)
	}
	return c.do(ctx, http.MethodPost, "api/jobs/"+jobName+"/cancel", query, nil, nil)
}

// NewContainer asks the API for a container and time-limited SAS tokens
func (c *Client) NewContainer(ctx context.Context, req *ContainerCreationRequest) (*ContainerInformation, error) {
	var info ContainerInformation
	if err := c.do(ctx, http.MethodPost, "api/storage", nil, req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

func errorMessage(body []byte, fallback string) string {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return fallback
}

func permanentIfRejected(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.Retryable() {
		return retry.Permanent(err)
	}
	return err
}
