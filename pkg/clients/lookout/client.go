// Package lookout provides an HTTP client for the lookout report API.
package lookout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	api "flowsight/pkg/api/lookout"
	"flowsight/pkg/clients"
	"flowsight/pkg/logging"
)

// Client represents a lookout API client
type Client struct {
	baseURL     string
	httpClient  *http.Client
	authToken   string
	logger      logging.Logger
	retryConfig clients.RetryConfig
}

// Config represents the configuration for the lookout client
type Config struct {
	BaseURL              string
	AuthToken            string
	Timeout              time.Duration
	Logger               logging.Logger
	RetryConfig          *clients.RetryConfig
	CircuitBreakerConfig *clients.CircuitBreakerConfig
}

// NewClient creates a new lookout API client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logging.NewNopLogger()
	}

	retryConfig := clients.DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}

	if config.CircuitBreakerConfig != nil {
		retryConfig.CircuitBreaker = clients.NewCircuitBreaker(*config.CircuitBreakerConfig)
	}

	httpClient := &http.Client{
		Timeout:   config.Timeout,
		Transport: clients.DefaultTransport(),
	}

	return &Client{
		baseURL:     config.BaseURL,
		httpClient:  httpClient,
		authToken:   config.AuthToken,
		logger:      config.Logger,
		retryConfig: retryConfig,
	}
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	return req, nil
}

// CreateReport submits a report generation request and classifies the
// response into a single creation outcome. The call is never retried:
// report creation is not idempotent, and a rejection is a final answer.
// Transport failures and malformed bodies classify as rejections with
// the generic reason; the returned error carries the cause for logging.
func (c *Client) CreateReport(ctx context.Context, request api.CreateReportRequest) (api.CreationOutcome, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/reports", request)
	if err != nil {
		return api.Reject(api.GenericCreationFailure), err
	}

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, clients.NoRetryConfig())
	if err != nil {
		c.logger.WithError(err).Warn("report creation request failed")
		return api.Reject(api.GenericCreationFailure), fmt.Errorf("creation request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.WithError(err).Warn("failed to read creation response")
		return api.Reject(api.GenericCreationFailure), fmt.Errorf("failed to read creation response: %w", err)
	}

	var creation api.CreateReportResponse
	if err := json.Unmarshal(body, &creation); err != nil {
		c.logger.WithError(err).WithField("status_code", resp.StatusCode).Warn("malformed creation response")
		return api.Reject(api.GenericCreationFailure), fmt.Errorf("malformed creation response: %w", err)
	}

	return api.ClassifyCreation(resp.StatusCode, &creation), nil
}

// ListReports fetches the full report listing. The response may be flat
// or grouped; callers flatten it as needed.
func (c *Client) ListReports(ctx context.Context) (*api.ReportListing, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/reports", nil)
	if err != nil {
		return nil, err
	}

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		c.logger.WithError(err).Warn("report listing request failed")
		return nil, fmt.Errorf("failed to fetch report listing: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read listing response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing request returned status %d", resp.StatusCode)
	}

	var listing api.ReportListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("failed to parse listing response: %w", err)
	}
	return &listing, nil
}

// DeleteReport permanently removes a report
func (c *Client) DeleteReport(ctx context.Context, reportID string) error {
	endpoint := fmt.Sprintf("/api/reports/%s", url.PathEscape(reportID))
	return c.doAction(ctx, http.MethodDelete, endpoint, nil)
}

// ArchiveReport moves a report into the archive
func (c *Client) ArchiveReport(ctx context.Context, reportID string) error {
	endpoint := fmt.Sprintf("/api/reports/%s", url.PathEscape(reportID))
	return c.doAction(ctx, http.MethodPatch, endpoint, api.ArchiveActionRequest{Action: api.ActionArchive})
}

// RestoreReport returns an archived report to the active listing
func (c *Client) RestoreReport(ctx context.Context, reportID string) error {
	endpoint := fmt.Sprintf("/api/reports/%s", url.PathEscape(reportID))
	return c.doAction(ctx, http.MethodPatch, endpoint, api.ArchiveActionRequest{Action: api.ActionRestore})
}

func (c *Client) doAction(ctx context.Context, method, endpoint string, body interface{}) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("request returned status %d", resp.StatusCode)
	}
	return nil
}

// GetReportContent fetches the rendered content of a completed report
func (c *Client) GetReportContent(ctx context.Context, reportID string) ([]byte, error) {
	endpoint := fmt.Sprintf("/api/reports/%s/content", url.PathEscape(reportID))
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch report content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("content request returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
