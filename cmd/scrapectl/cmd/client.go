package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scraperd/pkg/api"
)

// Client handles API calls to the scraperd daemon.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new client with the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// ListScrapers sends GET /api/scraper/list.
func (c *Client) ListScrapers() (*api.ScraperListResponse, error) {
	var result api.ScraperListResponse
	if err := c.do(http.MethodGet, "/api/scraper/list", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Submit sends POST /api/scraper/request to create a pending job.
func (c *Client) Submit(req api.SubmitJobRequest) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(http.MethodPost, "/api/scraper/request", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Pending sends GET /api/scraper/pending.
func (c *Client) Pending() (*api.JobListResponse, error) {
	var result api.JobListResponse
	if err := c.do(http.MethodGet, "/api/scraper/pending", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Running sends GET /api/scraper/running.
func (c *Client) Running() (*api.JobListResponse, error) {
	var result api.JobListResponse
	if err := c.do(http.MethodGet, "/api/scraper/running", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Approve sends POST /api/scraper/approve/{id}.
func (c *Client) Approve(jobID string) (*api.JobActionResponse, error) {
	var result api.JobActionResponse
	if err := c.do(http.MethodPost, "/api/scraper/approve/"+url.PathEscape(jobID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Dismiss sends POST /api/scraper/dismiss/{id}.
func (c *Client) Dismiss(jobID string) (*api.JobActionResponse, error) {
	var result api.JobActionResponse
	if err := c.do(http.MethodPost, "/api/scraper/dismiss/"+url.PathEscape(jobID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /api/scraper/job/{id}.
func (c *Client) GetJob(jobID string) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(http.MethodGet, "/api/scraper/job/"+url.PathEscape(jobID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// History sends GET /api/scraper/history with the given filters.
func (c *Client) History(scraperName, status string, page, limit int) (*api.HistoryResponse, error) {
	q := url.Values{}
	if scraperName != "" {
		q.Set("scraper_name", scraperName)
	}
	if status != "" {
		q.Set("status", status)
	}
	q.Set("page", fmt.Sprint(page))
	q.Set("limit", fmt.Sprint(limit))

	var result api.HistoryResponse
	if err := c.do(http.MethodGet, "/api/scraper/history?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Statistics sends GET /api/scraper/statistics.
func (c *Client) Statistics() (*api.StatisticsResponse, error) {
	var result api.StatisticsResponse
	if err := c.do(http.MethodGet, "/api/scraper/statistics", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StreamLogs opens the SSE log stream for a job and invokes fn for
// every log line until the stream ends or fn returns false.
func (c *Client) StreamLogs(jobID string, fn func(api.LogEvent) bool) error {
	httpReq, err := http.NewRequest(http.MethodGet, c.BaseURL+"/api/scraper/logs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Accept", "text/event-stream")

	// No client timeout: the stream stays open for the job's lifetime.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: end") {
			return nil
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event api.LogEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		if !fn(event) {
			return nil
		}
	}
	return scanner.Err()
}
