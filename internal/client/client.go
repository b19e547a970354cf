package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/TimurManjosov/gosegmentd/internal/segments"
)

// Client is an HTTP client for the segment API
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateSegmentRequest is the payload for CreateSegment.
type CreateSegmentRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	FeatureID   *int64                 `json:"featureId,omitempty"`
	Rules       []segments.RulePayload `json:"rules"`
}

// SubmitResult is the response of SubmitDefinition.
type SubmitResult struct {
	Segment    segments.Segment `json:"segment"`
	SnapshotID *int64           `json:"snapshotId,omitempty"`
}

// CreateSegment creates a new segment in a project
func (c *Client) CreateSegment(ctx context.Context, projectID int64, req CreateSegmentRequest) (segments.Segment, error) {
	var seg segments.Segment
	err := c.do(ctx, "POST", fmt.Sprintf("%s/v1/projects/%d/segments", c.BaseURL, projectID), req, &seg)
	return seg, err
}

// ListSegments retrieves the live segments of a project
func (c *Client) ListSegments(ctx context.Context, projectID int64) ([]segments.Segment, error) {
	var segs []segments.Segment
	err := c.do(ctx, "GET", fmt.Sprintf("%s/v1/projects/%d/segments", c.BaseURL, projectID), nil, &segs)
	return segs, err
}

// GetSegment retrieves a segment with its rule tree
func (c *Client) GetSegment(ctx context.Context, segmentID int64) (segments.Segment, error) {
	var seg segments.Segment
	err := c.do(ctx, "GET", fmt.Sprintf("%s/v1/segments/%d", c.BaseURL, segmentID), nil, &seg)
	return seg, err
}

// ListVersions retrieves the version lineage of a segment
func (c *Client) ListVersions(ctx context.Context, segmentID int64) ([]segments.Segment, error) {
	var segs []segments.Segment
	err := c.do(ctx, "GET", fmt.Sprintf("%s/v1/segments/%d/versions", c.BaseURL, segmentID), nil, &segs)
	return segs, err
}

// SubmitDefinition replaces a segment's rule tree
func (c *Client) SubmitDefinition(ctx context.Context, segmentID int64, rules []segments.RulePayload) (SubmitResult, error) {
	var result SubmitResult
	body := map[string][]segments.RulePayload{"rules": rules}
	err := c.do(ctx, "PUT", fmt.Sprintf("%s/v1/segments/%d/rules", c.BaseURL, segmentID), body, &result)
	return result, err
}

// DeleteSegment soft-deletes a segment
func (c *Client) DeleteSegment(ctx context.Context, segmentID int64) error {
	return c.do(ctx, "DELETE", fmt.Sprintf("%s/v1/segments/%d", c.BaseURL, segmentID), nil, nil)
}

// Whitelist exempts a segment from the definition size limit
func (c *Client) Whitelist(ctx context.Context, segmentID int64) error {
	return c.do(ctx, "POST", fmt.Sprintf("%s/v1/segments/%d/whitelist", c.BaseURL, segmentID), nil, nil)
}

// Unwhitelist removes a segment's size-limit exemption
func (c *Client) Unwhitelist(ctx context.Context, segmentID int64) error {
	return c.do(ctx, "DELETE", fmt.Sprintf("%s/v1/segments/%d/whitelist", c.BaseURL, segmentID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
