package resolver

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
)

// DefaultBaseURL is the lookup service the prediction files were built against.
const DefaultBaseURL = "http://eldrad.cs-i.brandeis.edu:23456"

var (
	// ErrEmptyResult is returned when the service knows no file for a GUID.
	ErrEmptyResult = errors.New("resolver returned no path")
	// ErrMalformedResult is returned when the response is not a JSON array
	// whose first element is a string.
	ErrMalformedResult = errors.New("resolver returned a malformed response")
)

const maxResponseSize = 1 << 20

// Client resolves GUIDs to video file paths over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting baseURL. A zero timeout means requests
// are bounded only by the caller's context.
func New(baseURL string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Resolve looks up the video path for guid.
func (c *Client) Resolve(ctx context.Context, guid string) (string, error) {
	q := url.Values{}
	q.Set("file", "video")
	q.Set("guid", guid)
	endpoint := c.baseURL + "/searchapi?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting path for %s: %w", guid, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("reading response for %s: %w", guid, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolver status %d for %s: %s", resp.StatusCode, guid, truncate(string(body), 200))
	}

	return decodePath(body)
}

func decodePath(body []byte) (string, error) {
	var results []json.RawMessage
	if err := json.Unmarshal(body, &results); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	if len(results) == 0 {
		return "", ErrEmptyResult
	}

	var path string
	if bytes.Equal(bytes.TrimSpace(results[0]), []byte("null")) {
		return "", fmt.Errorf("%w: first element is null", ErrMalformedResult)
	}
	if err := json.Unmarshal(results[0], &path); err != nil {
		return "", fmt.Errorf("%w: first element is %s", ErrMalformedResult, truncate(string(results[0]), 80))
	}
	if path == "" {
		return "", ErrEmptyResult
	}
	return path, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
