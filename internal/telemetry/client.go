package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smukkama/sensor-dashboard/internal/protocol"
)

const maxBodySize = 4 << 20

// Client talks to the token and telemetry REST endpoints
type Client struct {
	http         *http.Client
	tokenURL     string
	telemetryURL string
}

// NewClient creates a client with a per-request timeout
func NewClient(tokenURL, telemetryURL string, timeout time.Duration) *Client {
	return &Client{
		http:         &http.Client{Timeout: timeout},
		tokenURL:     tokenURL,
		telemetryURL: telemetryURL,
	}
}

// FetchToken retrieves a viewer access token
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	body, err := c.get(ctx, c.tokenURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenFetchFailed, err)
	}
	token, err := protocol.DecodeToken(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenFetchFailed, err)
	}
	return token, nil
}

// FetchTelemetry retrieves the current reading and history window
func (c *Client) FetchTelemetry(ctx context.Context) (*protocol.TelemetryResponse, error) {
	body, err := c.get(ctx, c.telemetryURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTelemetryFetchFailed, err)
	}
	resp, err := protocol.DecodeTelemetry(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTelemetryFetchFailed, err)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}
