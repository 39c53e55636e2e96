package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"
)

// PointsClient talks to the trading-points service, which reports a user's
// lifetime trading-derived score. Every call is bounded by the client
// timeout; failures surface to the caller instead of defaulting to zero.
type PointsClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewPointsClient() *PointsClient {
	baseURL := os.Getenv("POINTS_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("POINTS_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("POINTS_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("POINTS_SERVICE_TOKEN environment variable is required")
	}
	return &PointsClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetTradingPoints fetches one address's trading points.
func (c *PointsClient) GetTradingPoints(ctx context.Context, address string) (int64, error) {
	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/trading-points/%s", c.BaseURL, url.PathEscape(address)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse base URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to call points service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("points service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Address string `json:"address"`
		Points  int64  `json:"points"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, fmt.Errorf("failed to decode points service response: %w", err)
	}
	return response.Points, nil
}

// BatchTradingPoints fetches trading points for many addresses in one call.
// Addresses the service does not know come back as zero entries.
func (c *PointsClient) BatchTradingPoints(ctx context.Context, addresses []string) (map[string]int64, error) {
	if len(addresses) == 0 {
		return map[string]int64{}, nil
	}

	payload, err := json.Marshal(map[string][]string{"addresses": addresses})
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch request: %w", err)
	}

	u := fmt.Sprintf("%s/api/v1/public/trading-points/batch", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call points service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("points service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Points map[string]int64 `json:"points"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode points service response: %w", err)
	}
	if response.Points == nil {
		response.Points = map[string]int64{}
	}
	return response.Points, nil
}
