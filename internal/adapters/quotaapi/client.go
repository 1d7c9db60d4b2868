// Package quotaapi fetches quota utilization from the OAuth usage
// endpoint the claude CLI's /usage display reads. The endpoint is not
// officially documented; callers treat every failure as degraded data.
package quotaapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hylla/magpie/internal/app"
)

const (
	defaultBaseURL = "https://api.anthropic.com/api/oauth/usage"
	betaHeader     = "oauth-2025-04-20"
	fetchTimeout   = 10 * time.Second
)

// Client implements app.QuotaSource against the OAuth usage endpoint.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	credentialsPath string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the usage endpoint URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithCredentialsPath overrides the credentials file location.
func WithCredentialsPath(path string) Option {
	return func(c *Client) { c.credentialsPath = path }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New constructs a Client reading the token from the CLI's credentials
// file, which the CLI keeps refreshed.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: fetchTimeout},
		baseURL:    defaultBaseURL,
	}
	if home, err := os.UserHomeDir(); err == nil {
		c.credentialsPath = filepath.Join(home, ".claude", ".credentials.json")
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// credentialsFile is the CLI credentials layout.
type credentialsFile struct {
	ClaudeAiOauth struct {
		AccessToken string `json:"accessToken"`
	} `json:"claudeAiOauth"`
}

// usageResponse is the endpoint payload. Utilization values are percents.
type usageResponse struct {
	FiveHour *struct {
		Utilization float64 `json:"utilization"`
		ResetsAt    string  `json:"resets_at"`
	} `json:"five_hour"`
	SevenDay *struct {
		Utilization *float64 `json:"utilization"`
	} `json:"seven_day"`
}

// token reads the OAuth access token from the credentials file.
func (c *Client) token() (string, error) {
	raw, err := os.ReadFile(c.credentialsPath)
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	var creds credentialsFile
	if err := json.Unmarshal(raw, &creds); err != nil {
		return "", fmt.Errorf("decode credentials: %w", err)
	}
	if creds.ClaudeAiOauth.AccessToken == "" {
		return "", fmt.Errorf("credentials file %s has no access token", c.credentialsPath)
	}
	return creds.ClaudeAiOauth.AccessToken, nil
}

// Fetch retrieves the current usage snapshot.
func (c *Client) Fetch(ctx context.Context) (app.UsageSnapshot, error) {
	token, err := c.token()
	if err != nil {
		return app.UsageSnapshot{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return app.UsageSnapshot{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("anthropic-beta", betaHeader)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return app.UsageSnapshot{}, fmt.Errorf("fetch usage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return app.UsageSnapshot{}, fmt.Errorf("fetch usage: status %d", resp.StatusCode)
	}

	var payload usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return app.UsageSnapshot{}, fmt.Errorf("decode usage: %w", err)
	}

	var snapshot app.UsageSnapshot
	if payload.FiveHour != nil {
		snapshot.SessionPct = payload.FiveHour.Utilization
		if payload.FiveHour.ResetsAt != "" {
			if resets, err := time.Parse(time.RFC3339, payload.FiveHour.ResetsAt); err == nil {
				snapshot.SessionResetsAt = &resets
			}
		}
	}
	if payload.SevenDay != nil && payload.SevenDay.Utilization != nil {
		week := *payload.SevenDay.Utilization
		snapshot.WeekPct = &week
	}
	return snapshot, nil
}
