/**
 * @description
 * Client for communicating with the yield platform API. The automation-service
 * never computes profit itself; this client fetches the accrued profit for a
 * rule's vault position at execution time.
 */
package yieldclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client provides methods to interact with the yield platform API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new yield platform API client.
func NewClient(baseURL, apiKey string) *Client {
	normalizedURL := strings.TrimSuffix(baseURL, "/")
	return &Client{
		baseURL:    normalizedURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type accruedProfitResponse struct {
	Data struct {
		VaultID       string `json:"vault_id"`
		AccruedProfit int64  `json:"accrued_profit"` // in cents
	} `json:"data"`
}

// CurrentAccruedProfit returns the accrued profit, in cents, for the position
// a rule manages in a vault.
func (c *Client) CurrentAccruedProfit(ctx context.Context, vaultID uuid.UUID, ruleID uuid.UUID) (int64, error) {
	if c.baseURL == "" {
		return 0, fmt.Errorf("yield API base URL is not configured")
	}

	url := fmt.Sprintf("%s/api/v1/vaults/%s/accrued-profit?rule_id=%s", c.baseURL, vaultID, ruleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("yield API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed accruedProfitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("failed to decode yield API response: %w", err)
	}

	return parsed.Data.AccruedProfit, nil
}
