package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AdvisorClient forwards dispute context to the advisory service that drafts
// resolution suggestions for arbiters. Optional: an empty base URL disables
// it and advisory effects become no-ops.
type AdvisorClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewAdvisorClient(baseURL string, log *zap.Logger) *AdvisorClient {
	return &AdvisorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

func (c *AdvisorClient) Enabled() bool { return c.baseURL != "" }

type AdvisoryRequest struct {
	EscrowID  string         `json:"escrow_id"`
	DisputeID string         `json:"dispute_id"`
	Reason    string         `json:"reason"`
	Context   map[string]any `json:"context,omitempty"`
}

func (c *AdvisorClient) RequestAdvisory(ctx context.Context, r AdvisoryRequest) error {
	if !c.Enabled() {
		c.log.Debug("advisor disabled, skipping advisory", zap.String("dispute_id", r.DisputeID))
		return nil
	}

	body, err := json.Marshal(r)
	if err != nil {
		return err
	}

	url := c.baseURL + "/internal/advisories"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("advisor unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("advisor returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
