package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opsmendstack/opsmend-heal/internal/config"
	"github.com/opsmendstack/opsmend-heal/internal/models"
	"github.com/opsmendstack/opsmend-heal/internal/utils"
)

// Ledger receives a fallback billing record when a remote charge fails, so
// the attempt is not lost. The event recorder's revenue log implements it.
type Ledger interface {
	AppendRevenue(entry models.RevenueEntry) error
}

// BillingRecord describes one charge attempt, real or simulated.
type BillingRecord struct {
	Timestamp string  `json:"timestamp"`
	UserID    string  `json:"user"`
	EventType string  `json:"event_type"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Status    string  `json:"status"`
	Mode      string  `json:"mode"`
}

// BillingClient charges healing events against the monetization collaborator.
// Without an API key it runs in local simulation mode; with one, API failures
// degrade to a fallback ledger entry. Charging never blocks the pipeline
// beyond the configured timeout.
type BillingClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	ledger     Ledger
	logger     *slog.Logger
}

// NewBillingClient constructs the billing collaborator client.
func NewBillingClient(cfg config.BillingConfig, ledger Ledger, logger *slog.Logger) *BillingClient {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BillingClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		ledger:     ledger,
		logger:     logger,
	}
}

// Charge records a billing transaction for one healing event.
func (c *BillingClient) Charge(ctx context.Context, userID, eventType string, amount float64) BillingRecord {
	timestamp := time.Now().UTC().Format("2006-01-02 15:04:05")

	if c.apiKey == "" || c.baseURL == "" {
		return BillingRecord{
			Timestamp: timestamp,
			UserID:    userID,
			EventType: eventType,
			Amount:    amount,
			Currency:  "USD",
			Status:    "simulated",
			Mode:      "local",
		}
	}

	if err := c.charge(ctx, userID, eventType, amount); err != nil {
		c.logger.Warn("billing charge failed, writing fallback ledger entry", slog.Any("error", err))
		c.appendLedger(timestamp, userID, eventType, amount, "fallback")
		return BillingRecord{
			Timestamp: timestamp,
			UserID:    userID,
			EventType: eventType,
			Amount:    amount,
			Currency:  "USD",
			Status:    "fallback_logged",
			Mode:      "remote",
		}
	}

	return BillingRecord{
		Timestamp: timestamp,
		UserID:    userID,
		EventType: eventType,
		Amount:    amount,
		Currency:  "USD",
		Status:    "success",
		Mode:      "remote",
	}
}

func (c *BillingClient) charge(ctx context.Context, userID, eventType string, amount float64) error {
	payload := map[string]any{
		"user_id":     userID,
		"amount":      amount,
		"currency":    "USD",
		"description": fmt.Sprintf("Healing service for %s", eventType),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return utils.NewCollabError("billing.charge", "marshal payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charge", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.NewCollabError("billing.charge", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return utils.NewCollabError("billing.charge", fmt.Sprintf("service returned %s", resp.Status), nil)
	}
	return nil
}

func (c *BillingClient) appendLedger(timestamp, userID, eventType string, amount float64, status string) {
	if c.ledger == nil {
		return
	}
	entry := models.RevenueEntry{
		Timestamp: timestamp,
		Workflow:  userID,
		Anomaly:   eventType,
		Cost:      amount,
		Status:    status,
	}
	if err := c.ledger.AppendRevenue(entry); err != nil {
		c.logger.Warn("fallback ledger write failed", slog.Any("error", err))
	}
}
