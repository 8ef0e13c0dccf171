package repo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opsmendstack/opsmend-heal/internal/config"
	"github.com/opsmendstack/opsmend-heal/internal/models"
)

type memoryLedger struct {
	entries []models.RevenueEntry
}

func (m *memoryLedger) AppendRevenue(entry models.RevenueEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func TestChargeLocalSimulationWithoutKey(t *testing.T) {
	ledger := &memoryLedger{}
	client := NewBillingClient(config.BillingConfig{BasePrice: 0.05, Timeout: time.Second}, ledger, nil)

	record := client.Charge(context.Background(), "demo_client", "queue_pressure", 0.05)
	if record.Status != "simulated" || record.Mode != "local" {
		t.Fatalf("expected simulated local record, got %+v", record)
	}
	// The cycle recorder owns the per-cycle revenue line; local simulation
	// must not add a second one.
	if len(ledger.entries) != 0 {
		t.Fatalf("simulated charge must not write the fallback ledger, got %+v", ledger.entries)
	}
}

func TestChargeRemoteSuccess(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	ledger := &memoryLedger{}
	client := NewBillingClient(config.BillingConfig{
		BaseURL: server.URL,
		APIKey:  "key-123",
		Timeout: time.Second,
	}, ledger, nil)

	record := client.Charge(context.Background(), "client_001", "data_error", 0.08)
	if record.Status != "success" {
		t.Fatalf("expected success, got %+v", record)
	}
	if gotAuth != "Bearer key-123" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
	if len(ledger.entries) != 0 {
		t.Fatalf("successful remote charge must not write the fallback ledger")
	}
}

func TestChargeFallsBackOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ledger := &memoryLedger{}
	client := NewBillingClient(config.BillingConfig{
		BaseURL: server.URL,
		APIKey:  "key-123",
		Timeout: time.Second,
	}, ledger, nil)

	record := client.Charge(context.Background(), "client_001", "api_failure", 0.05)
	if record.Status != "fallback_logged" {
		t.Fatalf("expected fallback_logged, got %+v", record)
	}
	if len(ledger.entries) != 1 || ledger.entries[0].Status != "fallback" {
		t.Fatalf("expected one fallback ledger entry, got %+v", ledger.entries)
	}
}

func TestChargeFallsBackOnUnreachableService(t *testing.T) {
	ledger := &memoryLedger{}
	client := NewBillingClient(config.BillingConfig{
		BaseURL: "http://127.0.0.1:1",
		APIKey:  "key-123",
		Timeout: 200 * time.Millisecond,
	}, ledger, nil)

	record := client.Charge(context.Background(), "client_001", "workflow_delay", 0.05)
	if record.Status != "fallback_logged" {
		t.Fatalf("expected fallback_logged, got %+v", record)
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("expected fallback ledger entry")
	}
}

func TestNotifyBestEffort(t *testing.T) {
	received := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := jsonDecode(r, &payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(config.WebhookConfig{URL: server.URL, Timeout: time.Second}, nil)
	if err := notifier.Notify(context.Background(), map[string]any{"workflow": "order_processing"}); err != nil {
		t.Fatalf("notify: %v", err)
	}

	payload := <-received
	if payload["workflow"] != "order_processing" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	unconfigured := NewWebhookNotifier(config.WebhookConfig{}, nil)
	if err := unconfigured.Notify(context.Background(), map[string]any{}); err != nil {
		t.Fatalf("unconfigured notifier must be a silent no-op, got %v", err)
	}
}

func TestNotifyReportsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(config.WebhookConfig{URL: server.URL, Timeout: time.Second}, nil)
	if err := notifier.Notify(context.Background(), map[string]any{}); err == nil {
		t.Fatalf("expected error for 5xx response")
	}
}
