package engine

import (
	"context"
	"testing"

	"github.com/opsmendstack/opsmend-heal/internal/config"
	"github.com/opsmendstack/opsmend-heal/internal/detector"
	"github.com/opsmendstack/opsmend-heal/internal/models"
	"github.com/opsmendstack/opsmend-heal/internal/repo"
)

type fakeResolver struct {
	plan  models.ActionPlan
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, workflowID string, category models.AnomalyCategory, latencyMs int) models.ActionPlan {
	f.calls++
	return f.plan
}

type fakeDispatcher struct {
	outcome models.HealingOutcome
	calls   int
}

func (f *fakeDispatcher) Execute(workflowID string, anomaly models.Anomaly, plan models.ActionPlan) models.HealingOutcome {
	f.calls++
	return f.outcome
}

type fakeStore struct {
	cycles   []models.HealingCycle
	written  bool
	warnings string
}

func (f *fakeStore) Record(cycle models.HealingCycle) models.RecordResult {
	f.cycles = append(f.cycles, cycle)
	return models.RecordResult{Written: f.written, Warning: f.warnings}
}

type fakeBiller struct {
	charges []float64
	events  []string
}

func (f *fakeBiller) Charge(ctx context.Context, userID, eventType string, amount float64) repo.BillingRecord {
	f.charges = append(f.charges, amount)
	f.events = append(f.events, eventType)
	return repo.BillingRecord{Status: "simulated", Mode: "local", Amount: amount}
}

type fakeNotifier struct {
	payloads []any
}

func (f *fakeNotifier) Notify(ctx context.Context, payload any) error {
	f.payloads = append(f.payloads, payload)
	return nil
}

func quietClassifier() *detector.Classifier {
	return detector.NewClassifier(config.DetectorConfig{
		SLAThresholdMs:     map[string]int{"order_processing": 5500},
		DefaultThresholdMs: 4000,
		NoiseProbability:   0,
	}, nil)
}

func successOutcome() models.HealingOutcome {
	return models.HealingOutcome{
		Status:      models.StatusSuccess,
		RecoveryPct: 88,
		Reward:      0.3,
		LatencyMs:   6000,
	}
}

func newTestPipeline(store *fakeStore, biller *fakeBiller, notifier *fakeNotifier) (*Pipeline, *fakeResolver, *fakeDispatcher) {
	resolver := &fakeResolver{plan: models.ActionPlan{"reroute_to_low_queue", "restart_queue_worker"}}
	dispatcher := &fakeDispatcher{outcome: successOutcome()}
	p := NewPipeline(nil, quietClassifier(), resolver, dispatcher, store, biller, notifier, config.BillingConfig{
		UserID:    "demo_client",
		BasePrice: 0.05,
	})
	return p, resolver, dispatcher
}

func TestObserveQuietWorkflowSkipsHealing(t *testing.T) {
	store := &fakeStore{written: true}
	p, resolver, dispatcher := newTestPipeline(store, &fakeBiller{}, &fakeNotifier{})

	result, err := p.Observe(context.Background(), "order_processing", 1200)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result != nil {
		t.Fatalf("latency within SLA must not heal, got %+v", result)
	}
	if resolver.calls != 0 || dispatcher.calls != 0 {
		t.Fatalf("quiet observation must not touch resolver or dispatcher")
	}
}

func TestObserveAnomalousWorkflowRunsFullCycle(t *testing.T) {
	store := &fakeStore{written: true}
	biller := &fakeBiller{}
	notifier := &fakeNotifier{}
	p, resolver, dispatcher := newTestPipeline(store, biller, notifier)

	result, err := p.Observe(context.Background(), "order_processing", 6200)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result == nil || !result.Written {
		t.Fatalf("expected a written cycle, got %+v", result)
	}
	if resolver.calls != 1 || dispatcher.calls != 1 {
		t.Fatalf("expected exactly one resolve and one dispatch")
	}
	if len(store.cycles) != 1 {
		t.Fatalf("expected one recorded cycle, got %d", len(store.cycles))
	}

	cycle := store.cycles[0]
	if cycle.CycleID == "" {
		t.Fatalf("cycle id must be assigned")
	}
	if cycle.WorkflowID != "order_processing" {
		t.Fatalf("unexpected workflow %q", cycle.WorkflowID)
	}
	if cycle.Anomaly.ObservedLatencyMs != 6200 {
		t.Fatalf("observed latency must flow into the cycle, got %d", cycle.Anomaly.ObservedLatencyMs)
	}
	// 0.05 * (1 + 88/100) = 0.094.
	if cycle.BillingAmount != 0.094 {
		t.Fatalf("expected billing amount 0.094, got %f", cycle.BillingAmount)
	}
	if len(biller.charges) != 1 || biller.charges[0] != 0.094 {
		t.Fatalf("expected one charge of 0.094, got %v", biller.charges)
	}
	if len(notifier.payloads) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.payloads))
	}
}

func TestHealWithExplicitCategory(t *testing.T) {
	store := &fakeStore{written: true}
	biller := &fakeBiller{}
	p, _, _ := newTestPipeline(store, biller, &fakeNotifier{})

	result, err := p.Heal(context.Background(), "invoice_processing", models.CategoryDataError, 4800)
	if err != nil {
		t.Fatalf("heal: %v", err)
	}
	if !result.Written {
		t.Fatalf("expected written cycle")
	}
	if result.Cycle.Anomaly.Category != models.CategoryDataError {
		t.Fatalf("expected data_error anomaly, got %s", result.Cycle.Anomaly.Category)
	}
	if result.Cycle.Anomaly.Severity != models.SeverityHigh {
		t.Fatalf("healed anomalies are always high severity, got %s", result.Cycle.Anomaly.Severity)
	}
	if len(biller.events) != 1 || biller.events[0] != "data_error" {
		t.Fatalf("charge event must carry the anomaly category, got %v", biller.events)
	}
}

func TestHealDrawsCategoryWhenUnspecified(t *testing.T) {
	store := &fakeStore{written: true}
	p, _, _ := newTestPipeline(store, &fakeBiller{}, &fakeNotifier{})

	result, err := p.Heal(context.Background(), "customer_support", "", 0)
	if err != nil {
		t.Fatalf("heal: %v", err)
	}
	if result.Cycle.Anomaly.Category == "" {
		t.Fatalf("empty category must be drawn from the detector distribution")
	}
}

func TestHealRequiresWorkflowID(t *testing.T) {
	p, _, _ := newTestPipeline(&fakeStore{written: true}, &fakeBiller{}, &fakeNotifier{})
	if _, err := p.Heal(context.Background(), "", models.CategoryQueuePressure, 0); err == nil {
		t.Fatalf("expected error for missing workflow id")
	}
	if _, err := p.Observe(context.Background(), "", 5000); err == nil {
		t.Fatalf("expected error for missing workflow id")
	}
}

func TestDuplicateCycleSkipsBillingAndNotification(t *testing.T) {
	store := &fakeStore{written: false}
	biller := &fakeBiller{}
	notifier := &fakeNotifier{}
	p, _, _ := newTestPipeline(store, biller, notifier)

	result, err := p.Heal(context.Background(), "order_processing", models.CategoryQueuePressure, 0)
	if err != nil {
		t.Fatalf("heal: %v", err)
	}
	if result.Written {
		t.Fatalf("store skip must surface as unwritten")
	}
	if len(biller.charges) != 0 {
		t.Fatalf("a suppressed duplicate must not be charged")
	}
	if len(notifier.payloads) != 0 {
		t.Fatalf("a suppressed duplicate must not notify")
	}
}

func TestRecordWarningPropagates(t *testing.T) {
	store := &fakeStore{written: true, warnings: "metrics log rebuilt; event row dropped"}
	p, _, _ := newTestPipeline(store, &fakeBiller{}, &fakeNotifier{})

	result, err := p.Heal(context.Background(), "order_processing", models.CategoryWorkflowDelay, 0)
	if err != nil {
		t.Fatalf("heal: %v", err)
	}
	if result.Warning == "" {
		t.Fatalf("store warning must propagate to the caller")
	}
}

func TestPipelineWithoutBillerOrNotifier(t *testing.T) {
	store := &fakeStore{written: true}
	resolver := &fakeResolver{plan: models.ActionPlan{"notify_ops"}}
	dispatcher := &fakeDispatcher{outcome: successOutcome()}
	p := NewPipeline(nil, quietClassifier(), resolver, dispatcher, store, nil, nil, config.BillingConfig{})

	if _, err := p.Heal(context.Background(), "wf", models.CategoryAPIFailure, 0); err != nil {
		t.Fatalf("heal without collaborators: %v", err)
	}
}
