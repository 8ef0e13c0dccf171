package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opsmendstack/opsmend-heal/internal/config"
	"github.com/opsmendstack/opsmend-heal/internal/detector"
	"github.com/opsmendstack/opsmend-heal/internal/metrics"
	"github.com/opsmendstack/opsmend-heal/internal/models"
	"github.com/opsmendstack/opsmend-heal/internal/repo"
	"github.com/opsmendstack/opsmend-heal/internal/utils"
)

// ActionResolver maps a classified anomaly to an ordered action plan.
type ActionResolver interface {
	Resolve(ctx context.Context, workflowID string, category models.AnomalyCategory, latencyMs int) models.ActionPlan
}

// ActionDispatcher executes a plan and reports the simulated outcome.
type ActionDispatcher interface {
	Execute(workflowID string, anomaly models.Anomaly, plan models.ActionPlan) models.HealingOutcome
}

// CycleStore durably records completed cycles.
type CycleStore interface {
	Record(cycle models.HealingCycle) models.RecordResult
}

// Biller charges one healing event.
type Biller interface {
	Charge(ctx context.Context, userID, eventType string, amount float64) repo.BillingRecord
}

// Notifier pushes a cycle notification to an external consumer.
type Notifier interface {
	Notify(ctx context.Context, payload any) error
}

// CycleResult is the outcome of one pipeline run.
type CycleResult struct {
	Cycle   models.HealingCycle `json:"cycle"`
	Written bool                `json:"written"`
	Warning string              `json:"warning,omitempty"`
}

// Pipeline orchestrates the detect, resolve, dispatch, record, and charge flow
// for one workflow observation.
type Pipeline struct {
	logger     *slog.Logger
	classifier *detector.Classifier
	resolver   ActionResolver
	dispatcher ActionDispatcher
	store      CycleStore
	biller     Biller
	notifier   Notifier
	userID     string
	basePrice  float64
	latency    *utils.LatencyTracker
}

// NewPipeline constructs the healing pipeline.
func NewPipeline(
	logger *slog.Logger,
	classifier *detector.Classifier,
	resolver ActionResolver,
	dispatcher ActionDispatcher,
	store CycleStore,
	biller Biller,
	notifier Notifier,
	billing config.BillingConfig,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	basePrice := billing.BasePrice
	if basePrice <= 0 {
		basePrice = 0.05
	}
	userID := billing.UserID
	if userID == "" {
		userID = "demo_client"
	}
	return &Pipeline{
		logger:     logger,
		classifier: classifier,
		resolver:   resolver,
		dispatcher: dispatcher,
		store:      store,
		biller:     biller,
		notifier:   notifier,
		userID:     userID,
		basePrice:  basePrice,
		latency:    utils.NewLatencyTracker(512),
	}
}

// Observe classifies one workflow latency sample and heals when it is
// anomalous. A quiet observation returns nil.
func (p *Pipeline) Observe(ctx context.Context, workflowID string, latencyMs int) (*CycleResult, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("workflow id is required")
	}

	anomaly := p.classifier.Classify(workflowID, latencyMs)
	if anomaly == nil {
		p.logger.Debug("workflow within SLA",
			slog.String("workflow", workflowID),
			slog.Int("latency_ms", latencyMs),
		)
		return nil, nil
	}

	result := p.runCycle(ctx, workflowID, *anomaly)
	return &result, nil
}

// Heal runs one healing cycle for an already-known anomaly. An empty category
// draws one from the detector's distribution; a zero latency lets the
// dispatcher draw a synthetic one.
func (p *Pipeline) Heal(ctx context.Context, workflowID string, category models.AnomalyCategory, latencyMs int) (CycleResult, error) {
	if workflowID == "" {
		return CycleResult{}, fmt.Errorf("workflow id is required")
	}
	if category == "" {
		category = p.classifier.RandomCategory()
	}

	anomaly := models.Anomaly{
		Category:          category,
		Severity:          models.SeverityHigh,
		ObservedLatencyMs: latencyMs,
	}
	return p.runCycle(ctx, workflowID, anomaly), nil
}

// LatencyP95 reports the 95th percentile of recent cycle durations.
func (p *Pipeline) LatencyP95() time.Duration {
	return p.latency.P95()
}

func (p *Pipeline) runCycle(ctx context.Context, workflowID string, anomaly models.Anomaly) CycleResult {
	started := time.Now()

	plan := p.resolver.Resolve(ctx, workflowID, anomaly.Category, anomaly.ObservedLatencyMs)
	outcome := p.dispatcher.Execute(workflowID, anomaly, plan)

	cycle := models.HealingCycle{
		CycleID:       uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		WorkflowID:    workflowID,
		Anomaly:       anomaly,
		ActionPlan:    plan,
		Outcome:       outcome,
		BillingAmount: p.billingAmount(outcome.RecoveryPct),
	}

	recorded := p.store.Record(cycle)
	if !recorded.Written {
		metrics.CountDuplicateSuppressed()
		return CycleResult{Cycle: cycle, Written: false, Warning: recorded.Warning}
	}

	if p.biller != nil {
		billingRecord := p.biller.Charge(ctx, p.userID, string(anomaly.Category), cycle.BillingAmount)
		p.logger.Info("healing event charged",
			slog.String("cycle_id", cycle.CycleID),
			slog.String("status", billingRecord.Status),
			slog.Float64("amount", billingRecord.Amount),
		)
	}

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, cycleNotification(cycle)); err != nil {
			p.logger.Warn("cycle notification failed", slog.Any("error", err))
		}
	}

	duration := time.Since(started)
	p.latency.Observe(duration)
	metrics.ObserveHealing(duration, string(outcome.Status))

	p.logger.Info("healing cycle completed",
		slog.String("cycle_id", cycle.CycleID),
		slog.String("workflow", workflowID),
		slog.String("anomaly", string(anomaly.Category)),
		slog.String("status", string(outcome.Status)),
		slog.Float64("recovery_pct", outcome.RecoveryPct),
		slog.Duration("p95", p.latency.P95()),
	)

	return CycleResult{Cycle: cycle, Written: true, Warning: recorded.Warning}
}

// billingAmount prices one healed event: the base price plus a recovery-scaled
// premium, rounded to four decimals.
func (p *Pipeline) billingAmount(recoveryPct float64) float64 {
	amount := p.basePrice * (1 + recoveryPct/100)
	return math.Round(amount*10000) / 10000
}

func cycleNotification(cycle models.HealingCycle) map[string]any {
	return map[string]any{
		"cycle_id":     cycle.CycleID,
		"workflow":     cycle.WorkflowID,
		"anomaly":      string(cycle.Anomaly.Category),
		"actions":      []string(cycle.ActionPlan),
		"status":       string(cycle.Outcome.Status),
		"recovery_pct": cycle.Outcome.RecoveryPct,
		"billing":      cycle.BillingAmount,
	}
}
