package executor

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/opsmendstack/opsmend-heal/internal/models"
)

// Journal is the narrative logging surface the dispatcher audits through.
// The event recorder implements it.
type Journal interface {
	AppendNarrative(line string) error
}

// Effect is the simulated effect class an action name maps to.
type Effect string

const (
	EffectRestart    Effect = "restart"
	EffectScale      Effect = "scale"
	EffectOptimize   Effect = "optimize"
	EffectRetry      Effect = "retry"
	EffectRevalidate Effect = "revalidate"
	EffectCustom     Effect = "custom"
)

// Ranges bounds the simulated outcome draws.
type Ranges struct {
	RecoveryMin  float64
	RecoveryMax  float64
	RewardMin    float64
	RewardMax    float64
	MinLatencyMs int
	MaxLatencyMs int
}

// DefaultRanges mirrors the historical simulation envelope.
func DefaultRanges() Ranges {
	return Ranges{
		RecoveryMin:  75,
		RecoveryMax:  98,
		RewardMin:    -0.1,
		RewardMax:    0.5,
		MinLatencyMs: 2000,
		MaxLatencyMs: 15000,
	}
}

// Dispatcher interprets each action of a plan into a simulated effect and
// computes the cycle outcome. Dispatch never panics and never returns an
// error: internal faults degrade to a failed outcome.
type Dispatcher struct {
	journal Journal
	ranges  Ranges
	logger  *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDispatcher builds a dispatcher writing its audit trail to journal.
func NewDispatcher(journal Journal, ranges Ranges, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if ranges == (Ranges{}) {
		ranges = DefaultRanges()
	}
	return &Dispatcher{
		journal: journal,
		ranges:  ranges,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Execute runs the action plan for a detected anomaly. The caller always
// receives a well-formed outcome; a fault mid-dispatch yields status failed
// with zero recovery and a -1 reward.
func (d *Dispatcher) Execute(workflowID string, anomaly models.Anomaly, plan models.ActionPlan) models.HealingOutcome {
	if err := d.audit(fmt.Sprintf("%s anomaly detected -> %s", workflowID, anomaly.Category)); err != nil {
		return d.failed(workflowID, anomaly, err)
	}
	if err := d.audit(fmt.Sprintf("suggested healing actions: [%s]", strings.Join(plan, ", "))); err != nil {
		return d.failed(workflowID, anomaly, err)
	}

	for _, action := range plan {
		if err := d.audit(effectNarrative(action, workflowID)); err != nil {
			return d.failed(workflowID, anomaly, err)
		}
	}

	if err := d.audit(fmt.Sprintf("healing executed successfully for %s (%s)", workflowID, anomaly.Category)); err != nil {
		return d.failed(workflowID, anomaly, err)
	}

	return d.successOutcome(anomaly.ObservedLatencyMs)
}

// ClassifyEffect maps an action name onto its effect class by substring.
func ClassifyEffect(action string) Effect {
	name := strings.ToLower(action)
	switch {
	case strings.Contains(name, "restart"):
		return EffectRestart
	case strings.Contains(name, "scale"):
		return EffectScale
	case strings.Contains(name, "optimize"):
		return EffectOptimize
	case strings.Contains(name, "retry"):
		return EffectRetry
	case strings.Contains(name, "validate"):
		return EffectRevalidate
	default:
		return EffectCustom
	}
}

func effectNarrative(action, workflowID string) string {
	switch ClassifyEffect(action) {
	case EffectRestart:
		return fmt.Sprintf("restarting service for %s", workflowID)
	case EffectScale:
		return fmt.Sprintf("scaling up resources for %s", workflowID)
	case EffectOptimize:
		return fmt.Sprintf("optimizing workflow scheduler for %s", workflowID)
	case EffectRetry:
		return fmt.Sprintf("retrying operation for %s", workflowID)
	case EffectRevalidate:
		return fmt.Sprintf("revalidating data pipeline for %s", workflowID)
	default:
		return fmt.Sprintf("performing custom action: %s", action)
	}
}

func (d *Dispatcher) successOutcome(observedLatencyMs int) models.HealingOutcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	latency := observedLatencyMs
	if latency <= 0 {
		latency = d.ranges.MinLatencyMs + d.rng.Intn(d.ranges.MaxLatencyMs-d.ranges.MinLatencyMs+1)
	}
	recovery := d.ranges.RecoveryMin + d.rng.Float64()*(d.ranges.RecoveryMax-d.ranges.RecoveryMin)
	reward := d.ranges.RewardMin + d.rng.Float64()*(d.ranges.RewardMax-d.ranges.RewardMin)

	return models.HealingOutcome{
		Status:      models.StatusSuccess,
		RecoveryPct: round2(recovery),
		Reward:      round2(reward),
		LatencyMs:   latency,
	}
}

func (d *Dispatcher) failed(workflowID string, anomaly models.Anomaly, err error) models.HealingOutcome {
	d.logger.Error("healing dispatch failed",
		slog.String("workflow", workflowID),
		slog.String("anomaly", string(anomaly.Category)),
		slog.Any("error", err),
	)
	return models.HealingOutcome{
		Status:      models.StatusFailed,
		RecoveryPct: 0,
		Reward:      -1,
		LatencyMs:   anomaly.ObservedLatencyMs,
	}
}

func (d *Dispatcher) audit(line string) error {
	if d.journal == nil {
		return nil
	}
	return d.journal.AppendNarrative(line)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
