package detector

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/opsmendstack/opsmend-heal/internal/config"
	"github.com/opsmendstack/opsmend-heal/internal/models"
)

// categoryWeight pairs an anomaly category with its draw probability.
// Weights sum to 1.0.
type categoryWeight struct {
	category models.AnomalyCategory
	weight   float64
}

var defaultWeights = []categoryWeight{
	{models.CategoryQueuePressure, 0.35},
	{models.CategoryMissingApproval, 0.25},
	{models.CategoryDataError, 0.20},
	{models.CategoryWorkflowDelay, 0.20},
}

// Classifier decides whether an observed workflow latency constitutes an anomaly.
//
// An anomaly is raised when the latency exceeds the workflow's SLA threshold,
// or spontaneously with a small noise probability to model incidents that show
// no latency signature. Classification never fails and never blocks.
type Classifier struct {
	thresholds       map[string]int
	defaultThreshold int
	noiseProbability float64
	weights          []categoryWeight
	logger           *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewClassifier builds a classifier from detector configuration.
func NewClassifier(cfg config.DetectorConfig, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	thresholds := make(map[string]int, len(cfg.SLAThresholdMs))
	for workflow, ms := range cfg.SLAThresholdMs {
		thresholds[workflow] = ms
	}
	defaultThreshold := cfg.DefaultThresholdMs
	if defaultThreshold <= 0 {
		defaultThreshold = 4000
	}
	return &Classifier{
		thresholds:       thresholds,
		defaultThreshold: defaultThreshold,
		noiseProbability: cfg.NoiseProbability,
		weights:          defaultWeights,
		logger:           logger,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Classify returns the anomaly observed for the workflow, or nil when the
// latency is within SLA and the noise trigger stays quiet.
func (c *Classifier) Classify(workflowID string, latencyMs int) *models.Anomaly {
	threshold := c.Threshold(workflowID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if latencyMs <= threshold && c.rng.Float64() >= c.noiseProbability {
		return nil
	}

	category := c.drawCategoryLocked()
	c.logger.Debug("anomaly classified",
		slog.String("workflow", workflowID),
		slog.String("category", string(category)),
		slog.Int("latency_ms", latencyMs),
		slog.Int("threshold_ms", threshold),
	)

	return &models.Anomaly{
		Category:          category,
		Severity:          models.SeverityHigh,
		ObservedLatencyMs: latencyMs,
	}
}

// Threshold reports the SLA ceiling applied to a workflow.
func (c *Classifier) Threshold(workflowID string) int {
	if ms, ok := c.thresholds[workflowID]; ok {
		return ms
	}
	return c.defaultThreshold
}

// Categories lists the categories the classifier can report.
func (c *Classifier) Categories() []models.AnomalyCategory {
	out := make([]models.AnomalyCategory, 0, len(c.weights))
	for _, w := range c.weights {
		out = append(out, w.category)
	}
	return out
}

// RandomCategory draws a category using the configured weights.
func (c *Classifier) RandomCategory() models.AnomalyCategory {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drawCategoryLocked()
}

func (c *Classifier) drawCategoryLocked() models.AnomalyCategory {
	r := c.rng.Float64()
	cumulative := 0.0
	for _, w := range c.weights {
		cumulative += w.weight
		if r < cumulative {
			return w.category
		}
	}
	// Guard against weights summing to slightly under 1.0.
	return c.weights[len(c.weights)-1].category
}
