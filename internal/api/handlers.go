package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsmendstack/opsmend-heal/internal/engine"
	"github.com/opsmendstack/opsmend-heal/internal/models"
)

// HealingService is the pipeline surface the API exposes.
type HealingService interface {
	Heal(ctx context.Context, workflowID string, category models.AnomalyCategory, latencyMs int) (engine.CycleResult, error)
	Observe(ctx context.Context, workflowID string, latencyMs int) (*engine.CycleResult, error)
}

// SupervisorControl drives the background simulation loop.
type SupervisorControl interface {
	Start() models.SupervisorStatus
	Stop() models.SupervisorStatus
	Running() bool
}

// LogReader reads the durable healing logs.
type LogReader interface {
	RecentNarrative(n int) []string
	ReadRevenue(limit int) []models.RevenueEntry
	AppendWebhookEvent(workflow, anomaly, userID string) error
	MetricsPath() string
}

// SummaryProvider aggregates the tabular metrics log.
type SummaryProvider interface {
	Summarize() models.Summary
	AnomalyMix() map[string]int
}

// Readiness reports which external collaborators are configured.
type Readiness struct {
	Reasoning bool
	Billing   bool
	Webhook   bool
}

// Mode names the operating mode implied by the collaborator configuration.
func (r Readiness) Mode() string {
	if r.Reasoning || r.Billing {
		return "connected"
	}
	return "offline_simulation"
}

// Handlers bundles the route implementations and their collaborators.
type Handlers struct {
	logger     *slog.Logger
	service    HealingService
	supervisor SupervisorControl
	logs       LogReader
	summaries  SummaryProvider
	readiness  Readiness
	startedAt  time.Time
}

// NewHandlers wires the API handler set.
func NewHandlers(logger *slog.Logger, service HealingService, supervisor SupervisorControl, logs LogReader, summaries SummaryProvider, readiness Readiness) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		logger:     logger,
		service:    service,
		supervisor: supervisor,
		logs:       logs,
		summaries:  summaries,
		readiness:  readiness,
		startedAt:  time.Now(),
	}
}

// RegisterRoutes attaches every endpoint to the router.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)
	router.POST("/heal", h.heal)
	router.POST("/observe", h.observe)

	sim := router.Group("/sim")
	{
		sim.POST("/start", h.simStart)
		sim.POST("/stop", h.simStop)
	}

	metrics := router.Group("/metrics")
	{
		metrics.GET("/summary", h.metricsSummary)
		metrics.GET("/revenue", h.metricsRevenue)
		metrics.GET("/download", h.metricsDownload)
	}

	router.GET("/healing/logs", h.healingLogs)
	router.POST("/integrations/webhook", h.webhook)
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"service":         "opsmend-heal",
		"mode":            h.readiness.Mode(),
		"reasoning_ready": h.readiness.Reasoning,
		"billing_ready":   h.readiness.Billing,
		"webhook_ready":   h.readiness.Webhook,
		"uptime_seconds":  int(time.Since(h.startedAt).Seconds()),
		"sim_running":     h.supervisor != nil && h.supervisor.Running(),
	})
}

type healRequest struct {
	WorkflowID string `json:"workflow_id" binding:"required"`
	Anomaly    string `json:"anomaly"`
	LatencyMs  int    `json:"latency_ms"`
}

func (h *Handlers) heal(c *gin.Context) {
	var req healRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflow_id is required"})
		return
	}

	result, err := h.service.Heal(c.Request.Context(), req.WorkflowID, models.AnomalyCategory(req.Anomaly), req.LatencyMs)
	if err != nil {
		h.logger.Error("heal request failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, cycleResponse(result))
}

type observeRequest struct {
	WorkflowID string `json:"workflow_id" binding:"required"`
	LatencyMs  int    `json:"latency_ms"`
}

func (h *Handlers) observe(c *gin.Context) {
	var req observeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflow_id is required"})
		return
	}

	result, err := h.service.Observe(c.Request.Context(), req.WorkflowID, req.LatencyMs)
	if err != nil {
		h.logger.Error("observe request failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if result == nil {
		c.JSON(http.StatusOK, gin.H{
			"anomaly":     nil,
			"workflow_id": req.WorkflowID,
		})
		return
	}

	resp := cycleResponse(*result)
	resp["anomaly"] = result.Cycle.Anomaly
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) simStart(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": h.supervisor.Start()})
}

func (h *Handlers) simStop(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": h.supervisor.Stop()})
}

func (h *Handlers) metricsSummary(c *gin.Context) {
	summary := h.summaries.Summarize()
	c.JSON(http.StatusOK, gin.H{
		"avg_recovery_pct":  summary.AvgRecoveryPct,
		"avg_reward":        summary.AvgReward,
		"avg_queue_minutes": summary.AvgQueueMinutes,
		"healings":          summary.TotalCount,
		"anomaly_mix":       h.summaries.AnomalyMix(),
	})
}

func (h *Handlers) metricsRevenue(c *gin.Context) {
	limit := parsePositiveInt(c.Query("n"), 0)
	entries := h.logs.ReadRevenue(limit)

	total := 0.0
	for _, entry := range entries {
		total += entry.Cost
	}
	c.JSON(http.StatusOK, gin.H{
		"entries":       entries,
		"total_revenue": total,
	})
}

// metricsDownload serves the raw tabular log so a dashboard can pull the
// full history as CSV.
func (h *Handlers) metricsDownload(c *gin.Context) {
	path := h.logs.MetricsPath()
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics log not found"})
		return
	}
	c.FileAttachment(path, "metrics_log.csv")
}

func (h *Handlers) healingLogs(c *gin.Context) {
	n := parsePositiveInt(c.Query("n"), 50)
	c.JSON(http.StatusOK, gin.H{"logs": h.logs.RecentNarrative(n)})
}

type webhookRequest struct {
	WorkflowID string `json:"workflow_id"`
	Anomaly    string `json:"anomaly"`
	UserID     string `json:"user_id"`
}

// webhook accepts an external anomaly alert and turns it into a healing cycle.
func (h *Handlers) webhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.WorkflowID == "" {
		req.WorkflowID = "external_workflow"
	}

	if err := h.logs.AppendWebhookEvent(req.WorkflowID, req.Anomaly, req.UserID); err != nil {
		h.logger.Warn("webhook event log failed", slog.Any("error", err))
	}

	result, err := h.service.Heal(c.Request.Context(), req.WorkflowID, models.AnomalyCategory(req.Anomaly), 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := cycleResponse(result)
	resp["received"] = true
	c.JSON(http.StatusOK, resp)
}

func cycleResponse(result engine.CycleResult) gin.H {
	resp := gin.H{
		"cycle":   result.Cycle,
		"written": result.Written,
	}
	if !result.Written {
		resp["status"] = "duplicate_suppressed"
	}
	if result.Warning != "" {
		resp["warning"] = result.Warning
	}
	return resp
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
