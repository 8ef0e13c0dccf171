package models

import "time"

// AnomalyCategory enumerates the incident types the classifier can report.
type AnomalyCategory string

const (
	CategoryQueuePressure   AnomalyCategory = "queue_pressure"
	CategoryMissingApproval AnomalyCategory = "missing_approval"
	CategoryDataError       AnomalyCategory = "data_error"
	CategoryWorkflowDelay   AnomalyCategory = "workflow_delay"
	CategoryAPIFailure      AnomalyCategory = "api_failure"
)

// Severity captures impact levels. Current policy reports every anomaly as high.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Anomaly is a single classified incident observed on a workflow.
type Anomaly struct {
	Category          AnomalyCategory `json:"category"`
	Severity          Severity        `json:"severity"`
	ObservedLatencyMs int             `json:"observed_latency_ms"`
}

// ActionPlan is an ordered, never-empty list of remediation action identifiers.
type ActionPlan []string

// OutcomeStatus marks whether a healing cycle completed or hit an internal fault.
type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusFailed  OutcomeStatus = "failed"
)

// HealingOutcome summarises the result of dispatching one action plan.
type HealingOutcome struct {
	Status      OutcomeStatus `json:"status"`
	RecoveryPct float64       `json:"recovery_pct"`
	Reward      float64       `json:"reward"`
	LatencyMs   int           `json:"latency_ms"`
}

// HealingCycle is the durable unit: one full detect -> resolve -> execute -> record pass.
type HealingCycle struct {
	CycleID       string         `json:"cycle_id"`
	Timestamp     time.Time      `json:"timestamp"`
	WorkflowID    string         `json:"workflow_id"`
	Anomaly       Anomaly        `json:"anomaly"`
	ActionPlan    ActionPlan     `json:"action_plan"`
	Outcome       HealingOutcome `json:"outcome"`
	BillingAmount float64        `json:"billing_amount"`
}

// DedupKey returns the identity tuple used to suppress duplicate event writes.
func (c HealingCycle) DedupKey() string {
	return c.WorkflowID + ":" + string(c.Anomaly.Category) + ":" + string(c.Outcome.Status)
}

// RecordResult reports whether a cycle was durably appended or skipped as a duplicate.
type RecordResult struct {
	Written bool   `json:"written"`
	Warning string `json:"warning,omitempty"`
}

// Summary aggregates the tabular metrics log.
type Summary struct {
	AvgRecoveryPct  float64 `json:"avg_recovery_pct"`
	AvgReward       float64 `json:"avg_reward"`
	AvgQueueMinutes float64 `json:"avg_queue_minutes"`
	TotalCount      int     `json:"healings"`
}

// RevenueEntry is one parsed line of the monetization ledger.
type RevenueEntry struct {
	Timestamp string  `json:"timestamp"`
	Workflow  string  `json:"workflow"`
	Anomaly   string  `json:"anomaly"`
	Cost      float64 `json:"cost"`
	Status    string  `json:"status"`
}

// SupervisorStatus is returned by simulation start/stop transitions.
type SupervisorStatus string

const (
	SupervisorStarted        SupervisorStatus = "started"
	SupervisorAlreadyRunning SupervisorStatus = "already_running"
	SupervisorStopped        SupervisorStatus = "stopped"
	SupervisorNotRunning     SupervisorStatus = "not_running"
)
