package store

import (
	"crypto/md5"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opsmendstack/opsmend-heal/internal/config"
	"github.com/opsmendstack/opsmend-heal/internal/models"
)

// metricsHeader is the canonical schema of the tabular metrics log.
var metricsHeader = []string{"ts", "workflow", "anomaly", "action", "status", "latency_ms", "recovery_pct", "reward"}

const (
	narrativeFile = "healing_log.txt"
	metricsFile   = "metrics_log.csv"
	revenueFile   = "healing_revenue.log"
	webhookFile   = "webhook_events.log"
	lockFile      = ".healing_lock"

	timestampLayout = "2006-01-02 15:04:05"
)

// Recorder appends one authoritative record per healing cycle to three durable
// logs, suppressing duplicate writes for the same logical event. All file
// access runs under one mutex so the integrity-check-then-append sequence is a
// single critical section shared by the foreground caller and the background
// worker.
type Recorder struct {
	mu sync.Mutex

	dataDir       string
	narrativePath string
	metricsPath   string
	revenuePath   string
	webhookPath   string
	lockPath      string

	lastHash string
	logger   *slog.Logger
}

// NewRecorder prepares the data directory, seeds missing log files, and loads
// the persisted dedup marker.
func NewRecorder(cfg config.StoreConfig, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	r := &Recorder{
		dataDir:       dataDir,
		narrativePath: filepath.Join(dataDir, narrativeFile),
		metricsPath:   filepath.Join(dataDir, metricsFile),
		revenuePath:   filepath.Join(dataDir, revenueFile),
		webhookPath:   filepath.Join(dataDir, webhookFile),
		lockPath:      filepath.Join(dataDir, lockFile),
		logger:        logger,
	}

	for _, path := range []string{r.narrativePath, r.revenuePath, r.webhookPath} {
		if err := touch(path); err != nil {
			return nil, fmt.Errorf("create log file %s: %w", path, err)
		}
	}

	if marker, err := os.ReadFile(r.lockPath); err == nil {
		r.lastHash = strings.TrimSpace(string(marker))
	}

	r.mu.Lock()
	r.ensureMetricsIntegrityLocked()
	r.mu.Unlock()

	return r, nil
}

// Record durably appends one healing cycle. A cycle whose dedup key matches
// the most recently written one is skipped entirely. Record never returns an
// error: at worst a warning is carried in the result and a single event class
// is dropped while the pipeline stays alive.
func (r *Recorder) Record(cycle models.HealingCycle) models.RecordResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	warning := r.ensureMetricsIntegrityLocked()

	hash := eventHash(cycle.DedupKey())
	if hash == r.lastHash {
		r.logger.Info("duplicate healing event skipped",
			slog.String("workflow", cycle.WorkflowID),
			slog.String("anomaly", string(cycle.Anomaly.Category)),
		)
		return models.RecordResult{Written: false, Warning: warning}
	}

	ts := cycle.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	stamp := ts.Format(timestampLayout)

	narrative := fmt.Sprintf("%s | %s | %s | %s | %s | %.2f",
		stamp,
		cycle.WorkflowID,
		cycle.Anomaly.Category,
		strings.Join(cycle.ActionPlan, ", "),
		cycle.Outcome.Status,
		cycle.Outcome.RecoveryPct,
	)
	if err := appendLine(r.narrativePath, narrative); err != nil {
		r.logger.Warn("narrative append failed", slog.Any("error", err))
		warning = joinWarnings(warning, "narrative log append failed")
	}

	if err := r.appendMetricsRowLocked(stamp, cycle); err != nil {
		r.logger.Warn("metrics append failed, rebuilding file", slog.Any("error", err))
		r.recreateMetricsLocked()
		warning = joinWarnings(warning, "metrics log rebuilt; event row dropped")
	}

	revenue := fmt.Sprintf("%s | %s | %s | $%.4f | %s",
		stamp, cycle.WorkflowID, cycle.Anomaly.Category, cycle.BillingAmount, cycle.Outcome.Status)
	if err := appendLine(r.revenuePath, revenue); err != nil {
		r.logger.Warn("revenue append failed", slog.Any("error", err))
		warning = joinWarnings(warning, "revenue log append failed")
	}

	r.lastHash = hash
	if err := os.WriteFile(r.lockPath, []byte(hash), 0o644); err != nil {
		r.logger.Warn("dedup marker write failed", slog.Any("error", err))
	}

	return models.RecordResult{Written: true, Warning: warning}
}

// AppendNarrative writes one timestamped free-text line to the narrative log.
// The dispatcher uses this as its audit trail.
func (r *Recorder) AppendNarrative(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stamp := time.Now().UTC().Format(timestampLayout)
	return appendLine(r.narrativePath, fmt.Sprintf("[%s] %s", stamp, line))
}

// RecentNarrative returns up to n narrative lines, most recent first. The file
// is re-read on every call; a missing file yields an empty slice.
func (r *Recorder) RecentNarrative(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.narrativePath)
	if err != nil {
		return nil
	}

	lines := make([]string, 0, n)
	for _, line := range strings.Split(string(data), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines
}

// AppendRevenue writes a ledger line outside the normal cycle path. It backs
// the billing client's local fallback.
func (r *Recorder) AppendRevenue(entry models.RevenueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := entry.Timestamp
	if ts == "" {
		ts = time.Now().UTC().Format(timestampLayout)
	}
	line := fmt.Sprintf("%s | %s | %s | $%.4f | %s", ts, entry.Workflow, entry.Anomaly, entry.Cost, entry.Status)
	return appendLine(r.revenuePath, line)
}

// ReadRevenue parses the monetization ledger, most recent last. Malformed
// cost cells are coerced to zero so one bad line cannot hide the rest.
func (r *Recorder) ReadRevenue(limit int) []models.RevenueEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.revenuePath)
	if err != nil {
		return nil
	}

	entries := make([]models.RevenueEntry, 0)
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 4 {
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cost, err := strconv.ParseFloat(strings.TrimPrefix(parts[3], "$"), 64)
		if err != nil {
			cost = 0
		}
		entry := models.RevenueEntry{
			Timestamp: parts[0],
			Workflow:  parts[1],
			Anomaly:   parts[2],
			Cost:      cost,
		}
		if len(parts) >= 5 {
			entry.Status = parts[4]
		}
		entries = append(entries, entry)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// AppendWebhookEvent records an inbound webhook trigger for traceability.
func (r *Recorder) AppendWebhookEvent(workflow, anomaly, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stamp := time.Now().UTC().Format(timestampLayout)
	return appendLine(r.webhookPath, fmt.Sprintf("%s | %s | %s | %s", stamp, workflow, anomaly, userID))
}

// MetricsPath exposes the tabular log location for the aggregator.
func (r *Recorder) MetricsPath() string {
	return r.metricsPath
}

// LastHash reports the current dedup marker. Intended for tests.
func (r *Recorder) LastHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHash
}

// ensureMetricsIntegrityLocked verifies the tabular log exists with the
// canonical header, rebuilding it when missing or mismatched. Existing rows
// survive a header repair; only an unreadable file is recreated empty. Safe
// to invoke on every write. Returns a warning string when data was lost.
func (r *Recorder) ensureMetricsIntegrityLocked() string {
	info, err := os.Stat(r.metricsPath)
	if err != nil || info.Size() == 0 {
		r.recreateMetricsLocked()
		return ""
	}

	data, err := os.ReadFile(r.metricsPath)
	if err != nil {
		r.logger.Warn("metrics log unreadable, recreating", slog.Any("error", err))
		r.recreateMetricsLocked()
		return "metrics log recreated; prior rows lost"
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(lines) > 0 && lines[0] == strings.Join(metricsHeader, ",") {
		return ""
	}

	r.logger.Warn("metrics log header mismatch, repairing", slog.String("path", r.metricsPath))
	rows := parseLooseCSV(lines)
	if err := r.rewriteMetricsLocked(rows); err != nil {
		r.logger.Warn("metrics repair failed, recreating", slog.Any("error", err))
		r.recreateMetricsLocked()
		return "metrics log recreated; prior rows lost"
	}
	return ""
}

// appendMetricsRowLocked writes one structured row, default-filling optional
// fields the way the schema expects.
func (r *Recorder) appendMetricsRowLocked(stamp string, cycle models.HealingCycle) error {
	workflow := cycle.WorkflowID
	if workflow == "" {
		workflow = "unknown"
	}
	anomaly := string(cycle.Anomaly.Category)
	if anomaly == "" {
		anomaly = "unspecified"
	}
	action := "none"
	if len(cycle.ActionPlan) > 0 {
		action = strings.Join(cycle.ActionPlan, "; ")
	}
	status := string(cycle.Outcome.Status)
	if status == "" {
		status = "unknown"
	}

	f, err := os.OpenFile(r.metricsPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		stamp,
		workflow,
		anomaly,
		action,
		status,
		strconv.Itoa(cycle.Outcome.LatencyMs),
		strconv.FormatFloat(cycle.Outcome.RecoveryPct, 'f', 2, 64),
		strconv.FormatFloat(cycle.Outcome.Reward, 'f', 2, 64),
	}); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (r *Recorder) recreateMetricsLocked() {
	if err := r.rewriteMetricsLocked(nil); err != nil {
		r.logger.Error("metrics log recreate failed", slog.Any("error", err))
	}
}

// rewriteMetricsLocked atomically replaces the tabular log with the canonical
// header followed by rows.
func (r *Recorder) rewriteMetricsLocked(rows [][]string) error {
	tmp, err := os.CreateTemp(r.dataDir, metricsFile+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(metricsHeader); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	for _, row := range rows {
		if err := w.Write(normaliseRow(row)); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, r.metricsPath)
}

// parseLooseCSV salvages whatever rows it can from a damaged file.
func parseLooseCSV(lines []string) [][]string {
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		reader := csv.NewReader(strings.NewReader(line))
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true
		record, err := reader.Read()
		if err != nil {
			continue
		}
		rows = append(rows, record)
	}
	return rows
}

// normaliseRow pads or truncates a salvaged row to the schema width.
func normaliseRow(row []string) []string {
	out := make([]string, len(metricsHeader))
	for i := range out {
		if i < len(row) {
			out[i] = row[i]
		}
	}
	return out
}

// eventHash derives the dedup marker from the identity tuple. This is an
// identity fingerprint, not a security boundary.
func eventHash(key string) string {
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return err
	}
	return f.Sync()
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func joinWarnings(existing, addition string) string {
	if existing == "" {
		return addition
	}
	if addition == "" {
		return existing
	}
	return existing + "; " + addition
}
