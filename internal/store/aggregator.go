package store

import (
	"encoding/csv"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/opsmendstack/opsmend-heal/internal/models"
)

// Aggregator recomputes rolling summary statistics from the tabular metrics
// log. Every call reads the file fresh; the log is small and correctness
// beats speed here.
type Aggregator struct {
	metricsPath string
	mu          sync.Locker
}

// NewAggregator builds an aggregator over the given tabular log. Reads are
// unsynchronised; use Recorder.Aggregator when a recorder is appending to the
// same file.
func NewAggregator(metricsPath string) *Aggregator {
	return &Aggregator{metricsPath: metricsPath, mu: noopLock{}}
}

// Aggregator returns an aggregator whose reads hold the recorder's lock, so a
// read can never observe a half-written row.
func (r *Recorder) Aggregator() *Aggregator {
	return &Aggregator{metricsPath: r.metricsPath, mu: &r.mu}
}

type noopLock struct{}

func (noopLock) Lock()   {}
func (noopLock) Unlock() {}

// Summarize averages recovery, reward, and queue time over every recorded
// cycle. Non-numeric cells count as zero; an empty or missing log returns
// all-zero defaults.
func (a *Aggregator) Summarize() models.Summary {
	rows := a.readRows()
	if len(rows) == 0 {
		return models.Summary{}
	}

	var latencySum, recoverySum, rewardSum float64
	for _, row := range rows {
		latencySum += parseFloatOrZero(field(row, 5))
		recoverySum += parseFloatOrZero(field(row, 6))
		rewardSum += parseFloatOrZero(field(row, 7))
	}

	count := float64(len(rows))
	return models.Summary{
		AvgRecoveryPct:  round2(recoverySum / count),
		AvgReward:       round2(rewardSum / count),
		AvgQueueMinutes: round2(latencySum / count / 60000.0),
		TotalCount:      len(rows),
	}
}

// AnomalyMix counts recorded cycles per anomaly category, dropping rows with
// a missing category.
func (a *Aggregator) AnomalyMix() map[string]int {
	mix := make(map[string]int)
	for _, row := range a.readRows() {
		category := strings.TrimSpace(field(row, 2))
		if category == "" {
			continue
		}
		mix[category]++
	}
	return mix
}

// readRows returns the data rows of the tabular log, skipping the header and
// anything unparseable.
func (a *Aggregator) readRows() [][]string {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.metricsPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil || len(records) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(records))
	for i, record := range records {
		if i == 0 && len(record) > 0 && record[0] == metricsHeader[0] {
			continue
		}
		rows = append(rows, record)
	}
	return rows
}

func field(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}

func parseFloatOrZero(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
