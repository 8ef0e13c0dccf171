package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opsmendstack/opsmend-heal/internal/models"
)

// Reasoner is the external action-suggestion collaborator. Implementations
// must honour context cancellation; the resolver bounds every call.
type Reasoner interface {
	Suggest(ctx context.Context, prompt string) (string, error)
}

// fallbackAction is returned for categories no policy covers.
const fallbackAction = "notify_ops"

// Resolver maps an anomaly category to an ordered action plan. The reasoning
// collaborator is consulted first when configured; the static policy table is
// the unconditional backstop, so resolution always succeeds.
type Resolver struct {
	table    map[models.AnomalyCategory]models.ActionPlan
	reasoner Reasoner
	timeout  time.Duration
	logger   *slog.Logger
}

// PolicyEntry binds one anomaly category to its remediation actions.
type PolicyEntry struct {
	Category string   `yaml:"category"`
	Actions  []string `yaml:"actions"`
}

// PolicyFile is the YAML root structure of a policy pack.
type PolicyFile struct {
	Policies []PolicyEntry `yaml:"policies"`
}

// NewResolver builds a resolver from the built-in policy table, optionally
// overlaid with a policy pack at path and fronted by a reasoner. The reasoner
// may be nil.
func NewResolver(path string, reasoner Reasoner, timeout time.Duration, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 6 * time.Second
	}

	table := defaultPolicyTable()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Built-in table stands alone.
		case err != nil:
			return nil, fmt.Errorf("read policy pack: %w", err)
		default:
			var pack PolicyFile
			if err := yaml.Unmarshal(data, &pack); err != nil {
				return nil, fmt.Errorf("parse policy pack: %w", err)
			}
			for _, entry := range pack.Policies {
				actions := trimActions(entry.Actions)
				if entry.Category == "" || len(actions) == 0 {
					continue
				}
				table[models.AnomalyCategory(entry.Category)] = actions
			}
		}
	}

	return &Resolver{
		table:    table,
		reasoner: reasoner,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Resolve produces an action plan for the anomaly. The returned plan is never
// empty and resolution never reports an error to the caller.
func (r *Resolver) Resolve(ctx context.Context, workflowID string, category models.AnomalyCategory, latencyMs int) models.ActionPlan {
	if plan := r.suggest(ctx, workflowID, category, latencyMs); len(plan) > 0 {
		return plan
	}
	return r.Lookup(category)
}

// Lookup returns the static table entry for a category, or the generic
// notify_ops plan when the category is unknown.
func (r *Resolver) Lookup(category models.AnomalyCategory) models.ActionPlan {
	if plan, ok := r.table[category]; ok {
		return append(models.ActionPlan(nil), plan...)
	}
	return models.ActionPlan{fallbackAction}
}

// Categories lists the categories the static table covers.
func (r *Resolver) Categories() []models.AnomalyCategory {
	out := make([]models.AnomalyCategory, 0, len(r.table))
	for category := range r.table {
		out = append(out, category)
	}
	return out
}

func (r *Resolver) suggest(ctx context.Context, workflowID string, category models.AnomalyCategory, latencyMs int) models.ActionPlan {
	if r.reasoner == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"A system reports anomaly %q in the %q workflow (observed latency %dms). "+
			"Suggest 2-3 concise healing actions to automatically restore stability. "+
			"Return them as a simple comma-separated list of snake_case identifiers.",
		category, workflowID, latencyMs,
	)

	text, err := r.reasoner.Suggest(ctx, prompt)
	if err != nil {
		r.logger.Warn("reasoning suggestion failed, using policy table",
			slog.String("category", string(category)), slog.Any("error", err))
		return nil
	}

	plan := trimActions(strings.Split(text, ","))
	if len(plan) == 0 {
		r.logger.Warn("reasoning returned no usable actions, using policy table",
			slog.String("category", string(category)))
		return nil
	}
	return plan
}

func defaultPolicyTable() map[models.AnomalyCategory]models.ActionPlan {
	return map[models.AnomalyCategory]models.ActionPlan{
		models.CategoryQueuePressure: {"reroute_to_low_queue", "restart_queue_worker"},
		models.CategoryDataError:     {"rollback_last_step", "open_ticket", "revalidate_data_source"},
		models.CategoryWorkflowDelay: {"scale_workers", "restart_node", "optimize_scheduler"},
		models.CategoryAPIFailure:    {"switch_to_backup_endpoint", "retry_request", "refresh_token"},
	}
}

func trimActions(raw []string) models.ActionPlan {
	plan := make(models.ActionPlan, 0, len(raw))
	for _, action := range raw {
		if trimmed := strings.TrimSpace(action); trimmed != "" {
			plan = append(plan, trimmed)
		}
	}
	return plan
}
