package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsmendstack/opsmend-heal/internal/models"
)

type fakeReasoner struct {
	text  string
	err   error
	calls int
	slow  bool
}

func (f *fakeReasoner) Suggest(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.slow {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	return f.text, f.err
}

func TestResolveStaticFallbackTable(t *testing.T) {
	r, err := NewResolver("", nil, time.Second, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	plan := r.Resolve(context.Background(), "invoice_processing", models.CategoryQueuePressure, 0)
	want := models.ActionPlan{"reroute_to_low_queue", "restart_queue_worker"}
	if len(plan) != len(want) {
		t.Fatalf("expected %v, got %v", want, plan)
	}
	for i := range want {
		if plan[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, plan)
		}
	}
}

func TestResolveUnknownCategoryNeverEmpty(t *testing.T) {
	r, err := NewResolver("", nil, time.Second, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	plan := r.Resolve(context.Background(), "wf", models.AnomalyCategory("mystery"), 0)
	if len(plan) != 1 || plan[0] != "notify_ops" {
		t.Fatalf("expected [notify_ops], got %v", plan)
	}
}

func TestResolvePrefersReasonerSuggestion(t *testing.T) {
	reasoner := &fakeReasoner{text: "drain_queue, add_worker , "}
	r, err := NewResolver("", reasoner, time.Second, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	plan := r.Resolve(context.Background(), "wf", models.CategoryQueuePressure, 4200)
	if len(plan) != 2 || plan[0] != "drain_queue" || plan[1] != "add_worker" {
		t.Fatalf("expected trimmed reasoner plan, got %v", plan)
	}
	if reasoner.calls != 1 {
		t.Fatalf("expected one reasoner call, got %d", reasoner.calls)
	}
}

func TestResolveFallsBackOnReasonerError(t *testing.T) {
	reasoner := &fakeReasoner{err: errors.New("upstream unavailable")}
	r, err := NewResolver("", reasoner, time.Second, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	plan := r.Resolve(context.Background(), "wf", models.CategoryAPIFailure, 0)
	if len(plan) == 0 || plan[0] != "switch_to_backup_endpoint" {
		t.Fatalf("expected static api_failure plan, got %v", plan)
	}
}

func TestResolveFallsBackOnEmptySuggestion(t *testing.T) {
	reasoner := &fakeReasoner{text: " , ,, "}
	r, err := NewResolver("", reasoner, time.Second, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	plan := r.Resolve(context.Background(), "wf", models.CategoryDataError, 0)
	if len(plan) != 3 || plan[0] != "rollback_last_step" {
		t.Fatalf("expected static data_error plan, got %v", plan)
	}
}

func TestResolveTimeoutBoundsReasoner(t *testing.T) {
	reasoner := &fakeReasoner{slow: true}
	r, err := NewResolver("", reasoner, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	start := time.Now()
	plan := r.Resolve(context.Background(), "wf", models.CategoryWorkflowDelay, 0)
	if time.Since(start) > time.Second {
		t.Fatalf("resolver did not enforce its timeout")
	}
	if len(plan) == 0 || plan[0] != "scale_workers" {
		t.Fatalf("expected static workflow_delay plan after timeout, got %v", plan)
	}
}

func TestPolicyPackOverridesTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	pack := `policies:
  - category: queue_pressure
    actions: [pause_ingest, restart_queue_worker]
  - category: disk_pressure
    actions: [expand_volume]
  - category: ""
    actions: [ignored]
`
	if err := os.WriteFile(path, []byte(pack), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}

	r, err := NewResolver(path, nil, time.Second, nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	plan := r.Lookup(models.CategoryQueuePressure)
	if len(plan) != 2 || plan[0] != "pause_ingest" {
		t.Fatalf("expected pack override, got %v", plan)
	}
	extra := r.Lookup(models.AnomalyCategory("disk_pressure"))
	if len(extra) != 1 || extra[0] != "expand_volume" {
		t.Fatalf("expected pack extension, got %v", extra)
	}
}
