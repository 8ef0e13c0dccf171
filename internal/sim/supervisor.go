package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/opsmendstack/opsmend-heal/internal/config"
	"github.com/opsmendstack/opsmend-heal/internal/engine"
	"github.com/opsmendstack/opsmend-heal/internal/metrics"
	"github.com/opsmendstack/opsmend-heal/internal/models"
)

// Observer receives one synthetic workflow latency sample per iteration. The
// healing pipeline implements it.
type Observer interface {
	Observe(ctx context.Context, workflowID string, latencyMs int) (*engine.CycleResult, error)
}

// Supervisor drives the background healing loop: every iteration it draws a
// workflow and a synthetic latency and feeds them to the observer. Start and
// Stop are mutually atomic; at most one worker goroutine runs at a time.
type Supervisor struct {
	cfg      config.SimulatorConfig
	observer Observer
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	rng    *rand.Rand
}

// NewSupervisor constructs a stopped supervisor.
func NewSupervisor(cfg config.SimulatorConfig, observer Observer, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Workflows) == 0 {
		cfg.Workflows = []string{"invoice_processing", "order_processing", "customer_support"}
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 5 * time.Second
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 3 * time.Second
	}
	if cfg.MinLatencyMs <= 0 {
		cfg.MinLatencyMs = 2000
	}
	if cfg.MaxLatencyMs < cfg.MinLatencyMs {
		cfg.MaxLatencyMs = cfg.MinLatencyMs
	}
	return &Supervisor{
		cfg:      cfg,
		observer: observer,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start launches the worker goroutine. Starting a running supervisor is a
// no-op reported as already_running.
func (s *Supervisor) Start() models.SupervisorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return models.SupervisorAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.logger.Info("simulation supervisor started",
		slog.Int("workflows", len(s.cfg.Workflows)),
		slog.Duration("min_interval", s.cfg.MinInterval),
		slog.Duration("max_interval", s.cfg.MaxInterval),
	)
	return models.SupervisorStarted
}

// Stop cancels the worker and waits for it to exit. Cancellation interrupts
// the sleep between iterations and any reasoning call, but an in-flight local
// dispatch and record still runs to completion, so Stop can take up to one
// iteration to return. Stopping a stopped supervisor reports not_running.
func (s *Supervisor) Stop() models.SupervisorStatus {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return models.SupervisorNotRunning
	}
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done

	s.logger.Info("simulation supervisor stopped")
	return models.SupervisorStopped
}

// Running reports whether the worker goroutine is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Supervisor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		metrics.CountSimulatorIteration()

		wait := s.nextInterval()
		if err := s.iterate(ctx); err != nil {
			s.logger.Error("simulation iteration failed", slog.Any("error", err))
			wait = s.cfg.ErrorBackoff
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// iterate runs one synthetic observation. A panic inside the pipeline is
// contained here so the loop survives.
func (s *Supervisor) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iteration panic: %v", r)
		}
	}()

	workflowID, latencyMs := s.drawSample()
	result, err := s.observer.Observe(ctx, workflowID, latencyMs)
	if err != nil {
		return err
	}
	if result == nil {
		s.logger.Debug("simulated workflow healthy",
			slog.String("workflow", workflowID),
			slog.Int("latency_ms", latencyMs),
		)
	}
	return nil
}

func (s *Supervisor) drawSample() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	workflowID := s.cfg.Workflows[s.rng.Intn(len(s.cfg.Workflows))]
	latencyMs := s.cfg.MinLatencyMs + s.rng.Intn(s.cfg.MaxLatencyMs-s.cfg.MinLatencyMs+1)
	return workflowID, latencyMs
}

func (s *Supervisor) nextInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	span := s.cfg.MaxInterval - s.cfg.MinInterval
	if span <= 0 {
		return s.cfg.MinInterval
	}
	return s.cfg.MinInterval + time.Duration(s.rng.Int63n(int64(span)+1))
}
