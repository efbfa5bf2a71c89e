// Package scheduler runs a background cadence that keeps the Phase 1 macro
// read and the source-intelligence registry's provider scores warm between
// allocation requests, rather than only refreshing them inline on request.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/r3e-network/selun-engine/domain/phases"
	"github.com/r3e-network/selun-engine/domain/sourceintel"
	"github.com/r3e-network/selun-engine/system/framework"
	core "github.com/r3e-network/selun-engine/system/framework/core"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Refresher runs one macro-review pass. Phase1Engine satisfies this: a
// successful run both classifies current market conditions and replaces the
// last-known-good snapshot Phase 1 falls back to when live collection fails.
type Refresher interface {
	Run(ctx context.Context, in phases.Input) (phases.Phase1Output, error)
}

// Config tunes the scheduler's refresh cadence.
type Config struct {
	// Spec is a robfig/cron schedule expression evaluated with seconds
	// support, e.g. "@every 15m" or "0 */15 * * * *".
	Spec string
	// TickTimeout bounds each scheduled refresh.
	TickTimeout time.Duration
}

// DefaultConfig refreshes every 15 minutes with a 30s tick budget.
func DefaultConfig() Config {
	return Config{Spec: "@every 15m", TickTimeout: 30 * time.Second}
}

// Service periodically runs a Phase 1 macro refresh through its Refresher,
// independent of any in-flight allocation request; the registry is only read
// for the tick's completion log line. Grounded on the automation runner's
// ticker-driven lifecycle, swapped for a real cron schedule.
type Service struct {
	framework.ServiceBase

	cfg       Config
	refresher Refresher
	registry  *sourceintel.Registry
	log       *logrus.Entry

	mu    sync.Mutex
	cron  *cron.Cron
	tickN int64
}

// New constructs a scheduler bound to refresher and registry. refresher is
// typically a *phases.Phase1Engine; registry is read back after each tick
// purely for the completion log line.
func New(refresher Refresher, registry *sourceintel.Registry, cfg Config, log *logrus.Logger) *Service {
	if cfg.Spec == "" {
		cfg = DefaultConfig()
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = DefaultConfig().TickTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		ServiceBase: *framework.NewServiceBase("scheduler", "scheduler"),
		cfg:         cfg,
		refresher:   refresher,
		registry:    registry,
		log:         log.WithField("service", "scheduler"),
	}
}

// Descriptor advertises the scheduler's architectural placement for orchestration.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "scheduler",
		Domain:       "scheduler",
		Layer:        core.LayerRunner,
		Capabilities: []string{"macro-refresh", "source-rescan"},
	}
}

// Start registers the refresh job and begins the cron loop. It is a no-op
// when refresher is nil, so deployments without a scheduler config still
// start cleanly.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	if s.refresher == nil {
		s.log.Info("scheduler disabled: no refresher configured")
		s.MarkStarted()
		return nil
	}

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(s.cfg.Spec, s.tick); err != nil {
		return fmt.Errorf("scheduler: register refresh job %q: %w", s.cfg.Spec, err)
	}
	c.Start()
	s.cron = c
	s.MarkStarted()
	s.log.WithField("spec", s.cfg.Spec).Info("scheduler started")
	return nil
}

// Stop drains any in-flight tick and stops the cron loop.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		s.MarkStopped()
		return nil
	}

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.MarkStopped()
		return ctx.Err()
	}
	s.MarkStopped()
	s.log.Info("scheduler stopped")
	return nil
}

// tick runs one off-request macro refresh. Panics are caught so a single bad
// tick cannot take the cron loop down with it.
func (s *Service) tick() {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("scheduled macro refresh panicked")
		}
	}()

	s.mu.Lock()
	s.tickN++
	n := s.tickN
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TickTimeout)
	defer cancel()

	jobID := fmt.Sprintf("scheduler-refresh-%d", n)
	if _, err := s.refresher.Run(ctx, phases.Input{JobID: jobID, ExecutionTimestamp: time.Now()}); err != nil {
		s.log.WithError(err).Warn("scheduled macro refresh failed")
		return
	}

	records := 0
	if s.registry != nil {
		records = len(s.registry.Snapshot())
	}
	s.log.WithField("tracked_providers", records).Debug("scheduled macro refresh complete")
}
