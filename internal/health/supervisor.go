// Package health runs the single periodic probe loop that decides whether
// the primary origin is authoritative. It is grounded in the teacher's
// HTTPHealthChecker (stopCh/sync.WaitGroup cooperative shutdown, a single
// background goroutine) but drops the heap-based multi-endpoint scheduler
// and circuit breaker: with exactly one probe target, a time.Ticker already
// serializes checks, and the state cell's own threshold counters are the
// only debouncing mechanism the design calls for.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/corvidae/relay/internal/logger"
	"github.com/corvidae/relay/internal/state"
	"github.com/corvidae/relay/internal/upstream"
	"github.com/corvidae/relay/pkg/eventbus"
)

// Supervisor periodically probes the primary and feeds the result into the
// shared state cell, publishing any resulting transition to the bus.
type Supervisor struct {
	cell   *state.Cell
	client *upstream.Client
	bus    *eventbus.EventBus[state.TransitionEvent]
	log    *logger.StyledLogger

	primaryURL   string
	probeMethod  string
	probePath    string
	probeTimeout time.Duration
	interval     time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a supervisor. It does not start the probe loop; call Run.
func New(
	cell *state.Cell,
	client *upstream.Client,
	bus *eventbus.EventBus[state.TransitionEvent],
	log *logger.StyledLogger,
	primaryURL, probeMethod, probePath string,
	probeTimeout, interval time.Duration,
) *Supervisor {
	return &Supervisor{
		cell:         cell,
		client:       client,
		bus:          bus,
		log:          log,
		primaryURL:   primaryURL,
		probeMethod:  probeMethod,
		probePath:    probePath,
		probeTimeout: probeTimeout,
		interval:     interval,
		stopCh:       make(chan struct{}),
	}
}

// Run starts the probe loop on its own goroutine and returns immediately.
// The first probe fires right away, not after an interval delay, per
// spec.md's startup contract.
func (s *Supervisor) Run(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop signals the probe loop to exit and waits for the in-flight probe,
// if any, to return. Abandoned probes are not cancelled mid-flight beyond
// their own probeTimeout.
func (s *Supervisor) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Supervisor) loop(ctx context.Context) {
	defer s.wg.Done()

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs exactly one probe and applies its result. Interval is measured
// between tick invocations via the ticker, not between probe completions,
// but since probes never overlap (this goroutine is the only caller) a slow
// probe simply delays the next tick rather than causing concurrent probes.
func (s *Supervisor) tick(ctx context.Context) {
	err := s.client.Probe(ctx, s.primaryURL, s.probeMethod, s.probePath, s.probeTimeout)

	var ev *state.TransitionEvent
	if err != nil {
		if s.log != nil {
			s.log.WarnProbe(s.primaryURL, err)
		}
		ev = s.cell.RecordProbeFailure(err)
	} else {
		ev = s.cell.RecordProbeSuccess()
	}

	if ev == nil {
		return
	}

	if s.log != nil {
		switch ev.Kind {
		case state.Failover:
			s.log.InfoTransition(s.primaryURL, "primary", "backup")
		case state.Recovery:
			s.log.InfoTransition(s.primaryURL, "backup", "primary", "downtime_seconds", ev.DowntimeSeconds)
		}
	}

	if s.bus != nil {
		s.bus.PublishAsync(*ev)
	}
}
