package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wellsgz/pingmon/internal/logging"
	"github.com/wellsgz/pingmon/internal/probe"
	"github.com/wellsgz/pingmon/internal/target"
)

// Prober runs one probe against one target
type Prober interface {
	Execute(ctx context.Context, t target.Target, seq uint16) (probe.Result, error)
}

// Scheduler fans out one probe per registered target on every tick. It
// never waits for the previous tick's probes, so a slow or dead target
// cannot delay any other.
type Scheduler struct {
	registry *target.Registry
	prober   Prober
	interval time.Duration
	sem      *semaphore.Weighted // nil = unbounded

	seqMu sync.Mutex
	seq   uint16

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler. maxInFlight caps concurrently running
// probes; 0 leaves fan-out unbounded.
func NewScheduler(registry *target.Registry, prober Prober, interval time.Duration, maxInFlight int64) *Scheduler {
	s := &Scheduler{
		registry: registry,
		prober:   prober,
		interval: interval,
	}
	if maxInFlight > 0 {
		s.sem = semaphore.NewWeighted(maxInFlight)
	}
	return s
}

// nextSeq advances and returns the echo sequence number. The first probe
// carries 1; 65535 wraps to 0.
func (s *Scheduler) nextSeq() uint16 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}

// Tick starts one probe per target in the current snapshot and returns how
// many were started. It does not wait for them.
func (s *Scheduler) Tick(ctx context.Context) int {
	targets := s.registry.Targets()
	for _, t := range targets {
		seq := s.nextSeq()
		s.wg.Add(1)
		go func(t target.Target, seq uint16) {
			defer s.wg.Done()
			s.runProbe(ctx, t, seq)
		}(t, seq)
	}
	return len(targets)
}

// Run ticks immediately and then every interval until ctx is done. Probes
// still in flight at shutdown run to their own timeout; use Wait to drain.
func (s *Scheduler) Run(ctx context.Context) error {
	logging.Info("Scheduler", fmt.Sprintf("Probing every %s", s.interval), nil)

	// Probes outlive the loop so shutdown doesn't record spurious timeouts
	probeCtx := context.WithoutCancel(ctx)

	s.Tick(probeCtx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("Scheduler", "Stopping probes", nil)
			return nil
		case <-ticker.C:
			s.Tick(probeCtx)
		}
	}
}

// Wait blocks until every started probe has finished
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// runProbe executes a single probe and logs the outcome
func (s *Scheduler) runProbe(ctx context.Context, t target.Target, seq uint16) {
	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)
	}

	result, err := s.prober.Execute(ctx, t, seq)
	if err != nil {
		logging.Error("Probe", fmt.Sprintf("%s seq=%d", t, seq), err)
		return
	}

	logging.ProbeResult(t.Key(), t.Address, seq, result.Sample.LatencyMs, result.Success, result.Error)
}
