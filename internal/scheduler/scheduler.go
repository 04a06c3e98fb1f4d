// Package scheduler wires the fast loop, slow loop, and enrichment
// workers into cooperatively-scheduled goroutines with jittered sleeps
// and signal-driven graceful shutdown (§5), using the same
// signal.Notify + context.WithTimeout shutdown pattern an HTTP server
// would use, generalized from one server to several concurrent polling
// loops.
package scheduler

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Loop is one independently-scheduled task: RunCycle does one pass; the
// scheduler sleeps Interval (±jitter) between calls.
type Loop struct {
	Name      string
	Interval  time.Duration
	JitterPct float64
	RunCycle  func(ctx context.Context)
}

// Worker is a task that runs continuously until ctx is cancelled (e.g. an
// enrichment worker's own claim/process/sleep loop).
type Worker struct {
	Name string
	Run  func(ctx context.Context)
}

// Scheduler runs a set of Loops and Workers concurrently and coordinates
// graceful shutdown on SIGINT/SIGTERM (§5).
type Scheduler struct {
	loops   []Loop
	workers []Worker
	log     zerolog.Logger
}

// New constructs an empty Scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{log: log.With().Str("component", "scheduler").Logger()}
}

// AddLoop registers a periodic loop.
func (s *Scheduler) AddLoop(l Loop) {
	s.loops = append(s.loops, l)
}

// AddWorker registers a continuously-running worker.
func (s *Scheduler) AddWorker(w Worker) {
	s.workers = append(s.workers, w)
}

// Run starts every registered loop and worker, blocking until a shutdown
// signal is received or shutdownTimeout elapses during drain.
func (s *Scheduler) Run(shutdownTimeout time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup

	for _, l := range s.loops {
		wg.Add(1)
		go func(l Loop) {
			defer wg.Done()
			s.runLoop(ctx, l)
		}(l)
	}

	for _, w := range s.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			s.log.Info().Str("worker", w.Name).Msg("starting worker")
			w.Run(ctx)
			s.log.Info().Str("worker", w.Name).Msg("worker stopped")
		}(w)
	}

	<-stop
	s.log.Info().Msg("shutdown signal received, draining")
	cancel()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.log.Info().Msg("all loops and workers drained")
	case <-time.After(shutdownTimeout):
		s.log.Warn().Msg("shutdown timeout exceeded, exiting anyway")
	}
}

func (s *Scheduler) runLoop(ctx context.Context, l Loop) {
	s.log.Info().Str("loop", l.Name).Dur("interval", l.Interval).Msg("starting loop")
	for {
		if ctx.Err() != nil {
			s.log.Info().Str("loop", l.Name).Msg("loop stopped")
			return
		}
		l.RunCycle(ctx)
		if !sleepJittered(ctx, l.Interval, l.JitterPct) {
			s.log.Info().Str("loop", l.Name).Msg("loop stopped")
			return
		}
	}
}

// sleepJittered sleeps base ± jitterFrac of base, returning false if ctx
// is cancelled first (§5: "the shutdown flag aborts sleeps immediately").
// A non-positive jitterFrac is replaced by 0.1, so every loop is jittered.
func sleepJittered(ctx context.Context, base time.Duration, jitterFrac float64) bool {
	if jitterFrac <= 0 {
		jitterFrac = 0.1
	}
	factor := 1 - jitterFrac + rand.Float64()*2*jitterFrac
	d := time.Duration(float64(base) * factor)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
