// Package storage - periodic maintenance scheduling for the page store.
//
// What: Runs named maintenance probes (clock sweeps, checkpoint flushes)
// on CRON or fixed-interval schedules.
// How: robfig/cron drives CRON-expression jobs; a ticking goroutine drives
// "@every"-style fixed intervals, generalized from the original SQL job
// scheduler's CRON/INTERVAL/ONCE split down to the two schedule kinds a
// maintenance probe actually needs (CRON expressions stay useful for
// "once a day at 03:00"-style checkpoint policies; everything else is a
// plain interval).
package storage

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Probe is a named maintenance task the scheduler can run, e.g. a buffer
// pool sweep pass or a checkpoint flush.
type Probe struct {
	Name       string
	Run        func(ctx context.Context) error
	NoOverlap  bool          // skip a tick if the previous run is still in flight
	MaxRuntime time.Duration // 0 = the default of 5 minutes
}

type probeExecution struct {
	startTime time.Time
	cancelFn  context.CancelFunc
}

// Scheduler runs a set of Probes against a WorkerPool, either on a CRON
// expression or a fixed interval. Grounded on tinySQL's scheduler.go Job
// scheduler (cron.Cron for CRON jobs, a 1-second ticker for interval
// jobs, a running map guarding no_overlap), generalized from executing
// arbitrary SQL text to invoking a probe's Run function directly.
type Scheduler struct {
	pool *WorkerPool
	cron *cron.Cron

	mu       sync.Mutex
	running  map[string]*probeExecution
	interval map[string]intervalEntry

	stopCh chan struct{}
}

type intervalEntry struct {
	probe   Probe
	every   time.Duration
	nextRun time.Time
}

// NewScheduler creates a Scheduler that submits probe runs to pool.
func NewScheduler(pool *WorkerPool) *Scheduler {
	return &Scheduler{
		pool:     pool,
		cron:     cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		running:  make(map[string]*probeExecution),
		interval: make(map[string]intervalEntry),
		stopCh:   make(chan struct{}),
	}
}

// AddCronProbe schedules probe to run whenever cronExpr fires (standard
// six-field cron.WithSeconds syntax, e.g. "0 */5 * * * *" for every five
// minutes).
func (s *Scheduler) AddCronProbe(cronExpr string, probe Probe) error {
	_, err := s.cron.AddFunc(cronExpr, func() {
		s.executeProbe(probe)
	})
	if err != nil {
		return fmt.Errorf("storage: schedule cron probe %q: %w", probe.Name, err)
	}
	return nil
}

// AddIntervalProbe schedules probe to run every d, starting d from now.
// This covers the common "@every 30s"-style maintenance cadence without
// requiring callers to hand-build a cron expression for it. The interval
// loop ticks at the shortest interval registered before Start, at most
// once a second; a shorter d added after Start runs on that coarser tick.
func (s *Scheduler) AddIntervalProbe(d time.Duration, probe Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval[probe.Name] = intervalEntry{probe: probe, every: d, nextRun: time.Now().Add(d)}
}

// Start launches the cron scheduler and the interval ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
	go s.runIntervalLoop()
}

// Stop halts both schedulers and cancels any in-flight probe runs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	close(s.stopCh)

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, exec := range s.running {
		log.Printf("storage: cancelling in-flight probe %q", name)
		exec.cancelFn()
	}
}

func (s *Scheduler) runIntervalLoop() {
	tick := time.Second
	s.mu.Lock()
	for _, e := range s.interval {
		if e.every > 0 && e.every < tick {
			tick = e.every
		}
	}
	s.mu.Unlock()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			due := make([]intervalEntry, 0)
			for name, e := range s.interval {
				if !now.Before(e.nextRun) {
					due = append(due, e)
					e.nextRun = now.Add(e.every)
					s.interval[name] = e
				}
			}
			s.mu.Unlock()
			for _, e := range due {
				s.executeProbe(e.probe)
			}
		}
	}
}

func (s *Scheduler) executeProbe(probe Probe) {
	s.mu.Lock()
	if probe.NoOverlap {
		if _, running := s.running[probe.Name]; running {
			s.mu.Unlock()
			log.Printf("storage: probe %q already running, skipping this tick", probe.Name)
			return
		}
	}
	timeout := probe.MaxRuntime
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	s.running[probe.Name] = &probeExecution{startTime: time.Now(), cancelFn: cancel}
	s.mu.Unlock()

	err := s.pool.Submit(ctx, Task{
		Name: probe.Name,
		Run: func(ctx context.Context) error {
			defer func() {
				s.mu.Lock()
				delete(s.running, probe.Name)
				s.mu.Unlock()
				cancel()
			}()
			return probe.Run(ctx)
		},
	})
	if err != nil {
		log.Printf("storage: submit probe %q: %v", probe.Name, err)
		s.mu.Lock()
		delete(s.running, probe.Name)
		s.mu.Unlock()
		cancel()
	}
}
