// Package dispatcher implements the task scheduler: it admits case
// references into the FIFO, coalesces duplicates and runs the worker pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
	"github.com/JakeFAU/docket-pipeline/internal/metrics"
	"github.com/JakeFAU/docket-pipeline/internal/queue/memory"
	"github.com/JakeFAU/docket-pipeline/internal/worker"
)

// ErrQueueFull is returned by Enqueue when the queue has no room.
var ErrQueueFull = errors.New("scheduler queue full")

// ErrStopped is returned by Enqueue after Run has returned.
var ErrStopped = errors.New("scheduler stopped")

// Config sizes the scheduler.
type Config struct {
	Workers    int
	QueueDepth int
	Topic      string
}

type entry struct {
	ref     docket.CaseRef
	running bool
	rerun   bool
	force   bool
}

// Scheduler admits cases and drives them through a fixed worker pool. At
// most one run per case identity is queued or in flight at any time.
type Scheduler struct {
	queue   *memory.Queue
	records docket.RecordStore
	clock   docket.Clock
	workers []*worker.Worker
	logger  *zap.Logger

	mu       sync.Mutex
	inflight map[string]*entry
	stopped  bool
}

// New wires a Scheduler. outcomes and publisher may be nil.
func New(
	processor docket.Processor,
	records docket.RecordStore,
	outcomes docket.OutcomeStore,
	publisher docket.Publisher,
	clock docket.Clock,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		queue:    memory.NewQueue(cfg.QueueDepth),
		records:  records,
		clock:    clock,
		logger:   logger.Named("scheduler"),
		inflight: make(map[string]*entry),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.workers = append(s.workers, worker.New(
			s.queue, s, processor, records, outcomes, publisher, clock,
			worker.Config{Topic: cfg.Topic},
			logger.With(zap.Int("worker", i)),
		))
	}
	return s
}

// Enqueue admits ref. It reports false when ref was coalesced into a run
// that is already queued or in flight. A submission that arrives while its
// case is running schedules exactly one follow-up run, so the newest staged
// payload is always processed.
func (s *Scheduler) Enqueue(_ context.Context, ref docket.CaseRef) (bool, error) {
	if err := ref.Validate(); err != nil {
		return false, fmt.Errorf("invalid case ref: %w", err)
	}
	id := ref.ID()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false, ErrStopped
	}
	if e, ok := s.inflight[id]; ok {
		e.force = e.force || ref.Force
		if e.running {
			e.rerun = true
		}
		s.mu.Unlock()
		metrics.ObserveEnqueue("coalesced")
		s.logger.Debug("enqueue coalesced", zap.String("case", id))
		return false, nil
	}
	if err := s.queue.TryEnqueue(ref); err != nil {
		s.mu.Unlock()
		metrics.ObserveEnqueue("rejected")
		if errors.Is(err, memory.ErrFull) {
			return false, ErrQueueFull
		}
		return false, ErrStopped
	}
	s.inflight[id] = &entry{ref: ref, force: ref.Force}
	s.records.MarkQueued(ref, s.clock.Now())
	s.mu.Unlock()

	metrics.ObserveEnqueue("admitted")
	metrics.SetQueueDepth(s.queue.Len())
	s.logger.Debug("case admitted", zap.String("case", id), zap.Bool("force", ref.Force))
	return true, nil
}

// Begin implements worker.Tracker.
func (s *Scheduler) Begin(ref docket.CaseRef) docket.CaseRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.SetQueueDepth(s.queue.Len())
	e, ok := s.inflight[ref.ID()]
	if !ok {
		e = &entry{ref: ref}
		s.inflight[ref.ID()] = e
	}
	e.running = true
	ref.Force = ref.Force || e.force
	e.force = false
	return ref
}

// Finish implements worker.Tracker.
func (s *Scheduler) Finish(ref docket.CaseRef) {
	id := ref.ID()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.inflight[id]
	if !ok {
		return
	}
	if !e.rerun || s.stopped {
		delete(s.inflight, id)
		return
	}
	next := docket.CaseRef{Key: ref.Key, GovID: ref.GovID, Force: e.force}
	if err := s.queue.TryEnqueue(next); err != nil {
		delete(s.inflight, id)
		s.logger.Warn("follow-up run dropped; resubmit to process latest payload",
			zap.String("case", id), zap.Error(err))
		return
	}
	*e = entry{ref: next, force: e.force}
	s.records.MarkQueued(next, s.clock.Now())
	s.logger.Debug("follow-up run queued", zap.String("case", id))
}

// Status returns the ProcessingRecord for ref.
func (s *Scheduler) Status(ref docket.CaseRef) (docket.ProcessingRecord, bool) {
	return s.records.Get(ref)
}

// Run starts the worker pool and blocks until ctx ends. Cases already
// dequeued run to completion before Run returns; cases still queued are
// dropped and reported.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range s.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	s.logger.Info("scheduler started", zap.Int("workers", len(s.workers)))
	<-ctx.Done()

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.queue.Close()
	wg.Wait()

	s.mu.Lock()
	pending := 0
	for id, e := range s.inflight {
		if !e.running {
			pending++
			s.records.Discard(e.ref)
		}
		delete(s.inflight, id)
	}
	s.mu.Unlock()
	s.logger.Info("scheduler stopped", zap.Int("abandoned_cases", pending))
}
