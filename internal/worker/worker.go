// Package worker implements the case execution loop: dequeue a case, run it
// through the processor, then record, mirror and announce the outcome.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
	"github.com/JakeFAU/docket-pipeline/internal/metrics"
)

// Queue yields case references in FIFO order.
type Queue interface {
	Dequeue(ctx context.Context) (docket.CaseRef, error)
}

// Tracker brackets each run so the scheduler can coalesce submissions for
// cases that are already running.
type Tracker interface {
	// Begin marks ref running and returns it with any Force requested while
	// it was queued.
	Begin(ref docket.CaseRef) docket.CaseRef
	// Finish releases ref once its outcome has been recorded.
	Finish(ref docket.CaseRef)
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives a docket.Notification per terminal outcome. Empty
	// disables publishing.
	Topic string
}

// Worker consumes case references and executes the processing pipeline.
type Worker struct {
	queue     Queue
	tracker   Tracker
	processor docket.Processor
	records   docket.RecordStore
	outcomes  docket.OutcomeStore
	publisher docket.Publisher
	clock     docket.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. outcomes and publisher may be nil.
func New(
	queue Queue,
	tracker Tracker,
	processor docket.Processor,
	records docket.RecordStore,
	outcomes docket.OutcomeStore,
	publisher docket.Publisher,
	clock docket.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		tracker:   tracker,
		processor: processor,
		records:   records,
		outcomes:  outcomes,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// Run blocks, processing cases until ctx ends or the queue closes. A case
// that has been dequeued runs to its terminal outcome even if ctx ends
// meanwhile.
func (w *Worker) Run(ctx context.Context) {
	for {
		ref, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Info("worker stopping", zap.Error(err))
			}
			return
		}
		w.logger.Debug("dequeued case", zap.String("case", ref.ID()))
		w.processCase(context.WithoutCancel(ctx), ref)
	}
}

func (w *Worker) processCase(ctx context.Context, ref docket.CaseRef) {
	if w.tracker != nil {
		ref = w.tracker.Begin(ref)
		defer w.tracker.Finish(ref)
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	w.records.MarkRunning(ref, w.clock.Now())
	out := w.run(ctx, ref)
	w.records.MarkTerminal(out)

	if w.outcomes != nil {
		if err := w.outcomes.StoreOutcome(ctx, out); err != nil {
			w.logger.Warn("outcome mirror write failed", zap.String("case", ref.ID()), zap.Error(err))
		}
	}
	if err := w.publishOutcome(ctx, out); err != nil {
		w.logger.Warn("outcome notification failed", zap.String("case", ref.ID()), zap.Error(err))
	}
}

// run invokes the processor, converting a panic into a failed outcome so
// the case still reaches a terminal state.
func (w *Worker) run(ctx context.Context, ref docket.CaseRef) (out docket.Outcome) {
	started := w.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("processor panicked", zap.String("case", ref.ID()), zap.Any("panic", r))
			out = docket.Failed(ref, fmt.Errorf("processor panic: %v", r))
			out.StartedAt = started
			out.FinishedAt = w.clock.Now()
		}
	}()
	return w.processor.Process(ctx, ref)
}

func (w *Worker) publishOutcome(ctx context.Context, out docket.Outcome) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, docket.NewNotification(out))
	if err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	w.logger.Debug("outcome published",
		zap.String("case", out.Case.ID()),
		zap.String("status", string(out.Status)),
		zap.String("message_id", id),
	)
	return nil
}
