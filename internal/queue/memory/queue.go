// Package memory provides the in-process FIFO of case references waiting for
// a worker.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

// Queue errors.
var (
	ErrClosed = errors.New("queue closed")
	ErrFull   = errors.New("queue full")
)

// Queue is a bounded FIFO with context-aware operations.
type Queue struct {
	ch        chan docket.CaseRef
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a queue holding up to capacity references.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan docket.CaseRef, capacity),
		done: make(chan struct{}),
	}
}

// TryEnqueue queues ref without blocking.
func (q *Queue) TryEnqueue(ref docket.CaseRef) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- ref:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue pops the oldest reference, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (docket.CaseRef, error) {
	if err := ctx.Err(); err != nil {
		return docket.CaseRef{}, fmt.Errorf("dequeue canceled: %w", err)
	}
	select {
	case <-q.done:
		return docket.CaseRef{}, ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return docket.CaseRef{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return docket.CaseRef{}, ErrClosed
	case ref := <-q.ch:
		return ref, nil
	}
}

// Len reports how many references are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. References still buffered are abandoned; their
// staged payloads stay in the object store for resubmission.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
