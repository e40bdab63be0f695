package docket

import (
	"context"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces submission and request identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Processor drives one case to a terminal outcome.
type Processor interface {
	Process(ctx context.Context, ref CaseRef) Outcome
}

// Publisher pushes case-processed notifications to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// OutcomeStore persists terminal outcomes outside the object store.
type OutcomeStore interface {
	StoreOutcome(ctx context.Context, outcome Outcome) error
}

// RecordStore tracks ProcessingRecords while cases are queued or in flight.
type RecordStore interface {
	MarkQueued(ref CaseRef, at time.Time)
	MarkRunning(ref CaseRef, at time.Time)
	MarkTerminal(outcome Outcome)
	Get(ref CaseRef) (ProcessingRecord, bool)
	Discard(ref CaseRef)
}
