package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

const defaultTerminalRetention = 1024

// RecordStore keeps ProcessingRecords for queued and running cases, plus the
// most recent terminal records so status lookups can report how a case ended.
type RecordStore struct {
	mu        sync.RWMutex
	records   map[string]docket.ProcessingRecord
	terminal  []string
	retention int
}

// NewRecordStore constructs a RecordStore retaining up to retention terminal
// records (a default is used when retention <= 0).
func NewRecordStore(retention int) *RecordStore {
	if retention <= 0 {
		retention = defaultTerminalRetention
	}
	return &RecordStore{
		records:   make(map[string]docket.ProcessingRecord),
		retention: retention,
	}
}

// MarkQueued creates or resets the record for ref.
func (s *RecordStore) MarkQueued(ref docket.CaseRef, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropTerminal(ref.ID())
	s.records[ref.ID()] = docket.ProcessingRecord{
		Case:       ref,
		State:      docket.RecordQueued,
		RawKey:     ref.RawKey(),
		EnqueuedAt: at,
	}
}

// MarkRunning stamps the start time.
func (s *RecordStore) MarkRunning(ref docket.CaseRef, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ref.ID()]
	if !ok {
		rec = docket.ProcessingRecord{Case: ref, RawKey: ref.RawKey(), EnqueuedAt: at}
	}
	rec.State = docket.RecordRunning
	rec.StartedAt = pointerTime(at)
	s.records[ref.ID()] = rec
}

// MarkTerminal attaches the outcome and moves the record into the bounded
// terminal window.
func (s *RecordStore) MarkTerminal(outcome docket.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := outcome.Case.ID()
	rec, ok := s.records[id]
	if !ok {
		rec = docket.ProcessingRecord{Case: outcome.Case, RawKey: outcome.Case.RawKey()}
	}
	out := outcome
	rec.State = docket.RecordTerminal
	rec.Outcome = &out
	rec.ProcessedKey = outcome.ProcessedKey
	rec.FinishedAt = pointerTime(outcome.FinishedAt)
	s.records[id] = rec

	s.dropTerminal(id)
	s.terminal = append(s.terminal, id)
	for len(s.terminal) > s.retention {
		evict := s.terminal[0]
		s.terminal = s.terminal[1:]
		if r, ok := s.records[evict]; ok && r.State == docket.RecordTerminal {
			delete(s.records, evict)
		}
	}
}

// Get returns a copy of the record for ref.
func (s *RecordStore) Get(ref docket.CaseRef) (docket.ProcessingRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[ref.ID()]
	return rec, ok
}

// Discard drops the record for ref.
func (s *RecordStore) Discard(ref docket.CaseRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropTerminal(ref.ID())
	delete(s.records, ref.ID())
}

// dropTerminal removes id from the terminal window so each case holds at
// most one slot. Callers hold mu.
func (s *RecordStore) dropTerminal(id string) {
	s.terminal = slices.DeleteFunc(s.terminal, func(t string) bool { return t == id })
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
