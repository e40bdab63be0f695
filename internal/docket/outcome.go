package docket

import "time"

// OutcomeStatus is the terminal state of one processing run.
type OutcomeStatus string

// Terminal outcome values.
const (
	OutcomeSucceeded      OutcomeStatus = "succeeded"
	OutcomePartialSuccess OutcomeStatus = "partial_success"
	OutcomeUnchanged      OutcomeStatus = "unchanged"
	OutcomeFailed         OutcomeStatus = "failed"
)

// AttachmentOutcome records how a single attachment resolved.
type AttachmentOutcome struct {
	FilingIndex     int              `json:"filing_index"`
	AttachmentIndex int              `json:"attachment_index"`
	URL             string           `json:"url"`
	Status          AttachmentStatus `json:"status"`
	Digest          string           `json:"digest,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	Detail          string           `json:"detail,omitempty"`
}

// Outcome is returned by the coordinator once a case reaches a terminal state.
type Outcome struct {
	Case         CaseRef             `json:"case"`
	Status       OutcomeStatus       `json:"status"`
	Reason       string              `json:"reason,omitempty"`
	Err          error               `json:"-"`
	Error        string              `json:"error,omitempty"`
	RawDigest    string              `json:"raw_digest,omitempty"`
	ProcessedKey string              `json:"processed_key,omitempty"`
	Attachments  []AttachmentOutcome `json:"attachments,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
}

// Failed builds a failed outcome carrying err and its reason label.
func Failed(ref CaseRef, err error) Outcome {
	out := Outcome{Case: ref, Status: OutcomeFailed, Reason: Reason(err), Err: err}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// FailedAttachments lists the attachments that did not resolve.
func (o Outcome) FailedAttachments() []AttachmentOutcome {
	var failed []AttachmentOutcome
	for _, a := range o.Attachments {
		if a.Status == AttachmentFailed {
			failed = append(failed, a)
		}
	}
	return failed
}

// Counts tallies attachment outcomes by status.
func (o Outcome) Counts() map[AttachmentStatus]int {
	counts := make(map[AttachmentStatus]int, 3)
	for _, a := range o.Attachments {
		counts[a.Status]++
	}
	return counts
}

// RecordState tracks a ProcessingRecord through the scheduler.
type RecordState string

// Processing record states.
const (
	RecordQueued   RecordState = "queued"
	RecordRunning  RecordState = "running"
	RecordTerminal RecordState = "terminal"
)

// ProcessingRecord is the per-case state held while a case moves through the
// pipeline. It is not persisted beyond the terminal artifact.
type ProcessingRecord struct {
	Case         CaseRef     `json:"case"`
	State        RecordState `json:"state"`
	RawKey       string      `json:"raw_key"`
	ProcessedKey string      `json:"processed_key,omitempty"`
	Outcome      *Outcome    `json:"outcome,omitempty"`
	EnqueuedAt   time.Time   `json:"enqueued_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
}

// Notification is published once a case reaches a terminal outcome so the
// relational mirror can pick up the processed document.
type Notification struct {
	Country           string              `json:"country"`
	State             string              `json:"state"`
	Jurisdiction      string              `json:"jurisdiction"`
	GovID             string              `json:"govid"`
	Status            OutcomeStatus       `json:"status"`
	Reason            string              `json:"reason,omitempty"`
	ProcessedKey      string              `json:"processed_key,omitempty"`
	RawDigest         string              `json:"raw_digest,omitempty"`
	FailedAttachments []AttachmentOutcome `json:"failed_attachments,omitempty"`
	FinishedAt        time.Time           `json:"finished_at"`
}

// NewNotification summarizes o.
func NewNotification(o Outcome) Notification {
	return Notification{
		Country:           o.Case.Key.Country,
		State:             o.Case.Key.State,
		Jurisdiction:      o.Case.Key.Jurisdiction,
		GovID:             o.Case.GovID,
		Status:            o.Status,
		Reason:            o.Reason,
		ProcessedKey:      o.ProcessedKey,
		RawDigest:         o.RawDigest,
		FailedAttachments: o.FailedAttachments(),
		FinishedAt:        o.FinishedAt,
	}
}
