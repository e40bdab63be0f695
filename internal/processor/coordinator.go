// Package processor drives a single case from its staged raw payload to the
// processed document: transform, bounded attachment fan-out, final write.
package processor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/docket-pipeline/internal/attachment"
	"github.com/JakeFAU/docket-pipeline/internal/docket"
	"github.com/JakeFAU/docket-pipeline/internal/hash/blake2b"
	"github.com/JakeFAU/docket-pipeline/internal/logging"
	"github.com/JakeFAU/docket-pipeline/internal/metrics"
	"github.com/JakeFAU/docket-pipeline/internal/storage"
	"github.com/JakeFAU/docket-pipeline/internal/transform"
)

const (
	defaultFilingConcurrency     = 5
	defaultAttachmentConcurrency = 10
)

// Acquirer resolves one attachment to a stored digest.
type Acquirer interface {
	Acquire(ctx context.Context, src attachment.Source) (attachment.Result, error)
}

// Config bounds the per-case fan-out.
type Config struct {
	FilingConcurrency     int
	AttachmentConcurrency int
}

// Coordinator implements docket.Processor.
type Coordinator struct {
	objects     *storage.Client
	registry    *transform.Registry
	attachments Acquirer
	hasher      *blake2b.Hasher
	clock       docket.Clock
	cfg         Config
	logger      *zap.Logger
}

// New wires a Coordinator.
func New(
	objects *storage.Client,
	registry *transform.Registry,
	attachments Acquirer,
	clock docket.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Coordinator, error) {
	switch {
	case objects == nil:
		return nil, errors.New("object store is required")
	case registry == nil:
		return nil, errors.New("transform registry is required")
	case attachments == nil:
		return nil, errors.New("attachment store is required")
	case clock == nil:
		return nil, errors.New("clock is required")
	}
	if cfg.FilingConcurrency <= 0 {
		cfg.FilingConcurrency = defaultFilingConcurrency
	}
	if cfg.AttachmentConcurrency <= 0 {
		cfg.AttachmentConcurrency = defaultAttachmentConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		objects:     objects,
		registry:    registry,
		attachments: attachments,
		hasher:      blake2b.New(),
		clock:       clock,
		cfg:         cfg,
		logger:      logger.Named("processor"),
	}, nil
}

// processedStamp is the part of a stored processed document needed for the
// unchanged check.
type processedStamp struct {
	RawPayloadDigest string `json:"raw_payload_digest"`
}

// Process runs ref to a terminal outcome. It never returns with work still in
// flight; the processed document is written last and only once every
// attachment has resolved.
func (c *Coordinator) Process(ctx context.Context, ref docket.CaseRef) docket.Outcome {
	started := c.clock.Now()
	log := logging.ForCase(c.logger, ref)

	out := c.process(ctx, ref, log)
	out.Case = ref
	out.StartedAt = started
	out.FinishedAt = c.clock.Now()

	metrics.ObserveCase(ref.Key.String(), string(out.Status), out.FinishedAt.Sub(started))
	fields := []zap.Field{
		zap.String("status", string(out.Status)),
		zap.Duration("duration", out.FinishedAt.Sub(started)),
	}
	if out.Status == docket.OutcomeFailed {
		log.Warn("case failed", append(fields, zap.String("reason", out.Reason), zap.Error(out.Err))...)
	} else {
		log.Info("case processed", append(fields, zap.Int("failed_attachments", len(out.FailedAttachments())))...)
	}
	return out
}

func (c *Coordinator) process(ctx context.Context, ref docket.CaseRef, log *zap.Logger) docket.Outcome {
	if err := ref.Validate(); err != nil {
		return docket.Failed(ref, docket.NewSchemaViolation("case_ref", err.Error()))
	}

	raw, err := c.objects.GetBytes(ctx, ref.RawKey())
	if err != nil {
		if errors.Is(err, docket.ErrNotFound) {
			err = fmt.Errorf("%w: raw payload missing: %w", docket.ErrStorage, err)
		}
		return docket.Failed(ref, err)
	}
	rawDigest, err := c.hasher.Hash(raw)
	if err != nil {
		return docket.Failed(ref, err)
	}

	if !ref.Force && c.unchanged(ctx, ref, rawDigest, log) {
		return docket.Outcome{
			Status:       docket.OutcomeUnchanged,
			RawDigest:    rawDigest,
			ProcessedKey: ref.ProcessedKey(),
		}
	}

	d, err := c.registry.Transform(ctx, ref.Key, raw)
	if err != nil {
		out := docket.Failed(ref, err)
		out.RawDigest = rawDigest
		return out
	}
	if d.Ref().ID() != ref.ID() {
		out := docket.Failed(ref, docket.NewSchemaViolation("case_govid",
			fmt.Sprintf("payload govid %q does not match key %q", d.CaseGovID, ref.GovID)))
		out.RawDigest = rawDigest
		return out
	}

	results := c.acquireAll(ctx, d)

	d.Organizations = d.CollectOrganizations()
	d.RawPayloadDigest = rawDigest
	d.ProcessedAt = c.clock.Now()
	if err := c.objects.PutJSON(ctx, ref.ProcessedKey(), d); err != nil {
		out := docket.Failed(ref, err)
		out.RawDigest = rawDigest
		out.Attachments = results
		return out
	}

	out := docket.Outcome{
		Status:       docket.OutcomeSucceeded,
		RawDigest:    rawDigest,
		ProcessedKey: ref.ProcessedKey(),
		Attachments:  results,
	}
	if len(out.FailedAttachments()) > 0 {
		out.Status = docket.OutcomePartialSuccess
	}
	return out
}

// unchanged reports whether the stored processed document was built from raw
// bytes with the same digest. Read failures fall through to a full run.
func (c *Coordinator) unchanged(ctx context.Context, ref docket.CaseRef, rawDigest string, log *zap.Logger) bool {
	var stamp processedStamp
	err := c.objects.GetJSON(ctx, ref.ProcessedKey(), &stamp)
	switch {
	case errors.Is(err, docket.ErrNotFound):
		return false
	case err != nil:
		log.Warn("processed document unreadable, reprocessing", zap.Error(err))
		return false
	}
	return stamp.RawPayloadDigest == rawDigest
}

// acquireAll resolves every attachment of d in place, filings and
// attachments each fanned out under their own limit, and returns the
// per-attachment outcomes in declaration order.
func (c *Coordinator) acquireAll(ctx context.Context, d *docket.Docket) []docket.AttachmentOutcome {
	var filings errgroup.Group
	filings.SetLimit(c.cfg.FilingConcurrency)
	for i := range d.Filings {
		filing := &d.Filings[i]
		if len(filing.Attachments) == 0 {
			continue
		}
		filings.Go(func() error {
			var attachments errgroup.Group
			attachments.SetLimit(c.cfg.AttachmentConcurrency)
			for j := range filing.Attachments {
				a := &filing.Attachments[j]
				attachments.Go(func() error {
					c.acquire(ctx, d, a)
					return nil
				})
			}
			return attachments.Wait()
		})
	}
	_ = filings.Wait()

	var results []docket.AttachmentOutcome
	for i, f := range d.Filings {
		for j, a := range f.Attachments {
			results = append(results, docket.AttachmentOutcome{
				FilingIndex:     i,
				AttachmentIndex: j,
				URL:             a.URL,
				Status:          a.Status,
				Digest:          a.Hash,
				Reason:          a.FailureReason,
				Detail:          a.FailureDetail,
			})
		}
	}
	return results
}

func (c *Coordinator) acquire(ctx context.Context, d *docket.Docket, a *docket.Attachment) {
	res, err := c.attachments.Acquire(ctx, attachment.Source{
		URL:          a.URL,
		Name:         a.Name,
		Title:        a.Title,
		Extension:    a.DocumentExtension,
		Type:         a.AttachmentType,
		Subtype:      a.AttachmentSubtype,
		Hash:         a.Hash,
		Jurisdiction: d.Jurisdiction,
		CaseGovID:    d.CaseGovID,
	})
	if err != nil {
		a.Hash = ""
		a.ByteLength = 0
		a.Status = docket.AttachmentFailed
		a.FailureReason = docket.Reason(err)
		a.FailureDetail = err.Error()
		return
	}
	a.Hash = res.Digest
	a.ByteLength = res.ByteLength
	a.Status = res.Status
}
