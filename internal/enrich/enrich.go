// Package enrich fills optional case fields from an external language-model
// endpoint. Every call is best effort: failures and timeouts are reported to
// the caller, which leaves the field empty or falls back to a structural rule.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docket-pipeline/internal/metrics"
)

// ErrDisabled is returned when no enrichment endpoint is configured.
var ErrDisabled = errors.New("enrichment disabled")

// Enricher is the opaque completion endpoint.
type Enricher interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Disabled is an Enricher that always fails fast.
type Disabled struct{}

// Complete implements Enricher.
func (Disabled) Complete(context.Context, string) (string, error) {
	return "", ErrDisabled
}

// FilingTypes is the closed set of labels ClassifyFilingType may return.
var FilingTypes = []string{
	"application",
	"brief",
	"comments",
	"correspondence",
	"exhibit",
	"motion",
	"notice",
	"order",
	"petition",
	"report",
	"ruling",
	"testimony",
	"transcript",
}

// Service wraps an Enricher with a per-call timeout and the prompts the
// transformers need.
type Service struct {
	enricher Enricher
	timeout  time.Duration
	logger   *zap.Logger
}

// NewService wraps e. A nil e behaves like Disabled.
func NewService(e Enricher, timeout time.Duration, logger *zap.Logger) *Service {
	if e == nil {
		e = Disabled{}
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{enricher: e, timeout: timeout, logger: logger.Named("enrich")}
}

// Enabled reports whether calls can succeed at all.
func (s *Service) Enabled() bool {
	_, disabled := s.enricher.(Disabled)
	return !disabled
}

// SplitOrganizations turns a free-text author blob into organization names.
func (s *Service) SplitOrganizations(ctx context.Context, blob string) ([]string, error) {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return nil, nil
	}
	prompt := "The following text lists one or more organizations that authored a regulatory filing. " +
		"Split it into individual organization names, fixing capitalization and removing duplicates. " +
		"Respond with only a JSON array of strings.\n\n" + blob
	text, err := s.complete(ctx, "split_organizations", prompt)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal([]byte(extractJSONArray(text)), &names); err != nil {
		s.observe("split_organizations", "invalid_response")
		return nil, fmt.Errorf("decode organization list: %w", err)
	}
	out := names[:0]
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

// ClassifyFilingType asks for one label from FilingTypes.
func (s *Service) ClassifyFilingType(ctx context.Context, name, description string) (string, error) {
	prompt := fmt.Sprintf(
		"Classify this regulatory filing into exactly one of: %s. Respond with only the label.\n\nTitle: %s\nDescription: %s",
		strings.Join(FilingTypes, ", "), name, description,
	)
	text, err := s.complete(ctx, "classify_filing", prompt)
	if err != nil {
		return "", err
	}
	label := strings.ToLower(strings.Trim(strings.TrimSpace(text), `."'`))
	for _, t := range FilingTypes {
		if label == t {
			return t, nil
		}
	}
	s.observe("classify_filing", "invalid_response")
	return "", fmt.Errorf("unexpected filing type %q", text)
}

func (s *Service) complete(ctx context.Context, purpose, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	text, err := s.enricher.Complete(ctx, prompt)
	if err != nil {
		if errors.Is(err, ErrDisabled) {
			s.observe(purpose, "disabled")
		} else {
			s.observe(purpose, "error")
			s.logger.Warn("enrichment call failed", zap.String("purpose", purpose), zap.Error(err))
		}
		return "", err
	}
	s.observe(purpose, "ok")
	return text, nil
}

func (s *Service) observe(purpose, result string) {
	metrics.ObserveEnrichment(purpose, result)
}

// extractJSONArray trims prose or code fences around the first JSON array.
func extractJSONArray(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
