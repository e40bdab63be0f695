package transform

import (
	"context"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
	"github.com/JakeFAU/docket-pipeline/internal/enrich"
	"github.com/JakeFAU/docket-pipeline/internal/hash/blake2b"
)

// Generic converts the shared raw shape into a canonical docket. Most
// jurisdictions use it directly; variants wrap it and adjust the result.
type Generic struct {
	enrich *enrich.Service
	clock  docket.Clock
	logger *zap.Logger
}

// NewGeneric builds the default transformer. A nil enrichment service
// disables every enrichment hook.
func NewGeneric(svc *enrich.Service, clock docket.Clock, logger *zap.Logger) *Generic {
	if logger == nil {
		logger = zap.NewNop()
	}
	if svc == nil {
		svc = enrich.NewService(nil, 0, logger)
	}
	return &Generic{enrich: svc, clock: clock, logger: logger.Named("transform")}
}

// Transform implements Transformer.
func (g *Generic) Transform(ctx context.Context, key docket.JurisdictionKey, raw docket.RawDocket) (*docket.Docket, error) {
	if err := Validate(key, raw); err != nil {
		return nil, err
	}
	log := g.logger.With(zap.String("jurisdiction", key.String()), zap.String("case", raw.CaseGovID))

	d := &docket.Docket{
		Jurisdiction:   key,
		CaseGovID:      strings.TrimSpace(raw.CaseGovID),
		CaseName:       strings.TrimSpace(raw.CaseName),
		CaseURL:        strings.TrimSpace(raw.CaseURL),
		CaseType:       strings.TrimSpace(raw.CaseType),
		CaseSubtype:    strings.TrimSpace(raw.CaseSubtype),
		Description:    raw.Description,
		Industry:       raw.Industry,
		HearingOfficer: strings.TrimSpace(raw.HearingOfficer),
		Status:         raw.Status,
		OpenedDate:     raw.OpenedDate,
		ClosedDate:     raw.ClosedDate,
		ExtraMetadata:  copyMetadata(raw.ExtraMetadata),
	}
	if d.CaseSubtype == "" {
		if typ, sub, ok := strings.Cut(d.CaseType, " - "); ok {
			d.CaseType, d.CaseSubtype = strings.TrimSpace(typ), strings.TrimSpace(sub)
		}
	}
	switch {
	case raw.IndexedAt != nil:
		d.IndexedAt = raw.IndexedAt.UTC()
	case g.clock != nil:
		d.IndexedAt = g.clock.Now().UTC()
	}

	petitioners := append([]string(nil), raw.PetitionerList...)
	petitioners = append(petitioners, g.splitOrganizations(ctx, log, raw.Petitioner)...)
	d.PetitionerList = CleanOrgNames(petitioners)

	d.Filings = make([]docket.Filing, 0, len(raw.Filings))
	for i, rf := range raw.Filings {
		d.Filings = append(d.Filings, g.filing(ctx, log, i, rf))
	}

	for _, f := range d.Filings {
		if f.FiledDate == nil || f.FiledDate.IsZero() {
			continue
		}
		if d.OpenedDate == nil || d.OpenedDate.IsZero() || f.FiledDate.Before(d.OpenedDate) {
			if d.OpenedDate != nil && !d.OpenedDate.IsZero() {
				log.Warn("filing predates docket opened date",
					zap.String("filing", f.SourceID()),
					zap.String("filed", f.FiledDate.String()),
					zap.String("opened", d.OpenedDate.String()))
			}
			opened := *f.FiledDate
			d.OpenedDate = &opened
		}
	}
	return d, nil
}

func (g *Generic) filing(ctx context.Context, log *zap.Logger, index int, rf docket.RawFiling) docket.Filing {
	f := docket.Filing{
		IndexInDocket: index,
		FilingGovID:   strings.TrimSpace(rf.FilingGovID),
		FilingURL:     strings.TrimSpace(rf.FilingURL),
		Name:          strings.TrimSpace(rf.Name),
		FiledDate:     rf.FiledDate,
		FilingType:    strings.TrimSpace(rf.FilingType),
		Description:   rf.Description,
		ExtraMetadata: copyMetadata(rf.ExtraMetadata),
	}

	f.Attachments = make([]docket.Attachment, 0, len(rf.Attachments))
	for j, ra := range rf.Attachments {
		f.Attachments = append(f.Attachments, attachment(j, ra))
	}
	if f.Name == "" {
		for _, a := range f.Attachments {
			if a.Name != "" {
				f.Name = a.Name
				break
			}
		}
	}

	orgs := append([]string(nil), rf.OrganizationAuthors...)
	orgs = append(orgs, g.splitOrganizations(ctx, log, rf.OrganizationAuthorsBlob)...)
	f.OrganizationAuthors = CleanOrgNames(orgs)

	people := append([]string(nil), rf.IndividualAuthors...)
	people = append(people, SplitBlob(rf.IndividualAuthorsBlob)...)
	f.IndividualAuthors = cleanPeople(people)

	if f.FilingType == "" && strings.TrimSpace(f.Description) != "" && g.enrich.Enabled() {
		label, err := g.enrich.ClassifyFilingType(ctx, f.Name, f.Description)
		if err != nil {
			log.Debug("filing type left empty", zap.Int("filing", index), zap.Error(err))
		} else {
			f.FilingType = label
		}
	}
	return f
}

func attachment(index int, ra docket.RawAttachment) docket.Attachment {
	a := docket.Attachment{
		IndexInFiling:     index,
		Name:              strings.TrimSpace(ra.Name),
		Title:             strings.TrimSpace(ra.Title),
		DocumentExtension: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ra.DocumentExtension), ".")),
		AttachmentGovID:   strings.TrimSpace(ra.AttachmentGovID),
		URL:               strings.TrimSpace(ra.URL),
		AttachmentType:    ra.AttachmentType,
		AttachmentSubtype: ra.AttachmentSubtype,
		ExtraMetadata:     copyMetadata(ra.ExtraMetadata),
		Status:            docket.AttachmentUnresolved,
	}
	if h := strings.ToLower(strings.TrimSpace(ra.Hash)); blake2b.Valid(h) {
		a.Hash = h
	}
	if a.DocumentExtension == "" && a.URL != "" {
		if u, err := url.Parse(a.URL); err == nil {
			a.DocumentExtension = strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
		}
	}
	return a
}

// splitOrganizations asks the enrichment service to split blob and falls
// back to SplitBlob when it is disabled or fails.
func (g *Generic) splitOrganizations(ctx context.Context, log *zap.Logger, blob string) []string {
	if strings.TrimSpace(blob) == "" {
		return nil
	}
	if g.enrich.Enabled() {
		names, err := g.enrich.SplitOrganizations(ctx, blob)
		if err == nil && len(names) > 0 {
			return names
		}
		log.Debug("falling back to structural organization split", zap.Error(err))
	}
	return SplitBlob(blob)
}

func copyMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
