package intake

import (
	"strings"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

// Merge overlays update onto existing. Non-empty scalar fields of update win,
// metadata maps are unioned and filings are matched by filing govid, then
// URL, then name and filed date. Unmatched filings are appended in order.
func Merge(existing, update docket.RawDocket) docket.RawDocket {
	out := existing
	overwrite(&out.CaseGovID, update.CaseGovID)
	overwrite(&out.CaseName, update.CaseName)
	overwrite(&out.CaseURL, update.CaseURL)
	overwrite(&out.CaseType, update.CaseType)
	overwrite(&out.CaseSubtype, update.CaseSubtype)
	overwrite(&out.Description, update.Description)
	overwrite(&out.Industry, update.Industry)
	overwrite(&out.Petitioner, update.Petitioner)
	overwrite(&out.HearingOfficer, update.HearingOfficer)
	overwrite(&out.Status, update.Status)
	if update.OpenedDate != nil {
		out.OpenedDate = update.OpenedDate
	}
	if update.ClosedDate != nil {
		out.ClosedDate = update.ClosedDate
	}
	if update.IndexedAt != nil {
		out.IndexedAt = update.IndexedAt
	}
	out.PetitionerList = unionStrings(existing.PetitionerList, update.PetitionerList)
	out.ExtraMetadata = unionMetadata(existing.ExtraMetadata, update.ExtraMetadata)

	filings := make(docket.List[docket.RawFiling], len(existing.Filings))
	copy(filings, existing.Filings)
	for _, f := range update.Filings {
		if i := matchFiling(filings, f); i >= 0 {
			filings[i] = mergeFiling(filings[i], f)
			continue
		}
		filings = append(filings, f)
	}
	out.Filings = filings
	return out
}

func matchFiling(filings []docket.RawFiling, f docket.RawFiling) int {
	for i, existing := range filings {
		switch {
		case f.FilingGovID != "" || existing.FilingGovID != "":
			if f.FilingGovID == existing.FilingGovID {
				return i
			}
		case f.FilingURL != "" || existing.FilingURL != "":
			if f.FilingURL == existing.FilingURL {
				return i
			}
		case f.Name != "" && f.Name == existing.Name && sameDate(f.FiledDate, existing.FiledDate):
			return i
		}
	}
	return -1
}

func mergeFiling(existing, update docket.RawFiling) docket.RawFiling {
	out := existing
	overwrite(&out.Name, update.Name)
	overwrite(&out.FilingGovID, update.FilingGovID)
	overwrite(&out.FilingURL, update.FilingURL)
	overwrite(&out.FilingType, update.FilingType)
	overwrite(&out.Description, update.Description)
	overwrite(&out.OrganizationAuthorsBlob, update.OrganizationAuthorsBlob)
	overwrite(&out.IndividualAuthorsBlob, update.IndividualAuthorsBlob)
	if update.FiledDate != nil {
		out.FiledDate = update.FiledDate
	}
	out.OrganizationAuthors = unionStrings(existing.OrganizationAuthors, update.OrganizationAuthors)
	out.IndividualAuthors = unionStrings(existing.IndividualAuthors, update.IndividualAuthors)
	out.ExtraMetadata = unionMetadata(existing.ExtraMetadata, update.ExtraMetadata)

	attachments := make(docket.List[docket.RawAttachment], len(existing.Attachments))
	copy(attachments, existing.Attachments)
	for _, a := range update.Attachments {
		replaced := false
		for i := range attachments {
			if a.URL != "" && attachments[i].URL == a.URL {
				attachments[i] = a
				replaced = true
				break
			}
		}
		if !replaced {
			attachments = append(attachments, a)
		}
	}
	out.Attachments = attachments
	return out
}

func overwrite(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func sameDate(a, b *docket.Date) bool {
	return a.String() == b.String()
}

func unionStrings(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		k := strings.ToLower(strings.TrimSpace(s))
		if _, dup := seen[k]; dup || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}

func unionMetadata(a, b map[string]any) map[string]any {
	if len(a) == 0 && len(b) == 0 {
		return a
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
