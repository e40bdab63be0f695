// Package docket defines the canonical case model and the contracts shared
// across the processing pipeline.
package docket

import (
	"sort"
	"strings"
	"time"
)

// AttachmentStatus is the resolution state of a single attachment.
type AttachmentStatus string

// Attachment states recorded in processed documents.
const (
	AttachmentUnresolved   AttachmentStatus = "unresolved"
	AttachmentSucceeded    AttachmentStatus = "succeeded"
	AttachmentDeduplicated AttachmentStatus = "deduplicated"
	AttachmentFailed       AttachmentStatus = "failed"
)

// Resolved reports whether the attachment carries a content digest.
func (s AttachmentStatus) Resolved() bool {
	return s == AttachmentSucceeded || s == AttachmentDeduplicated
}

// OrgName is a cleaned organization reference with its corporate suffix split off.
type OrgName struct {
	Name   string `json:"name"`
	Suffix string `json:"suffix"`
}

// DisplayName joins the name and suffix back together.
func (o OrgName) DisplayName() string {
	if o.Suffix == "" {
		return o.Name
	}
	return o.Name + " " + o.Suffix
}

// Organization is the independent entity referenced by dockets and filings.
type Organization struct {
	Name                 string   `json:"name"`
	Aliases              []string `json:"aliases"`
	Description          string   `json:"description"`
	ArtificialPersonType string   `json:"artificial_person_type"`
	Suffix               string   `json:"suffix"`
}

// Attachment is a binary file referenced by a filing. Hash is empty until the
// bytes have been acquired.
type Attachment struct {
	IndexInFiling     int              `json:"index_in_filling"`
	Name              string           `json:"name"`
	Title             string           `json:"title,omitempty"`
	DocumentExtension string           `json:"document_extension"`
	AttachmentGovID   string           `json:"attachment_govid"`
	URL               string           `json:"url"`
	AttachmentType    string           `json:"attachment_type"`
	AttachmentSubtype string           `json:"attachment_subtype"`
	ExtraMetadata     map[string]any   `json:"extra_metadata"`
	Hash              string           `json:"hash,omitempty"`
	ByteLength        int64            `json:"byte_length,omitempty"`
	Status            AttachmentStatus `json:"status"`
	FailureReason     string           `json:"failure_reason,omitempty"`
	FailureDetail     string           `json:"failure_detail,omitempty"`
}

// Filing is a document submission within a docket.
type Filing struct {
	IndexInDocket       int            `json:"index_in_docket"`
	FilingGovID         string         `json:"filling_govid"`
	FilingURL           string         `json:"filling_url"`
	Name                string         `json:"name"`
	FiledDate           *Date          `json:"filed_date"`
	FilingType          string         `json:"filing_type"`
	Description         string         `json:"description"`
	OrganizationAuthors []OrgName      `json:"organization_authors"`
	IndividualAuthors   []string       `json:"individual_authors"`
	Attachments         []Attachment   `json:"attachments"`
	ExtraMetadata       map[string]any `json:"extra_metadata"`
}

// SourceID is the natural key of a filing within its docket.
func (f Filing) SourceID() string {
	switch {
	case f.FilingGovID != "":
		return f.FilingGovID
	case f.FilingURL != "":
		return f.FilingURL
	default:
		return f.Name + "@" + f.FiledDate.String()
	}
}

// Docket is the canonical, processed representation of a case.
type Docket struct {
	Jurisdiction     JurisdictionKey `json:"jurisdiction"`
	CaseGovID        string          `json:"case_govid"`
	CaseName         string          `json:"case_name"`
	CaseURL          string          `json:"case_url"`
	CaseType         string          `json:"case_type"`
	CaseSubtype      string          `json:"case_subtype"`
	Description      string          `json:"description"`
	Industry         string          `json:"industry"`
	HearingOfficer   string          `json:"hearing_officer"`
	Status           string          `json:"status"`
	PetitionerList   []OrgName       `json:"petitioner_list"`
	OpenedDate       *Date           `json:"opened_date"`
	ClosedDate       *Date           `json:"closed_date"`
	Filings          []Filing        `json:"filings"`
	Organizations    []Organization  `json:"organizations"`
	ExtraMetadata    map[string]any  `json:"extra_metadata"`
	IndexedAt        time.Time       `json:"indexed_at"`
	ProcessedAt      time.Time       `json:"processed_at"`
	RawPayloadDigest string          `json:"raw_payload_digest"`
}

// Ref returns the case reference addressing this docket.
func (d *Docket) Ref() CaseRef {
	return CaseRef{Key: d.Jurisdiction, GovID: d.CaseGovID}
}

// CollectOrganizations returns the distinct organizations referenced as
// petitioners or filing authors, sorted by name.
func (d *Docket) CollectOrganizations() []Organization {
	seen := make(map[string]*Organization)
	add := func(o OrgName) {
		key := strings.ToLower(o.Name)
		if key == "" {
			return
		}
		existing, ok := seen[key]
		if !ok {
			seen[key] = &Organization{
				Name:                 o.Name,
				Aliases:              []string{o.DisplayName()},
				ArtificialPersonType: "organization",
				Suffix:               o.Suffix,
			}
			return
		}
		if existing.Suffix == "" && o.Suffix != "" {
			existing.Suffix = o.Suffix
		}
		alias := o.DisplayName()
		for _, a := range existing.Aliases {
			if a == alias {
				return
			}
		}
		existing.Aliases = append(existing.Aliases, alias)
	}
	for _, p := range d.PetitionerList {
		add(p)
	}
	for _, f := range d.Filings {
		for _, a := range f.OrganizationAuthors {
			add(a)
		}
	}
	out := make([]Organization, 0, len(seen))
	for _, o := range seen {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RawAttachment is the scraper-supplied attachment shape.
type RawAttachment struct {
	Name              string         `json:"name"`
	Title             string         `json:"title"`
	DocumentExtension string         `json:"document_extension"`
	AttachmentGovID   string         `json:"attachment_govid"`
	URL               string         `json:"url" validate:"omitempty,url"`
	AttachmentType    string         `json:"attachment_type"`
	AttachmentSubtype string         `json:"attachment_subtype"`
	ExtraMetadata     map[string]any `json:"extra_metadata"`
	Hash              string         `json:"hash,omitempty"`
}

// RawFiling is the scraper-supplied filing shape.
type RawFiling struct {
	Name                    string              `json:"name"`
	FilingGovID             string              `json:"filling_govid"`
	FilingURL               string              `json:"filling_url"`
	FiledDate               *Date               `json:"filed_date"`
	FilingType              string              `json:"filing_type"`
	Description             string              `json:"description"`
	OrganizationAuthors     []string            `json:"organization_authors"`
	IndividualAuthors       []string            `json:"individual_authors"`
	OrganizationAuthorsBlob string              `json:"organization_authors_blob"`
	IndividualAuthorsBlob   string              `json:"individual_authors_blob"`
	ExtraMetadata           map[string]any      `json:"extra_metadata"`
	Attachments             List[RawAttachment] `json:"attachments" validate:"dive"`
}

// RawDocket is the scraper-supplied docket shape shared by every jurisdiction.
type RawDocket struct {
	CaseGovID      string          `json:"case_govid" validate:"required"`
	CaseName       string          `json:"case_name" validate:"required"`
	CaseURL        string          `json:"case_url" validate:"required,url"`
	CaseType       string          `json:"case_type"`
	CaseSubtype    string          `json:"case_subtype"`
	Description    string          `json:"description"`
	Industry       string          `json:"industry"`
	Petitioner     string          `json:"petitioner"`
	PetitionerList []string        `json:"petitioner_list"`
	HearingOfficer string          `json:"hearing_officer"`
	Status         string          `json:"status"`
	OpenedDate     *Date           `json:"opened_date"`
	ClosedDate     *Date           `json:"closed_date"`
	IndexedAt      *time.Time      `json:"indexed_at"`
	ExtraMetadata  map[string]any  `json:"extra_metadata"`
	Filings        List[RawFiling] `json:"filings" validate:"dive"`
}
