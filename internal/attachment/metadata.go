package attachment

import (
	"slices"
	"time"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

// Source describes one attachment to acquire.
type Source struct {
	URL          string
	Name         string
	Title        string
	Extension    string
	Type         string
	Subtype      string
	Hash         string
	Jurisdiction docket.JurisdictionKey
	CaseGovID    string
}

// Result is a successfully stored (or already present) attachment.
type Result struct {
	Digest      string
	ByteLength  int64
	ContentType string
	Status      docket.AttachmentStatus
}

// Metadata is the record stored at raw/metadata/{digest}.json. One record
// exists per digest; SourceURLs lists every URL that resolved to it.
type Metadata struct {
	Hash              string                 `json:"hash"`
	URL               string                 `json:"url"`
	Name              string                 `json:"name"`
	Title             string                 `json:"title,omitempty"`
	Extension         string                 `json:"extension"`
	AttachmentType    string                 `json:"attachment_type"`
	AttachmentSubtype string                 `json:"attachment_subtype"`
	ContentType       string                 `json:"content_type,omitempty"`
	ByteLength        int64                  `json:"byte_length"`
	Jurisdiction      docket.JurisdictionKey `json:"jurisdiction"`
	SourceURLs        []string               `json:"source_urls"`
	DateAdded         time.Time              `json:"date_added"`
	DateUpdated       time.Time              `json:"date_updated"`
}

func newMetadata(src Source, digest, contentType string, size int64, now time.Time) Metadata {
	return Metadata{
		Hash:              digest,
		URL:               src.URL,
		Name:              src.Name,
		Title:             src.Title,
		Extension:         src.Extension,
		AttachmentType:    src.Type,
		AttachmentSubtype: src.Subtype,
		ContentType:       contentType,
		ByteLength:        size,
		Jurisdiction:      src.Jurisdiction,
		SourceURLs:        []string{src.URL},
		DateAdded:         now,
		DateUpdated:       now,
	}
}

// addSource records url, reporting whether the record changed.
func (m *Metadata) addSource(url string, now time.Time) bool {
	if url == "" || slices.Contains(m.SourceURLs, url) {
		return false
	}
	m.SourceURLs = append(m.SourceURLs, url)
	m.DateUpdated = now
	return true
}
