package docket

import (
	"fmt"
	"strings"
)

// Storage key prefixes. These layouts are shared with the public retrieval
// API and must not change.
const (
	rawObjectPrefix       = "objects_raw"
	processedObjectPrefix = "objects"
	attachmentFilePrefix  = "raw/file/"
	attachmentMetaPrefix  = "raw/metadata/"
)

// JurisdictionKey selects a transformer and a storage partition.
type JurisdictionKey struct {
	Country      string `json:"country" mapstructure:"country"`
	State        string `json:"state" mapstructure:"state"`
	Jurisdiction string `json:"jurisdiction" mapstructure:"jurisdiction"`
}

// NewUSAKey is shorthand for the common United States case.
func NewUSAKey(state, jurisdiction string) JurisdictionKey {
	return JurisdictionKey{Country: "usa", State: state, Jurisdiction: jurisdiction}
}

// ParseJurisdictionKey parses "country/state/jurisdiction".
func ParseJurisdictionKey(s string) (JurisdictionKey, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 3 {
		return JurisdictionKey{}, fmt.Errorf("jurisdiction key %q must have three segments", s)
	}
	key := JurisdictionKey{Country: parts[0], State: parts[1], Jurisdiction: parts[2]}
	if err := key.Validate(); err != nil {
		return JurisdictionKey{}, err
	}
	return key, nil
}

// String renders the key as "country/state/jurisdiction".
func (k JurisdictionKey) String() string {
	return k.Country + "/" + k.State + "/" + k.Jurisdiction
}

// Validate rejects empty segments and segments that would escape the partition.
func (k JurisdictionKey) Validate() error {
	for name, v := range map[string]string{
		"country":      k.Country,
		"state":        k.State,
		"jurisdiction": k.Jurisdiction,
	} {
		if err := validSegment(v); err != nil {
			return fmt.Errorf("jurisdiction %s: %w", name, err)
		}
	}
	return nil
}

// CaseRef identifies one case across the pipeline. Force bypasses the
// unchanged short-circuit.
type CaseRef struct {
	Key   JurisdictionKey `json:"jurisdiction"`
	GovID string          `json:"govid"`
	Force bool            `json:"force,omitempty"`
}

// ID is the coalescing identity of the case; Force does not participate.
func (r CaseRef) ID() string {
	return r.Key.String() + "/" + r.GovID
}

// Validate checks the key and govid form a safe storage address.
func (r CaseRef) Validate() error {
	if err := r.Key.Validate(); err != nil {
		return err
	}
	if err := validSegment(r.GovID); err != nil {
		return fmt.Errorf("govid: %w", err)
	}
	return nil
}

// RawKey returns the object key of the raw case document.
func (r CaseRef) RawKey() string {
	return RawKey(r.Key, r.GovID)
}

// ProcessedKey returns the object key of the processed case document.
func (r CaseRef) ProcessedKey() string {
	return ProcessedKey(r.Key, r.GovID)
}

// RawKey builds objects_raw/{country}/{state}/{jurisdiction}/{govid}.json.
func RawKey(k JurisdictionKey, govID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s.json", rawObjectPrefix, k.Country, k.State, k.Jurisdiction, govID)
}

// ProcessedKey builds objects/{country}/{state}/{jurisdiction}/{govid}.json.
func ProcessedKey(k JurisdictionKey, govID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s.json", processedObjectPrefix, k.Country, k.State, k.Jurisdiction, govID)
}

// AttachmentFileKey builds raw/file/{digest}.
func AttachmentFileKey(digest string) string {
	return attachmentFilePrefix + digest
}

// AttachmentMetadataKey builds raw/metadata/{digest}.json.
func AttachmentMetadataKey(digest string) string {
	return attachmentMetaPrefix + digest + ".json"
}

func validSegment(v string) error {
	switch {
	case strings.TrimSpace(v) == "":
		return fmt.Errorf("must not be empty")
	case v == "." || v == "..":
		return fmt.Errorf("invalid segment %q", v)
	case strings.ContainsAny(v, "/\\"):
		return fmt.Errorf("segment %q must not contain path separators", v)
	}
	return nil
}
