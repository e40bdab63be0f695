package transform

import (
	"context"
	"strings"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

// NYPUC wraps Generic for New York PSC matters, whose scraper reports the
// case classification under extra_metadata.
type NYPUC struct {
	Generic Transformer
}

// Transform implements Transformer.
func (n NYPUC) Transform(ctx context.Context, key docket.JurisdictionKey, raw docket.RawDocket) (*docket.Docket, error) {
	d, err := n.Generic.Transform(ctx, key, raw)
	if err != nil {
		return nil, err
	}
	typ, typOK := raw.ExtraMetadata["matter_type"].(string)
	sub, subOK := raw.ExtraMetadata["matter_subtype"].(string)
	if typOK && subOK {
		d.CaseType = strings.TrimSpace(typ)
		d.CaseSubtype = strings.TrimSpace(sub)
	}
	return d, nil
}

// Built-in jurisdictions.
var (
	CaliforniaPUC = docket.NewUSAKey("ca", "puc")
	NewYorkPUC    = docket.NewUSAKey("ny", "ny_puc")
)

// RegisterDefaults registers the built-in jurisdictions plus any extra keys
// that use the generic transformer unchanged.
func RegisterDefaults(r *Registry, generic *Generic, extra ...docket.JurisdictionKey) {
	r.Register(CaliforniaPUC, generic)
	r.Register(NewYorkPUC, NYPUC{Generic: generic})
	for _, key := range extra {
		r.Register(key, generic)
	}
}
