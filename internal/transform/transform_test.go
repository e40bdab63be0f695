package transform

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docket-pipeline/internal/clock/system"
	"github.com/JakeFAU/docket-pipeline/internal/docket"
	"github.com/JakeFAU/docket-pipeline/internal/enrich"
)

type promptStub struct {
	split    string
	classify string
	err      error
	calls    atomic.Int32
}

func (s *promptStub) Complete(_ context.Context, prompt string) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	if strings.HasPrefix(prompt, "Classify") {
		return s.classify, nil
	}
	return s.split, nil
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newGeneric(e enrich.Enricher) *Generic {
	return NewGeneric(enrich.NewService(e, time.Second, nil), system.NewFixed(fixedNow), nil)
}

func date(y int, m time.Month, d int) *docket.Date {
	v := docket.NewDate(y, m, d)
	return &v
}

func baseRaw() docket.RawDocket {
	return docket.RawDocket{
		CaseGovID: "PUC-2024-001",
		CaseName:  "Application of Pacific Gas and Electric",
		CaseURL:   "https://apps.cpuc.ca.gov/case/PUC-2024-001",
	}
}

func TestRegistryUnsupportedJurisdiction(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Transform(context.Background(), docket.NewUSAKey("tx", "puct"), []byte(`{}`))
	require.ErrorIs(t, err, docket.ErrUnsupportedJurisdiction)
	assert.Equal(t, docket.ReasonUnsupportedJurisdiction, docket.Reason(err))
}

func TestRegistryLastWriteWins(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	key := docket.NewUSAKey("ca", "puc")
	r.Register(key, Func(func(context.Context, docket.JurisdictionKey, docket.RawDocket) (*docket.Docket, error) {
		return &docket.Docket{CaseName: "first"}, nil
	}))
	r.Register(key, Func(func(context.Context, docket.JurisdictionKey, docket.RawDocket) (*docket.Docket, error) {
		return &docket.Docket{CaseName: "second"}, nil
	}))

	d, err := r.Transform(context.Background(), key, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "second", d.CaseName)
	assert.True(t, r.Supports(key))
	assert.Len(t, r.Keys(), 1)
}

func TestRegistryMalformedPayload(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	RegisterDefaults(r, newGeneric(nil))
	_, err := r.Transform(context.Background(), CaliforniaPUC, []byte(`{"case_govid": `))

	var schemaErr *docket.SchemaViolationError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "payload", schemaErr.Field)
}

func TestValidateRequiredFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*docket.RawDocket)
		field  string
	}{
		{"missing govid", func(r *docket.RawDocket) { r.CaseGovID = "" }, "case_govid"},
		{"blank name", func(r *docket.RawDocket) { r.CaseName = "   " }, "case_name"},
		{"missing url", func(r *docket.RawDocket) { r.CaseURL = "" }, "case_url"},
		{"malformed url", func(r *docket.RawDocket) { r.CaseURL = "not a url" }, "case_url"},
		{"govid escapes partition", func(r *docket.RawDocket) { r.CaseGovID = "../PUC-1" }, "case_govid"},
		{"malformed attachment url", func(r *docket.RawDocket) {
			r.Filings = docket.List[docket.RawFiling]{{
				Attachments: docket.List[docket.RawAttachment]{{URL: "not a url"}},
			}}
		}, "filings[0].attachments[0].url"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			raw := baseRaw()
			tc.mutate(&raw)
			err := Validate(CaliforniaPUC, raw)

			var schemaErr *docket.SchemaViolationError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, tc.field, schemaErr.Field)
		})
	}

	require.NoError(t, Validate(CaliforniaPUC, baseRaw()))
}

func TestGenericRevalidation(t *testing.T) {
	t.Parallel()

	raw := baseRaw()
	raw.CaseType = "Application - Rate Case"
	raw.OpenedDate = date(2024, 3, 1)
	raw.Petitioner = "Pacific Gas and Electric Company; Sierra Club"
	raw.PetitionerList = []string{"sierra club", "  The Utility Reform Network  "}
	raw.ExtraMetadata = map[string]any{"source": "cpuc"}
	raw.Filings = docket.List[docket.RawFiling]{
		{
			FilingGovID: "F-1",
			FiledDate:   date(2024, 2, 15),
			Attachments: docket.List[docket.RawAttachment]{
				{Name: ""},
				{Name: "Opening Brief", URL: "https://example.com/docs/brief.PDF?download=1"},
			},
			IndividualAuthorsBlob: "Jane Doe\nJohn Roe; jane doe",
		},
		{
			Name:      "Ruling",
			FiledDate: date(2024, 4, 2),
		},
	}

	d, err := newGeneric(nil).Transform(context.Background(), CaliforniaPUC, raw)
	require.NoError(t, err)

	assert.Equal(t, "Application", d.CaseType)
	assert.Equal(t, "Rate Case", d.CaseSubtype)
	assert.Equal(t, "2024-02-15", d.OpenedDate.String())
	assert.Equal(t, fixedNow, d.IndexedAt)
	assert.Equal(t, "cpuc", d.ExtraMetadata["source"])

	assert.Equal(t, []docket.OrgName{
		{Name: "sierra club"},
		{Name: "The Utility Reform Network"},
		{Name: "Pacific Gas and Electric", Suffix: "Company"},
	}, d.PetitionerList)

	require.Len(t, d.Filings, 2)
	first := d.Filings[0]
	assert.Equal(t, 0, first.IndexInDocket)
	assert.Equal(t, "Opening Brief", first.Name)
	assert.Equal(t, []string{"Jane Doe", "John Roe"}, first.IndividualAuthors)
	require.Len(t, first.Attachments, 2)
	assert.Equal(t, 1, first.Attachments[1].IndexInFiling)
	assert.Equal(t, "pdf", first.Attachments[1].DocumentExtension)
	assert.Equal(t, docket.AttachmentUnresolved, first.Attachments[1].Status)
	assert.Equal(t, 1, d.Filings[1].IndexInDocket)
}

func TestGenericKeepsDeclaredOpenedDate(t *testing.T) {
	t.Parallel()

	raw := baseRaw()
	raw.OpenedDate = date(2024, 1, 2)
	raw.Filings = docket.List[docket.RawFiling]{{Name: "Notice", FiledDate: date(2024, 1, 5)}}

	d, err := newGeneric(nil).Transform(context.Background(), CaliforniaPUC, raw)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", d.OpenedDate.String())
}

func TestGenericCarriesValidHashOnly(t *testing.T) {
	t.Parallel()

	valid := strings.Repeat("ab", 32)
	raw := baseRaw()
	raw.Filings = docket.List[docket.RawFiling]{{
		Name: "Exhibit",
		Attachments: docket.List[docket.RawAttachment]{
			{Name: "a", Hash: strings.ToUpper(valid)},
			{Name: "b", Hash: "sha256:deadbeef"},
		},
	}}

	d, err := newGeneric(nil).Transform(context.Background(), CaliforniaPUC, raw)
	require.NoError(t, err)
	assert.Equal(t, valid, d.Filings[0].Attachments[0].Hash)
	assert.Empty(t, d.Filings[0].Attachments[1].Hash)
}

func TestGenericEnrichment(t *testing.T) {
	t.Parallel()

	stub := &promptStub{
		split:    `["Pacific Gas and Electric Company", "Sierra Club"]`,
		classify: "Testimony.",
	}
	raw := baseRaw()
	raw.Filings = docket.List[docket.RawFiling]{{
		Name:                    "Prepared testimony of J. Doe",
		Description:             "Direct testimony on revenue requirement",
		OrganizationAuthorsBlob: "PG&E and the Sierra Club",
	}}

	d, err := newGeneric(stub).Transform(context.Background(), CaliforniaPUC, raw)
	require.NoError(t, err)

	f := d.Filings[0]
	assert.Equal(t, "testimony", f.FilingType)
	assert.Equal(t, []docket.OrgName{
		{Name: "Pacific Gas and Electric", Suffix: "Company"},
		{Name: "Sierra Club"},
	}, f.OrganizationAuthors)
	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestGenericEnrichmentFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	stub := &promptStub{err: errors.New("upstream 503")}
	raw := baseRaw()
	raw.Filings = docket.List[docket.RawFiling]{{
		Name:                    "Comments",
		Description:             "Comments on proposed decision",
		OrganizationAuthorsBlob: "Pacific Gas and Electric Company | Sierra Club",
	}}

	d, err := newGeneric(stub).Transform(context.Background(), CaliforniaPUC, raw)
	require.NoError(t, err)

	f := d.Filings[0]
	assert.Empty(t, f.FilingType)
	assert.Equal(t, []docket.OrgName{
		{Name: "Pacific Gas and Electric", Suffix: "Company"},
		{Name: "Sierra Club"},
	}, f.OrganizationAuthors)
}

func TestGenericDisabledEnrichmentMakesNoCalls(t *testing.T) {
	t.Parallel()

	raw := baseRaw()
	raw.Filings = docket.List[docket.RawFiling]{{Name: "Motion", Description: "Motion to compel"}}

	d, err := NewGeneric(nil, nil, nil).Transform(context.Background(), CaliforniaPUC, raw)
	require.NoError(t, err)
	assert.Empty(t, d.Filings[0].FilingType)
	assert.True(t, d.IndexedAt.IsZero())
}

func TestNYPUCOverridesMatterType(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	RegisterDefaults(r, newGeneric(nil))

	payload := []byte(`{
		"case_govid": "24-E-0001",
		"case_name": "Tariff filing",
		"case_url": "https://documents.dps.ny.gov/public/MatterManagement/CaseMaster.aspx?MatterCaseNo=24-E-0001",
		"case_type": "Other - Misc",
		"extra_metadata": {"matter_type": "Tariff Filing", "matter_subtype": "Electric"},
		"filings": {"1": {"name": "Second"}, "0": {"name": "First"}}
	}`)
	d, err := r.Transform(context.Background(), NewYorkPUC, payload)
	require.NoError(t, err)
	assert.Equal(t, "Tariff Filing", d.CaseType)
	assert.Equal(t, "Electric", d.CaseSubtype)
	require.Len(t, d.Filings, 2)
	assert.Equal(t, "First", d.Filings[0].Name)

	payload = []byte(`{
		"case_govid": "24-E-0002",
		"case_name": "Tariff filing",
		"case_url": "https://documents.dps.ny.gov/public/x",
		"case_type": "Other - Misc",
		"extra_metadata": {"matter_type": "Tariff Filing", "matter_subtype": 7}
	}`)
	d, err = r.Transform(context.Background(), NewYorkPUC, payload)
	require.NoError(t, err)
	assert.Equal(t, "Other", d.CaseType)
	assert.Equal(t, "Misc", d.CaseSubtype)
}

func TestRegisterDefaultsExtraKeys(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	extra := docket.NewUSAKey("co", "puc")
	RegisterDefaults(r, newGeneric(nil), extra)
	assert.Equal(t, []docket.JurisdictionKey{CaliforniaPUC, extra, NewYorkPUC}, r.Keys())
}

func TestCleanOrgName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want docket.OrgName
	}{
		{"Acme, Inc.", docket.OrgName{Name: "Acme", Suffix: "Inc."}},
		{"  Southern   California Edison  Company ", docket.OrgName{Name: "Southern California Edison", Suffix: "Company"}},
		{"Widgets llc", docket.OrgName{Name: "Widgets", Suffix: "llc"}},
		{"Sierra Club;", docket.OrgName{Name: "Sierra Club"}},
		{"Inc.", docket.OrgName{Name: "Inc."}},
		{"Telco", docket.OrgName{Name: "Telco"}},
	}
	for _, tc := range tests {
		got, ok := CleanOrgName(tc.in)
		require.True(t, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, ok := CleanOrgName(" ,; ")
	assert.False(t, ok)
}

func TestSplitBlobKeepsAnd(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		[]string{"Pacific Gas and Electric Company", "Sierra Club", "TURN"},
		SplitBlob("Pacific Gas and Electric Company; Sierra Club\r\n| TURN ;"),
	)
	assert.Empty(t, SplitBlob("  "))
}
