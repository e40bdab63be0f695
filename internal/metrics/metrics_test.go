package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://DPS.ny.gov/Docs/file.pdf", "dps.ny.gov"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if casesTotal == nil || attachmentsTotal == nil || httpRequestsTotal == nil || queueDepth == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservers(t *testing.T) {
	ObserveCase("usa/ca/puc", "partial_success", 2*time.Second)
	if val := testutil.ToFloat64(casesTotal.WithLabelValues("usa/ca/puc", "partial_success")); val < 1 {
		t.Errorf("expected case counter to be incremented, got %f", val)
	}

	before := testutil.ToFloat64(attachmentBytesTotal.WithLabelValues("files.example.gov"))
	ObserveAttachment("https://files.example.gov/a.pdf", "succeeded", 200)
	after := testutil.ToFloat64(attachmentBytesTotal.WithLabelValues("files.example.gov"))
	if after-before != 200 {
		t.Errorf("expected 200 bytes recorded, got %f", after-before)
	}

	SetQueueDepth(7)
	if val := testutil.ToFloat64(queueDepth); val != 7 {
		t.Errorf("expected queue depth 7, got %f", val)
	}

	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(activeWorkers); val != 1 {
		t.Errorf("expected 1 active worker, got %f", val)
	}
	DecActiveWorkers()
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://dps.ny.gov", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
