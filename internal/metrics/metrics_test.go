package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestRunCollectors(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(scrapeRunsTotal.WithLabelValues("collector-test"))
	ObserveRun("collector-test")
	require.InDelta(t, before+1, testutil.ToFloat64(scrapeRunsTotal.WithLabelValues("collector-test")), 0.001)

	ObserveRecords("https://records.test/a", 3)
	ObserveRecords("https://records.test/b", 0)
	require.InDelta(t, 3, testutil.ToFloat64(scrapeRecordsTotal.WithLabelValues("records.test")), 0.001)

	ObserveFetch("https://bytes.test", 10*time.Millisecond, 42)
	require.InDelta(t, 42, testutil.ToFloat64(scrapeBytesTotal.WithLabelValues("bytes.test")), 0.001)
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
