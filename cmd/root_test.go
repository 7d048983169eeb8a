package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SCRAPEJOBS_LOGGING_LEVEL", "error")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestScrapeCommandPrintsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>
			<div class="item"><h2>Boots</h2><span class="price">$80</span></div>
			<div class="item"><h2>Sandals</h2><span class="price">$30</span></div>
		</body></html>`))
	}))
	t.Cleanup(srv.Close)

	out, err := execute(t, "scrape", "--url", srv.URL, "--container", ".item", "--title", "h2", "--price", ".price", "--delay", "1")
	require.NoError(t, err)

	var result scraper.ScrapeResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.True(t, result.Success)
	require.Equal(t, 2, result.Count)
	require.Equal(t, "Boots", *result.Data[0].Title)
	require.Equal(t, "$30", *result.Data[1].Price)
}

func TestScrapeCommandReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	out, err := execute(t, "scrape", "--url", srv.URL, "--delay", "1")
	require.EqualError(t, err, "HTTP error! status: 404 (Not Found)")
	require.Contains(t, out, `"success": false`)
}

func TestScrapeCommandRejectsBadSelector(t *testing.T) {
	_, err := execute(t, "scrape", "--url", "https://example.com", "--title", "h2[")
	require.ErrorContains(t, err, "--title")
}

func TestMigrateRequiresDSN(t *testing.T) {
	_, err := execute(t, "migrate", "up")
	require.ErrorContains(t, err, "database.dsn is required")
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "--config", "/does/not/exist.yaml", "serve")
	require.ErrorContains(t, err, "load config")
}
