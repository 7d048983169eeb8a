package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
)

func TestBulkCreateFromBody(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	csvBody := "URL,Name,notes\n" +
		"https://a.example,Alpha,x\n" +
		"\n" +
		"not-a-url,Broken,y\n" +
		"https://b.example,Beta\n" +
		",Missing,z\n"

	rec := env.do(t, http.MethodPost, "/v1/jobs/bulk", strings.NewReader(csvBody))

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[bulkResponse](t, rec)
	require.Len(t, resp.Created, 2)
	require.Equal(t, "Alpha", resp.Created[0].Name)
	require.Equal(t, "https://b.example", resp.Created[1].URL)
	require.Len(t, resp.Errors, 2)
	require.Equal(t, 4, resp.Errors[0].Row)
	require.Equal(t, 6, resp.Errors[1].Row)

	jobs, err := env.store.ListJobs(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		require.Equal(t, scraper.JobStatusPending, job.Status)
		require.Equal(t, scraper.DefaultRunSettings(), job.Settings)
		require.Equal(t, scraper.SelectorConfig{}, job.Selectors)
	}
}

func TestBulkCreateSkipsMalformedRows(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	csvBody := "name,url\n" +
		"Alpha,https://a.example\n" +
		"Bad \"quote,https://b.example\n" +
		"Gamma,https://c.example\n"

	rec := env.do(t, http.MethodPost, "/v1/jobs/bulk", strings.NewReader(csvBody))

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[bulkResponse](t, rec)
	require.Len(t, resp.Created, 2)
	require.Equal(t, "Alpha", resp.Created[0].Name)
	require.Equal(t, "Gamma", resp.Created[1].Name)
	require.Len(t, resp.Errors, 1)
	require.Equal(t, 3, resp.Errors[0].Row)
	require.Contains(t, resp.Errors[0].Error, "bare \"")
}

func TestBulkCreateFromMultipart(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "jobs.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("name,url\nAlpha,https://a.example\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/bulk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(UserHeader, owner)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[bulkResponse](t, rec)
	require.Len(t, resp.Created, 1)
	require.Empty(t, resp.Errors)
}

func TestBulkCreateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty", body: "", want: "header row"},
		{name: "missing url column", body: "name,link\nA,https://a.example\n", want: "name and url columns"},
		{name: "no valid rows", body: "name,url\n,https://a.example\nB,\n", want: "No valid jobs found in CSV"},
		{name: "header only", body: "name,url\n", want: "No valid jobs found in CSV"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)

			rec := env.do(t, http.MethodPost, "/v1/jobs/bulk", strings.NewReader(tt.body))

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
		})
	}
}
