// Package collyfetcher implements scraper.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	// UserAgent overrides the browser User-Agent when set.
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements scraper.Fetcher with a single Colly visit per call.
// Every call clones a template collector so visits never share callbacks.
type Fetcher struct {
	userAgent string
	template  *colly.Collector
}

// New builds a Fetcher. Robots rules are not consulted and the same URL may
// be fetched repeatedly.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = scraper.BrowserUserAgent
	}
	template := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.UserAgent(userAgent),
		colly.ParseHTTPErrorResponse(),
	)
	template.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	})
	// Clones share the backend client, so the timeout only needs setting here.
	template.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{userAgent: cfg.UserAgent, template: template}
}

// Fetch waits for the request delay and then performs one GET.
func (f *Fetcher) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	if err := scraper.WaitDelay(ctx, request.Delay); err != nil {
		return scraper.FetchResponse{}, &scraper.FetchError{URL: request.URL, Err: err}
	}

	v := &visit{request: request, userAgent: f.userAgent, started: time.Now()}
	collector := f.template.Clone()
	collector.Context = ctx
	collector.OnRequest(v.prepare)
	collector.OnResponse(v.record)
	collector.OnError(v.fail)

	done := make(chan error, 1)
	go func() { done <- collector.Visit(request.URL) }()

	select {
	case <-ctx.Done():
		return scraper.FetchResponse{}, &scraper.FetchError{
			URL: request.URL,
			Err: fmt.Errorf("colly fetch canceled: %w", ctx.Err()),
		}
	case err := <-done:
		return v.outcome(err)
	}
}

// visit collects the callbacks of one collector run.
type visit struct {
	request   scraper.FetchRequest
	userAgent string
	started   time.Time

	response scraper.FetchResponse
	err      error
}

// prepare applies the caller's headers, or the browser set when none are
// given. A configured user agent always wins.
func (v *visit) prepare(r *colly.Request) {
	headers := v.request.Headers
	if headers == nil {
		headers = scraper.BrowserHeaders()
	}
	for key, values := range headers {
		r.Headers.Del(key)
		for _, value := range values {
			r.Headers.Add(key, value)
		}
	}
	if v.userAgent != "" {
		r.Headers.Set("User-Agent", v.userAgent)
	}
}

func (v *visit) record(r *colly.Response) {
	body, err := decodeBody(r.Headers.Get("Content-Encoding"), r.Body)
	if err != nil {
		v.err = fmt.Errorf("decode response body: %w", err)
		return
	}
	v.response = scraper.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    r.Headers.Clone(),
		Body:       body,
		Duration:   time.Since(v.started),
	}
}

// decodeBody inflates deflate-encoded bodies, which colly passes through
// untouched. Servers disagree on whether deflate carries the zlib wrapper,
// so raw DEFLATE is tried when the zlib header is missing. Other encodings
// arrive already decoded.
func decodeBody(encoding string, body []byte) ([]byte, error) {
	if !strings.EqualFold(strings.TrimSpace(encoding), "deflate") {
		return append([]byte(nil), body...), nil
	}
	if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
		defer func() { _ = zr.Close() }()
		return io.ReadAll(zr)
	}
	fr := flate.NewReader(bytes.NewReader(body))
	defer func() { _ = fr.Close() }()
	return io.ReadAll(fr)
}

func (v *visit) fail(r *colly.Response, err error) {
	if r != nil && r.StatusCode > 0 {
		v.err = scraper.NewStatusError(v.request.URL, r.StatusCode)
		return
	}
	v.err = err
}

// outcome turns the callback state and the Visit error into the Fetch result.
// Responses with a non-2xx status are returned alongside their status error.
func (v *visit) outcome(visitErr error) (scraper.FetchResponse, error) {
	switch {
	case v.err != nil:
		var fetchErr *scraper.FetchError
		if errors.As(v.err, &fetchErr) {
			return v.response, fetchErr
		}
		return scraper.FetchResponse{}, &scraper.FetchError{URL: v.request.URL, Err: v.err}
	case visitErr != nil:
		return scraper.FetchResponse{}, &scraper.FetchError{
			URL: v.request.URL,
			Err: fmt.Errorf("colly visit failed: %w", visitErr),
		}
	case !scraper.IsSuccessStatus(v.response.StatusCode):
		return v.response, scraper.NewStatusError(v.request.URL, v.response.StatusCode)
	}
	return v.response, nil
}
