package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Browser-like request headers sent with every fetch.
const (
	BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	browserAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	browserAcceptLanguage = "en-US,en;q=0.5"
	browserAcceptEncoding = "gzip, deflate"
)

// BrowserHeaders returns a fresh copy of the desktop browser header set.
func BrowserHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", BrowserUserAgent)
	h.Set("Accept", browserAccept)
	h.Set("Accept-Language", browserAcceptLanguage)
	h.Set("Accept-Encoding", browserAcceptEncoding)
	h.Set("Connection", "keep-alive")
	return h
}

// WaitDelay sleeps for d unless ctx finishes first.
func WaitDelay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pre-request delay interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
