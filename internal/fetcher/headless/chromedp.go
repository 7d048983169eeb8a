// Package headless renders pages in headless Chrome before extraction, for
// targets whose records only exist after JavaScript runs.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
)

const (
	defaultNavTimeout  = 30 * time.Second
	defaultSettleDelay = 500 * time.Millisecond
)

// browserManagedHeaders are dropped from request headers before they are
// handed to Chrome.
var browserManagedHeaders = []string{"User-Agent", "Accept-Encoding", "Connection"}

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps open tabs. Zero means unlimited.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the body is ready.
	SettleDelay time.Duration
}

// Fetcher implements scraper.Fetcher using chromedp. All tabs share one
// browser process.
type Fetcher struct {
	cfg     Config
	tabs    *semaphore.Weighted
	browser context.Context
	stop    context.CancelFunc
}

// New starts the shared Chrome allocator.
func New(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("headless: max parallel must be >= 0")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = scraper.BrowserUserAgent
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}

	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	flags := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	f.browser, f.stop = chromedp.NewExecAllocator(context.Background(), flags...)
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.stop()
}

// Fetch waits for the request delay, opens a tab, and returns the rendered
// DOM. A non-2xx document response is reported as a FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	fail := func(err error) (scraper.FetchResponse, error) {
		return scraper.FetchResponse{}, &scraper.FetchError{URL: request.URL, Err: err}
	}
	if err := scraper.WaitDelay(ctx, request.Delay); err != nil {
		return fail(err)
	}
	if f.tabs != nil {
		if err := f.tabs.Acquire(ctx, 1); err != nil {
			return fail(fmt.Errorf("wait for browser tab: %w", err))
		}
		defer f.tabs.Release(1)
	}

	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	defer context.AfterFunc(ctx, closeTab)()
	tab, cancel := context.WithTimeout(tab, f.cfg.NavigationTimeout)
	defer cancel()

	doc := &documentResponse{}
	chromedp.ListenTarget(tab, doc.observe)

	started := time.Now()
	var html, location string
	err := chromedp.Run(tab,
		f.prepareTab(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return fail(fmt.Errorf("%w: render: %w", ctx.Err(), err))
		}
		return fail(fmt.Errorf("render: %w", err))
	}

	resp := doc.result(request.URL, location)
	resp.Body = []byte(html)
	resp.Duration = time.Since(started)
	if !scraper.IsSuccessStatus(resp.StatusCode) {
		return resp, scraper.NewStatusError(request.URL, resp.StatusCode)
	}
	return resp, nil
}

// prepareTab enables network events and applies the user agent and any
// caller headers.
func (f *Fetcher) prepareTab(headers http.Header) chromedp.Action {
	extra := network.Headers{}
	for key, values := range headers {
		if isBrowserManaged(key) {
			continue
		}
		switch len(values) {
		case 0:
		case 1:
			extra[key] = values[0]
		default:
			extra[key] = append([]string(nil), values...)
		}
	}
	return chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(f.cfg.UserAgent),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if len(extra) == 0 {
				return nil
			}
			return network.SetExtraHTTPHeaders(extra).Do(ctx)
		}),
	}
}

func isBrowserManaged(key string) bool {
	canonical := http.CanonicalHeaderKey(key)
	for _, h := range browserManagedHeaders {
		if canonical == h {
			return true
		}
	}
	return false
}
