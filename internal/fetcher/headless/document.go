package headless

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
)

// documentResponse remembers the last top-level document response a tab
// received. Redirect hops arrive first, so the final page wins.
type documentResponse struct {
	mu      sync.Mutex
	seen    bool
	status  int
	url     string
	headers http.Header
}

func (d *documentResponse) observe(ev any) {
	event, ok := ev.(*network.EventResponseReceived)
	if !ok || event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := make(http.Header, len(event.Response.Headers))
	for key, value := range event.Response.Headers {
		if values, ok := value.([]any); ok {
			for _, v := range values {
				headers.Add(key, fmt.Sprint(v))
			}
			continue
		}
		headers.Add(key, fmt.Sprint(value))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = true
	d.status = int(event.Response.Status)
	d.url = event.Response.URL
	d.headers = headers
}

// result builds the response metadata. Without an observed document it
// assumes 200 and falls back to the tab location, then the requested URL.
func (d *documentResponse) result(requested, location string) scraper.FetchResponse {
	d.mu.Lock()
	defer d.mu.Unlock()

	resp := scraper.FetchResponse{StatusCode: http.StatusOK, Headers: http.Header{}, URL: requested}
	if location != "" {
		resp.URL = location
	}
	if !d.seen {
		return resp
	}
	if d.status != 0 {
		resp.StatusCode = d.status
	}
	if d.url != "" {
		resp.URL = d.url
	}
	resp.Headers = d.headers.Clone()
	return resp
}
