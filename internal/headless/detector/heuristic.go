// Package detector decides when a plain HTTP fetch needs to be repeated in a
// headless browser because the page is rendered client-side.
package detector

import (
	"bytes"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
	"github.com/JakeFAU/scrapejobs/internal/selector"
)

const (
	defaultThreshold = 2048
	// scriptSharePercent is the portion of a small document held in script
	// elements above which the page is treated as a client-rendered shell.
	scriptSharePercent = 25
)

// mountPoints are framework roots that stay empty until scripts run.
var mountPoints = []string{
	"#__next",
	"#__nuxt",
	"#root",
	"#app",
	"[data-reactroot]",
	"[ng-version]",
	"[data-server-rendered]",
}

// Heuristic flags single-page-app shells: empty bodies, empty framework
// mount points, and small script-heavy documents.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a detector. Documents shorter than threshold bytes are
// checked for script weight; a non-positive threshold means 2048.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// ShouldPromote reports whether resp should be fetched again with a browser.
// Error responses are never promoted.
func (h *Heuristic) ShouldPromote(resp scraper.FetchResponse) bool {
	if !scraper.IsSuccessStatus(resp.StatusCode) {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := selector.ParseBytes(resp.Body)
	if err != nil {
		return false
	}
	root := doc.Root()
	for _, sel := range mountPoints {
		if mount, ok := root.First(sel); ok && mount.Text() == "" {
			return true
		}
	}
	if len(resp.Body) >= h.BodyLengthThreshold {
		return false
	}
	return scriptHeavy(root, len(resp.Body))
}

// scriptHeavy compares the rendered size of all script elements with the
// document size.
func scriptHeavy(root selector.Node, size int) bool {
	if size == 0 {
		return false
	}
	scripts := 0
	for _, script := range root.FindAll("script") {
		scripts += len(script.OuterHTML())
	}
	return scripts*100/size >= scriptSharePercent
}
