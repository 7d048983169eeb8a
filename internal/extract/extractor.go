// Package extract turns a parsed page and a selector configuration into
// structured records.
package extract

import (
	"strings"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
	"github.com/JakeFAU/scrapejobs/internal/selector"
)

// Extract walks doc according to selectors. With a container selector every
// matching element yields at most one record, in document order, and records
// without a non-empty field are dropped. Without one the whole document is a
// single scope whose record keeps requested fields even when they are empty.
func Extract(
	doc *selector.Document,
	selectors scraper.SelectorConfig,
	settings scraper.RunSettings,
	baseURL string,
) []scraper.ExtractedRecord {
	records := []scraper.ExtractedRecord{}
	if doc == nil {
		return records
	}
	if !selectors.HasContainer() {
		if record, ok := extractDocument(doc.Root(), selectors, settings); ok {
			records = append(records, record)
		}
		return records
	}
	for _, scope := range doc.Root().FindAll(strings.TrimSpace(selectors.Container)) {
		record := extractContainer(scope, selectors, settings, baseURL)
		if record.Empty() {
			continue
		}
		records = append(records, record)
	}
	return records
}

func extractContainer(
	scope selector.Node,
	selectors scraper.SelectorConfig,
	settings scraper.RunSettings,
	baseURL string,
) scraper.ExtractedRecord {
	var record scraper.ExtractedRecord
	if sel, ok := role(selectors.Title); ok {
		record.Title = nonEmpty(title(scope, sel))
	}
	if sel, ok := role(selectors.Price); ok {
		record.Price = nonEmpty(text(scope, sel))
	}
	if sel, ok := role(selectors.Description); ok {
		record.Description = nonEmpty(text(scope, sel))
	}
	if sel, ok := role(selectors.Image); ok && settings.IncludeImages {
		src := imageSource(scope, sel)
		if src == "" {
			if img, found := scope.First("img"); found {
				src, _ = img.Attr("src")
			}
		}
		record.Image = nonEmpty(src)
	}
	if anchor, found := scope.First("a"); found {
		if href, _ := anchor.Attr("href"); href != "" {
			if resolved, err := selector.ResolveURL(baseURL, href); err == nil {
				record.URL = &resolved
			}
		}
	}
	return record
}

func extractDocument(
	root selector.Node,
	selectors scraper.SelectorConfig,
	settings scraper.RunSettings,
) (scraper.ExtractedRecord, bool) {
	var (
		record    scraper.ExtractedRecord
		requested bool
	)
	if sel, ok := role(selectors.Title); ok {
		record.Title = ptr(title(root, sel))
		requested = true
	}
	if sel, ok := role(selectors.Price); ok {
		record.Price = ptr(text(root, sel))
		requested = true
	}
	if sel, ok := role(selectors.Description); ok {
		record.Description = ptr(text(root, sel))
		requested = true
	}
	if sel, ok := role(selectors.Image); ok && settings.IncludeImages {
		record.Image = ptr(imageSource(root, sel))
		requested = true
	}
	return record, requested
}

// title prefers the text of the first match and falls back to its title attribute.
func title(scope selector.Node, sel string) string {
	match, ok := scope.First(sel)
	if !ok {
		return ""
	}
	if v := match.Text(); v != "" {
		return v
	}
	v, _ := match.Attr("title")
	return v
}

func text(scope selector.Node, sel string) string {
	match, ok := scope.First(sel)
	if !ok {
		return ""
	}
	return match.Text()
}

func imageSource(scope selector.Node, sel string) string {
	match, ok := scope.First(sel)
	if !ok {
		return ""
	}
	for _, attr := range []string{"src", "data-src"} {
		if v, _ := match.Attr(attr); v != "" {
			return v
		}
	}
	return ""
}

func role(sel string) (string, bool) {
	sel = strings.TrimSpace(sel)
	return sel, sel != ""
}

func nonEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func ptr(v string) *string {
	return &v
}
