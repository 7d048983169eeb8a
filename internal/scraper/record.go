package scraper

import "time"

// ExtractedRecord is one structured record pulled from a page. Fields are
// declared in output order; unset fields are omitted from JSON.
type ExtractedRecord struct {
	Title       *string `json:"title,omitempty"`
	Price       *string `json:"price,omitempty"`
	Description *string `json:"description,omitempty"`
	Image       *string `json:"image,omitempty"`
	URL         *string `json:"url,omitempty"`
}

// Fields returns the set fields keyed by name.
func (r ExtractedRecord) Fields() map[string]string {
	out := map[string]string{}
	for name, v := range map[string]*string{
		"title":       r.Title,
		"price":       r.Price,
		"description": r.Description,
		"image":       r.Image,
		"url":         r.URL,
	} {
		if v != nil {
			out[name] = *v
		}
	}
	return out
}

// Empty reports whether the record carries no non-empty value.
func (r ExtractedRecord) Empty() bool {
	for _, v := range []*string{r.Title, r.Price, r.Description, r.Image, r.URL} {
		if v != nil && *v != "" {
			return false
		}
	}
	return true
}

// ScrapeResult is the envelope returned by every run.
type ScrapeResult struct {
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Data      []ExtractedRecord `json:"data"`
	Count     int               `json:"count"`
	URL       string            `json:"url"`
	ScrapedAt *time.Time        `json:"scrapedAt,omitempty"`
}

// SuccessResult builds the envelope for a completed run.
func SuccessResult(url string, records []ExtractedRecord, scrapedAt time.Time) ScrapeResult {
	if records == nil {
		records = []ExtractedRecord{}
	}
	ts := scrapedAt
	return ScrapeResult{
		Success:   true,
		Data:      records,
		Count:     len(records),
		URL:       url,
		ScrapedAt: &ts,
	}
}

// FailureResult builds the envelope for a failed run.
func FailureResult(url string, err error) ScrapeResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ScrapeResult{
		Success: false,
		Error:   msg,
		Data:    []ExtractedRecord{},
		Count:   0,
		URL:     url,
	}
}
