// Package auto fetches with a plain HTTP client first and repeats the fetch
// in headless Chrome when the response looks like a client-rendered shell.
package auto

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
)

// Detector decides whether a probe response needs rendering.
type Detector interface {
	ShouldPromote(resp scraper.FetchResponse) bool
}

// Fetcher chains a probe and a headless fetcher.
type Fetcher struct {
	probe    scraper.Fetcher
	headless scraper.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New builds a promoting Fetcher. A nil headless fetcher or detector
// disables promotion.
func New(probe, headless scraper.Fetcher, detector Detector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		probe:    probe,
		headless: headless,
		detector: detector,
		logger:   logger.Named("auto_fetcher"),
	}
}

// Fetch probes request.URL and, when promoted, re-fetches it with the
// headless browser. The request delay is only honored once. A failed
// promotion falls back to the probe response.
func (f *Fetcher) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	resp, err := f.probe.Fetch(ctx, request)
	if err != nil {
		return resp, err
	}
	if f.headless == nil || f.detector == nil || !f.detector.ShouldPromote(resp) {
		return resp, nil
	}

	promoted := request
	promoted.Delay = 0
	rendered, err := f.headless.Fetch(ctx, promoted)
	if err != nil {
		f.logger.Warn("headless promotion failed",
			zap.String("job_id", request.JobID),
			zap.String("url", request.URL),
			zap.Error(err),
		)
		return resp, nil
	}
	f.logger.Debug("headless promotion applied", zap.String("job_id", request.JobID), zap.String("url", request.URL))
	rendered.Duration += resp.Duration
	return rendered, nil
}
