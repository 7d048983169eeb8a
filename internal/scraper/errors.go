package scraper

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by stores, the runner and the API.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrJobRunning        = errors.New("job is already running")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRerunNotAllowed   = errors.New("job already finished and reruns are disabled")
	ErrRunCanceled       = errors.New("job canceled")
	ErrQueueClosed       = errors.New("queue closed")
)

// FetchError reports a transport failure or a non-success HTTP status.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP error! status: %d (%s)", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s failed", e.URL)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewStatusError builds a FetchError for a non-2xx response.
func NewStatusError(url string, status int) *FetchError {
	return &FetchError{URL: url, StatusCode: status}
}

// IsSuccessStatus reports whether status is in the 2xx range.
func IsSuccessStatus(status int) bool {
	return status >= 200 && status < 300
}
