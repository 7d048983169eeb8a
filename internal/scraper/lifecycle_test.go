package scraper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to JobStatus
		wantErr  error
	}{
		{JobStatusPending, JobStatusRunning, nil},
		{JobStatusRunning, JobStatusCompleted, nil},
		{JobStatusRunning, JobStatusFailed, nil},
		{JobStatusCompleted, JobStatusRunning, nil},
		{JobStatusFailed, JobStatusRunning, nil},
		{JobStatusRunning, JobStatusRunning, ErrJobRunning},
		{JobStatusPending, JobStatusCompleted, ErrInvalidTransition},
		{JobStatusPending, JobStatusFailed, ErrInvalidTransition},
		{JobStatusCompleted, JobStatusFailed, ErrInvalidTransition},
		{JobStatusFailed, JobStatusPending, ErrInvalidTransition},
		{JobStatusRunning, JobStatusPending, ErrInvalidTransition},
		{JobStatus("bogus"), JobStatusRunning, ErrInvalidTransition},
	}
	for _, tc := range cases {
		err := CheckTransition(tc.from, tc.to)
		if tc.wantErr == nil {
			require.NoError(t, err, "%s -> %s", tc.from, tc.to)
			continue
		}
		require.ErrorIs(t, err, tc.wantErr, "%s -> %s", tc.from, tc.to)
	}
}

func TestCanStart(t *testing.T) {
	t.Parallel()

	require.NoError(t, CanStart(JobStatusPending, false))
	require.NoError(t, CanStart(JobStatusCompleted, true))
	require.NoError(t, CanStart(JobStatusFailed, true))
	require.ErrorIs(t, CanStart(JobStatusCompleted, false), ErrRerunNotAllowed)
	require.ErrorIs(t, CanStart(JobStatusRunning, true), ErrJobRunning)
}

func TestFetchErrorCarriesStatus(t *testing.T) {
	t.Parallel()

	err := error(NewStatusError("https://shop.test", 404))
	require.Contains(t, err.Error(), "404")

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, 404, fetchErr.StatusCode)

	wrapped := &FetchError{URL: "https://shop.test", Err: errors.New("connection refused")}
	require.Contains(t, wrapped.Error(), "connection refused")
	require.ErrorContains(t, errors.Unwrap(wrapped), "connection refused")
}
