package gcs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "pages"})
	require.EqualError(t, err, "storage client is required")
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	var gotBucket, gotPath, gotType string
	store, err := newBlobStore(Config{Bucket: "archive"}, func(_ context.Context, bucket, path, contentType string) objectWriter {
		gotBucket, gotPath, gotType = bucket, path, contentType
		return writer
	})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "/pages/job-1/abc.html", "text/html", strings.NewReader("<p>hi</p>"))
	require.NoError(t, err)
	require.Equal(t, "gs://archive/pages/job-1/abc.html", uri)
	require.Equal(t, "archive", gotBucket)
	require.Equal(t, "pages/job-1/abc.html", gotPath)
	require.Equal(t, "text/html", gotType)
	require.Equal(t, "<p>hi</p>", writer.String())
	require.True(t, writer.closed)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	_, err := newBlobStore(Config{}, nil)
	require.EqualError(t, err, "bucket name is required")

	closeFails := &fakeWriter{closeErr: errors.New("quota exceeded")}
	store, err := newBlobStore(Config{Bucket: "b"}, func(context.Context, string, string, string) objectWriter {
		return closeFails
	})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	require.EqualError(t, err, "path is required")

	_, err = store.PutObject(context.Background(), "p.html", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "close writer: quota exceeded")
}

type fakeWriter struct {
	bytes.Buffer
	closed   bool
	closeErr error
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}
