package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "pages/job/abc.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://pages/job/abc.html", uri)

	payload[0] = 'C'
	stored, ok := store.Object("pages/job/abc.html")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))

	_, ok = store.Object("missing")
	require.False(t, ok)
}
