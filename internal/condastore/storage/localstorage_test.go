package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir(), "/api/v1/artifact")
	require.NoError(t, err)

	key := "builds/42/logs/build.log"
	require.NoError(t, s.Put(ctx, key, strings.NewReader("log line\n"), "text/plain"))

	r, aerr := s.Get(ctx, key)
	require.NoError(t, aerr)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "log line\n", string(data))

	u, aerr := s.GetURL(ctx, key)
	require.NoError(t, aerr)
	assert.Equal(t, "/api/v1/artifact/builds/42/logs/build.log", u)

	// Overwrite replaces the blob.
	require.NoError(t, s.Put(ctx, key, strings.NewReader("v2"), "text/plain"))
	r, aerr = s.Get(ctx, key)
	require.NoError(t, aerr)
	data, err = io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "v2", string(data))
}

func TestLocalStorageDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir(), "/api/v1/artifact")
	require.NoError(t, err)

	key := "builds/1/env.tar.gz"
	require.NoError(t, s.Put(ctx, key, strings.NewReader("blob"), "application/gzip"))
	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))

	_, aerr := s.Get(ctx, key)
	require.Error(t, aerr)
	assert.True(t, errors.Is(aerr, ErrBlobNotFound))
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewLocalStorage(root, "/api/v1/artifact")
	require.NoError(t, err)

	// Traversal collapses inside the root rather than escaping it.
	require.NoError(t, s.Put(ctx, "../../etc/passwd", strings.NewReader("x"), "text/plain"))
	r, aerr := s.Get(ctx, "etc/passwd")
	require.NoError(t, aerr)
	require.NoError(t, r.Close())

	aerr = s.Put(ctx, "", strings.NewReader("x"), "text/plain")
	assert.Error(t, aerr)
}
