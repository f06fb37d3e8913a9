// Package storage abstracts the blob store holding build artifacts: logs,
// lockfiles, conda-pack tarballs, and installers. Keys are opaque paths
// chosen by the build manager.
package storage

import (
	"context"
	"io"
	"net/http"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
)

var (
	ErrStorage apperrors.Error = apperrors.New("storage error").SetStatusCode(http.StatusInternalServerError)

	ErrBlobNotFound apperrors.Error = ErrStorage.New("blob not found").SetStatusCode(http.StatusNotFound)
)

// Storage is the blob store interface. Implementations must make Delete
// idempotent so artifact cleanup can be retried.
type Storage interface {
	// Put stores the blob under key, replacing any existing blob.
	Put(ctx context.Context, key string, r io.Reader, contentType string) apperrors.Error
	// Get opens the blob for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, apperrors.Error)
	// GetURL returns a URL a client can fetch the blob from.
	GetURL(ctx context.Context, key string) (string, apperrors.Error)
	// Delete removes the blob. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) apperrors.Error
}
