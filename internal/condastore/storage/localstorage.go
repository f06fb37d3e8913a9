package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/apperrors"
)

// LocalStorage keeps blobs as files under a root directory and serves them
// through the server's own artifact download routes.
type LocalStorage struct {
	root      string
	urlPrefix string
}

var _ Storage = (*LocalStorage)(nil)

// NewLocalStorage creates a filesystem-backed store rooted at root. urlPrefix
// is the path prefix download URLs are built from, typically
// "/api/v1/artifact".
func NewLocalStorage(root, urlPrefix string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalStorage{
		root:      root,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
	}, nil
}

// path maps a key onto the root, rejecting traversal outside it.
func (s *LocalStorage) path(key string) (string, bool) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", false
	}
	return filepath.Join(s.root, clean), true
}

func (s *LocalStorage) Put(ctx context.Context, key string, r io.Reader, contentType string) (err apperrors.Error) {
	p, ok := s.path(key)
	if !ok {
		return ErrStorage.Msg("invalid blob key: " + key)
	}
	if goerr := os.MkdirAll(filepath.Dir(p), 0o755); goerr != nil {
		return ErrStorage.Err(goerr)
	}

	// Write to a temp file and rename so readers never observe a partial
	// blob.
	tmp, goerr := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if goerr != nil {
		return ErrStorage.Err(goerr)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, goerr := io.Copy(tmp, r); goerr != nil {
		return ErrStorage.Err(goerr)
	}
	if goerr := tmp.Close(); goerr != nil {
		return ErrStorage.Err(goerr)
	}
	if goerr := os.Rename(tmp.Name(), p); goerr != nil {
		return ErrStorage.Err(goerr)
	}

	log.Ctx(ctx).Debug().Str("key", key).Str("content_type", contentType).Msg("stored blob")
	return nil
}

func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, apperrors.Error) {
	p, ok := s.path(key)
	if !ok {
		return nil, ErrStorage.Msg("invalid blob key: " + key)
	}
	f, goerr := os.Open(p)
	if goerr != nil {
		if os.IsNotExist(goerr) {
			return nil, ErrBlobNotFound.Msg("blob not found: " + key)
		}
		return nil, ErrStorage.Err(goerr)
	}
	return f, nil
}

func (s *LocalStorage) GetURL(ctx context.Context, key string) (string, apperrors.Error) {
	if _, ok := s.path(key); !ok {
		return "", ErrStorage.Msg("invalid blob key: " + key)
	}
	return s.urlPrefix + "/" + strings.TrimLeft(key, "/"), nil
}

func (s *LocalStorage) Delete(ctx context.Context, key string) apperrors.Error {
	p, ok := s.path(key)
	if !ok {
		return ErrStorage.Msg("invalid blob key: " + key)
	}
	if goerr := os.Remove(p); goerr != nil && !os.IsNotExist(goerr) {
		return ErrStorage.Err(goerr)
	}
	return nil
}
