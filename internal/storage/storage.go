package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// AssetStore persists uploaded listing assets (images, certificates)
// in an object storage backend and hands back keys and public URLs.
type AssetStore struct {
	backend ObjectStorage
}

// NewAssetStore constructs an AssetStore for the provided backend.
func NewAssetStore(backend ObjectStorage) *AssetStore {
	return &AssetStore{backend: backend}
}

// EnsureBucket ensures the configured bucket exists.
func (s *AssetStore) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Save uploads an asset under a fresh key prefixed by kind
// ("images" or "certificates") and returns the key.
func (s *AssetStore) Save(ctx context.Context, kind, filename string, r io.Reader, size int64, contentType string) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	key := fmt.Sprintf("%s/%s%s", kind, uuid.NewString(), ext)
	if err := s.backend.Put(ctx, key, r, size, contentType); err != nil {
		return "", err
	}
	return key, nil
}

// Open opens a reader for a stored asset.
func (s *AssetStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

// Remove deletes a stored asset.
func (s *AssetStore) Remove(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// URL returns the public path an asset is served from.
func (s *AssetStore) URL(key string) string {
	return "/uploads/" + key
}

// Bucket returns the configured bucket name.
func (s *AssetStore) Bucket() string {
	return s.backend.Bucket()
}
