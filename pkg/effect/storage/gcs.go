//go:build gcp

package storage

import (
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/nrf1proto/capsule/pkg/errs"
)

// GCSStore implements Store on Google Cloud Storage.
//
// Grounded on pkg/artifacts/gcs_store.go, retargeted to "b3:<hex>"
// content identifiers; kept behind the same "gcp" build tag as the
// teacher's file since it pulls in the GCS client only when needed.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig configures a GCSStore.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore builds a GCS-backed Store using application default
// credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errs.New(errs.IoStorageFailed, "storage: create gcs client: %v", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) objectPath(cid string) string {
	return s.prefix + strings.TrimPrefix(cid, "b3:") + ".blob"
}

// Store uploads data keyed by its content identifier.
func (s *GCSStore) Store(ctx context.Context, data []byte) (string, error) {
	cid := contentID(data)
	obj := s.client.Bucket(s.bucket).Object(s.objectPath(cid))

	if _, err := obj.Attrs(ctx); err == nil {
		return cid, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", errs.New(errs.IoStorageFailed, "storage: gcs write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		return "", errs.New(errs.IoStorageFailed, "storage: gcs close failed: %v", err)
	}
	return cid, nil
}

// Get retrieves the blob for cid.
func (s *GCSStore) Get(ctx context.Context, cid string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.objectPath(cid)).NewReader(ctx)
	if err != nil {
		return nil, errs.New(errs.IoStorageFailed, "storage: gcs get failed for %s: %v", cid, err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// Exists reports whether cid is present.
func (s *GCSStore) Exists(ctx context.Context, cid string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(s.objectPath(cid)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, errs.New(errs.IoStorageFailed, "storage: gcs attrs error: %v", err)
	}
	return true, nil
}

// Delete removes the blob for cid.
func (s *GCSStore) Delete(ctx context.Context, cid string) error {
	err := s.client.Bucket(s.bucket).Object(s.objectPath(cid)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errs.New(errs.IoStorageFailed, "storage: gcs delete failed for %s: %v", cid, err)
	}
	return nil
}

// Close releases the underlying GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
