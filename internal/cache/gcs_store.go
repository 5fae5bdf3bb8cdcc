package cache

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// DefaultSnapshotObject names the object holding the serialized cache.
const DefaultSnapshotObject = "moodtrack/cache-snapshot.json"

// GCSObject abstracts the *storage.ObjectHandle operations the snapshot store
// needs so tests can run without a real bucket.
type GCSObject interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
	Delete(ctx context.Context) error
}

// GCSStore keeps the snapshot as a single object in a Cloud Storage bucket.
type GCSStore struct {
	object GCSObject
	client *storage.Client
}

// NewGCSStore opens a storage client with application default credentials and
// binds the store to bucket/object.
func NewGCSStore(ctx context.Context, bucket, object string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("cache: gcs bucket required")
	}
	if object == "" {
		object = DefaultSnapshotObject
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: gcs client: %w", err)
	}
	store := NewGCSStoreForObject(&gcsObjectAdapter{handle: client.Bucket(bucket).Object(object)})
	store.client = client
	return store, nil
}

// NewGCSStoreForObject builds a store around an existing object handle.
func NewGCSStoreForObject(object GCSObject) *GCSStore {
	return &GCSStore{object: object}
}

func (s *GCSStore) Load(ctx context.Context) ([]byte, error) {
	reader, err := s.object.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("cache: gcs open reader: %w", err)
	}
	defer reader.Close()
	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("cache: gcs read: %w", err)
	}
	return payload, nil
}

func (s *GCSStore) Save(ctx context.Context, payload []byte) error {
	writer := s.object.NewWriter(ctx)
	if _, err := writer.Write(payload); err != nil {
		_ = writer.Close()
		return fmt.Errorf("cache: gcs write: %w", err)
	}
	// The object only becomes visible once Close succeeds.
	if err := writer.Close(); err != nil {
		return fmt.Errorf("cache: gcs finalize: %w", err)
	}
	return nil
}

func (s *GCSStore) Clear(ctx context.Context) error {
	if err := s.object.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("cache: gcs delete: %w", err)
	}
	return nil
}

func (s *GCSStore) Close(context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("cache: gcs close: %w", err)
	}
	return nil
}

// gcsObjectAdapter wraps a *storage.ObjectHandle to satisfy GCSObject.
type gcsObjectAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return a.handle.NewReader(ctx)
}

func (a *gcsObjectAdapter) NewWriter(ctx context.Context) io.WriteCloser {
	w := a.handle.NewWriter(ctx)
	w.ContentType = "application/json"
	return w
}

func (a *gcsObjectAdapter) Delete(ctx context.Context) error {
	return a.handle.Delete(ctx)
}
