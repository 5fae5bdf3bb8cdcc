package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func exerciseSnapshotStore(t *testing.T, store SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, store.Save(ctx, []byte(`{"savedAt":1,"entries":{}}`)))
	require.NoError(t, store.Save(ctx, []byte(`{"savedAt":2,"entries":{}}`)))
	payload, err := store.Load(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"savedAt":2,"entries":{}}`, string(payload))

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx), "clearing an absent snapshot succeeds")
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, ErrNoSnapshot)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache-snapshot.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.Equal(t, path, store.Path())

	exerciseSnapshotStore(t, store)

	require.NoError(t, store.Save(context.Background(), []byte(`{}`)))
	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".snapshot-*"))
	require.NoError(t, err)
	require.Empty(t, leftovers, "temp files are renamed away")
	require.NoError(t, store.Close(context.Background()))
}

func TestFileStoreRequiresPath(t *testing.T) {
	_, err := NewFileStore("")
	require.Error(t, err)
}

func TestFileStoreBacksCacheAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	first := New(Options{Store: store, TTL: time.Hour})
	first.Set(ctx, "entries:alice:mood", []string{"calm"}, 0, "alice")
	require.NoError(t, first.Close(ctx))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())

	second := Open(ctx, Options{Store: store, TTL: time.Hour})
	got, ok := Decode[[]string](ctx, second, "entries:alice:mood", "alice")
	require.True(t, ok)
	require.Equal(t, []string{"calm"}, got)
}

func TestValkeyStore(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()

	store, err := NewValkeyStore(ValkeyConfig{Address: server.Addr()})
	require.NoError(t, err)
	defer store.Close(context.Background())

	exerciseSnapshotStore(t, store)

	require.NoError(t, store.Save(context.Background(), []byte(`{"savedAt":3}`)))
	stored, err := server.Get(DefaultSnapshotKey)
	require.NoError(t, err)
	require.Equal(t, `{"savedAt":3}`, stored)
}

func TestValkeyStoreExpiry(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer server.Close()

	store, err := NewValkeyStore(ValkeyConfig{Address: server.Addr(), Key: "custom:snapshot", Expiry: time.Minute})
	require.NoError(t, err)
	defer store.Close(context.Background())

	require.NoError(t, store.Save(context.Background(), []byte(`{}`)))
	require.Equal(t, time.Minute, server.TTL("custom:snapshot"))

	server.FastForward(2 * time.Minute)
	_, err = store.Load(context.Background())
	require.ErrorIs(t, err, ErrNoSnapshot)
}

func TestValkeyStoreRequiresReachableServer(t *testing.T) {
	_, err := NewValkeyStore(ValkeyConfig{})
	require.Error(t, err)

	_, err = NewValkeyStore(ValkeyConfig{Address: "127.0.0.1:1"})
	require.Error(t, err)
}

// fakeGCSObject mimics object semantics: writes become visible on Close.
type fakeGCSObject struct {
	mu       sync.Mutex
	data     []byte
	exists   bool
	writeErr error
}

func (o *fakeGCSObject) NewReader(context.Context) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.exists {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), o.data...))), nil
}

func (o *fakeGCSObject) NewWriter(context.Context) io.WriteCloser {
	return &fakeGCSWriter{object: o}
}

func (o *fakeGCSObject) Delete(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.exists {
		return storage.ErrObjectNotExist
	}
	o.exists = false
	o.data = nil
	return nil
}

type fakeGCSWriter struct {
	object *fakeGCSObject
	buf    bytes.Buffer
}

func (w *fakeGCSWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *fakeGCSWriter) Close() error {
	w.object.mu.Lock()
	defer w.object.mu.Unlock()
	if w.object.writeErr != nil {
		return w.object.writeErr
	}
	w.object.data = append([]byte(nil), w.buf.Bytes()...)
	w.object.exists = true
	return nil
}

func TestGCSStore(t *testing.T) {
	object := &fakeGCSObject{}
	store := NewGCSStoreForObject(object)
	exerciseSnapshotStore(t, store)
	require.NoError(t, store.Close(context.Background()))
}

func TestGCSStoreSurfacesFinalizeErrors(t *testing.T) {
	object := &fakeGCSObject{writeErr: errors.New("precondition failed")}
	store := NewGCSStoreForObject(object)

	err := store.Save(context.Background(), []byte(`{}`))
	require.ErrorContains(t, err, "precondition failed")

	_, err = store.Load(context.Background())
	require.ErrorIs(t, err, ErrNoSnapshot)
}

func TestNewGCSStoreRequiresBucket(t *testing.T) {
	_, err := NewGCSStore(context.Background(), "", "")
	require.Error(t, err)
}
