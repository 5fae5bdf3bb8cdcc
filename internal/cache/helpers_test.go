package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_760_000_000_000)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// memoryStore records snapshots in memory and can be told to fail.
type memoryStore struct {
	mu      sync.Mutex
	payload []byte
	saves   int
	clears  int
	failing bool
}

func (s *memoryStore) Load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.New("store unavailable")
	}
	if s.payload == nil {
		return nil, ErrNoSnapshot
	}
	return append([]byte(nil), s.payload...), nil
}

func (s *memoryStore) Save(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("store unavailable")
	}
	s.payload = append([]byte(nil), payload...)
	s.saves++
	return nil
}

func (s *memoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = nil
	s.clears++
	return nil
}

func (s *memoryStore) Close(context.Context) error { return nil }

func (s *memoryStore) snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.payload...)
}

// gatedStore holds its first Save until gate is closed.
type gatedStore struct {
	memoryStore
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGatedStore() *gatedStore {
	return &gatedStore{entered: make(chan struct{}), gate: make(chan struct{})}
}

func (s *gatedStore) Save(ctx context.Context, payload []byte) error {
	first := false
	s.once.Do(func() {
		first = true
		close(s.entered)
	})
	if first {
		<-s.gate
	}
	return s.memoryStore.Save(ctx, payload)
}

func (s *gatedStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
