package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoSnapshot reports that the store holds no persisted snapshot.
var ErrNoSnapshot = errors.New("cache: no snapshot")

// SnapshotStore persists the serialized cache as a single record.
type SnapshotStore interface {
	// Load returns the stored snapshot or ErrNoSnapshot when none exists.
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, payload []byte) error
	Clear(ctx context.Context) error
	Close(ctx context.Context) error
}

// snapshotRecord is the persisted layout. Timestamps are unix milliseconds.
type snapshotRecord struct {
	SavedAt int64                    `json:"savedAt"`
	Entries map[string]snapshotEntry `json:"entries"`
}

type snapshotEntry struct {
	Value     json.RawMessage `json:"value"`
	StoredAt  int64           `json:"storedAt,omitempty"`
	ExpiresAt int64           `json:"expiresAt"`
	OwnerID   string          `json:"ownerId,omitempty"`
}

type snapshot struct {
	savedAt time.Time
	entries map[string]Entry
	// invalid counts entries dropped because they lacked a value or expiry.
	invalid int
}

func encodeSnapshot(now time.Time, entries map[string]Entry) ([]byte, error) {
	record := snapshotRecord{
		SavedAt: now.UnixMilli(),
		Entries: make(map[string]snapshotEntry, len(entries)),
	}
	for key, entry := range entries {
		se := snapshotEntry{
			Value:     entry.Value,
			ExpiresAt: entry.ExpiresAt.UnixMilli(),
			OwnerID:   entry.Owner,
		}
		if !entry.StoredAt.IsZero() {
			se.StoredAt = entry.StoredAt.UnixMilli()
		}
		record.Entries[key] = se
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("cache: encode snapshot: %w", err)
	}
	return payload, nil
}

func decodeSnapshot(payload []byte) (snapshot, error) {
	var record snapshotRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return snapshot{}, fmt.Errorf("cache: decode snapshot: %w", err)
	}
	if record.SavedAt <= 0 {
		return snapshot{}, errors.New("cache: decode snapshot: savedAt missing")
	}
	out := snapshot{
		savedAt: time.UnixMilli(record.SavedAt),
		entries: make(map[string]Entry, len(record.Entries)),
	}
	for key, se := range record.Entries {
		if key == "" || len(se.Value) == 0 || se.ExpiresAt <= 0 {
			out.invalid++
			continue
		}
		entry := Entry{
			Value:     se.Value,
			Owner:     se.OwnerID,
			ExpiresAt: time.UnixMilli(se.ExpiresAt),
		}
		if se.StoredAt > 0 {
			entry.StoredAt = time.UnixMilli(se.StoredAt)
		}
		out.entries[key] = entry
	}
	return out, nil
}
