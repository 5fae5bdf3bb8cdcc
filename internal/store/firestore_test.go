package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestFirestoreRepository runs against the Firestore emulator when
// FIRESTORE_EMULATOR_HOST is set; the client picks the host up itself.
func TestFirestoreRepository(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	prefix := "test-" + uuid.NewString()[:8] + "-"
	repo, err := NewFirestore(ctx, "moodtrack-test", prefix)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	exerciseRepository(t, repo)
}

func TestNewFirestoreRequiresProject(t *testing.T) {
	_, err := NewFirestore(context.Background(), "", "")
	require.Error(t, err)
}
