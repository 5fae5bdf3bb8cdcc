package tracker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	r, err := ParseRange("2025-03-01", "2025-03-31")
	require.NoError(t, err)
	require.True(t, r.Contains("2025-03-01"))
	require.True(t, r.Contains("2025-03-31"))
	require.False(t, r.Contains("2025-02-28"))
	require.False(t, r.Contains("2025-04-01"))

	open, err := ParseRange("", "")
	require.NoError(t, err)
	require.True(t, open.Contains("1999-12-31"))

	_, err = ParseRange("2025-03-31", "2025-03-01")
	require.ErrorIs(t, err, ErrInvalidEntry)
	_, err = ParseRange("march", "")
	require.ErrorIs(t, err, ErrInvalidEntry)
	_, err = ParseRange("", "2025-13-01")
	require.ErrorIs(t, err, ErrInvalidEntry)
}

func TestEntryDay(t *testing.T) {
	entry := Entry{Date: "2025-03-14", Items: []ItemEntry{{Name: "calm", Selected: true}}}
	day, err := entry.Day()
	require.NoError(t, err)
	require.Equal(t, 14, day.Day())

	_, err = Entry{Date: "14/03/2025"}.Day()
	require.Error(t, err)
}
