package pagination

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC)

	full := Cursor{CreatedAt: created, ID: 42}
	require.Equal(t, "2024-05-01T12:00:00.123456Z_42", full.String())
	parsed, err := ParseCursor(full.String())
	require.NoError(t, err)
	require.True(t, parsed.CreatedAt.Equal(created))
	require.Equal(t, int64(42), parsed.ID)

	bare, err := ParseCursor("2024-05-01T12:00:00Z")
	require.NoError(t, err)
	require.Zero(t, bare.ID)
	require.Equal(t, "2024-05-01T12:00:00Z", bare.String())
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "yesterday", "2024-05-01T12:00:00Z_", "2024-05-01T12:00:00Z_abc", "2024-05-01T12:00:00Z_-3"} {
		_, err := ParseCursor(raw)
		require.ErrorIs(t, err, ErrInvalidCursor, raw)
	}
}

func TestPageJSONUsesNullCursors(t *testing.T) {
	next := Cursor{CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), ID: 7}
	raw, err := json.Marshal(Page{Messages: nil, NextOlderTimestamp: &next})
	require.NoError(t, err)
	require.JSONEq(t, `{"messages":null,"next_older_timestamp":"2024-05-01T12:00:00Z_7","next_newer_timestamp":null}`, string(raw))

	var decoded Page
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NotNil(t, decoded.NextOlderTimestamp)
	require.Equal(t, int64(7), decoded.NextOlderTimestamp.ID)
	require.Nil(t, decoded.NextNewerTimestamp)
}
