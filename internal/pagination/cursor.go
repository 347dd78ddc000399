package pagination

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"community-chat/internal/models"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is a position in a community's (created_at, id) ordering. A zero ID
// marks a bare timestamp sitting just before every message created at that
// instant.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

// CursorOf returns the ordering key of a message.
func CursorOf(m models.Message) Cursor {
	return Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// String renders the cursor as "<RFC3339Nano>" or "<RFC3339Nano>_<id>".
func (c Cursor) String() string {
	ts := c.CreatedAt.UTC().Format(time.RFC3339Nano)
	if c.ID <= 0 {
		return ts
	}
	return ts + "_" + strconv.FormatInt(c.ID, 10)
}

// ParseCursor accepts the output of String as well as a bare timestamp.
func ParseCursor(raw string) (Cursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Cursor{}, ErrInvalidCursor
	}

	ts, rawID, hasID := strings.Cut(raw, "_")
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	cursor := Cursor{CreatedAt: createdAt}
	if hasID {
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || id <= 0 {
			return Cursor{}, fmt.Errorf("%w: bad id %q", ErrInvalidCursor, rawID)
		}
		cursor.ID = id
	}
	return cursor, nil
}

func (c Cursor) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Cursor) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseCursor(raw)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
