package pagination

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"community-chat/internal/models"
	"community-chat/internal/repositories"
)

// Direction selects which side of a cursor a page is read from.
type Direction string

const (
	Older  Direction = "older"
	Newer  Direction = "newer"
	Around Direction = "around"
)

var ErrInvalidDirection = errors.New("invalid direction")

// DirectionFromMergeIntent maps the client's merge_intent parameter.
func DirectionFromMergeIntent(intent string) (Direction, error) {
	switch intent {
	case "":
		return Around, nil
	case "prepend":
		return Older, nil
	case "append":
		return Newer, nil
	default:
		return "", fmt.Errorf("%w: merge_intent %q", ErrInvalidDirection, intent)
	}
}

// MergeIntent is the inverse of DirectionFromMergeIntent.
func (d Direction) MergeIntent() string {
	switch d {
	case Older:
		return "prepend"
	case Newer:
		return "append"
	default:
		return ""
	}
}

// AroundPolicy decides where a first load is anchored for a viewer without a
// read marker.
type AroundPolicy string

const (
	AroundNow         AroundPolicy = "now"
	AroundFirstUnread AroundPolicy = "first_unread"
)

// Store is the slice of the message store the engine reads from.
type Store interface {
	ListBefore(ctx context.Context, communityID int64, createdAt time.Time, id int64, limit int) ([]models.Message, error)
	ListAfter(ctx context.Context, communityID int64, createdAt time.Time, id int64, limit int) ([]models.Message, error)
	Earliest(ctx context.Context, communityID int64) (models.Message, error)
}

// Page is one window of messages, ascending, with continuation cursors that
// are null when nothing exists in that direction.
type Page struct {
	Messages           []models.Message `json:"messages"`
	NextOlderTimestamp *Cursor          `json:"next_older_timestamp"`
	NextNewerTimestamp *Cursor          `json:"next_newer_timestamp"`
}

// Engine serves cursor pages over a Store.
type Engine struct {
	store    Store
	pageSize int
	policy   AroundPolicy
	now      func() time.Time
}

func NewEngine(store Store, pageSize int, policy AroundPolicy) *Engine {
	if pageSize < 2 {
		pageSize = 2
	}
	if policy == "" {
		policy = AroundNow
	}
	return &Engine{store: store, pageSize: pageSize, policy: policy, now: time.Now}
}

// InitialCursor anchors a first load: the viewer's read marker when there is
// one, otherwise whatever the around policy picks.
func (e *Engine) InitialCursor(ctx context.Context, communityID int64, lastRead *time.Time) (Cursor, error) {
	if lastRead != nil {
		return Cursor{CreatedAt: *lastRead}, nil
	}
	if e.policy != AroundFirstUnread {
		return Cursor{CreatedAt: e.now()}, nil
	}

	first, err := e.store.Earliest(ctx, communityID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return Cursor{CreatedAt: e.now()}, nil
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("earliest message: %w", err)
	}
	return Cursor{CreatedAt: first.CreatedAt}, nil
}

// Page reads one window relative to cursor.
func (e *Engine) Page(ctx context.Context, communityID int64, cursor Cursor, dir Direction) (Page, error) {
	var (
		msgs                   []models.Message
		hasOlder, hasNewer     bool
		probeOlder, probeNewer bool
		err                    error
	)

	switch dir {
	case Older:
		msgs, hasOlder, err = e.older(ctx, communityID, cursor, e.pageSize)
		probeNewer = true
	case Newer:
		msgs, hasNewer, err = e.newer(ctx, communityID, cursor, e.pageSize)
		probeOlder = true
	case Around:
		half := e.pageSize / 2
		var before, after []models.Message
		before, hasOlder, err = e.older(ctx, communityID, cursor, half)
		if err == nil {
			// The newer half starts at the anchor itself.
			anchor := Cursor{CreatedAt: cursor.CreatedAt, ID: cursor.ID - 1}
			after, hasNewer, err = e.newer(ctx, communityID, anchor, e.pageSize-half)
		}
		msgs = append(before, after...)
	default:
		return Page{}, ErrInvalidDirection
	}
	if err != nil {
		return Page{}, err
	}

	lower, upper := cursor, cursor
	if len(msgs) > 0 {
		lower = CursorOf(msgs[0])
		upper = CursorOf(msgs[len(msgs)-1])
	}
	if probeOlder {
		if hasOlder, err = e.exists(ctx, communityID, lower, Older); err != nil {
			return Page{}, err
		}
	}
	if probeNewer {
		if hasNewer, err = e.exists(ctx, communityID, upper, Newer); err != nil {
			return Page{}, err
		}
	}

	if msgs == nil {
		msgs = []models.Message{}
	}
	page := Page{Messages: msgs}
	if hasOlder {
		page.NextOlderTimestamp = &lower
	}
	if hasNewer {
		page.NextNewerTimestamp = &upper
	}
	return page, nil
}

func (e *Engine) older(ctx context.Context, communityID int64, cursor Cursor, limit int) ([]models.Message, bool, error) {
	rows, err := e.store.ListBefore(ctx, communityID, cursor.CreatedAt, cursor.ID, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("list older messages: %w", err)
	}
	more := len(rows) > limit
	if more {
		rows = rows[:limit]
	}
	slices.Reverse(rows)
	return rows, more, nil
}

func (e *Engine) newer(ctx context.Context, communityID int64, cursor Cursor, limit int) ([]models.Message, bool, error) {
	rows, err := e.store.ListAfter(ctx, communityID, cursor.CreatedAt, cursor.ID, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("list newer messages: %w", err)
	}
	more := len(rows) > limit
	if more {
		rows = rows[:limit]
	}
	return rows, more, nil
}

func (e *Engine) exists(ctx context.Context, communityID int64, at Cursor, dir Direction) (bool, error) {
	var (
		rows []models.Message
		err  error
	)
	if dir == Older {
		rows, err = e.store.ListBefore(ctx, communityID, at.CreatedAt, at.ID, 1)
	} else {
		rows, err = e.store.ListAfter(ctx, communityID, at.CreatedAt, at.ID, 1)
	}
	if err != nil {
		return false, fmt.Errorf("probe %s messages: %w", dir, err)
	}
	return len(rows) > 0, nil
}
