package readstate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"community-chat/internal/models"
	"community-chat/internal/observability"
	"community-chat/internal/repositories"
)

// RoutingKeyAdvanced is the AMQP routing key of read-state transitions.
const RoutingKeyAdvanced = "read_state.advanced"

// Notifier pushes projections to a user's channel.
type Notifier interface {
	NotifyCommunityInfo(ctx context.Context, userID int64, info models.CommunityInfo)
}

// Counter counts alive messages after an instant.
type Counter interface {
	CountAfter(ctx context.Context, communityID int64, after *time.Time) (int, error)
}

// Publisher hands transitions to the notification fan-out.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// AdvancedEvent is published after a marker moves forward.
type AdvancedEvent struct {
	EventType                string    `json:"event_type"`
	UserID                   int64     `json:"user_id"`
	CommunityID              int64     `json:"community_id"`
	LastReadMessageID        int64     `json:"last_read_message_id"`
	LastReadMessageCreatedAt time.Time `json:"last_read_message_created_at"`
	UnreadCount              int       `json:"unread_count"`
	OccurredAt               string    `json:"occurred_at"`
}

// Tracker owns read markers and the unread projection derived from them.
type Tracker struct {
	markers   repositories.ReadMarkerRepository
	messages  Counter
	notifier  Notifier
	publisher Publisher
}

// NewTracker builds a Tracker. notifier and publisher may be nil.
func NewTracker(markers repositories.ReadMarkerRepository, messages Counter, notifier Notifier, publisher Publisher) *Tracker {
	return &Tracker{markers: markers, messages: messages, notifier: notifier, publisher: publisher}
}

// Advance moves the user's marker to the given message if it is newer than
// the current one. It reports whether the marker moved; an unchanged marker
// produces no notification.
func (t *Tracker) Advance(ctx context.Context, userID, communityID, messageID int64, createdAt time.Time) (bool, error) {
	current, err := t.markers.GetReadMarker(ctx, userID, communityID)
	switch {
	case err == nil:
		if !createdAt.After(current.LastReadMessageCreatedAt) {
			observability.IncReadAdvance("ignored")
			return false, nil
		}
	case errors.Is(err, repositories.ErrReadMarkerNotFound):
	default:
		return false, fmt.Errorf("load read marker: %w", err)
	}

	advanced, err := t.markers.AdvanceReadMarker(ctx, models.ReadMarker{
		UserID:                   userID,
		CommunityID:              communityID,
		LastReadMessageID:        messageID,
		LastReadMessageCreatedAt: createdAt,
	})
	if err != nil {
		return false, fmt.Errorf("advance read marker: %w", err)
	}
	if !advanced {
		// another device got there first with a newer message
		observability.IncReadAdvance("ignored")
		return false, nil
	}
	observability.IncReadAdvance("advanced")

	// The marker is committed; a failed projection only skips the push.
	info, err := t.Info(ctx, userID, communityID)
	if err != nil {
		log.Printf("read state projection failed after advance: user_id=%d community_id=%d err=%v", userID, communityID, err)
		return true, nil
	}
	if t.notifier != nil {
		t.notifier.NotifyCommunityInfo(ctx, userID, info)
	}
	t.publishAdvanced(ctx, userID, messageID, info)
	return true, nil
}

// Info returns the viewer's current read-state projection.
func (t *Tracker) Info(ctx context.Context, userID, communityID int64) (models.CommunityInfo, error) {
	info := models.CommunityInfo{CommunityID: communityID}

	marker, err := t.markers.GetReadMarker(ctx, userID, communityID)
	switch {
	case err == nil:
		lastRead := marker.LastReadMessageCreatedAt
		info.LastReadMessageCreatedAt = &lastRead
	case errors.Is(err, repositories.ErrReadMarkerNotFound):
	default:
		return models.CommunityInfo{}, fmt.Errorf("load read marker: %w", err)
	}

	count, err := t.messages.CountAfter(ctx, communityID, info.LastReadMessageCreatedAt)
	if err != nil {
		return models.CommunityInfo{}, fmt.Errorf("count unread: %w", err)
	}
	info.UnreadCount = count
	return info, nil
}

// Refresh pushes the current projection on the user channel without
// touching the marker.
func (t *Tracker) Refresh(ctx context.Context, userID, communityID int64) error {
	info, err := t.Info(ctx, userID, communityID)
	if err != nil {
		return err
	}
	if t.notifier != nil {
		t.notifier.NotifyCommunityInfo(ctx, userID, info)
	}
	return nil
}

func (t *Tracker) publishAdvanced(ctx context.Context, userID, messageID int64, info models.CommunityInfo) {
	if t.publisher == nil {
		return
	}
	event := AdvancedEvent{
		EventType:         RoutingKeyAdvanced,
		UserID:            userID,
		CommunityID:       info.CommunityID,
		LastReadMessageID: messageID,
		UnreadCount:       info.UnreadCount,
		OccurredAt:        time.Now().UTC().Format(time.RFC3339Nano),
	}
	if info.LastReadMessageCreatedAt != nil {
		event.LastReadMessageCreatedAt = *info.LastReadMessageCreatedAt
	}
	if err := t.publisher.Publish(ctx, RoutingKeyAdvanced, event); err != nil {
		log.Printf("read state publish failed: user_id=%d community_id=%d err=%v", userID, info.CommunityID, err)
	}
}
