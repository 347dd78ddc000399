package chat

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

// RoutingKeyMessageCreated is the AMQP routing key for new messages.
const RoutingKeyMessageCreated = "chat_message.created"

var ErrForbidden = errors.New("forbidden")

// Directory resolves communities and memberships.
type Directory interface {
	GetCommunity(ctx context.Context, communityID int64) (models.Community, error)
	IsMember(ctx context.Context, communityID int64, userID int64) (bool, error)
}

// Broadcaster fans message events out on community channels.
type Broadcaster interface {
	BroadcastCommunity(ctx context.Context, communityID int64, event models.Event)
}

// ReadAdvancer moves read markers forward.
type ReadAdvancer interface {
	Advance(ctx context.Context, userID, communityID, messageID int64, createdAt time.Time) (bool, error)
}

// Publisher hands events to the notification fan-out.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// MessageCreatedEvent is published for every stored message.
type MessageCreatedEvent struct {
	EventType   string    `json:"event_type"`
	MessageID   int64     `json:"message_id"`
	CommunityID int64     `json:"community_id"`
	AuthorID    int64     `json:"author_id"`
	CreatedAt   time.Time `json:"created_at"`
	OccurredAt  string    `json:"occurred_at"`
}

// Service applies message mutations and broadcasts each one after it is stored.
type Service struct {
	messages    repositories.MessageRepository
	directory   Directory
	broadcaster Broadcaster
	reads       ReadAdvancer
	publisher   Publisher
}

// NewService builds a Service. reads and publisher may be nil.
func NewService(messages repositories.MessageRepository, directory Directory, broadcaster Broadcaster, reads ReadAdvancer, publisher Publisher) *Service {
	return &Service{
		messages:    messages,
		directory:   directory,
		broadcaster: broadcaster,
		reads:       reads,
		publisher:   publisher,
	}
}

// Authorize loads the community and checks that userID may use it.
func (s *Service) Authorize(ctx context.Context, communityID, userID int64) (models.Community, error) {
	community, err := s.directory.GetCommunity(ctx, communityID)
	if err != nil {
		return models.Community{}, err
	}
	member, err := s.directory.IsMember(ctx, communityID, userID)
	if err != nil {
		return models.Community{}, fmt.Errorf("membership check: %w", err)
	}
	if !member {
		return models.Community{}, ErrForbidden
	}
	return community, nil
}

// PostMessage validates and stores a message, then broadcasts it.
func (s *Service) PostMessage(ctx context.Context, communityID, userID int64, content string) (models.Message, error) {
	if err := models.ValidateContent(content); err != nil {
		return models.Message{}, err
	}
	if _, err := s.Authorize(ctx, communityID, userID); err != nil {
		return models.Message{}, err
	}

	msg, err := s.messages.CreateMessage(ctx, communityID, userID, content)
	if err != nil {
		return models.Message{}, fmt.Errorf("store message: %w", err)
	}
	observability.IncMessage("created")
	s.broadcaster.BroadcastCommunity(ctx, communityID, models.CreateChatMessage{Message: msg})
	s.publishCreated(ctx, msg)

	// Authors have read their own message.
	if s.reads != nil {
		if _, err := s.reads.Advance(ctx, userID, communityID, msg.ID, msg.CreatedAt); err != nil {
			log.Printf("advance author read marker failed: user_id=%d message_id=%d err=%v", userID, msg.ID, err)
		}
	}
	return msg, nil
}

// EditMessage replaces the content of a message. Only its author may edit it.
func (s *Service) EditMessage(ctx context.Context, communityID, messageID, userID int64, content string) (models.Message, error) {
	if err := models.ValidateContent(content); err != nil {
		return models.Message{}, err
	}
	if _, err := s.Authorize(ctx, communityID, userID); err != nil {
		return models.Message{}, err
	}
	current, err := s.MessageInCommunity(ctx, communityID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if current.Author.ID != userID {
		return models.Message{}, ErrForbidden
	}

	msg, err := s.messages.UpdateMessage(ctx, messageID, content)
	if err != nil {
		return models.Message{}, err
	}
	observability.IncMessage("updated")
	s.broadcaster.BroadcastCommunity(ctx, communityID, models.UpdateChatMessage{Message: msg})
	return msg, nil
}

// DeleteMessage soft deletes a message. The author and the community's
// seller may delete it.
func (s *Service) DeleteMessage(ctx context.Context, communityID, messageID, userID int64) (models.Message, error) {
	community, err := s.Authorize(ctx, communityID, userID)
	if err != nil {
		return models.Message{}, err
	}
	current, err := s.MessageInCommunity(ctx, communityID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if current.Author.ID != userID && community.Seller.ID != userID {
		return models.Message{}, ErrForbidden
	}

	msg, err := s.messages.SoftDeleteMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	observability.IncMessage("deleted")
	s.broadcaster.BroadcastCommunity(ctx, communityID, models.DeleteChatMessage{Message: msg})
	return msg, nil
}

// MarkRead advances the caller's read marker to a message of the community.
func (s *Service) MarkRead(ctx context.Context, communityID, messageID, userID int64) (bool, error) {
	if _, err := s.Authorize(ctx, communityID, userID); err != nil {
		return false, err
	}
	msg, err := s.MessageInCommunity(ctx, communityID, messageID)
	if err != nil {
		return false, err
	}
	if s.reads == nil {
		return false, nil
	}
	return s.reads.Advance(ctx, userID, communityID, msg.ID, msg.CreatedAt)
}

// MessageInCommunity loads an alive message and reports ErrMessageNotFound
// when it belongs to another community.
func (s *Service) MessageInCommunity(ctx context.Context, communityID, messageID int64) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.CommunityID != communityID {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return msg, nil
}

func (s *Service) publishCreated(ctx context.Context, msg models.Message) {
	if s.publisher == nil {
		return
	}
	event := MessageCreatedEvent{
		EventType:   RoutingKeyMessageCreated,
		MessageID:   msg.ID,
		CommunityID: msg.CommunityID,
		AuthorID:    msg.Author.ID,
		CreatedAt:   msg.CreatedAt,
		OccurredAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.publisher.Publish(ctx, RoutingKeyMessageCreated, event); err != nil {
		log.Printf("publish message created failed: message_id=%d err=%v", msg.ID, err)
	}
}
