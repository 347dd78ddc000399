package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType tags a channel event on the wire.
type EventType string

const (
	EventCreateChatMessage   EventType = "create_chat_message"
	EventUpdateChatMessage   EventType = "update_chat_message"
	EventDeleteChatMessage   EventType = "delete_chat_message"
	EventLatestCommunityInfo EventType = "latest_community_info"
)

var ErrUnknownEvent = errors.New("unknown event type")

// Event is one of CreateChatMessage, UpdateChatMessage, DeleteChatMessage or
// LatestCommunityInfo.
type Event interface {
	Type() EventType
	event()
}

// CreateChatMessage is broadcast on a community channel after a message is stored.
type CreateChatMessage struct {
	Message Message
}

// UpdateChatMessage is broadcast on a community channel after an edit.
type UpdateChatMessage struct {
	Message Message
}

// DeleteChatMessage is broadcast on a community channel after a soft delete.
type DeleteChatMessage struct {
	Message Message
}

// LatestCommunityInfo is pushed on a user channel when read state changes.
type LatestCommunityInfo struct {
	Info CommunityInfo
}

func (CreateChatMessage) Type() EventType   { return EventCreateChatMessage }
func (UpdateChatMessage) Type() EventType   { return EventUpdateChatMessage }
func (DeleteChatMessage) Type() EventType   { return EventDeleteChatMessage }
func (LatestCommunityInfo) Type() EventType { return EventLatestCommunityInfo }

func (CreateChatMessage) event()   {}
func (UpdateChatMessage) event()   {}
func (DeleteChatMessage) event()   {}
func (LatestCommunityInfo) event() {}

type eventWire struct {
	Type    EventType      `json:"type"`
	Message *Message       `json:"message,omitempty"`
	Data    *CommunityInfo `json:"data,omitempty"`
}

// EncodeEvent renders an event into its tagged JSON form.
func EncodeEvent(e Event) (json.RawMessage, error) {
	wire := eventWire{Type: e.Type()}
	switch ev := e.(type) {
	case CreateChatMessage:
		wire.Message = &ev.Message
	case UpdateChatMessage:
		wire.Message = &ev.Message
	case DeleteChatMessage:
		wire.Message = &ev.Message
	case LatestCommunityInfo:
		wire.Data = &ev.Info
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, e)
	}
	return json.Marshal(wire)
}

// DecodeEvent parses a tagged event. Unknown tags return ErrUnknownEvent so
// callers can drop them.
func DecodeEvent(raw []byte) (Event, error) {
	var wire eventWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch wire.Type {
	case EventCreateChatMessage, EventUpdateChatMessage, EventDeleteChatMessage:
		if wire.Message == nil {
			return nil, fmt.Errorf("decode event %s: missing message", wire.Type)
		}
		switch wire.Type {
		case EventCreateChatMessage:
			return CreateChatMessage{Message: *wire.Message}, nil
		case EventUpdateChatMessage:
			return UpdateChatMessage{Message: *wire.Message}, nil
		default:
			return DeleteChatMessage{Message: *wire.Message}, nil
		}
	case EventLatestCommunityInfo:
		if wire.Data == nil {
			return nil, fmt.Errorf("decode event %s: missing data", wire.Type)
		}
		return LatestCommunityInfo{Info: *wire.Data}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, wire.Type)
	}
}
