package models

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxMessageLength is the longest message content accepted, counted in runes.
const MaxMessageLength = 2200

var (
	ErrContentEmpty   = errors.New("Message can't be empty.")
	ErrContentTooLong = errors.New("Message is too long.")
)

// ValidateContent is shared by the HTTP handlers and the client engine so both
// sides reject the same input.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrContentEmpty
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return ErrContentTooLong
	}
	return nil
}

// Author is the public projection of a message author.
type Author struct {
	ID       int64  `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Avatar   string `db:"avatar_url" json:"avatar"`
	IsSeller bool   `db:"is_seller" json:"is_seller"`
}

// Message represents a community chat message.
type Message struct {
	ID          int64      `db:"id" json:"id"`
	CommunityID int64      `db:"community_id" json:"community_id"`
	Content     string     `db:"content" json:"content"`
	Author      Author     `db:"author" json:"author"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt   *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Deleted reports whether the message was soft deleted.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

// Before orders messages by (created_at, id).
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}
