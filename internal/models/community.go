package models

import "time"

// User is the directory projection of an account.
type User struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Avatar string `db:"avatar_url" json:"avatar"`
}

// Community is a seller's chat room. LastReadMessageCreatedAt and UnreadCount
// are computed for the requesting viewer.
type Community struct {
	ID                       int64      `db:"id" json:"id"`
	Name                     string     `db:"name" json:"name"`
	Seller                   User       `db:"seller" json:"seller"`
	LastReadMessageCreatedAt *time.Time `db:"-" json:"last_read_message_created_at"`
	UnreadCount              int        `db:"-" json:"unread_count"`
}

// Apply copies a read-state projection onto the community.
func (c *Community) Apply(info CommunityInfo) {
	c.UnreadCount = info.UnreadCount
	c.LastReadMessageCreatedAt = info.LastReadMessageCreatedAt
}

// CommunityInfo is the per-viewer read-state projection pushed on user channels.
type CommunityInfo struct {
	CommunityID              int64      `json:"community_id"`
	UnreadCount              int        `json:"unread_count"`
	LastReadMessageCreatedAt *time.Time `json:"last_read_message_created_at"`
}

// ReadMarker tracks the newest message a user has seen in a community.
type ReadMarker struct {
	UserID                   int64     `db:"user_id" json:"user_id"`
	CommunityID              int64     `db:"community_id" json:"community_id"`
	LastReadMessageID        int64     `db:"last_read_message_id" json:"last_read_message_id"`
	LastReadMessageCreatedAt time.Time `db:"last_read_message_created_at" json:"last_read_message_created_at"`
	UpdatedAt                time.Time `db:"updated_at" json:"updated_at"`
}
