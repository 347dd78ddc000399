package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"community-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for community chat messages.
// Range queries only ever see alive messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, communityID int64, authorID int64, content string) (models.Message, error)
	UpdateMessage(ctx context.Context, messageID int64, content string) (models.Message, error)
	SoftDeleteMessage(ctx context.Context, messageID int64) (models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	ListBefore(ctx context.Context, communityID int64, createdAt time.Time, id int64, limit int) ([]models.Message, error)
	ListAfter(ctx context.Context, communityID int64, createdAt time.Time, id int64, limit int) ([]models.Message, error)
	Earliest(ctx context.Context, communityID int64) (models.Message, error)
	CountAfter(ctx context.Context, communityID int64, after *time.Time) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const (
	messageColumns = `SELECT m.id, m.community_id, m.content, m.created_at, m.updated_at, m.deleted_at,
        u.id AS "author.id", u.name AS "author.name", u.avatar_url AS "author.avatar_url",
        (u.id = c.seller_id) AS "author.is_seller"`
	messageJoins = `
    JOIN users u ON u.id = m.author_id
    JOIN communities c ON c.id = m.community_id`

	// messageSelect projects rows of a CTE named m.
	messageSelect = messageColumns + ` FROM m` + messageJoins
	messageTable  = messageColumns + ` FROM community_chat_messages m` + messageJoins
)

// CreateMessage stores a message and returns it with its author projection.
func (r *MessageRepo) CreateMessage(ctx context.Context, communityID int64, authorID int64, content string) (models.Message, error) {
	query := `WITH m AS (
            INSERT INTO community_chat_messages (community_id, author_id, content)
            VALUES ($1, $2, $3)
            RETURNING *
        ) ` + messageSelect
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, query, communityID, authorID, content)
	return msg, err
}

// UpdateMessage replaces the content of an alive message.
func (r *MessageRepo) UpdateMessage(ctx context.Context, messageID int64, content string) (models.Message, error) {
	query := `WITH m AS (
            UPDATE community_chat_messages SET content = $2, updated_at = clock_timestamp()
            WHERE id = $1 AND deleted_at IS NULL
            RETURNING *
        ) ` + messageSelect
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, query, messageID, content)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// SoftDeleteMessage marks a message deleted and returns its final state.
func (r *MessageRepo) SoftDeleteMessage(ctx context.Context, messageID int64) (models.Message, error) {
	query := `WITH m AS (
            UPDATE community_chat_messages SET deleted_at = clock_timestamp(), updated_at = clock_timestamp()
            WHERE id = $1 AND deleted_at IS NULL
            RETURNING *
        ) ` + messageSelect
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, query, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// GetMessage retrieves a single alive message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, messageTable+` WHERE m.id = $1 AND m.deleted_at IS NULL`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListBefore returns up to limit messages strictly before (createdAt, id),
// newest first.
func (r *MessageRepo) ListBefore(ctx context.Context, communityID int64, createdAt time.Time, id int64, limit int) ([]models.Message, error) {
	query := messageTable + `
        WHERE m.community_id = $1 AND m.deleted_at IS NULL AND (m.created_at, m.id) < ($2, $3)
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT $4`
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, query, communityID, createdAt, id, limit)
	return msgs, err
}

// ListAfter returns up to limit messages strictly after (createdAt, id),
// oldest first.
func (r *MessageRepo) ListAfter(ctx context.Context, communityID int64, createdAt time.Time, id int64, limit int) ([]models.Message, error) {
	query := messageTable + `
        WHERE m.community_id = $1 AND m.deleted_at IS NULL AND (m.created_at, m.id) > ($2, $3)
        ORDER BY m.created_at ASC, m.id ASC
        LIMIT $4`
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, query, communityID, createdAt, id, limit)
	return msgs, err
}

// Earliest returns the first alive message of a community.
func (r *MessageRepo) Earliest(ctx context.Context, communityID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, messageTable+`
        WHERE m.community_id = $1 AND m.deleted_at IS NULL
        ORDER BY m.created_at ASC, m.id ASC
        LIMIT 1`, communityID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// CountAfter counts alive messages created after the given instant, or all of
// them when after is nil.
func (r *MessageRepo) CountAfter(ctx context.Context, communityID int64, after *time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM community_chat_messages
        WHERE community_id = $1 AND deleted_at IS NULL
        AND ($2::timestamptz IS NULL OR created_at > $2)`, communityID, after)
	return count, err
}
