package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"community-chat/internal/models"
)

var ErrReadMarkerNotFound = errors.New("read marker not found")

// ReadMarkerRepository persists per-user read markers.
type ReadMarkerRepository interface {
	GetReadMarker(ctx context.Context, userID int64, communityID int64) (models.ReadMarker, error)
	AdvanceReadMarker(ctx context.Context, marker models.ReadMarker) (bool, error)
}

// ReadMarkerRepo is a sqlx implementation of ReadMarkerRepository.
type ReadMarkerRepo struct {
	db *sqlx.DB
}

// NewReadMarkerRepo constructs a ReadMarkerRepo.
func NewReadMarkerRepo(db *sqlx.DB) *ReadMarkerRepo {
	return &ReadMarkerRepo{db: db}
}

// GetReadMarker fetches the marker for a user in a community.
func (r *ReadMarkerRepo) GetReadMarker(ctx context.Context, userID int64, communityID int64) (models.ReadMarker, error) {
	var marker models.ReadMarker
	err := r.db.GetContext(ctx, &marker, `SELECT user_id, community_id, last_read_message_id, last_read_message_created_at, updated_at
        FROM read_markers WHERE user_id = $1 AND community_id = $2`, userID, communityID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ReadMarker{}, ErrReadMarkerNotFound
	}
	return marker, err
}

// AdvanceReadMarker inserts the marker or moves it forward. It reports false
// when the stored marker is already at or past the given message, so
// concurrent writers resolve by message timestamp rather than arrival order.
func (r *ReadMarkerRepo) AdvanceReadMarker(ctx context.Context, marker models.ReadMarker) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO read_markers (user_id, community_id, last_read_message_id, last_read_message_created_at, updated_at)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (user_id, community_id) DO UPDATE
        SET last_read_message_id = EXCLUDED.last_read_message_id,
            last_read_message_created_at = EXCLUDED.last_read_message_created_at,
            updated_at = NOW()
        WHERE read_markers.last_read_message_created_at < EXCLUDED.last_read_message_created_at`,
		marker.UserID, marker.CommunityID, marker.LastReadMessageID, marker.LastReadMessageCreatedAt)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
