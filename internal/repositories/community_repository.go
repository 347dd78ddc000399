package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"community-chat/internal/models"
)

var (
	ErrCommunityNotFound = errors.New("community not found")
	ErrUserNotFound      = errors.New("user not found")
)

// CommunityRepository is the directory of users, communities and memberships.
type CommunityRepository interface {
	GetCommunity(ctx context.Context, communityID int64) (models.Community, error)
	ListForUser(ctx context.Context, userID int64) ([]models.Community, error)
	IsMember(ctx context.Context, communityID int64, userID int64) (bool, error)
	GetUser(ctx context.Context, userID int64) (models.User, error)
}

// CommunityRepo is a sqlx implementation of CommunityRepository.
type CommunityRepo struct {
	db *sqlx.DB
}

// NewCommunityRepo constructs a CommunityRepo.
func NewCommunityRepo(db *sqlx.DB) *CommunityRepo {
	return &CommunityRepo{db: db}
}

const communitySelect = `SELECT c.id, c.name,
        u.id AS "seller.id", u.name AS "seller.name", u.avatar_url AS "seller.avatar_url"
    FROM communities c
    JOIN users u ON u.id = c.seller_id`

// GetCommunity fetches a community by id.
func (r *CommunityRepo) GetCommunity(ctx context.Context, communityID int64) (models.Community, error) {
	var community models.Community
	err := r.db.GetContext(ctx, &community, communitySelect+` WHERE c.id = $1`, communityID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Community{}, ErrCommunityNotFound
	}
	return community, err
}

// ListForUser returns the communities the user belongs to or owns.
func (r *CommunityRepo) ListForUser(ctx context.Context, userID int64) ([]models.Community, error) {
	query := communitySelect + `
        WHERE c.seller_id = $1
        OR EXISTS (SELECT 1 FROM community_members cm WHERE cm.community_id = c.id AND cm.user_id = $1)
        ORDER BY c.name ASC, c.id ASC`
	communities := []models.Community{}
	err := r.db.SelectContext(ctx, &communities, query, userID)
	return communities, err
}

// IsMember checks whether a user may read the community; the seller always can.
func (r *CommunityRepo) IsMember(ctx context.Context, communityID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(
            SELECT 1 FROM communities c WHERE c.id = $1 AND c.seller_id = $2
            UNION ALL
            SELECT 1 FROM community_members cm WHERE cm.community_id = $1 AND cm.user_id = $2
        )`, communityID, userID)
	return exists, err
}

// GetUser fetches a user projection.
func (r *CommunityRepo) GetUser(ctx context.Context, userID int64) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, name, avatar_url FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}
