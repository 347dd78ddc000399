package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"community-chat/internal/models"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) message(args mock.Arguments) (models.Message, error) {
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) messages(args mock.Arguments) ([]models.Message, error) {
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, communityID int64, authorID int64, content string) (models.Message, error) {
	return m.message(m.Called(ctx, communityID, authorID, content))
}

func (m *MessageRepositoryMock) UpdateMessage(ctx context.Context, messageID int64, content string) (models.Message, error) {
	return m.message(m.Called(ctx, messageID, content))
}

func (m *MessageRepositoryMock) SoftDeleteMessage(ctx context.Context, messageID int64) (models.Message, error) {
	return m.message(m.Called(ctx, messageID))
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	return m.message(m.Called(ctx, messageID))
}

func (m *MessageRepositoryMock) ListBefore(ctx context.Context, communityID int64, createdAt time.Time, id int64, limit int) ([]models.Message, error) {
	return m.messages(m.Called(ctx, communityID, createdAt, id, limit))
}

func (m *MessageRepositoryMock) ListAfter(ctx context.Context, communityID int64, createdAt time.Time, id int64, limit int) ([]models.Message, error) {
	return m.messages(m.Called(ctx, communityID, createdAt, id, limit))
}

func (m *MessageRepositoryMock) Earliest(ctx context.Context, communityID int64) (models.Message, error) {
	return m.message(m.Called(ctx, communityID))
}

func (m *MessageRepositoryMock) CountAfter(ctx context.Context, communityID int64, after *time.Time) (int, error) {
	args := m.Called(ctx, communityID, after)
	return args.Int(0), args.Error(1)
}

type CommunityRepositoryMock struct {
	mock.Mock
}

func (m *CommunityRepositoryMock) GetCommunity(ctx context.Context, communityID int64) (models.Community, error) {
	args := m.Called(ctx, communityID)
	var community models.Community
	if val := args.Get(0); val != nil {
		community = val.(models.Community)
	}
	return community, args.Error(1)
}

func (m *CommunityRepositoryMock) ListForUser(ctx context.Context, userID int64) ([]models.Community, error) {
	args := m.Called(ctx, userID)
	var list []models.Community
	if val := args.Get(0); val != nil {
		list = val.([]models.Community)
	}
	return list, args.Error(1)
}

func (m *CommunityRepositoryMock) IsMember(ctx context.Context, communityID int64, userID int64) (bool, error) {
	args := m.Called(ctx, communityID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *CommunityRepositoryMock) GetUser(ctx context.Context, userID int64) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

type ReadMarkerRepositoryMock struct {
	mock.Mock
}

func (m *ReadMarkerRepositoryMock) GetReadMarker(ctx context.Context, userID int64, communityID int64) (models.ReadMarker, error) {
	args := m.Called(ctx, userID, communityID)
	var marker models.ReadMarker
	if val := args.Get(0); val != nil {
		marker = val.(models.ReadMarker)
	}
	return marker, args.Error(1)
}

func (m *ReadMarkerRepositoryMock) AdvanceReadMarker(ctx context.Context, marker models.ReadMarker) (bool, error) {
	args := m.Called(ctx, marker)
	return args.Bool(0), args.Error(1)
}

type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) BroadcastCommunity(ctx context.Context, communityID int64, event models.Event) {
	m.Called(ctx, communityID, event)
}

func (m *BroadcasterMock) NotifyCommunityInfo(ctx context.Context, userID int64, info models.CommunityInfo) {
	m.Called(ctx, userID, info)
}

type ReadStateMock struct {
	mock.Mock
}

func (m *ReadStateMock) Advance(ctx context.Context, userID, communityID, messageID int64, createdAt time.Time) (bool, error) {
	args := m.Called(ctx, userID, communityID, messageID, createdAt)
	return args.Bool(0), args.Error(1)
}

func (m *ReadStateMock) Info(ctx context.Context, userID, communityID int64) (models.CommunityInfo, error) {
	args := m.Called(ctx, userID, communityID)
	var info models.CommunityInfo
	if val := args.Get(0); val != nil {
		info = val.(models.CommunityInfo)
	}
	return info, args.Error(1)
}

type ValidatorMock struct {
	mock.Mock
}

func (m *ValidatorMock) ValidateToken(ctx context.Context, token string) (int64, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(int64), args.Error(1)
}

type LimiterMock struct {
	mock.Mock
}

func (m *LimiterMock) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Get(1).(int64), args.Error(2)
}

type IdempotencyStoreMock struct {
	mock.Mock
}

func (m *IdempotencyStoreMock) PutNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *IdempotencyStoreMock) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
