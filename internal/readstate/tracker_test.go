package readstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"community-chat/internal/mocks"
	"community-chat/internal/models"
	"community-chat/internal/repositories"
)

type markerKey struct {
	userID, communityID int64
}

// markerStore mirrors the conditional upsert of ReadMarkerRepo.
type markerStore struct {
	mu      sync.Mutex
	markers map[markerKey]models.ReadMarker
}

func newMarkerStore() *markerStore {
	return &markerStore{markers: map[markerKey]models.ReadMarker{}}
}

func (s *markerStore) GetReadMarker(_ context.Context, userID, communityID int64) (models.ReadMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marker, ok := s.markers[markerKey{userID, communityID}]
	if !ok {
		return models.ReadMarker{}, repositories.ErrReadMarkerNotFound
	}
	return marker, nil
}

func (s *markerStore) AdvanceReadMarker(_ context.Context, marker models.ReadMarker) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := markerKey{marker.UserID, marker.CommunityID}
	if existing, ok := s.markers[k]; ok && !existing.LastReadMessageCreatedAt.Before(marker.LastReadMessageCreatedAt) {
		return false, nil
	}
	marker.UpdatedAt = time.Now()
	s.markers[k] = marker
	return true, nil
}

type messageTimes []time.Time

func (m messageTimes) CountAfter(_ context.Context, _ int64, after *time.Time) (int, error) {
	count := 0
	for _, created := range m {
		if after == nil || created.After(*after) {
			count++
		}
	}
	return count, nil
}

type failingCounter struct{}

func (failingCounter) CountAfter(context.Context, int64, *time.Time) (int, error) {
	return 0, errors.New("count failed")
}

type recordingNotifier struct {
	mu    sync.Mutex
	infos []models.CommunityInfo
}

func (n *recordingNotifier) NotifyCommunityInfo(_ context.Context, _ int64, info models.CommunityInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, info)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.infos)
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fiveMessages() messageTimes {
	return messageTimes{t0, t0.Add(time.Second), t0.Add(2 * time.Second), t0.Add(3 * time.Second), t0.Add(4 * time.Second)}
}

func TestInfoWithoutMarkerCountsEverything(t *testing.T) {
	tracker := NewTracker(newMarkerStore(), fiveMessages(), nil, nil)

	info, err := tracker.Info(context.Background(), 1, 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), info.CommunityID)
	require.Equal(t, 5, info.UnreadCount)
	require.Nil(t, info.LastReadMessageCreatedAt)
}

func TestAdvanceNotifiesAndPublishes(t *testing.T) {
	notifier := &recordingNotifier{}
	publisher := new(mocks.PublisherMock)
	tracker := NewTracker(newMarkerStore(), fiveMessages(), notifier, publisher)

	publisher.On("Publish", mock.Anything, RoutingKeyAdvanced, mock.MatchedBy(func(e AdvancedEvent) bool {
		return e.UserID == 1 && e.CommunityID == 7 && e.LastReadMessageID == 3 && e.UnreadCount == 2
	})).Return(nil).Once()

	advanced, err := tracker.Advance(context.Background(), 1, 7, 3, t0.Add(2*time.Second))
	require.NoError(t, err)
	require.True(t, advanced)

	require.Equal(t, 1, notifier.count())
	require.Equal(t, 2, notifier.infos[0].UnreadCount)
	require.True(t, notifier.infos[0].LastReadMessageCreatedAt.Equal(t0.Add(2*time.Second)))
	publisher.AssertExpectations(t)
}

func TestAdvanceIsIdempotent(t *testing.T) {
	notifier := &recordingNotifier{}
	tracker := NewTracker(newMarkerStore(), fiveMessages(), notifier, nil)
	ctx := context.Background()

	advanced, err := tracker.Advance(ctx, 1, 7, 5, t0.Add(4*time.Second))
	require.NoError(t, err)
	require.True(t, advanced)

	advanced, err = tracker.Advance(ctx, 1, 7, 5, t0.Add(4*time.Second))
	require.NoError(t, err)
	require.False(t, advanced)

	require.Equal(t, 1, notifier.count())
	require.Equal(t, 0, notifier.infos[0].UnreadCount)
}

// Two devices mark read out of order; the later arrival carries the older message.
func TestAdvanceResolvesByTimestampNotArrival(t *testing.T) {
	store := newMarkerStore()
	notifier := &recordingNotifier{}
	tracker := NewTracker(store, fiveMessages(), notifier, nil)
	ctx := context.Background()

	advanced, err := tracker.Advance(ctx, 1, 7, 5, t0.Add(4*time.Second))
	require.NoError(t, err)
	require.True(t, advanced)

	advanced, err = tracker.Advance(ctx, 1, 7, 4, t0.Add(3*time.Second))
	require.NoError(t, err)
	require.False(t, advanced)

	marker, err := store.GetReadMarker(ctx, 1, 7)
	require.NoError(t, err)
	require.Equal(t, int64(5), marker.LastReadMessageID)
	require.Equal(t, 1, notifier.count())
}

func TestConcurrentAdvancesKeepTheNewest(t *testing.T) {
	store := newMarkerStore()
	notifier := &recordingNotifier{}
	tracker := NewTracker(store, fiveMessages(), notifier, nil)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		advanced int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			offset := time.Duration(i%5) * time.Second
			ok, err := tracker.Advance(ctx, 1, 7, int64(i%5+1), t0.Add(offset))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				advanced++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	marker, err := store.GetReadMarker(ctx, 1, 7)
	require.NoError(t, err)
	require.True(t, marker.LastReadMessageCreatedAt.Equal(t0.Add(4*time.Second)))
	require.GreaterOrEqual(t, advanced, 1)
	require.LessOrEqual(t, advanced, 5)
	require.Equal(t, advanced, notifier.count())
}

func TestRefreshPushesCurrentProjection(t *testing.T) {
	notifier := &recordingNotifier{}
	tracker := NewTracker(newMarkerStore(), fiveMessages(), notifier, nil)

	require.NoError(t, tracker.Refresh(context.Background(), 1, 7))
	require.Equal(t, 1, notifier.count())
	require.Equal(t, 5, notifier.infos[0].UnreadCount)
}

func TestAdvanceCommittedDespiteProjectionFailure(t *testing.T) {
	store := newMarkerStore()
	notifier := &recordingNotifier{}
	publisher := new(mocks.PublisherMock)
	tracker := NewTracker(store, failingCounter{}, notifier, publisher)

	advanced, err := tracker.Advance(context.Background(), 1, 7, 3, t0)

	require.NoError(t, err)
	assert.True(t, advanced)
	marker, err := store.GetReadMarker(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), marker.LastReadMessageID)
	assert.Equal(t, 0, notifier.count())
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}
