package reconcile

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"community-chat/internal/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func message(id int64, offset time.Duration, content string) models.Message {
	at := t0.Add(offset)
	return models.Message{ID: id, CommunityID: 7, Content: content, CreatedAt: at, UpdatedAt: at}
}

func ids(msgs []models.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestMergeOrdersAndDeduplicates(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var all []models.Message
	for i := int64(1); i <= 60; i++ {
		// Pairs share a timestamp so the id breaks ties.
		all = append(all, message(i, time.Duration((i+1)/2)*time.Second, "m"))
	}

	for round := 0; round < 20; round++ {
		shuffled := append([]models.Message(nil), all...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		split := rng.Intn(len(shuffled))
		server := shuffled[:split]
		// Live buffer overlaps the page and carries duplicates.
		local := append(append([]models.Message(nil), shuffled[split/2:]...), shuffled[split:]...)

		merged := Merge(server, local)

		require.Len(t, merged, len(all))
		for i := 1; i < len(merged); i++ {
			assert.True(t, merged[i-1].Before(merged[i]), "round %d index %d", round, i)
		}
	}
}

func TestMergeKeepsNewerEdit(t *testing.T) {
	original := message(1, 0, "v1")
	edited := original
	edited.Content = "v2"
	edited.UpdatedAt = original.UpdatedAt.Add(time.Minute)

	merged := Merge([]models.Message{edited}, []models.Message{original})
	require.Len(t, merged, 1)
	assert.Equal(t, "v2", merged[0].Content, "stale live copy must not overwrite")

	merged = Merge([]models.Message{original}, []models.Message{edited})
	assert.Equal(t, "v2", merged[0].Content)
}

func TestMergeIsIdempotentForRepeatedUpdates(t *testing.T) {
	server := []models.Message{message(1, 0, "a"), message(2, time.Second, "b")}
	update := server[1]
	update.Content = "b2"
	update.UpdatedAt = update.UpdatedAt.Add(time.Minute)

	once := Merge(server, []models.Message{update})
	twice := Merge(server, []models.Message{update, update})

	assert.Equal(t, once, twice)
}

func TestMergeDropsDeleted(t *testing.T) {
	server := []models.Message{message(1, 0, "a"), message(2, time.Second, "b")}
	deleted := server[0]
	deletedAt := t0.Add(time.Hour)
	deleted.DeletedAt = &deletedAt
	deleted.UpdatedAt = deletedAt

	// A late create for the same id does not resurrect it.
	merged := Merge(server, []models.Message{deleted, server[0]})

	assert.Equal(t, []int64{2}, ids(merged))
}

func TestMergeEmpty(t *testing.T) {
	assert.Empty(t, Merge(nil, nil))
}

func TestMergePageLaterFetchWins(t *testing.T) {
	first := []models.Message{message(3, 3*time.Second, "old"), message(4, 4*time.Second, "x")}
	refetched := message(3, 3*time.Second, "new")

	out := mergePage(first, []models.Message{message(1, time.Second, "y"), refetched})

	require.Len(t, out, 3)
	assert.Equal(t, "new", out[0].Content)
	assert.Equal(t, []int64{1, 3, 4}, ids(Merge(out, nil)))
}
