package reconcile

import (
	"slices"

	"community-chat/internal/models"
)

// Merge builds the displayed history from the fetched pages and the live
// buffer. A live copy replaces a fetched one only when its updated_at is
// strictly newer. Deleted messages are dropped and the result is ascending
// by (created_at, id).
func Merge(server, local []models.Message) []models.Message {
	byID := make(map[int64]models.Message, len(server)+len(local))
	for _, m := range server {
		byID[m.ID] = m
	}
	for _, m := range local {
		if current, ok := byID[m.ID]; ok && !m.UpdatedAt.After(current.UpdatedAt) {
			continue
		}
		byID[m.ID] = m
	}

	out := make([]models.Message, 0, len(byID))
	for _, m := range byID {
		if m.Deleted() {
			continue
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b models.Message) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		default:
			return 0
		}
	})
	return out
}

// mergePage folds a freshly fetched page into the server buffer. Copies from
// the newer fetch win.
func mergePage(server, page []models.Message) []models.Message {
	byID := make(map[int64]int, len(server))
	out := slices.Clone(server)
	for i, m := range out {
		byID[m.ID] = i
	}
	for _, m := range page {
		if i, ok := byID[m.ID]; ok {
			out[i] = m
			continue
		}
		byID[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}
