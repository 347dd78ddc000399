package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"community-chat/internal/models"
	"community-chat/internal/pagination"
)

func TestFetchPageSendsCursorAndIntent(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/communities/7/messages", r.URL.Path)
		assert.Equal(t, "prepend", r.URL.Query().Get("merge_intent"))
		assert.Equal(t, "2024-05-01T12:00:00Z_5", r.URL.Query().Get("cursor"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(pagination.Page{
			Messages:           []models.Message{{ID: 4, CreatedAt: ts}},
			NextNewerTimestamp: &pagination.Cursor{CreatedAt: ts, ID: 4},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	page, err := client.FetchPage(context.Background(), 7, &pagination.Cursor{CreatedAt: ts, ID: 5}, pagination.Older)

	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Nil(t, page.NextOlderTimestamp)
	require.NotNil(t, page.NextNewerTimestamp)
	assert.Equal(t, int64(4), page.NextNewerTimestamp.ID)
}

func TestFetchPageAroundOmitsParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"messages":[],"next_older_timestamp":null,"next_newer_timestamp":null}`))
	}))
	defer server.Close()

	page, err := NewClient(server.URL, "").FetchPage(context.Background(), 7, nil, pagination.Around)

	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusUnprocessableEntity, KindValidation},
		{http.StatusBadRequest, KindValidation},
		{http.StatusForbidden, KindTerminal},
		{http.StatusNotFound, KindTerminal},
		{http.StatusConflict, KindDuplicate},
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusInternalServerError, KindTransient},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		_, err := NewClient(server.URL, "").SendMessage(context.Background(), 7, "hi", "")
		server.Close()

		var apiErr *Error
		require.True(t, errors.As(err, &apiErr), "status %d", tc.status)
		assert.Equal(t, tc.kind, apiErr.Kind, "status %d", tc.status)
		assert.Equal(t, "nope", apiErr.Message)
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := NewClient(url, "").MarkRead(context.Background(), 7, 11)

	assert.Equal(t, KindTransient, KindOf(err))
}

func TestSendMessageIdempotencyKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k1", r.Header.Get("Idempotency-Key"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Message{ID: 9, Content: body["content"]})
	}))
	defer server.Close()

	msg, err := NewClient(server.URL, "").SendMessage(context.Background(), 7, "hello", "k1")

	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
}
