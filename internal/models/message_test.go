package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateContent(t *testing.T) {
	require.ErrorIs(t, ValidateContent(""), ErrContentEmpty)
	require.ErrorIs(t, ValidateContent("  \n\t"), ErrContentEmpty)
	require.NoError(t, ValidateContent("hi"))
	require.NoError(t, ValidateContent(strings.Repeat("a", MaxMessageLength)))
	require.ErrorIs(t, ValidateContent(strings.Repeat("a", MaxMessageLength+1)), ErrContentTooLong)
	require.Equal(t, "Message is too long.", ValidateContent(strings.Repeat("a", 2201)).Error())
}

func TestValidateContentCountsRunes(t *testing.T) {
	require.NoError(t, ValidateContent(strings.Repeat("é", MaxMessageLength)))
	require.ErrorIs(t, ValidateContent(strings.Repeat("é", MaxMessageLength+1)), ErrContentTooLong)
}

func TestMessageBefore(t *testing.T) {
	now := time.Now()
	a := Message{ID: 2, CreatedAt: now}
	b := Message{ID: 1, CreatedAt: now.Add(time.Microsecond)}
	c := Message{ID: 3, CreatedAt: now}

	require.True(t, a.Before(b))
	require.False(t, b.Before(a))
	require.True(t, a.Before(c))
	require.False(t, c.Before(a))
}

func TestAvatarWireName(t *testing.T) {
	body, err := json.Marshal(Message{Author: Author{ID: 1, Name: "ann", Avatar: "a.png"}})
	require.NoError(t, err)
	require.Contains(t, string(body), `"avatar":"a.png"`)

	body, err = json.Marshal(Community{Seller: User{ID: 2, Name: "sam", Avatar: "s.png"}})
	require.NoError(t, err)
	require.Contains(t, string(body), `"avatar":"s.png"`)
}
