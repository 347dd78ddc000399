package models

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Commands sent by clients over /ws.
const (
	CommandSubscribe   = "subscribe"
	CommandUnsubscribe = "unsubscribe"
	CommandMessage     = "message"
	CommandPing        = "ping"
)

// Frame types sent by the server. Event frames carry no type.
const (
	FrameWelcome             = "welcome"
	FrameConfirmSubscription = "confirm_subscription"
	FrameRejectSubscription  = "reject_subscription"
	FramePong                = "pong"
)

// ActionRefreshCommunityInfo asks the server to push latest_community_info
// for the community on the caller's user channel.
const ActionRefreshCommunityInfo = "refresh_community_info"

const (
	TopicCommunity = "community"
	TopicUser      = "user"
)

var ErrInvalidTopic = errors.New("invalid topic")

// Command is a client to server frame.
type Command struct {
	Command    string       `json:"command"`
	Identifier string       `json:"identifier,omitempty"`
	Data       *CommandData `json:"data,omitempty"`
}

// CommandData carries the action of a "message" command.
type CommandData struct {
	Action string `json:"action"`
}

// Frame is a server to client frame.
type Frame struct {
	Type       string          `json:"type,omitempty"`
	Identifier string          `json:"identifier,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
}

func CommunityTopic(communityID int64) string {
	return TopicCommunity + ":" + strconv.FormatInt(communityID, 10)
}

func UserTopic(userID int64) string {
	return TopicUser + ":" + strconv.FormatInt(userID, 10)
}

// ParseTopic splits "community:7" into its kind and id.
func ParseTopic(topic string) (string, int64, error) {
	kind, rawID, ok := strings.Cut(topic, ":")
	if !ok || (kind != TopicCommunity && kind != TopicUser) {
		return "", 0, ErrInvalidTopic
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, ErrInvalidTopic
	}
	return kind, id, nil
}
