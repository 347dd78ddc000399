package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"community-chat/internal/auth"
	"community-chat/internal/models"
	"community-chat/internal/observability"
)

// Directory answers community membership questions.
type Directory interface {
	IsMember(ctx context.Context, communityID int64, userID int64) (bool, error)
}

// Refresher pushes the latest community info to the user channel.
type Refresher interface {
	Refresh(ctx context.Context, userID, communityID int64) error
}

// Handler serves the multiplexed /ws endpoint.
type Handler struct {
	hub       *Hub
	directory Directory
	validator auth.Validator
	refresher Refresher
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, directory Directory, validator auth.Validator, refresher Refresher) *Handler {
	return &Handler{hub: hub, directory: directory, validator: validator, refresher: refresher}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the caller and upgrades the connection.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("community-chat/realtime").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	userID, err := h.validator.ValidateToken(ctx, token)
	if err != nil {
		span.SetStatus(codes.Error, "invalid token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	span.SetAttributes(attribute.Int64("user.id", userID))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		log.Printf("websocket upgrade failed: user_id=%d err=%v", userID, err)
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, info)
	h.hub.Register(client)

	observability.IncWSActive()
	info.publish(ctx, "ws_connect", "", "")
	client.sendFrame(models.Frame{Type: models.FrameWelcome})

	// The request context ends with the handler; the connection outlives it.
	connCtx := context.WithoutCancel(ctx)
	go func() {
		if err := client.writePump(); err != nil {
			log.Printf("websocket write failed: conn_id=%s user_id=%d err=%v", info.ConnID, info.UserID, err)
		}
	}()
	go h.readPump(connCtx, client)
}

func (h *Handler) readPump(ctx context.Context, client *Client) {
	info := client.info
	var closeReason string
	defer func() {
		h.hub.Unregister(client)
		client.close()
		observability.DecWSActive()
		info.publish(ctx, "ws_disconnect", "", closeReason)
	}()

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !client.closed() {
				info.publish(ctx, "ws_error", "", closeReason)
			}
			return
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))

		var cmd models.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Printf("dropping malformed frame: conn_id=%s err=%v", info.ConnID, err)
			continue
		}
		h.dispatch(ctx, client, cmd)
	}
}

func (h *Handler) dispatch(ctx context.Context, client *Client, cmd models.Command) {
	switch cmd.Command {
	case models.CommandSubscribe:
		h.subscribe(ctx, client, cmd.Identifier)
	case models.CommandUnsubscribe:
		if h.hub.Unsubscribe(cmd.Identifier, client) {
			kind, _, _ := models.ParseTopic(cmd.Identifier)
			observability.IncWSSubscription(kind, "unsubscribed")
		}
	case models.CommandMessage:
		h.perform(ctx, client, cmd)
	case models.CommandPing:
		client.sendFrame(models.Frame{Type: models.FramePong})
	default:
		log.Printf("dropping unknown command: conn_id=%s command=%q", client.info.ConnID, cmd.Command)
	}
}

func (h *Handler) subscribe(ctx context.Context, client *Client, topic string) {
	kind, id, err := models.ParseTopic(topic)
	if err != nil {
		log.Printf("rejecting subscription: conn_id=%s topic=%q err=%v", client.info.ConnID, topic, err)
		observability.IncWSSubscription("invalid", "rejected")
		client.sendFrame(models.Frame{Type: models.FrameRejectSubscription, Identifier: topic})
		return
	}

	allowed, err := h.authorize(ctx, client.info.UserID, kind, id)
	if err != nil {
		log.Printf("subscription authorization failed: conn_id=%s topic=%s err=%v", client.info.ConnID, topic, err)
	}
	if !allowed {
		observability.IncWSSubscription(kind, "rejected")
		client.sendFrame(models.Frame{Type: models.FrameRejectSubscription, Identifier: topic})
		return
	}

	h.hub.Subscribe(topic, client)
	observability.IncWSSubscription(kind, "confirmed")
	client.sendFrame(models.Frame{Type: models.FrameConfirmSubscription, Identifier: topic})
}

func (h *Handler) authorize(ctx context.Context, userID int64, kind string, id int64) (bool, error) {
	switch kind {
	case models.TopicUser:
		return id == userID, nil
	case models.TopicCommunity:
		return h.directory.IsMember(ctx, id, userID)
	default:
		return false, nil
	}
}

func (h *Handler) perform(ctx context.Context, client *Client, cmd models.Command) {
	if cmd.Data == nil || cmd.Data.Action != models.ActionRefreshCommunityInfo {
		log.Printf("dropping unknown action: conn_id=%s identifier=%s", client.info.ConnID, cmd.Identifier)
		return
	}
	kind, communityID, err := models.ParseTopic(cmd.Identifier)
	if err != nil || kind != models.TopicCommunity || !h.hub.Subscribed(cmd.Identifier, client) {
		log.Printf("dropping action on unsubscribed topic: conn_id=%s identifier=%s", client.info.ConnID, cmd.Identifier)
		return
	}
	if h.refresher == nil {
		return
	}
	if err := h.refresher.Refresh(ctx, client.info.UserID, communityID); err != nil {
		log.Printf("refresh community info failed: user_id=%d community_id=%d err=%v", client.info.UserID, communityID, err)
	}
}
