package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"community-chat/internal/chat"
	"community-chat/internal/middleware"
	"community-chat/internal/pagination"
	"community-chat/internal/telemetry"
)

// MessageHandler serves the message history, mutations and read markers of
// a community.
type MessageHandler struct {
	service *chat.Service
	pages   *pagination.Engine
	reads   ReadState
	audit   *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler. audit may be nil.
func NewMessageHandler(service *chat.Service, pages *pagination.Engine, reads ReadState, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{service: service, pages: pages, reads: reads, audit: audit}
}

// GetMessages returns one page of history. Without a cursor the page is
// anchored on the viewer's read marker.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	communityID, ok := parseID(c, "community_id")
	if !ok {
		return
	}
	userID := c.GetInt64(middleware.UserIDKey)
	ctx := c.Request.Context()

	dir, err := pagination.DirectionFromMergeIntent(c.Query("merge_intent"))
	if err != nil {
		writeError(c, err)
		return
	}
	if _, err := h.service.Authorize(ctx, communityID, userID); err != nil {
		writeError(c, err)
		return
	}

	var cursor pagination.Cursor
	if raw := c.Query("cursor"); raw != "" {
		if cursor, err = pagination.ParseCursor(raw); err != nil {
			writeError(c, err)
			return
		}
	} else {
		if dir != pagination.Around {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cursor is required for merge_intent " + c.Query("merge_intent")})
			return
		}
		info, err := h.reads.Info(ctx, userID, communityID)
		if err != nil {
			log.Printf("read marker lookup failed: user_id=%d community_id=%d err=%v", userID, communityID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
			return
		}
		if cursor, err = h.pages.InitialCursor(ctx, communityID, info.LastReadMessageCreatedAt); err != nil {
			log.Printf("initial cursor failed: community_id=%d err=%v", communityID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
			return
		}
	}

	page, err := h.pages.Page(ctx, communityID, cursor, dir)
	if err != nil {
		log.Printf("page failed: community_id=%d cursor=%s direction=%s err=%v", communityID, cursor, dir, err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type messageRequest struct {
	Content string `json:"content"`
}

// PostMessage stores and broadcasts a new message.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	communityID, ok := parseID(c, "community_id")
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.service.PostMessage(c.Request.Context(), communityID, c.GetInt64(middleware.UserIDKey), req.Content)
	if err != nil {
		h.fail(c, err, "post message", communityID, 0)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// UpdateMessage edits a message. Only the author may edit.
func (h *MessageHandler) UpdateMessage(c *gin.Context) {
	communityID, ok := parseID(c, "community_id")
	if !ok {
		return
	}
	messageID, ok := parseID(c, "message_id")
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.service.EditMessage(c.Request.Context(), communityID, messageID, c.GetInt64(middleware.UserIDKey), req.Content)
	if err != nil {
		h.fail(c, err, "edit message", communityID, messageID)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage soft deletes a message for everyone.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	communityID, ok := parseID(c, "community_id")
	if !ok {
		return
	}
	messageID, ok := parseID(c, "message_id")
	if !ok {
		return
	}

	if _, err := h.service.DeleteMessage(c.Request.Context(), communityID, messageID, c.GetInt64(middleware.UserIDKey)); err != nil {
		h.fail(c, err, "delete message", communityID, messageID)
		return
	}
	emitAudit(c, h.audit, telemetry.AuditInfo, "Community message deleted", communityID, messageID)
	c.Status(http.StatusNoContent)
}

// MarkRead advances the viewer's read marker.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	communityID, ok := parseID(c, "community_id")
	if !ok {
		return
	}
	var req struct {
		MessageID int64 `json:"message_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.service.MarkRead(c.Request.Context(), communityID, req.MessageID, c.GetInt64(middleware.UserIDKey)); err != nil {
		h.fail(c, err, "mark read", communityID, req.MessageID)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) fail(c *gin.Context, err error, op string, communityID, messageID int64) {
	status, text := errorStatus(err)
	switch status {
	case http.StatusInternalServerError:
		log.Printf("%s failed: community_id=%d message_id=%d err=%v", op, communityID, messageID, err)
	case http.StatusForbidden:
		emitAudit(c, h.audit, telemetry.AuditWarning, op+": not allowed", communityID, messageID)
	}
	c.JSON(status, gin.H{"error": text})
}
