package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"community-chat/internal/chat"
	"community-chat/internal/middleware"
	"community-chat/internal/models"
	"community-chat/internal/pagination"
	"community-chat/internal/repositories"
	"community-chat/internal/telemetry"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *int64 {
	if userID := c.GetInt64(middleware.UserIDKey); userID != 0 {
		return &userID
	}

	if header := c.GetHeader("X-User-ID"); header != "" {
		if parsed, err := strconv.ParseInt(header, 10, 64); err == nil {
			return &parsed
		}
	}

	return nil
}

func emitAudit(c *gin.Context, audit *telemetry.AuditEmitter, level, text string, communityID, messageID int64) {
	if audit == nil {
		return
	}
	audit.EmitPayload(c.Request.Context(), requestIDFromContext(c), userIDFromContext(c), telemetry.AuditPayload{
		Level:       level,
		Text:        text,
		CommunityID: communityID,
		MessageID:   messageID,
	})
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return 0, false
	}
	return id, true
}

// errorStatus maps domain errors to HTTP statuses and client-facing text.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrContentEmpty), errors.Is(err, models.ErrContentTooLong):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, pagination.ErrInvalidCursor), errors.Is(err, pagination.ErrInvalidDirection):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden, "not allowed"
	case errors.Is(err, repositories.ErrCommunityNotFound):
		return http.StatusNotFound, "community not found"
	case errors.Is(err, repositories.ErrMessageNotFound):
		return http.StatusNotFound, "message not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(c *gin.Context, err error) {
	status, text := errorStatus(err)
	c.JSON(status, gin.H{"error": text})
}
