package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"community-chat/internal/middleware"
	"community-chat/internal/models"
	"community-chat/internal/repositories"
)

// ReadState exposes the per-viewer unread projection.
type ReadState interface {
	Info(ctx context.Context, userID, communityID int64) (models.CommunityInfo, error)
}

// CommunityHandler serves community listings.
type CommunityHandler struct {
	communities repositories.CommunityRepository
	reads       ReadState
}

// NewCommunityHandler builds a CommunityHandler.
func NewCommunityHandler(communities repositories.CommunityRepository, reads ReadState) *CommunityHandler {
	return &CommunityHandler{communities: communities, reads: reads}
}

// ListCommunities returns the viewer's communities with unread projections.
func (h *CommunityHandler) ListCommunities(c *gin.Context) {
	userID := c.GetInt64(middleware.UserIDKey)

	communities, err := h.communities.ListForUser(c.Request.Context(), userID)
	if err != nil {
		log.Printf("list communities failed: user_id=%d err=%v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load communities"})
		return
	}

	for i := range communities {
		if err := h.attachInfo(c.Request.Context(), userID, &communities[i]); err != nil {
			log.Printf("community info failed: user_id=%d community_id=%d err=%v", userID, communities[i].ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread counts"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"communities": communities})
}

// GetCommunity returns one community the viewer belongs to.
func (h *CommunityHandler) GetCommunity(c *gin.Context) {
	communityID, ok := parseID(c, "community_id")
	if !ok {
		return
	}
	userID := c.GetInt64(middleware.UserIDKey)

	community, err := h.communities.GetCommunity(c.Request.Context(), communityID)
	if err != nil {
		writeError(c, err)
		return
	}
	member, err := h.communities.IsMember(c.Request.Context(), communityID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return
	}

	if err := h.attachInfo(c.Request.Context(), userID, &community); err != nil {
		log.Printf("community info failed: user_id=%d community_id=%d err=%v", userID, communityID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread count"})
		return
	}
	c.JSON(http.StatusOK, community)
}

func (h *CommunityHandler) attachInfo(ctx context.Context, userID int64, community *models.Community) error {
	info, err := h.reads.Info(ctx, userID, community.ID)
	if err != nil {
		return err
	}
	community.Apply(info)
	return nil
}
