package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tandemshop/tandem/internal/config"
	"github.com/tandemshop/tandem/internal/domain"
	"github.com/tandemshop/tandem/internal/store"
)

type Handler struct {
	Store store.Repository
	Cfg   *config.Config
}

type createSessionRequest struct {
	UserID   string         `json:"userId" binding:"required"`
	UserName string         `json:"userName"`
	Metadata map[string]any `json:"metadata"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid userId"})
		return
	}

	sess, err := h.Store.Create(c.Request.Context(), domain.ClientID(req.UserID), req.Metadata)
	if err != nil {
		log.Error().Err(err).Str("module", "http").Msg("create session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}
	name := domain.CleanName(req.UserName)
	if _, err := h.Store.AddParticipant(c.Request.Context(), sess.ID,
		domain.Participant{ID: domain.ClientID(req.UserID), Name: name}); err != nil {
		log.Error().Err(err).Str("module", "http").Msg("add host participant")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId":  sess.ID,
		"inviteLink": store.InviteLink(sess.ID, h.Cfg.BaseURL),
		"expiresAt":  sess.ExpiresAt,
	})
}

func (h *Handler) GetSession(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))
	sess, err := h.Store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		log.Error().Err(err).Str("module", "http").Str("session", string(id)).Msg("get session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load session"})
		return
	}
	participants, err := h.Store.Participants(c.Request.Context(), id)
	if err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		log.Warn().Err(err).Str("module", "http").Str("session", string(id)).Msg("list participants")
	}

	c.JSON(http.StatusOK, gin.H{
		"session":      sess,
		"participants": participants,
	})
}

// ICEServers hands clients the STUN list plus a TURN entry only when one
// is configured.
func (h *Handler) ICEServers(c *gin.Context) {
	servers := make([]gin.H, 0, len(h.Cfg.StunURLs)+1)
	for _, u := range h.Cfg.StunURLs {
		servers = append(servers, gin.H{"urls": u})
	}
	if h.Cfg.Turn.URL != "" {
		servers = append(servers, gin.H{
			"urls":       h.Cfg.Turn.URL,
			"username":   h.Cfg.Turn.Username,
			"credential": h.Cfg.Turn.Credential,
		})
	}
	c.JSON(http.StatusOK, gin.H{"iceServers": servers})
}

// JoinRedirect bounces an invite link to the app with the session id as a
// query parameter, or 404s when the session is gone.
func (h *Handler) JoinRedirect(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))
	if _, err := h.Store.Get(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session expired or not found"})
		return
	}
	c.Redirect(http.StatusFound, fmt.Sprintf("%s?session=%s", h.Cfg.AppURL, id))
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}
