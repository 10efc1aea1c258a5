package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"room-relay/internal/chat"
	"room-relay/internal/domain"
	"room-relay/internal/service"
)

// ChatHandler expone por HTTP el historial y la presencia de las salas.
type ChatHandler struct {
	logger *zap.Logger
	hub    *chat.Hub
}

// NewChatHandler crea una instancia de ChatHandler con dependencias necesarias.
func NewChatHandler(logger *zap.Logger, hub *chat.Hub) *ChatHandler {
	return &ChatHandler{
		logger: logger,
		hub:    hub,
	}
}

type roomMessageResponse struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ListMessages maneja GET /api/rooms/:room/messages?limit=N.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	room := c.Param("room")
	if strings.TrimSpace(room) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room is required"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	history := h.hub.History()
	if history == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	msgs, err := history.Recent(c.Request.Context(), room, service.ClampLimit(limit))
	if err != nil {
		h.logger.Error("list room messages failed", zap.String("room", room), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room": room,
		"messages": lo.Map(msgs, func(m domain.Message, _ int) roomMessageResponse {
			return roomMessageResponse{
				ID:        m.ID,
				User:      m.Author,
				Text:      m.Text,
				Timestamp: m.Timestamp.UTC(),
			}
		}),
	})
}

// ListMembers maneja GET /api/rooms/:room/members.
func (h *ChatHandler) ListMembers(c *gin.Context) {
	room := c.Param("room")
	if strings.TrimSpace(room) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room":    room,
		"members": h.hub.Registry().Identities(room),
	})
}
