package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/slezkinis/pentolymp-backend/internal/service"
	"github.com/slezkinis/pentolymp-backend/internal/websocket"
	"github.com/slezkinis/pentolymp-backend/pkg/logger"
	"go.uber.org/zap"
)

// WebSocketHandler upgrades the queue and match channels.
type WebSocketHandler struct {
	hub          *websocket.Hub
	matchmaker   *service.MatchmakingService
	matchService *service.MatchService
	logger       *zap.Logger
}

func NewWebSocketHandler(hub *websocket.Hub, matchmaker *service.MatchmakingService, matchService *service.MatchService) *WebSocketHandler {
	return &WebSocketHandler{
		hub:          hub,
		matchmaker:   matchmaker,
		matchService: matchService,
		logger:       logger.Base(),
	}
}

// HandleQueue serves the matchmaking queue channel. Authentication only;
// no further authorization needed.
func (h *WebSocketHandler) HandleQueue(c *gin.Context) {
	userID := c.GetString("userId")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	client, err := websocket.Upgrade(h.hub, c.Writer, c.Request, userID, websocket.QueueRoom, h.logger)
	if err != nil {
		h.logger.Error("Failed to upgrade queue connection",
			zap.String("userId", userID),
			zap.Error(err))
		return
	}

	client.Serve(websocket.NewQueueSession(client, h.matchmaker, userID, h.logger))
}

// HandleMatch serves a match channel. The caller must be a registered
// participant of the match; the check happens before the upgrade so a
// rejected connect never triggers technical termination.
func (h *WebSocketHandler) HandleMatch(c *gin.Context) {
	userID := c.GetString("userId")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	matchID := c.Param("id")
	isParticipant, err := h.matchService.IsParticipant(matchID, userID)
	if err != nil {
		h.logger.Error("Failed to check participant",
			zap.String("matchId", matchID),
			zap.String("userId", userID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join match"})
		return
	}
	if !isParticipant {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this match"})
		return
	}

	client, err := websocket.Upgrade(h.hub, c.Writer, c.Request, userID, websocket.MatchRoom(matchID), h.logger)
	if err != nil {
		h.logger.Error("Failed to upgrade match connection",
			zap.String("matchId", matchID),
			zap.String("userId", userID),
			zap.Error(err))
		return
	}

	session := websocket.NewMatchSession(client, h.hub, h.matchService, matchID, userID, h.logger)
	client.Serve(session)
	session.SendMatchState()
}
