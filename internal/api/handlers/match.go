package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/slezkinis/pentolymp-backend/internal/service"
	"github.com/slezkinis/pentolymp-backend/pkg/logger"
)

type MatchHandler struct {
	matchService *service.MatchService
}

func NewMatchHandler(matchService *service.MatchService) *MatchHandler {
	return &MatchHandler{
		matchService: matchService,
	}
}

// GetMatch returns one match with both participants.
func (h *MatchHandler) GetMatch(c *gin.Context) {
	matchID := c.Param("id")

	match, participants, err := h.matchService.MatchState(matchID)
	if err != nil {
		if errors.Is(err, service.ErrMatchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Match not found",
			})
			return
		}

		logger.Error("Failed to get match", "matchId", matchID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get match",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"match":        match,
		"participants": participants,
	})
}

// GetMyMatches returns the caller's match history page.
func (h *MatchHandler) GetMyMatches(c *gin.Context) {
	userID := c.GetString("userId")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	matches, err := h.matchService.ListByUser(userID, page, pageSize)
	if err != nil {
		logger.Error("Failed to list matches", "userId", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list matches",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"matches": matches,
		"page":    page,
	})
}
