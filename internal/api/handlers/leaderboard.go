package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/slezkinis/pentolymp-backend/internal/service"
	"github.com/slezkinis/pentolymp-backend/pkg/logger"
)

type LeaderboardHandler struct {
	ratingService *service.RatingService
}

func NewLeaderboardHandler(ratingService *service.RatingService) *LeaderboardHandler {
	return &LeaderboardHandler{
		ratingService: ratingService,
	}
}

// GetLeaderboard returns the top rated users.
func (h *LeaderboardHandler) GetLeaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.ratingService.GetLeaderboard(limit)
	if err != nil {
		logger.Error("Failed to get leaderboard", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get leaderboard",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"leaderboard": entries,
	})
}
