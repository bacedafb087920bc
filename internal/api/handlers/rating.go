package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/slezkinis/pentolymp-backend/internal/service"
	"github.com/slezkinis/pentolymp-backend/pkg/logger"
)

type RatingHandler struct {
	ratingService *service.RatingService
}

func NewRatingHandler(ratingService *service.RatingService) *RatingHandler {
	return &RatingHandler{
		ratingService: ratingService,
	}
}

// GetMyRating returns the caller's rating, creating it on first access.
func (h *RatingHandler) GetMyRating(c *gin.Context) {
	userID := c.GetString("userId")

	rating, err := h.ratingService.GetUserRating(userID)
	if err != nil {
		logger.Error("Failed to get rating", "userId", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get rating",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rating":  rating,
		"winRate": rating.WinRate(),
	})
}
