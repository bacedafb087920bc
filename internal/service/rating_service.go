package service

import (
	"math"

	"github.com/slezkinis/pentolymp-backend/internal/models"
)

type leaderboardStore interface {
	Leaderboard(limit int) ([]models.LeaderboardEntry, error)
	GetOrCreate(userID string, initialRating int) (*models.Rating, error)
}

// RatingService computes Elo-style rating updates. The calculation itself is
// pure; persistence happens inside the match completion transaction.
type RatingService struct {
	ratings  leaderboardStore
	settings settingsStore
}

func NewRatingService(ratings leaderboardStore, settings settingsStore) *RatingService {
	return &RatingService{
		ratings:  ratings,
		settings: settings,
	}
}

// CalculateNewRatings returns both players' new scores after a match.
// Win counts 1.0, draw 0.5. A technical result leaves scores unchanged.
// New scores are rounded to the nearest integer, ties away from zero, which
// keeps the win/draw sum invariant: new1+new2 == old1+old2.
func (s *RatingService) CalculateNewRatings(player1Score, player2Score int, result models.MatchResult, kFactor int) (int, int) {
	if result == models.MatchResultTechnical {
		return player1Score, player2Score
	}

	r1 := float64(player1Score)
	r2 := float64(player2Score)

	expected1 := expectedScore(r1, r2)
	expected2 := 1.0 - expected1

	var actual1, actual2 float64
	switch result {
	case models.MatchResultPlayer1Win:
		actual1, actual2 = 1.0, 0.0
	case models.MatchResultPlayer2Win:
		actual1, actual2 = 0.0, 1.0
	default: // draw
		actual1, actual2 = 0.5, 0.5
	}

	k := float64(kFactor)
	new1 := int(math.Round(r1 + k*(actual1-expected1)))
	new2 := int(math.Round(r2 + k*(actual2-expected2)))

	return new1, new2
}

// expectedScore is player 1's expected outcome given both ratings.
func expectedScore(rating1, rating2 float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (rating2-rating1)/400.0))
}

// GetLeaderboard returns the top rated users.
func (s *RatingService) GetLeaderboard(limit int) ([]models.LeaderboardEntry, error) {
	if limit < 1 || limit > 100 {
		limit = 50
	}
	return s.ratings.Leaderboard(limit)
}

// GetUserRating returns the user's rating row, creating it lazily.
func (s *RatingService) GetUserRating(userID string) (*models.Rating, error) {
	settings, err := s.settings.Active()
	if err != nil {
		return nil, err
	}
	return s.ratings.GetOrCreate(userID, settings.InitialRating)
}
