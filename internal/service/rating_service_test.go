package service

import (
	"testing"

	"github.com/slezkinis/pentolymp-backend/internal/models"
)

func TestRatingService_CalculateNewRatings(t *testing.T) {
	ratingService := NewRatingService(nil, nil)

	tests := []struct {
		name      string
		player1   int
		player2   int
		result    models.MatchResult
		kFactor   int
		expected1 int
		expected2 int
	}{
		{
			name:      "Equal ratings, player 1 wins",
			player1:   1000,
			player2:   1000,
			result:    models.MatchResultPlayer1Win,
			kFactor:   32,
			expected1: 1016,
			expected2: 984,
		},
		{
			name:      "Equal ratings, player 2 wins",
			player1:   1000,
			player2:   1000,
			result:    models.MatchResultPlayer2Win,
			kFactor:   32,
			expected1: 984,
			expected2: 1016,
		},
		{
			name:      "Equal ratings, draw",
			player1:   1000,
			player2:   1000,
			result:    models.MatchResultDraw,
			kFactor:   32,
			expected1: 1000,
			expected2: 1000,
		},
		{
			name:      "Favorite wins, small gain",
			player1:   1400,
			player2:   1000,
			result:    models.MatchResultPlayer1Win,
			kFactor:   32,
			expected1: 1403,
			expected2: 997,
		},
		{
			name:      "Underdog wins, large gain",
			player1:   1000,
			player2:   1400,
			result:    models.MatchResultPlayer1Win,
			kFactor:   32,
			expected1: 1029,
			expected2: 1371,
		},
		{
			name:      "Technical result leaves ratings unchanged",
			player1:   1234,
			player2:   987,
			result:    models.MatchResultTechnical,
			kFactor:   32,
			expected1: 1234,
			expected2: 987,
		},
		{
			name:      "Custom K-factor scales the delta",
			player1:   1000,
			player2:   1000,
			result:    models.MatchResultPlayer1Win,
			kFactor:   16,
			expected1: 1008,
			expected2: 992,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			new1, new2 := ratingService.CalculateNewRatings(tt.player1, tt.player2, tt.result, tt.kFactor)
			if new1 != tt.expected1 || new2 != tt.expected2 {
				t.Errorf("CalculateNewRatings(%d, %d, %s, %d) = (%d, %d), want (%d, %d)",
					tt.player1, tt.player2, tt.result, tt.kFactor, new1, new2, tt.expected1, tt.expected2)
			}
		})
	}
}

func TestRatingService_ZeroSum(t *testing.T) {
	ratingService := NewRatingService(nil, nil)

	ratings := []struct{ a, b int }{
		{1000, 1000},
		{1200, 800},
		{1537, 1492},
		{2100, 900},
	}
	results := []models.MatchResult{
		models.MatchResultPlayer1Win,
		models.MatchResultPlayer2Win,
		models.MatchResultDraw,
	}

	for _, pair := range ratings {
		for _, result := range results {
			new1, new2 := ratingService.CalculateNewRatings(pair.a, pair.b, result, 32)
			if new1+new2 != pair.a+pair.b {
				t.Errorf("ratings (%d, %d) result %s: sum changed from %d to %d",
					pair.a, pair.b, result, pair.a+pair.b, new1+new2)
			}
		}
	}
}
