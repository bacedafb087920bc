package repository

import (
	"fmt"

	"github.com/slezkinis/pentolymp-backend/internal/models"
	"github.com/slezkinis/pentolymp-backend/pkg/database"
)

type RatingRepository struct {
	db *database.DB
}

func NewRatingRepository(db *database.DB) *RatingRepository {
	return &RatingRepository{db: db}
}

// GetOrCreate returns the user's rating row, creating it with the initial
// score on first use.
func (r *RatingRepository) GetOrCreate(userID string, initialRating int) (*models.Rating, error) {
	query := `
		INSERT INTO ratings (user_id, score)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING user_id, score, matches_played, matches_won, matches_lost, matches_drawn
	`

	rating := &models.Rating{}
	err := r.db.QueryRow(query, userID, initialRating).Scan(
		&rating.UserID,
		&rating.Score,
		&rating.MatchesPlayed,
		&rating.MatchesWon,
		&rating.MatchesLost,
		&rating.MatchesDrawn,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get or create rating: %w", err)
	}

	return rating, nil
}

// Leaderboard returns the top ratings with usernames, highest score first.
func (r *RatingRepository) Leaderboard(limit int) ([]models.LeaderboardEntry, error) {
	query := `
		SELECT r.user_id, u.username, r.score,
		       r.matches_played, r.matches_won, r.matches_lost, r.matches_drawn
		FROM ratings r
		JOIN users u ON u.id = r.user_id
		ORDER BY r.score DESC, u.username ASC
		LIMIT $1
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []models.LeaderboardEntry
	rank := 1
	for rows.Next() {
		var e models.LeaderboardEntry
		if err := rows.Scan(
			&e.UserID,
			&e.Username,
			&e.Score,
			&e.MatchesPlayed,
			&e.MatchesWon,
			&e.MatchesLost,
			&e.MatchesDrawn,
		); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		if e.MatchesPlayed > 0 {
			e.WinRate = float64(e.MatchesWon) / float64(e.MatchesPlayed) * 100
		}
		e.Rank = rank
		rank++
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
