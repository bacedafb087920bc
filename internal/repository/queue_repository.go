package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/slezkinis/pentolymp-backend/internal/models"
	"github.com/slezkinis/pentolymp-backend/pkg/database"
)

type QueueRepository struct {
	db *database.DB
}

func NewQueueRepository(db *database.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Insert adds a queue entry for the user. The unique constraint on user_id
// rejects a second entry; that surfaces as ErrDuplicateQueueEntry.
func (r *QueueRepository) Insert(userID, subjectID string) (*models.QueueEntry, error) {
	query := `
		INSERT INTO pvp_queue (user_id, subject_id)
		VALUES ($1, $2)
		RETURNING id, user_id, subject_id, created_at
	`

	entry := &models.QueueEntry{}
	err := r.db.QueryRow(query, userID, subjectID).Scan(
		&entry.ID,
		&entry.UserID,
		&entry.SubjectID,
		&entry.CreatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return nil, ErrDuplicateQueueEntry
	}

	if err != nil {
		return nil, fmt.Errorf("failed to insert queue entry: %w", err)
	}

	return entry, nil
}

// DeleteByUser removes the user's queue entry if present. Idempotent.
func (r *QueueRepository) DeleteByUser(userID string) error {
	query := `DELETE FROM pvp_queue WHERE user_id = $1`
	if _, err := r.db.Exec(query, userID); err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}
	return nil
}

// FindClosestOpponent picks the waiting entry for the same subject whose
// rating is nearest to the given score, earliest enqueued on ties.
func (r *QueueRepository) FindClosestOpponent(subjectID, excludeUserID string, score, initialRating int) (*models.QueueEntry, error) {
	query := `
		SELECT q.id, q.user_id, q.subject_id, q.created_at,
		       COALESCE(r.score, $4) AS rating_score
		FROM pvp_queue q
		LEFT JOIN ratings r ON r.user_id = q.user_id
		WHERE q.subject_id = $1
		  AND q.user_id != $2
		ORDER BY
			ABS(COALESCE(r.score, $4) - $3) ASC,
			q.created_at ASC
		LIMIT 1
	`

	entry := &models.QueueEntry{}
	err := r.db.QueryRow(query, subjectID, excludeUserID, score, initialRating).Scan(
		&entry.ID,
		&entry.UserID,
		&entry.SubjectID,
		&entry.CreatedAt,
		&entry.RatingScore,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to find opponent: %w", err)
	}

	return entry, nil
}

// ListAll returns every queue entry with its rating score, oldest first.
// The sweep groups the result by subject.
func (r *QueueRepository) ListAll(initialRating int) ([]models.QueueEntry, error) {
	query := `
		SELECT q.id, q.user_id, q.subject_id, q.created_at,
		       COALESCE(r.score, $1) AS rating_score
		FROM pvp_queue q
		LEFT JOIN ratings r ON r.user_id = q.user_id
		ORDER BY q.created_at ASC
	`

	rows, err := r.db.Query(query, initialRating)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		var entry models.QueueEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.SubjectID,
			&entry.CreatedAt,
			&entry.RatingScore,
		); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// FindByUser returns the user's queue entry, nil if not queued.
func (r *QueueRepository) FindByUser(userID string, initialRating int) (*models.QueueEntry, error) {
	query := `
		SELECT q.id, q.user_id, q.subject_id, q.created_at,
		       COALESCE(r.score, $2) AS rating_score
		FROM pvp_queue q
		LEFT JOIN ratings r ON r.user_id = q.user_id
		WHERE q.user_id = $1
	`

	entry := &models.QueueEntry{}
	err := r.db.QueryRow(query, userID, initialRating).Scan(
		&entry.ID,
		&entry.UserID,
		&entry.SubjectID,
		&entry.CreatedAt,
		&entry.RatingScore,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to find queue entry: %w", err)
	}

	return entry, nil
}
