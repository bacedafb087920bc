package repository

import (
	"fmt"
	"time"

	"github.com/slezkinis/pentolymp-backend/pkg/database"
)

// TimeoutJob is a persisted one-shot deadline for a match. The scheduler
// reloads these rows on startup so a restart cannot drop a match finish.
type TimeoutJob struct {
	MatchID string    `db:"match_id"`
	FireAt  time.Time `db:"fire_at"`
}

type TimeoutJobRepository struct {
	db *database.DB
}

func NewTimeoutJobRepository(db *database.DB) *TimeoutJobRepository {
	return &TimeoutJobRepository{db: db}
}

// Upsert stores or replaces the deadline for a match.
func (r *TimeoutJobRepository) Upsert(matchID string, fireAt time.Time) error {
	query := `
		INSERT INTO match_timeouts (match_id, fire_at)
		VALUES ($1, $2)
		ON CONFLICT (match_id) DO UPDATE SET fire_at = EXCLUDED.fire_at
	`
	if _, err := r.db.Exec(query, matchID, fireAt); err != nil {
		return fmt.Errorf("failed to upsert timeout job: %w", err)
	}
	return nil
}

// Delete removes the job. Reports whether a row existed.
func (r *TimeoutJobRepository) Delete(matchID string) (bool, error) {
	res, err := r.db.Exec(`DELETE FROM match_timeouts WHERE match_id = $1`, matchID)
	if err != nil {
		return false, fmt.Errorf("failed to delete timeout job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check deleted job: %w", err)
	}
	return affected > 0, nil
}

// ListPending returns every persisted job, soonest first.
func (r *TimeoutJobRepository) ListPending() ([]TimeoutJob, error) {
	rows, err := r.db.Query(`SELECT match_id, fire_at FROM match_timeouts ORDER BY fire_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list timeout jobs: %w", err)
	}
	defer rows.Close()

	var jobs []TimeoutJob
	for rows.Next() {
		var job TimeoutJob
		if err := rows.Scan(&job.MatchID, &job.FireAt); err != nil {
			return nil, fmt.Errorf("failed to scan timeout job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}
