package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/slezkinis/pentolymp-backend/internal/models"
	"github.com/slezkinis/pentolymp-backend/pkg/database"
)

// DecideFunc computes the completion outcome from a snapshot of both
// participant rows taken in the same transaction as the status check.
type DecideFunc func(match *models.Match, participants []models.MatchParticipant) models.CompletionDecision

// RateFunc computes new scores for both players from the current ones.
// Pure; persistence stays in the repository transaction.
type RateFunc func(player1Score, player2Score int, result models.MatchResult) (int, int)

type MatchRepository struct {
	db *database.DB
}

func NewMatchRepository(db *database.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// CreateWithParticipants creates a match in one transaction: both queue
// entries are consumed, the match row and two participant rows are inserted,
// and max_tasks tasks are sampled uniformly without replacement from the
// subject pool as the immutable task sequence.
//
// Returns ErrQueueEntryGone when a concurrent pairing already consumed one
// of the queue entries, and ErrNotEnoughTasks when the subject pool is too
// small; both abort the transaction without side effects.
func (r *MatchRepository) CreateWithParticipants(ctx context.Context, subjectID, user1ID, user2ID string, settings *models.PvpSettings) (*models.Match, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Consuming both queue entries is the pairing precondition: a second
	// concurrent attempt involving either user observes a missing row here
	// and backs off instead of creating a duplicate match.
	res, err := tx.ExecContext(ctx,
		`DELETE FROM pvp_queue WHERE user_id = ANY($1)`,
		pq.Array([]string{user1ID, user2ID}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume queue entries: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check consumed entries: %w", err)
	}
	if deleted != 2 {
		return nil, ErrQueueEntryGone
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM tasks WHERE subject_id = $1 ORDER BY RANDOM() LIMIT $2`,
		subjectID, settings.MaxTasks,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sample tasks: %w", err)
	}
	var taskIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task id: %w", err)
		}
		taskIDs = append(taskIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to sample tasks: %w", err)
	}
	if len(taskIDs) < settings.MaxTasks {
		return nil, ErrNotEnoughTasks
	}

	match := &models.Match{}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO matches (subject_id, status, duration_minutes, max_tasks)
		VALUES ($1, 'waiting', $2, $3)
		RETURNING id, subject_id, status, created_at, duration_minutes, max_tasks
	`, subjectID, settings.DurationMinutes, settings.MaxTasks).Scan(
		&match.ID,
		&match.SubjectID,
		&match.Status,
		&match.CreatedAt,
		&match.DurationMinutes,
		&match.MaxTasks,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}

	for i, userID := range []string{user1ID, user2ID} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO match_participants (match_id, user_id, player_number)
			VALUES ($1, $2, $3)
		`, match.ID, userID, i+1); err != nil {
			return nil, fmt.Errorf("failed to create participant: %w", err)
		}
	}

	for i, taskID := range taskIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO match_tasks (match_id, task_id, task_order)
			VALUES ($1, $2, $3)
		`, match.ID, taskID, i+1); err != nil {
			return nil, fmt.Errorf("failed to create match task: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit match creation: %w", err)
	}

	return match, nil
}

func (r *MatchRepository) FindByID(id string) (*models.Match, error) {
	query := `
		SELECT id, subject_id, status, result, winner_id,
		       created_at, started_at, finished_at,
		       duration_minutes, max_tasks
		FROM matches
		WHERE id = $1
	`

	match := &models.Match{}
	err := r.db.QueryRow(query, id).Scan(
		&match.ID,
		&match.SubjectID,
		&match.Status,
		&match.Result,
		&match.WinnerID,
		&match.CreatedAt,
		&match.StartedAt,
		&match.FinishedAt,
		&match.DurationMinutes,
		&match.MaxTasks,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to find match: %w", err)
	}

	return match, nil
}

// Participants returns both participant rows ordered by player number.
func (r *MatchRepository) Participants(matchID string) ([]models.MatchParticipant, error) {
	query := `
		SELECT p.match_id, p.user_id, u.username, p.player_number,
		       p.tasks_solved, p.time_taken, p.current_task_index, p.connected_at
		FROM match_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.match_id = $1
		ORDER BY p.player_number ASC
	`

	rows, err := r.db.Query(query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	return scanParticipants(rows)
}

// ParticipantByUser returns the user's participant row, nil if the user is
// not part of the match.
func (r *MatchRepository) ParticipantByUser(matchID, userID string) (*models.MatchParticipant, error) {
	query := `
		SELECT p.match_id, p.user_id, u.username, p.player_number,
		       p.tasks_solved, p.time_taken, p.current_task_index, p.connected_at
		FROM match_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.match_id = $1 AND p.user_id = $2
	`
	return r.scanParticipant(r.db.QueryRow(query, matchID, userID))
}

// OpponentOf returns the other participant of the match.
func (r *MatchRepository) OpponentOf(matchID, userID string) (*models.MatchParticipant, error) {
	query := `
		SELECT p.match_id, p.user_id, u.username, p.player_number,
		       p.tasks_solved, p.time_taken, p.current_task_index, p.connected_at
		FROM match_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.match_id = $1 AND p.user_id != $2
	`
	return r.scanParticipant(r.db.QueryRow(query, matchID, userID))
}

// HasActiveMatch reports whether the user participates in a match that has
// not reached a terminal state.
func (r *MatchRepository) HasActiveMatch(userID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS(
			SELECT 1 FROM matches m
			JOIN match_participants p ON p.match_id = m.id
			WHERE p.user_id = $1
			  AND m.status IN ('waiting', 'playing')
		)
	`
	if err := r.db.QueryRow(query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check active match: %w", err)
	}
	return exists, nil
}

// StartIfWaiting flips the match to playing and stamps started_at, but only
// when it is still waiting. Reports whether this call performed the start.
func (r *MatchRepository) StartIfWaiting(ctx context.Context, matchID string, startedAt time.Time) (bool, error) {
	query := `
		UPDATE matches
		SET status = 'playing', started_at = $2
		WHERE id = $1 AND status = 'waiting'
	`

	res, err := r.db.ExecContext(ctx, query, matchID, startedAt)
	if err != nil {
		return false, fmt.Errorf("failed to start match: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check start: %w", err)
	}

	return affected > 0, nil
}

// AdvanceProgress bumps the participant's solved count and task index after
// a correct answer, but only while the match is playing.
func (r *MatchRepository) AdvanceProgress(ctx context.Context, matchID, userID string) error {
	query := `
		UPDATE match_participants p
		SET tasks_solved = p.tasks_solved + 1,
		    current_task_index = p.current_task_index + 1
		FROM matches m
		WHERE p.match_id = $1 AND p.user_id = $2
		  AND m.id = p.match_id AND m.status = 'playing'
	`
	if _, err := r.db.ExecContext(ctx, query, matchID, userID); err != nil {
		return fmt.Errorf("failed to advance progress: %w", err)
	}
	return nil
}

// CurrentTask returns the task at the participant's current position,
// nil when the sequence is exhausted.
func (r *MatchRepository) CurrentTask(matchID, userID string) (*models.MatchTask, error) {
	query := `
		SELECT mt.match_id, mt.task_id, mt.task_order,
		       t.id, t.subject_id, t.name, t.description, t.answer, t.difficulty
		FROM match_tasks mt
		JOIN tasks t ON t.id = mt.task_id
		JOIN match_participants p ON p.match_id = mt.match_id AND p.user_id = $2
		WHERE mt.match_id = $1
		  AND mt.task_order = p.current_task_index + 1
	`

	mt := &models.MatchTask{Task: &models.Task{}}
	err := r.db.QueryRow(query, matchID, userID).Scan(
		&mt.MatchID,
		&mt.TaskID,
		&mt.Order,
		&mt.Task.ID,
		&mt.Task.SubjectID,
		&mt.Task.Name,
		&mt.Task.Description,
		&mt.Task.Answer,
		&mt.Task.Difficulty,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to find current task: %w", err)
	}

	return mt, nil
}

// FinishIfPlaying performs the terminal transition for normal completion.
// Everything happens in one transaction: the match row is locked, the status
// is re-checked (only the first caller among concurrent triggers proceeds),
// both participant rows are snapshotted for the decision, final time_taken
// is accumulated, and the rating update is applied so it cannot run twice.
//
// Returns (nil, nil) when the match is no longer playing or the decision
// reports the match as not complete — a benign no-op for racing triggers.
func (r *MatchRepository) FinishIfPlaying(
	ctx context.Context,
	matchID string,
	now time.Time,
	initialRating int,
	decide DecideFunc,
	rate RateFunc,
) (*models.MatchCompletion, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	match := &models.Match{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, subject_id, status, result, winner_id,
		       created_at, started_at, finished_at,
		       duration_minutes, max_tasks
		FROM matches
		WHERE id = $1
		FOR UPDATE
	`, matchID).Scan(
		&match.ID,
		&match.SubjectID,
		&match.Status,
		&match.Result,
		&match.WinnerID,
		&match.CreatedAt,
		&match.StartedAt,
		&match.FinishedAt,
		&match.DurationMinutes,
		&match.MaxTasks,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock match: %w", err)
	}

	if match.Status != models.MatchStatusPlaying {
		// Another trigger already finished the match.
		return nil, nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT p.match_id, p.user_id, u.username, p.player_number,
		       p.tasks_solved, p.time_taken, p.current_task_index, p.connected_at
		FROM match_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.match_id = $1
		ORDER BY p.player_number ASC
	`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot participants: %w", err)
	}
	participants, err := scanParticipants(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(participants) != 2 {
		return nil, fmt.Errorf("match %s has %d participants", matchID, len(participants))
	}

	decision := decide(match, participants)
	if !decision.Complete {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE matches
		SET status = 'finished', result = $2, winner_id = $3, finished_at = $4
		WHERE id = $1
	`, matchID, decision.Result, decision.WinnerID, now); err != nil {
		return nil, fmt.Errorf("failed to finish match: %w", err)
	}

	var elapsed float64
	if match.StartedAt != nil {
		elapsed = now.Sub(*match.StartedAt).Seconds()
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE match_participants
		SET time_taken = time_taken + $2
		WHERE match_id = $1
	`, matchID, elapsed); err != nil {
		return nil, fmt.Errorf("failed to accumulate time taken: %w", err)
	}

	deltas, err := applyRatings(ctx, tx, participants, decision.Result, initialRating, rate)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit completion: %w", err)
	}

	match.Status = models.MatchStatusFinished
	match.Result = &decision.Result
	match.WinnerID = decision.WinnerID
	match.FinishedAt = &now
	for i := range participants {
		participants[i].TimeTaken += elapsed
	}

	return &models.MatchCompletion{
		Match:        match,
		Participants: participants,
		Result:       decision.Result,
		WinnerID:     decision.WinnerID,
		RatingDeltas: deltas,
	}, nil
}

// TechnicalIfPlaying moves a playing match to technical_error. Ratings and
// counters stay untouched. Returns the completion payload, or nil when the
// match was not playing.
func (r *MatchRepository) TechnicalIfPlaying(ctx context.Context, matchID string, now time.Time) (*models.MatchCompletion, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE matches
		SET status = 'technical_error', result = 'technical', finished_at = $2
		WHERE id = $1 AND status = 'playing'
	`, matchID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to set technical result: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check technical result: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}

	match, err := r.FindByID(matchID)
	if err != nil {
		return nil, err
	}
	participants, err := r.Participants(matchID)
	if err != nil {
		return nil, err
	}

	return &models.MatchCompletion{
		Match:        match,
		Participants: participants,
		Result:       models.MatchResultTechnical,
		RatingDeltas: map[string]int{},
	}, nil
}

// CancelIfWaiting moves a waiting match to cancelled, so an abandoned
// pairing stops blocking its participants from queueing again. Reports
// whether this call performed the cancellation.
func (r *MatchRepository) CancelIfWaiting(ctx context.Context, matchID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE matches
		SET status = 'cancelled', finished_at = $2
		WHERE id = $1 AND status = 'waiting'
	`, matchID, now)
	if err != nil {
		return false, fmt.Errorf("failed to cancel match: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check cancellation: %w", err)
	}
	return affected > 0, nil
}

// CancelStaleWaiting cancels every waiting match created before the cutoff.
// Covers pairings where neither player ever connected to the match channel.
func (r *MatchRepository) CancelStaleWaiting(cutoff, now time.Time) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE matches
		SET status = 'cancelled', finished_at = $2
		WHERE status = 'waiting' AND created_at < $1
	`, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel stale matches: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cancelled matches: %w", err)
	}
	return affected, nil
}

// ListByUser returns the user's finished matches, newest first.
func (r *MatchRepository) ListByUser(userID string, limit, offset int) ([]*models.Match, error) {
	query := `
		SELECT m.id, m.subject_id, m.status, m.result, m.winner_id,
		       m.created_at, m.started_at, m.finished_at,
		       m.duration_minutes, m.max_tasks
		FROM matches m
		JOIN match_participants p ON p.match_id = m.id
		WHERE p.user_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	var matches []*models.Match
	for rows.Next() {
		match := &models.Match{}
		if err := rows.Scan(
			&match.ID,
			&match.SubjectID,
			&match.Status,
			&match.Result,
			&match.WinnerID,
			&match.CreatedAt,
			&match.StartedAt,
			&match.FinishedAt,
			&match.DurationMinutes,
			&match.MaxTasks,
		); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, match)
	}

	return matches, rows.Err()
}

// applyRatings updates both rating rows inside the completion transaction.
// Technical results change nothing, including matches_played.
func applyRatings(
	ctx context.Context,
	tx *sql.Tx,
	participants []models.MatchParticipant,
	result models.MatchResult,
	initialRating int,
	rate RateFunc,
) (map[string]int, error) {
	deltas := map[string]int{}
	if result == models.MatchResultTechnical {
		return deltas, nil
	}

	scores := make([]int, 2)
	for i, p := range participants {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO ratings (user_id, score)
			VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET score = ratings.score
			RETURNING score
		`, p.UserID, initialRating).Scan(&scores[i])
		if err != nil {
			return nil, fmt.Errorf("failed to lock rating row: %w", err)
		}
	}

	new1, new2 := rate(scores[0], scores[1], result)

	won := []bool{result == models.MatchResultPlayer1Win, result == models.MatchResultPlayer2Win}
	drawn := result == models.MatchResultDraw

	for i, p := range participants {
		newScore := new1
		if i == 1 {
			newScore = new2
		}
		wonInc, lostInc, drawnInc := 0, 0, 0
		switch {
		case drawn:
			drawnInc = 1
		case won[i]:
			wonInc = 1
		default:
			lostInc = 1
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE ratings
			SET score = $2,
			    matches_played = matches_played + 1,
			    matches_won = matches_won + $3,
			    matches_lost = matches_lost + $4,
			    matches_drawn = matches_drawn + $5
			WHERE user_id = $1
		`, p.UserID, newScore, wonInc, lostInc, drawnInc); err != nil {
			return nil, fmt.Errorf("failed to update rating: %w", err)
		}
		deltas[p.UserID] = newScore - scores[i]
	}

	return deltas, nil
}

func (r *MatchRepository) scanParticipant(row *sql.Row) (*models.MatchParticipant, error) {
	p := &models.MatchParticipant{}
	err := row.Scan(
		&p.MatchID,
		&p.UserID,
		&p.Username,
		&p.PlayerNumber,
		&p.TasksSolved,
		&p.TimeTaken,
		&p.CurrentTaskIndex,
		&p.ConnectedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to find participant: %w", err)
	}

	return p, nil
}

func scanParticipants(rows *sql.Rows) ([]models.MatchParticipant, error) {
	var participants []models.MatchParticipant
	for rows.Next() {
		var p models.MatchParticipant
		if err := rows.Scan(
			&p.MatchID,
			&p.UserID,
			&p.Username,
			&p.PlayerNumber,
			&p.TasksSolved,
			&p.TimeTaken,
			&p.CurrentTaskIndex,
			&p.ConnectedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}
