package models

import "time"

type MatchStatus string

const (
	MatchStatusWaiting        MatchStatus = "waiting"
	MatchStatusPlaying        MatchStatus = "playing"
	MatchStatusFinished       MatchStatus = "finished"
	MatchStatusCancelled      MatchStatus = "cancelled"
	MatchStatusTechnicalError MatchStatus = "technical_error"
)

type MatchResult string

const (
	MatchResultPlayer1Win MatchResult = "player1_win"
	MatchResultPlayer2Win MatchResult = "player2_win"
	MatchResultDraw       MatchResult = "draw"
	MatchResultTechnical  MatchResult = "technical"
)

type Match struct {
	ID              string       `json:"id" db:"id"`
	SubjectID       string       `json:"subjectId" db:"subject_id"`
	Status          MatchStatus  `json:"status" db:"status"`
	Result          *MatchResult `json:"result,omitempty" db:"result"`
	WinnerID        *string      `json:"winnerId,omitempty" db:"winner_id"`
	CreatedAt       time.Time    `json:"createdAt" db:"created_at"`
	StartedAt       *time.Time   `json:"startedAt,omitempty" db:"started_at"`
	FinishedAt      *time.Time   `json:"finishedAt,omitempty" db:"finished_at"`
	DurationMinutes int          `json:"durationMinutes" db:"duration_minutes"`
	MaxTasks        int          `json:"maxTasks" db:"max_tasks"`
}

// Terminal reports whether the match has reached an immutable state.
func (m *Match) Terminal() bool {
	switch m.Status {
	case MatchStatusFinished, MatchStatusCancelled, MatchStatusTechnicalError:
		return true
	}
	return false
}

// EndAt is the wall-clock deadline of a started match, nil before start.
func (m *Match) EndAt() *time.Time {
	if m.StartedAt == nil {
		return nil
	}
	end := m.StartedAt.Add(time.Duration(m.DurationMinutes) * time.Minute)
	return &end
}

type MatchParticipant struct {
	MatchID          string    `json:"matchId" db:"match_id"`
	UserID           string    `json:"userId" db:"user_id"`
	Username         string    `json:"username" db:"username"`
	PlayerNumber     int       `json:"playerNumber" db:"player_number"`
	TasksSolved      int       `json:"tasksSolved" db:"tasks_solved"`
	TimeTaken        float64   `json:"timeTaken" db:"time_taken"`
	CurrentTaskIndex int       `json:"currentTaskIndex" db:"current_task_index"`
	ConnectedAt      time.Time `json:"connectedAt" db:"connected_at"`
}

// MatchTask is one task pinned to a match at a fixed sequence position.
// The snapshot is immutable after pairing.
type MatchTask struct {
	MatchID string `json:"matchId" db:"match_id"`
	TaskID  string `json:"taskId" db:"task_id"`
	Order   int    `json:"order" db:"task_order"`

	Task *Task `json:"task,omitempty"`
}
