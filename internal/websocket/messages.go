package websocket

import (
	"time"

	"github.com/slezkinis/pentolymp-backend/internal/models"
	"github.com/slezkinis/pentolymp-backend/internal/service"
)

// Inbound is the single envelope decoded from every client frame. The type
// field dispatches; the remaining fields apply only to some types.
type Inbound struct {
	Type      string `json:"type"`
	SubjectID string `json:"subject_id,omitempty"`
	Answer    string `json:"answer,omitempty"`
}

// Inbound message types.
const (
	TypeFindMatch           = "find_match"
	TypeCancelSearch        = "cancel_search"
	TypeReady               = "ready"
	TypeSubmitAnswer        = "submit_answer"
	TypeGetTask             = "get_task"
	TypeGetMatchState       = "get_match_state"
	TypeGetOpponentProgress = "get_opponent_progress"
	TypeGetMyProgress       = "get_my_progress"
	TypeGetTimeRemaining    = "get_time_remaining"
)

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newError(message string) ErrorMessage {
	return ErrorMessage{Type: "error", Message: message}
}

type AddedToQueueMessage struct {
	Type      string `json:"type"`
	SubjectID string `json:"subject_id"`
}

type MatchFoundMessage struct {
	Type      string `json:"type"`
	MatchID   string `json:"match_id"`
	SubjectID string `json:"subject_id"`
}

type QueueRemovedMessage struct {
	Type string `json:"type"`
}

type PlayerReadyMessage struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

type MatchStartedMessage struct {
	Type  string     `json:"type"`
	EndAt *time.Time `json:"end_at"`
}

// AnswerResult is the shared shape of own_answer_result and
// opponent_answer payloads. The opponent variant omits the task id.
type AnswerResult struct {
	Correct   bool   `json:"correct"`
	TaskID    string `json:"task_id,omitempty"`
	TaskOrder int    `json:"task_order"`
	UserID    string `json:"user_id,omitempty"`
}

type AnswerMessage struct {
	Type string       `json:"type"`
	Data AnswerResult `json:"data"`
}

type TaskView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

func taskView(mt *models.MatchTask) *TaskView {
	if mt == nil || mt.Task == nil {
		return nil
	}
	return &TaskView{
		ID:          mt.TaskID,
		Name:        mt.Task.Name,
		Description: mt.Task.Description,
		Order:       mt.Order,
	}
}

type NextTaskMessage struct {
	Type string    `json:"type"`
	Data *TaskView `json:"data"`
}

type CurrentTaskMessage struct {
	Type string    `json:"type"`
	Task *TaskView `json:"task"`
}

type ParticipantResult struct {
	UserID      string  `json:"user_id"`
	Username    string  `json:"username"`
	TasksSolved int     `json:"tasks_solved"`
	TimeTaken   float64 `json:"time_taken"`
	RatingDelta int     `json:"rating_delta"`
}

type MatchFinishedData struct {
	Result       models.MatchResult  `json:"result"`
	WinnerID     *string             `json:"winner_id"`
	Participants []ParticipantResult `json:"participants"`
}

type MatchFinishedMessage struct {
	Type string            `json:"type"`
	Data MatchFinishedData `json:"data"`
}

// NewMatchFinished builds the match_finished broadcast from a completion.
func NewMatchFinished(completion *models.MatchCompletion) MatchFinishedMessage {
	data := MatchFinishedData{
		Result:   completion.Result,
		WinnerID: completion.WinnerID,
	}
	for _, p := range completion.Participants {
		data.Participants = append(data.Participants, ParticipantResult{
			UserID:      p.UserID,
			Username:    p.Username,
			TasksSolved: p.TasksSolved,
			TimeTaken:   p.TimeTaken,
			RatingDelta: completion.RatingDeltas[p.UserID],
		})
	}
	return MatchFinishedMessage{Type: "match_finished", Data: data}
}

type MatchStateView struct {
	*models.Match
	Participants []models.MatchParticipant `json:"participants"`
}

type MatchStateMessage struct {
	Type  string         `json:"type"`
	Match MatchStateView `json:"match"`
}

type ProgressMessage struct {
	Type string                `json:"type"`
	Data *service.ProgressInfo `json:"data"`
}

type TimeRemainingMessage struct {
	Type string                     `json:"type"`
	Data *service.TimeRemainingInfo `json:"data"`
}
