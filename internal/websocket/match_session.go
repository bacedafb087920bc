package websocket

import (
	"context"
	"errors"

	"github.com/slezkinis/pentolymp-backend/internal/service"
	"go.uber.org/zap"
)

// MatchSession serves one participant's connection on a match channel.
// The participant check happens before the session is created; a session
// always belongs to a real participant.
type MatchSession struct {
	client  *Client
	hub     *Hub
	matches *service.MatchService
	matchID string
	userID  string
	room    string
	logger  *zap.Logger
}

func NewMatchSession(client *Client, hub *Hub, matches *service.MatchService, matchID, userID string, logger *zap.Logger) *MatchSession {
	return &MatchSession{
		client:  client,
		hub:     hub,
		matches: matches,
		matchID: matchID,
		userID:  userID,
		room:    MatchRoom(matchID),
		logger:  logger,
	}
}

// SendMatchState pushes the current match snapshot to this connection.
// Called right after connect so a rejoining client can resync.
func (s *MatchSession) SendMatchState() {
	match, participants, err := s.matches.MatchState(s.matchID)
	if err != nil {
		s.logger.Error("Failed to load match state",
			zap.String("matchId", s.matchID),
			zap.Error(err))
		s.client.Send(newError("failed to load match state"))
		return
	}
	s.client.Send(MatchStateMessage{
		Type:  "match_state",
		Match: MatchStateView{Match: match, Participants: participants},
	})
}

func (s *MatchSession) HandleMessage(msg *Inbound) {
	switch msg.Type {
	case TypeReady:
		s.handleReady()
	case TypeSubmitAnswer:
		s.handleSubmitAnswer(msg.Answer)
	case TypeGetTask:
		s.handleGetTask()
	case TypeGetMatchState:
		s.SendMatchState()
	case TypeGetOpponentProgress:
		s.handleProgress("opponent_progress")
	case TypeGetMyProgress:
		s.handleProgress("my_progress")
	case TypeGetTimeRemaining:
		s.handleTimeRemaining()
	default:
		s.client.Send(newError("unknown message type"))
	}
}

func (s *MatchSession) handleReady() {
	info, err := s.matches.MarkReady(context.Background(), s.matchID, s.userID)
	if err != nil {
		s.logger.Error("Ready failed",
			zap.String("matchId", s.matchID),
			zap.String("userId", s.userID),
			zap.Error(err))
		s.client.Send(newError("failed to mark ready"))
		return
	}

	s.hub.SendToRoom(s.room, PlayerReadyMessage{Type: "player_ready", UserID: s.userID})
	if info.Started {
		s.hub.SendToRoom(s.room, MatchStartedMessage{Type: "match_started", EndAt: info.EndAt})
	}
}

func (s *MatchSession) handleSubmitAnswer(answer string) {
	outcome, err := s.matches.SubmitAnswer(context.Background(), s.matchID, s.userID, answer)
	if err != nil {
		if errors.Is(err, service.ErrEmptyAnswer) {
			s.client.Send(newError("answer must not be empty"))
			return
		}
		s.logger.Error("Answer submission failed",
			zap.String("matchId", s.matchID),
			zap.String("userId", s.userID),
			zap.Error(err))
		s.client.Send(newError("failed to submit answer"))
		return
	}

	s.client.Send(AnswerMessage{
		Type: "own_answer_result",
		Data: AnswerResult{
			Correct:   outcome.Correct,
			TaskID:    outcome.TaskID,
			TaskOrder: outcome.TaskOrder,
		},
	})
	s.hub.BroadcastRoomExcept(s.room, s.userID, AnswerMessage{
		Type: "opponent_answer",
		Data: AnswerResult{
			Correct:   outcome.Correct,
			TaskOrder: outcome.TaskOrder,
			UserID:    s.userID,
		},
	})

	if outcome.Completion != nil {
		s.hub.SendToRoom(s.room, NewMatchFinished(outcome.Completion))
		return
	}
	if outcome.Correct && outcome.NextTask != nil {
		s.client.Send(NextTaskMessage{Type: "next_task", Data: taskView(outcome.NextTask)})
	}
}

func (s *MatchSession) handleGetTask() {
	task, err := s.matches.CurrentTask(s.matchID, s.userID)
	if err != nil {
		s.logger.Error("Failed to load current task",
			zap.String("matchId", s.matchID),
			zap.String("userId", s.userID),
			zap.Error(err))
		s.client.Send(newError("failed to load task"))
		return
	}
	s.client.Send(CurrentTaskMessage{Type: "current_task", Task: taskView(task)})
}

func (s *MatchSession) handleProgress(msgType string) {
	var (
		progress *service.ProgressInfo
		err      error
	)
	if msgType == "my_progress" {
		progress, err = s.matches.MyProgress(s.matchID, s.userID)
	} else {
		progress, err = s.matches.OpponentProgress(s.matchID, s.userID)
	}
	if err != nil {
		s.logger.Error("Failed to load progress",
			zap.String("matchId", s.matchID),
			zap.String("userId", s.userID),
			zap.Error(err))
		s.client.Send(newError("failed to load progress"))
		return
	}
	s.client.Send(ProgressMessage{Type: msgType, Data: progress})
}

func (s *MatchSession) handleTimeRemaining() {
	info, err := s.matches.TimeRemaining(s.matchID)
	if err != nil {
		s.logger.Error("Failed to compute remaining time",
			zap.String("matchId", s.matchID),
			zap.Error(err))
		s.client.Send(newError("failed to load remaining time"))
		return
	}
	s.client.Send(TimeRemainingMessage{Type: "time_remaining", Data: info})
}

// OnDisconnect ends a running match with a technical result. The
// conditional transition makes this a no-op for matches that already
// finished, so closing the tab after the result screen is harmless.
func (s *MatchSession) OnDisconnect() {
	completion, err := s.matches.ForceTechnical(context.Background(), s.matchID)
	if err != nil {
		s.logger.Error("Technical termination failed",
			zap.String("matchId", s.matchID),
			zap.String("userId", s.userID),
			zap.Error(err))
		return
	}
	if completion != nil {
		s.hub.BroadcastRoomExcept(s.room, s.userID, NewMatchFinished(completion))
	}
}
