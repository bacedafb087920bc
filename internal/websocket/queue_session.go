package websocket

import (
	"context"
	"errors"

	"github.com/slezkinis/pentolymp-backend/internal/service"
	"go.uber.org/zap"
)

// QueueRoom is the single room shared by all searching players.
const QueueRoom = "queue"

// MatchRoom names the room of one match channel.
func MatchRoom(matchID string) string {
	return "match_" + matchID
}

// QueueSession serves one connection on the queue channel. Leaving the
// channel withdraws the search.
type QueueSession struct {
	client     *Client
	matchmaker *service.MatchmakingService
	userID     string
	logger     *zap.Logger
}

func NewQueueSession(client *Client, matchmaker *service.MatchmakingService, userID string, logger *zap.Logger) *QueueSession {
	return &QueueSession{
		client:     client,
		matchmaker: matchmaker,
		userID:     userID,
		logger:     logger,
	}
}

func (s *QueueSession) HandleMessage(msg *Inbound) {
	switch msg.Type {
	case TypeFindMatch:
		s.handleFindMatch(msg.SubjectID)
	case TypeCancelSearch:
		s.handleCancelSearch()
	default:
		s.client.Send(newError("unknown message type"))
	}
}

func (s *QueueSession) handleFindMatch(subjectID string) {
	if subjectID == "" {
		s.client.Send(newError("subject_id is required"))
		return
	}

	match, err := s.matchmaker.Enqueue(context.Background(), s.userID, subjectID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSubjectNotFound):
			s.client.Send(newError("subject not found"))
		case errors.Is(err, service.ErrAlreadyQueued):
			s.client.Send(newError("already searching for a match"))
		case errors.Is(err, service.ErrAlreadyInMatch):
			s.client.Send(newError("already in an active match"))
		case errors.Is(err, service.ErrInsufficientTasks):
			s.client.Send(newError("not enough tasks in this subject"))
		default:
			s.logger.Error("Enqueue failed",
				zap.String("userId", s.userID),
				zap.String("subjectId", subjectID),
				zap.Error(err))
			s.client.Send(newError("failed to join the queue"))
		}
		return
	}

	// When pairing succeeded, the match-found notifier already informed
	// both players.
	if match == nil {
		s.client.Send(AddedToQueueMessage{Type: "added_to_queue", SubjectID: subjectID})
	}
}

func (s *QueueSession) handleCancelSearch() {
	if err := s.matchmaker.Cancel(s.userID); err != nil {
		s.logger.Error("Queue cancel failed",
			zap.String("userId", s.userID),
			zap.Error(err))
		s.client.Send(newError("failed to leave the queue"))
		return
	}
	s.client.Send(QueueRemovedMessage{Type: "queue_removed"})
}

// OnDisconnect withdraws the search. Best effort: a failure here only
// delays removal until the sweep pairs or the user re-enqueues.
func (s *QueueSession) OnDisconnect() {
	if err := s.matchmaker.Cancel(s.userID); err != nil {
		s.logger.Warn("Queue cleanup on disconnect failed",
			zap.String("userId", s.userID),
			zap.Error(err))
	}
}
