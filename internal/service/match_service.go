package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slezkinis/pentolymp-backend/internal/models"
	"github.com/slezkinis/pentolymp-backend/internal/repository"
	"go.uber.org/zap"
)

type matchStore interface {
	FindByID(id string) (*models.Match, error)
	Participants(matchID string) ([]models.MatchParticipant, error)
	ParticipantByUser(matchID, userID string) (*models.MatchParticipant, error)
	OpponentOf(matchID, userID string) (*models.MatchParticipant, error)
	StartIfWaiting(ctx context.Context, matchID string, startedAt time.Time) (bool, error)
	AdvanceProgress(ctx context.Context, matchID, userID string) error
	CurrentTask(matchID, userID string) (*models.MatchTask, error)
	FinishIfPlaying(ctx context.Context, matchID string, now time.Time, initialRating int, decide repository.DecideFunc, rate repository.RateFunc) (*models.MatchCompletion, error)
	TechnicalIfPlaying(ctx context.Context, matchID string, now time.Time) (*models.MatchCompletion, error)
	CancelIfWaiting(ctx context.Context, matchID string, now time.Time) (bool, error)
	ListByUser(userID string, limit, offset int) ([]*models.Match, error)
}

type solvedTaskStore interface {
	MarkSolved(userID, taskID string) error
}

type finishScheduler interface {
	ScheduleMatchFinish(matchID string, fireAt time.Time) error
	Cancel(matchID string) bool
}

// StartInfo reports whether a ready call performed the waiting→playing
// transition and when the match ends.
type StartInfo struct {
	Started bool
	EndAt   *time.Time
}

// AnswerOutcome is the result of one answer submission. Completion is
// non-nil when this submission finished the match; NextTask is non-nil when
// the participant has another task to solve.
type AnswerOutcome struct {
	Correct    bool
	TaskID     string
	TaskOrder  int
	Completion *models.MatchCompletion
	NextTask   *models.MatchTask
}

// ProgressInfo is a participant progress snapshot.
type ProgressInfo struct {
	TasksSolved      int     `json:"tasksSolved"`
	CurrentTaskIndex int     `json:"currentTaskIndex"`
	TimeTaken        float64 `json:"timeTaken"`
}

// TimeRemainingInfo mirrors the time_remaining wire payload. Seconds is nil
// when the match is not running.
type TimeRemainingInfo struct {
	Seconds *int `json:"seconds"`
	Elapsed int  `json:"elapsed,omitempty"`
	Total   int  `json:"total,omitempty"`
}

// MatchService drives a single match through its state machine:
// waiting → playing → finished/technical_error. Three concurrent writers
// (both players and the timeout scheduler) funnel through the conditional
// transitions of the match store, so every trigger path is safe to race.
type MatchService struct {
	matches   matchStore
	tasks     solvedTaskStore
	settings  settingsStore
	rating    *RatingService
	scheduler finishScheduler
	logger    *zap.Logger
}

func NewMatchService(
	matches matchStore,
	tasks solvedTaskStore,
	settings settingsStore,
	rating *RatingService,
	scheduler finishScheduler,
	logger *zap.Logger,
) *MatchService {
	return &MatchService{
		matches:   matches,
		tasks:     tasks,
		settings:  settings,
		rating:    rating,
		scheduler: scheduler,
		logger:    logger,
	}
}

// IsParticipant authorizes a match channel connection.
func (s *MatchService) IsParticipant(matchID, userID string) (bool, error) {
	p, err := s.matches.ParticipantByUser(matchID, userID)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

// MarkReady starts the match once both participants are present and it is
// still waiting. Idempotent: only the call that wins the conditional update
// reports Started, and only that call schedules the forced-completion
// timeout at started_at + duration.
func (s *MatchService) MarkReady(ctx context.Context, matchID, userID string) (*StartInfo, error) {
	participant, err := s.matches.ParticipantByUser(matchID, userID)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, ErrNotParticipant
	}

	started, err := s.matches.StartIfWaiting(ctx, matchID, time.Now())
	if err != nil {
		return nil, err
	}

	match, err := s.matches.FindByID(matchID)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, ErrMatchNotFound
	}

	info := &StartInfo{Started: started, EndAt: match.EndAt()}
	if !started {
		return info, nil
	}

	if err := s.scheduler.ScheduleMatchFinish(matchID, *match.EndAt()); err != nil {
		// The match still resolves through the answer path; log loudly.
		s.logger.Error("Failed to schedule match finish",
			zap.String("matchId", matchID),
			zap.Error(err))
	}

	s.logger.Info("Match started",
		zap.String("matchId", matchID),
		zap.Timep("endAt", info.EndAt))

	return info, nil
}

// SubmitAnswer checks the participant's answer against their current task.
// Submissions against a match that is no longer playing come back as
// incorrect without an error: the network race between a client submit and
// a server-side finish is expected.
func (s *MatchService) SubmitAnswer(ctx context.Context, matchID, userID, answer string) (*AnswerOutcome, error) {
	if strings.TrimSpace(answer) == "" {
		return nil, ErrEmptyAnswer
	}

	participant, err := s.matches.ParticipantByUser(matchID, userID)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, ErrNotParticipant
	}

	match, err := s.matches.FindByID(matchID)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, ErrMatchNotFound
	}

	matchTask, err := s.matches.CurrentTask(matchID, userID)
	if err != nil {
		return nil, err
	}
	if matchTask == nil {
		// Past the end of the task sequence.
		return &AnswerOutcome{Correct: false}, nil
	}

	outcome := &AnswerOutcome{
		TaskID:    matchTask.TaskID,
		TaskOrder: matchTask.Order,
	}

	if match.Status != models.MatchStatusPlaying {
		// Stale submission after completion or technical error.
		return outcome, nil
	}

	outcome.Correct = matchTask.Task.CheckAnswer(answer)
	if !outcome.Correct {
		return outcome, nil
	}

	if err := s.tasks.MarkSolved(userID, matchTask.TaskID); err != nil {
		s.logger.Warn("Failed to record solved task",
			zap.String("userId", userID),
			zap.String("taskId", matchTask.TaskID),
			zap.Error(err))
	}

	if err := s.matches.AdvanceProgress(ctx, matchID, userID); err != nil {
		return nil, err
	}

	completion, err := s.CheckCompletion(ctx, matchID, false)
	if err != nil {
		return nil, err
	}
	outcome.Completion = completion
	if completion != nil {
		return outcome, nil
	}

	next, err := s.matches.CurrentTask(matchID, userID)
	if err != nil {
		return nil, err
	}
	outcome.NextTask = next

	return outcome, nil
}

// CheckCompletion is the single authoritative completion check, shared by
// the answer path and the timeout callback. The conditional transition in
// the store guarantees that only the first caller among concurrent triggers
// finishes the match and applies the rating update; later callers get nil.
func (s *MatchService) CheckCompletion(ctx context.Context, matchID string, timeExpired bool) (*models.MatchCompletion, error) {
	settings, err := s.settings.Active()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	decide := func(match *models.Match, participants []models.MatchParticipant) models.CompletionDecision {
		return decideCompletion(match, participants, timeExpired)
	}
	rate := func(player1Score, player2Score int, result models.MatchResult) (int, int) {
		return s.rating.CalculateNewRatings(player1Score, player2Score, result, settings.KFactor)
	}

	completion, err := s.matches.FinishIfPlaying(ctx, matchID, time.Now(), settings.InitialRating, decide, rate)
	if err != nil {
		return nil, err
	}
	if completion == nil {
		return nil, nil
	}

	if !timeExpired {
		// Best effort: a timer that fires anyway hits the terminal state
		// and no-ops.
		s.scheduler.Cancel(matchID)
	}

	s.logger.Info("Match finished",
		zap.String("matchId", matchID),
		zap.String("result", string(completion.Result)),
		zap.Bool("timeExpired", timeExpired))

	return completion, nil
}

// decideCompletion evaluates the completion condition and the result from a
// consistent participant snapshot. max_tasks assigned at pairing time is
// authoritative; the live task pool is never re-queried.
func decideCompletion(match *models.Match, participants []models.MatchParticipant, timeExpired bool) models.CompletionDecision {
	anyDone := false
	for _, p := range participants {
		if p.TasksSolved >= match.MaxTasks {
			anyDone = true
			break
		}
	}
	if !timeExpired && !anyDone {
		return models.CompletionDecision{}
	}

	decision := models.CompletionDecision{Complete: true}
	switch {
	case participants[0].TasksSolved > participants[1].TasksSolved:
		decision.Result = models.MatchResultPlayer1Win
		decision.WinnerID = &participants[0].UserID
	case participants[1].TasksSolved > participants[0].TasksSolved:
		decision.Result = models.MatchResultPlayer2Win
		decision.WinnerID = &participants[1].UserID
	default:
		decision.Result = models.MatchResultDraw
	}

	return decision
}

// ForceTechnical ends a playing match after a participant disconnect.
// Ratings stay untouched and no counters move: technical termination is
// excluded from rating statistics. A match still waiting is cancelled
// instead, so an abandoned pairing never blocks either player from
// queueing again.
func (s *MatchService) ForceTechnical(ctx context.Context, matchID string) (*models.MatchCompletion, error) {
	now := time.Now()

	completion, err := s.matches.TechnicalIfPlaying(ctx, matchID, now)
	if err != nil {
		return nil, err
	}
	if completion == nil {
		cancelled, err := s.matches.CancelIfWaiting(ctx, matchID, now)
		if err != nil {
			return nil, err
		}
		if cancelled {
			s.scheduler.Cancel(matchID)
			s.logger.Info("Waiting match cancelled", zap.String("matchId", matchID))
		}
		return nil, nil
	}

	s.scheduler.Cancel(matchID)

	s.logger.Info("Match ended with technical error", zap.String("matchId", matchID))

	return completion, nil
}

// CurrentTask returns the participant's task at current_task_index + 1,
// nil when the sequence is exhausted.
func (s *MatchService) CurrentTask(matchID, userID string) (*models.MatchTask, error) {
	participant, err := s.matches.ParticipantByUser(matchID, userID)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, ErrNotParticipant
	}
	return s.matches.CurrentTask(matchID, userID)
}

// MyProgress returns the caller's progress snapshot.
func (s *MatchService) MyProgress(matchID, userID string) (*ProgressInfo, error) {
	participant, err := s.matches.ParticipantByUser(matchID, userID)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, ErrNotParticipant
	}
	return progressOf(participant), nil
}

// OpponentProgress returns the other participant's progress snapshot.
func (s *MatchService) OpponentProgress(matchID, userID string) (*ProgressInfo, error) {
	opponent, err := s.matches.OpponentOf(matchID, userID)
	if err != nil {
		return nil, err
	}
	if opponent == nil {
		return nil, ErrNotParticipant
	}
	return progressOf(opponent), nil
}

func progressOf(p *models.MatchParticipant) *ProgressInfo {
	return &ProgressInfo{
		TasksSolved:      p.TasksSolved,
		CurrentTaskIndex: p.CurrentTaskIndex,
		TimeTaken:        p.TimeTaken,
	}
}

// MatchState returns the match with both participants.
func (s *MatchService) MatchState(matchID string) (*models.Match, []models.MatchParticipant, error) {
	match, err := s.matches.FindByID(matchID)
	if err != nil {
		return nil, nil, err
	}
	if match == nil {
		return nil, nil, ErrMatchNotFound
	}

	participants, err := s.matches.Participants(matchID)
	if err != nil {
		return nil, nil, err
	}

	return match, participants, nil
}

// TimeRemaining reports seconds left in a running match; Seconds is nil for
// a match that is not playing.
func (s *MatchService) TimeRemaining(matchID string) (*TimeRemainingInfo, error) {
	match, err := s.matches.FindByID(matchID)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, ErrMatchNotFound
	}

	if match.Status != models.MatchStatusPlaying || match.StartedAt == nil {
		return &TimeRemainingInfo{}, nil
	}

	elapsed := int(time.Since(*match.StartedAt).Seconds())
	total := match.DurationMinutes * 60
	remaining := total - elapsed
	if remaining < 0 {
		remaining = 0
	}

	return &TimeRemainingInfo{
		Seconds: &remaining,
		Elapsed: elapsed,
		Total:   total,
	}, nil
}

// GetByID returns a single match for the REST views.
func (s *MatchService) GetByID(id string) (*models.Match, error) {
	match, err := s.matches.FindByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	if match == nil {
		return nil, ErrMatchNotFound
	}
	return match, nil
}

// ListByUser returns the user's match history page.
func (s *MatchService) ListByUser(userID string, page, pageSize int) ([]*models.Match, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	offset := (page - 1) * pageSize
	return s.matches.ListByUser(userID, pageSize, offset)
}
