package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slezkinis/pentolymp-backend/internal/models"
	"github.com/slezkinis/pentolymp-backend/internal/repository"
	"github.com/slezkinis/pentolymp-backend/pkg/distributed"
	"go.uber.org/zap"
)

type queueStore interface {
	Insert(userID, subjectID string) (*models.QueueEntry, error)
	DeleteByUser(userID string) error
	FindClosestOpponent(subjectID, excludeUserID string, score, initialRating int) (*models.QueueEntry, error)
	ListAll(initialRating int) ([]models.QueueEntry, error)
}

type pairingMatchStore interface {
	CreateWithParticipants(ctx context.Context, subjectID, user1ID, user2ID string, settings *models.PvpSettings) (*models.Match, error)
	HasActiveMatch(userID string) (bool, error)
	CancelStaleWaiting(cutoff, now time.Time) (int64, error)
}

// abandonedWaitingAge is how long a match may sit in waiting before the
// sweep cancels it. Covers pairs where neither player ever connected, which
// no disconnect handler can see.
const abandonedWaitingAge = 2 * time.Minute

type subjectStore interface {
	SubjectExists(subjectID string) (bool, error)
	CountForSubject(subjectID string) (int, error)
}

type settingsStore interface {
	Active() (*models.PvpSettings, error)
}

type ratingStore interface {
	GetOrCreate(userID string, initialRating int) (*models.Rating, error)
}

// MatchFoundNotifier pushes a match-found event to both paired users.
type MatchFoundNotifier func(userIDs []string, match *models.Match)

// MatchmakingService pairs queued players. Two paths feed it: the online
// path on every enqueue, and a periodic sweep that bounds worst-case wait
// time and recovers from enqueue races. Both apply the same policy.
type MatchmakingService struct {
	queue    queueStore
	matches  pairingMatchStore
	subjects subjectStore
	settings settingsStore
	ratings  ratingStore

	lockManager *distributed.RedisLockManager
	instanceID  string

	notifier MatchFoundNotifier
	logger   *zap.Logger
	interval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewMatchmakingService(
	queue queueStore,
	matches pairingMatchStore,
	subjects subjectStore,
	settings settingsStore,
	ratings ratingStore,
	lockManager *distributed.RedisLockManager,
	interval time.Duration,
	logger *zap.Logger,
) *MatchmakingService {
	return &MatchmakingService{
		queue:       queue,
		matches:     matches,
		subjects:    subjects,
		settings:    settings,
		ratings:     ratings,
		lockManager: lockManager,
		instanceID:  uuid.New().String(),
		logger:      logger,
		interval:    interval,
		stopChan:    make(chan struct{}),
	}
}

// SetNotifier wires the websocket layer in after construction
// (avoids a circular dependency).
func (s *MatchmakingService) SetNotifier(notifier MatchFoundNotifier) {
	s.notifier = notifier
}

// Enqueue registers the user's intent to duel in a subject and attempts
// immediate pairing. Returns the created match when pairing succeeded,
// nil when the user has to wait for the sweep.
func (s *MatchmakingService) Enqueue(ctx context.Context, userID, subjectID string) (*models.Match, error) {
	exists, err := s.subjects.SubjectExists(subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to validate subject: %w", err)
	}
	if !exists {
		return nil, ErrSubjectNotFound
	}

	active, err := s.matches.HasActiveMatch(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active match: %w", err)
	}
	if active {
		return nil, ErrAlreadyInMatch
	}

	settings, err := s.settings.Active()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	taskCount, err := s.subjects.CountForSubject(subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	if taskCount < settings.MaxTasks {
		return nil, ErrInsufficientTasks
	}

	// Rating rows are created lazily on first queue entry.
	rating, err := s.ratings.GetOrCreate(userID, settings.InitialRating)
	if err != nil {
		return nil, fmt.Errorf("failed to load rating: %w", err)
	}

	entry, err := s.queue.Insert(userID, subjectID)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateQueueEntry) {
			return nil, ErrAlreadyQueued
		}
		return nil, err
	}
	entry.RatingScore = rating.Score

	return s.tryPairImmediate(ctx, entry, settings)
}

// Cancel removes the user from the queue. A no-op when not queued.
func (s *MatchmakingService) Cancel(userID string) error {
	return s.queue.DeleteByUser(userID)
}

// tryPairImmediate is the online pairing path: the closest-rated waiting
// player in the same subject is taken when the pairing policy allows it now.
func (s *MatchmakingService) tryPairImmediate(ctx context.Context, entry *models.QueueEntry, settings *models.PvpSettings) (*models.Match, error) {
	opponent, err := s.queue.FindClosestOpponent(entry.SubjectID, entry.UserID, entry.RatingScore, settings.InitialRating)
	if err != nil {
		return nil, fmt.Errorf("failed to find opponent: %w", err)
	}
	if opponent == nil {
		return nil, nil
	}

	if !shouldPairNow(entry, opponent, settings, time.Now()) {
		return nil, nil
	}

	match, err := s.createMatch(ctx, opponent, entry, settings)
	if err != nil {
		// A lost pairing race or a drained task pool leaves both players
		// queued; the sweep retries.
		s.logger.Debug("Immediate pairing did not create a match",
			zap.String("user", entry.UserID),
			zap.String("opponent", opponent.UserID),
			zap.Error(err))
		return nil, nil
	}

	return match, nil
}

// shouldPairNow is the pairing policy shared by both paths: close ratings
// pair without delay, everyone else pairs once both have waited long enough.
func shouldPairNow(a, b *models.QueueEntry, settings *models.PvpSettings, now time.Time) bool {
	diff := a.RatingScore - b.RatingScore
	if diff < 0 {
		diff = -diff
	}
	if diff <= settings.MaxRatingDiffForNoDelay {
		return true
	}

	minWait := time.Duration(settings.MinWaitTimeSeconds) * time.Second
	return a.WaitedAt(now) >= minWait && b.WaitedAt(now) >= minWait
}

// createMatch pairs two queued players. Player numbers follow arrival order.
func (s *MatchmakingService) createMatch(ctx context.Context, first, second *models.QueueEntry, settings *models.PvpSettings) (*models.Match, error) {
	player1, player2 := first, second
	if second.CreatedAt.Before(first.CreatedAt) {
		player1, player2 = second, first
	}

	match, err := s.matches.CreateWithParticipants(ctx, player1.SubjectID, player1.UserID, player2.UserID, settings)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Match created",
		zap.String("matchId", match.ID),
		zap.String("subjectId", match.SubjectID),
		zap.String("player1", player1.UserID),
		zap.String("player2", player2.UserID),
		zap.Int("ratingDiff", absInt(player1.RatingScore-player2.RatingScore)))

	if s.notifier != nil {
		s.notifier([]string{player1.UserID, player2.UserID}, match)
	}

	return match, nil
}

// Start launches the periodic sweep.
func (s *MatchmakingService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting matchmaking sweep", zap.Duration("interval", s.interval))

	s.wg.Add(1)
	go s.sweepLoop()
}

// Stop terminates the sweep loop and waits for it to drain.
func (s *MatchmakingService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("Matchmaking sweep stopped")
}

func (s *MatchmakingService) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runSweep(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

// runSweep is the delayed pairing path: a full queue scan grouped by
// subject. It guarantees eventual matching when no enqueue event triggers
// pairing. A distributed lock keeps concurrent instances from double-pairing.
func (s *MatchmakingService) runSweep(ctx context.Context) {
	if s.lockManager != nil {
		lock, err := s.lockManager.AcquireLock(ctx, "matchmaking:sweep", s.instanceID, s.interval)
		if err == distributed.ErrLockNotAcquired {
			return
		}
		if err != nil {
			s.logger.Error("Failed to acquire sweep lock", zap.Error(err))
			return
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil && err != distributed.ErrLockNotHeld {
				s.logger.Error("Failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	settings, err := s.settings.Active()
	if err != nil {
		s.logger.Error("Failed to load settings for sweep", zap.Error(err))
		return
	}

	entries, err := s.queue.ListAll(settings.InitialRating)
	if err != nil {
		s.logger.Error("Failed to list queue", zap.Error(err))
		return
	}

	bySubject := make(map[string][]models.QueueEntry)
	for _, entry := range entries {
		bySubject[entry.SubjectID] = append(bySubject[entry.SubjectID], entry)
	}

	now := time.Now()
	for subjectID, players := range bySubject {
		if len(players) < 2 {
			continue
		}
		s.sweepSubject(ctx, subjectID, players, settings, now)
	}

	cancelled, err := s.matches.CancelStaleWaiting(now.Add(-abandonedWaitingAge), now)
	if err != nil {
		s.logger.Error("Failed to cancel stale matches", zap.Error(err))
		return
	}
	if cancelled > 0 {
		s.logger.Info("Cancelled abandoned matches", zap.Int64("count", cancelled))
	}
}

// sweepSubject pairs players within one subject. A player matched in this
// pass is excluded from further pairing in the same pass.
func (s *MatchmakingService) sweepSubject(ctx context.Context, subjectID string, players []models.QueueEntry, settings *models.PvpSettings, now time.Time) {
	matched := make(map[string]bool)

	for i := range players {
		player1 := &players[i]
		if matched[player1.UserID] {
			continue
		}

		for j := i + 1; j < len(players); j++ {
			player2 := &players[j]
			if matched[player2.UserID] {
				continue
			}

			if !shouldPairNow(player1, player2, settings, now) {
				continue
			}

			if _, err := s.createMatch(ctx, player1, player2, settings); err != nil {
				// Lost race against the online path or another instance;
				// the entries that remain get retried next tick.
				s.logger.Debug("Sweep pairing skipped",
					zap.String("subjectId", subjectID),
					zap.String("player1", player1.UserID),
					zap.String("player2", player2.UserID),
					zap.Error(err))
				continue
			}

			matched[player1.UserID] = true
			matched[player2.UserID] = true
			break
		}
	}
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
