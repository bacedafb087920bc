package service

import (
	"context"
	"testing"
	"time"

	"github.com/slezkinis/pentolymp-backend/internal/models"
	"github.com/slezkinis/pentolymp-backend/internal/repository"
	"go.uber.org/zap"
)

type fakeQueue struct {
	entries map[string]*models.QueueEntry
	scores  map[string]int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		entries: make(map[string]*models.QueueEntry),
		scores:  make(map[string]int),
	}
}

func (q *fakeQueue) Insert(userID, subjectID string) (*models.QueueEntry, error) {
	if _, exists := q.entries[userID]; exists {
		return nil, repository.ErrDuplicateQueueEntry
	}
	entry := &models.QueueEntry{
		ID:        "q-" + userID,
		UserID:    userID,
		SubjectID: subjectID,
		CreatedAt: time.Now(),
	}
	q.entries[userID] = entry
	return entry, nil
}

func (q *fakeQueue) DeleteByUser(userID string) error {
	delete(q.entries, userID)
	return nil
}

func (q *fakeQueue) FindClosestOpponent(subjectID, excludeUserID string, score, initialRating int) (*models.QueueEntry, error) {
	var best *models.QueueEntry
	bestDiff := 0
	for _, entry := range q.entries {
		if entry.UserID == excludeUserID || entry.SubjectID != subjectID {
			continue
		}
		entryScore, ok := q.scores[entry.UserID]
		if !ok {
			entryScore = initialRating
		}
		diff := entryScore - score
		if diff < 0 {
			diff = -diff
		}
		if best == nil || diff < bestDiff ||
			(diff == bestDiff && entry.CreatedAt.Before(best.CreatedAt)) {
			copied := *entry
			copied.RatingScore = entryScore
			best = &copied
			bestDiff = diff
		}
	}
	return best, nil
}

func (q *fakeQueue) ListAll(initialRating int) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	for _, entry := range q.entries {
		copied := *entry
		if score, ok := q.scores[entry.UserID]; ok {
			copied.RatingScore = score
		} else {
			copied.RatingScore = initialRating
		}
		entries = append(entries, copied)
	}
	return entries, nil
}

type fakePairingStore struct {
	queue   *fakeQueue
	active  map[string]bool
	created []*models.Match
	players map[string][2]string
}

func newFakePairingStore(queue *fakeQueue) *fakePairingStore {
	return &fakePairingStore{
		queue:   queue,
		active:  make(map[string]bool),
		players: make(map[string][2]string),
	}
}

func (s *fakePairingStore) CreateWithParticipants(ctx context.Context, subjectID, user1ID, user2ID string, settings *models.PvpSettings) (*models.Match, error) {
	if _, ok := s.queue.entries[user1ID]; !ok {
		return nil, repository.ErrQueueEntryGone
	}
	if _, ok := s.queue.entries[user2ID]; !ok {
		return nil, repository.ErrQueueEntryGone
	}
	delete(s.queue.entries, user1ID)
	delete(s.queue.entries, user2ID)

	match := &models.Match{
		ID:              "m-" + user1ID + "-" + user2ID,
		SubjectID:       subjectID,
		Status:          models.MatchStatusWaiting,
		CreatedAt:       time.Now(),
		DurationMinutes: settings.DurationMinutes,
		MaxTasks:        settings.MaxTasks,
	}
	s.created = append(s.created, match)
	s.players[match.ID] = [2]string{user1ID, user2ID}
	s.active[user1ID] = true
	s.active[user2ID] = true
	return match, nil
}

func (s *fakePairingStore) HasActiveMatch(userID string) (bool, error) {
	return s.active[userID], nil
}

func (s *fakePairingStore) CancelStaleWaiting(cutoff, now time.Time) (int64, error) {
	var cancelled int64
	for _, match := range s.created {
		if match.Status != models.MatchStatusWaiting || !match.CreatedAt.Before(cutoff) {
			continue
		}
		match.Status = models.MatchStatusCancelled
		match.FinishedAt = &now
		for _, userID := range s.players[match.ID] {
			s.active[userID] = false
		}
		cancelled++
	}
	return cancelled, nil
}

type fakeSubjects struct {
	taskCounts map[string]int
}

func (s *fakeSubjects) SubjectExists(subjectID string) (bool, error) {
	_, ok := s.taskCounts[subjectID]
	return ok, nil
}

func (s *fakeSubjects) CountForSubject(subjectID string) (int, error) {
	return s.taskCounts[subjectID], nil
}

type fakeSettings struct {
	settings *models.PvpSettings
}

func (s *fakeSettings) Active() (*models.PvpSettings, error) {
	if s.settings != nil {
		return s.settings, nil
	}
	return models.DefaultPvpSettings(), nil
}

type fakeRatings struct {
	scores map[string]int
}

func (r *fakeRatings) GetOrCreate(userID string, initialRating int) (*models.Rating, error) {
	score, ok := r.scores[userID]
	if !ok {
		score = initialRating
	}
	return &models.Rating{UserID: userID, Score: score}, nil
}

func newTestMatchmaking(queue *fakeQueue, matches *fakePairingStore, subjects *fakeSubjects) *MatchmakingService {
	return NewMatchmakingService(
		queue,
		matches,
		subjects,
		&fakeSettings{},
		&fakeRatings{scores: queue.scores},
		nil,
		time.Second,
		zap.NewNop(),
	)
}

func TestShouldPairNow(t *testing.T) {
	settings := models.DefaultPvpSettings()
	now := time.Now()

	tests := []struct {
		name     string
		scoreA   int
		scoreB   int
		waitedA  time.Duration
		waitedB  time.Duration
		expected bool
	}{
		{
			name:     "Close ratings pair immediately",
			scoreA:   1000,
			scoreB:   1150,
			expected: true,
		},
		{
			name:     "Exact threshold pairs immediately",
			scoreA:   1000,
			scoreB:   1200,
			expected: true,
		},
		{
			name:     "Large gap, neither waited",
			scoreA:   1000,
			scoreB:   1500,
			expected: false,
		},
		{
			name:     "Large gap, only one waited",
			scoreA:   1000,
			scoreB:   1500,
			waitedA:  time.Minute,
			expected: false,
		},
		{
			name:     "Large gap, both waited long enough",
			scoreA:   1000,
			scoreB:   1500,
			waitedA:  time.Minute,
			waitedB:  45 * time.Second,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &models.QueueEntry{RatingScore: tt.scoreA, CreatedAt: now.Add(-tt.waitedA)}
			b := &models.QueueEntry{RatingScore: tt.scoreB, CreatedAt: now.Add(-tt.waitedB)}
			if got := shouldPairNow(a, b, settings, now); got != tt.expected {
				t.Errorf("shouldPairNow(%d, %d) = %v, want %v", tt.scoreA, tt.scoreB, got, tt.expected)
			}
		})
	}
}

func TestMatchmakingService_EnqueueValidation(t *testing.T) {
	queue := newFakeQueue()
	matches := newFakePairingStore(queue)
	subjects := &fakeSubjects{taskCounts: map[string]int{"math": 10, "physics": 3}}
	svc := newTestMatchmaking(queue, matches, subjects)
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, "alice", "history"); err != ErrSubjectNotFound {
		t.Errorf("unknown subject: got %v, want ErrSubjectNotFound", err)
	}

	if _, err := svc.Enqueue(ctx, "alice", "physics"); err != ErrInsufficientTasks {
		t.Errorf("small task pool: got %v, want ErrInsufficientTasks", err)
	}

	if _, err := svc.Enqueue(ctx, "alice", "math"); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if _, err := svc.Enqueue(ctx, "alice", "math"); err != ErrAlreadyQueued {
		t.Errorf("second enqueue: got %v, want ErrAlreadyQueued", err)
	}

	matches.active["bob"] = true
	if _, err := svc.Enqueue(ctx, "bob", "math"); err != ErrAlreadyInMatch {
		t.Errorf("active match: got %v, want ErrAlreadyInMatch", err)
	}
}

func TestMatchmakingService_ImmediatePairing(t *testing.T) {
	queue := newFakeQueue()
	matches := newFakePairingStore(queue)
	subjects := &fakeSubjects{taskCounts: map[string]int{"math": 10}}
	svc := newTestMatchmaking(queue, matches, subjects)
	ctx := context.Background()

	var notified []string
	svc.SetNotifier(func(userIDs []string, match *models.Match) {
		notified = userIDs
	})

	match, err := svc.Enqueue(ctx, "alice", "math")
	if err != nil {
		t.Fatalf("enqueue alice: %v", err)
	}
	if match != nil {
		t.Fatal("alice should wait with an empty queue")
	}

	match, err = svc.Enqueue(ctx, "bob", "math")
	if err != nil {
		t.Fatalf("enqueue bob: %v", err)
	}
	if match == nil {
		t.Fatal("bob should pair with alice immediately")
	}

	if len(queue.entries) != 0 {
		t.Errorf("queue should be empty after pairing, has %d entries", len(queue.entries))
	}
	if len(notified) != 2 {
		t.Errorf("both players should be notified, got %v", notified)
	}
}

func TestMatchmakingService_ImmediatePairingRespectsPolicy(t *testing.T) {
	queue := newFakeQueue()
	queue.scores["alice"] = 1000
	queue.scores["bob"] = 1600
	matches := newFakePairingStore(queue)
	subjects := &fakeSubjects{taskCounts: map[string]int{"math": 10}}
	svc := newTestMatchmaking(queue, matches, subjects)
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, "alice", "math"); err != nil {
		t.Fatalf("enqueue alice: %v", err)
	}
	match, err := svc.Enqueue(ctx, "bob", "math")
	if err != nil {
		t.Fatalf("enqueue bob: %v", err)
	}
	if match != nil {
		t.Fatal("mismatched ratings should not pair before the wait time")
	}
	if len(queue.entries) != 2 {
		t.Errorf("both players should stay queued, have %d", len(queue.entries))
	}
}

func TestMatchmakingService_SweepPairsWaitingPlayers(t *testing.T) {
	queue := newFakeQueue()
	queue.scores["alice"] = 1000
	queue.scores["bob"] = 1600
	matches := newFakePairingStore(queue)
	subjects := &fakeSubjects{taskCounts: map[string]int{"math": 10}}
	svc := newTestMatchmaking(queue, matches, subjects)

	waited := time.Now().Add(-time.Minute)
	queue.entries["alice"] = &models.QueueEntry{ID: "q-alice", UserID: "alice", SubjectID: "math", CreatedAt: waited}
	queue.entries["bob"] = &models.QueueEntry{ID: "q-bob", UserID: "bob", SubjectID: "math", CreatedAt: waited}

	svc.runSweep(context.Background())

	if len(matches.created) != 1 {
		t.Fatalf("sweep should create exactly one match, created %d", len(matches.created))
	}
	if len(queue.entries) != 0 {
		t.Errorf("queue should be empty after the sweep, has %d entries", len(queue.entries))
	}
}

func TestMatchmakingService_SweepCancelsAbandonedMatches(t *testing.T) {
	queue := newFakeQueue()
	matches := newFakePairingStore(queue)
	subjects := &fakeSubjects{taskCounts: map[string]int{"math": 10}}
	svc := newTestMatchmaking(queue, matches, subjects)
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, "alice", "math"); err != nil {
		t.Fatalf("enqueue alice: %v", err)
	}
	if _, err := svc.Enqueue(ctx, "bob", "math"); err != nil {
		t.Fatalf("enqueue bob: %v", err)
	}
	if len(matches.created) != 1 {
		t.Fatalf("pairing should create one match, created %d", len(matches.created))
	}

	// Neither player ever connects; the waiting match blocks re-queueing
	if _, err := svc.Enqueue(ctx, "alice", "math"); err != ErrAlreadyInMatch {
		t.Fatalf("enqueue with waiting match: got %v, want ErrAlreadyInMatch", err)
	}

	matches.created[0].CreatedAt = time.Now().Add(-5 * time.Minute)
	svc.runSweep(ctx)

	if matches.created[0].Status != models.MatchStatusCancelled {
		t.Fatalf("status = %s, want cancelled", matches.created[0].Status)
	}
	if _, err := svc.Enqueue(ctx, "alice", "math"); err != nil {
		t.Errorf("enqueue after cancellation: %v", err)
	}
}

func TestMatchmakingService_SweepSkipsSingletons(t *testing.T) {
	queue := newFakeQueue()
	matches := newFakePairingStore(queue)
	subjects := &fakeSubjects{taskCounts: map[string]int{"math": 10, "physics": 10}}
	svc := newTestMatchmaking(queue, matches, subjects)

	waited := time.Now().Add(-time.Minute)
	queue.entries["alice"] = &models.QueueEntry{ID: "q-alice", UserID: "alice", SubjectID: "math", CreatedAt: waited}
	queue.entries["bob"] = &models.QueueEntry{ID: "q-bob", UserID: "bob", SubjectID: "physics", CreatedAt: waited}

	svc.runSweep(context.Background())

	if len(matches.created) != 0 {
		t.Errorf("players in different subjects must not pair, created %d", len(matches.created))
	}
}
