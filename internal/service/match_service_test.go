package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/slezkinis/pentolymp-backend/internal/models"
	"github.com/slezkinis/pentolymp-backend/internal/repository"
	"go.uber.org/zap"
)

// fakeMatchStore emulates the conditional transitions of the SQL match
// repository with a mutex, so lifecycle races are testable without a
// database.
type fakeMatchStore struct {
	mu            sync.Mutex
	match         *models.Match
	participants  []models.MatchParticipant
	tasks         map[string][]*models.MatchTask
	ratingApplies int
}

func newFakeMatchStore(maxTasks int) *fakeMatchStore {
	return &fakeMatchStore{
		match: &models.Match{
			ID:              "match1",
			SubjectID:       "math",
			Status:          models.MatchStatusWaiting,
			CreatedAt:       time.Now(),
			DurationMinutes: 15,
			MaxTasks:        maxTasks,
		},
		participants: []models.MatchParticipant{
			{MatchID: "match1", UserID: "alice", Username: "alice", PlayerNumber: 1},
			{MatchID: "match1", UserID: "bob", Username: "bob", PlayerNumber: 2},
		},
		tasks: make(map[string][]*models.MatchTask),
	}
}

func (s *fakeMatchStore) setTasks(tasks []*models.Task) {
	for _, p := range s.participants {
		var sequence []*models.MatchTask
		for i, task := range tasks {
			sequence = append(sequence, &models.MatchTask{
				MatchID: s.match.ID,
				TaskID:  task.ID,
				Order:   i + 1,
				Task:    task,
			})
		}
		s.tasks[p.UserID] = sequence
	}
}

func (s *fakeMatchStore) FindByID(id string) (*models.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.match.ID {
		return nil, nil
	}
	copied := *s.match
	return &copied, nil
}

func (s *fakeMatchStore) Participants(matchID string) ([]models.MatchParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MatchParticipant(nil), s.participants...), nil
}

func (s *fakeMatchStore) ParticipantByUser(matchID, userID string) (*models.MatchParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.participants {
		if s.participants[i].UserID == userID {
			copied := s.participants[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeMatchStore) OpponentOf(matchID, userID string) (*models.MatchParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.participants {
		if s.participants[i].UserID != userID {
			copied := s.participants[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeMatchStore) StartIfWaiting(ctx context.Context, matchID string, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.match.Status != models.MatchStatusWaiting {
		return false, nil
	}
	s.match.Status = models.MatchStatusPlaying
	s.match.StartedAt = &startedAt
	return true, nil
}

func (s *fakeMatchStore) AdvanceProgress(ctx context.Context, matchID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.match.Status != models.MatchStatusPlaying {
		return nil
	}
	for i := range s.participants {
		if s.participants[i].UserID == userID {
			s.participants[i].TasksSolved++
			s.participants[i].CurrentTaskIndex++
		}
	}
	return nil
}

func (s *fakeMatchStore) CurrentTask(matchID, userID string) (*models.MatchTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.participants {
		if s.participants[i].UserID == userID {
			sequence := s.tasks[userID]
			idx := s.participants[i].CurrentTaskIndex
			if idx >= len(sequence) {
				return nil, nil
			}
			return sequence[idx], nil
		}
	}
	return nil, nil
}

func (s *fakeMatchStore) FinishIfPlaying(ctx context.Context, matchID string, now time.Time, initialRating int, decide repository.DecideFunc, rate repository.RateFunc) (*models.MatchCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.match.Status != models.MatchStatusPlaying {
		return nil, nil
	}

	snapshot := append([]models.MatchParticipant(nil), s.participants...)
	decision := decide(s.match, snapshot)
	if !decision.Complete {
		return nil, nil
	}

	s.match.Status = models.MatchStatusFinished
	s.match.Result = &decision.Result
	s.match.WinnerID = decision.WinnerID
	s.match.FinishedAt = &now

	deltas := make(map[string]int)
	if decision.Result != models.MatchResultTechnical {
		p1 := initialRating
		p2 := initialRating
		new1, new2 := rate(p1, p2, decision.Result)
		deltas[snapshot[0].UserID] = new1 - p1
		deltas[snapshot[1].UserID] = new2 - p2
		s.ratingApplies++
	}

	return &models.MatchCompletion{
		Match:        s.match,
		Participants: snapshot,
		Result:       decision.Result,
		WinnerID:     decision.WinnerID,
		RatingDeltas: deltas,
	}, nil
}

func (s *fakeMatchStore) TechnicalIfPlaying(ctx context.Context, matchID string, now time.Time) (*models.MatchCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.match.Status != models.MatchStatusPlaying {
		return nil, nil
	}

	result := models.MatchResultTechnical
	s.match.Status = models.MatchStatusTechnicalError
	s.match.Result = &result
	s.match.FinishedAt = &now

	return &models.MatchCompletion{
		Match:        s.match,
		Participants: append([]models.MatchParticipant(nil), s.participants...),
		Result:       result,
		RatingDeltas: map[string]int{},
	}, nil
}

func (s *fakeMatchStore) CancelIfWaiting(ctx context.Context, matchID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.match.Status != models.MatchStatusWaiting {
		return false, nil
	}
	s.match.Status = models.MatchStatusCancelled
	s.match.FinishedAt = &now
	return true, nil
}

func (s *fakeMatchStore) ListByUser(userID string, limit, offset int) ([]*models.Match, error) {
	return nil, nil
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	cancelled []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(map[string]time.Time)}
}

func (s *fakeScheduler) ScheduleMatchFinish(matchID string, fireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[matchID] = fireAt
	return nil
}

func (s *fakeScheduler) Cancel(matchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, matchID)
	_, existed := s.scheduled[matchID]
	delete(s.scheduled, matchID)
	return existed
}

type fakeSolved struct {
	mu     sync.Mutex
	marked []string
}

func (s *fakeSolved) MarkSolved(userID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, userID+":"+taskID)
	return nil
}

func newTestMatchService(store *fakeMatchStore, sched *fakeScheduler) *MatchService {
	settings := &fakeSettings{}
	return NewMatchService(
		store,
		&fakeSolved{},
		settings,
		NewRatingService(nil, settings),
		sched,
		zap.NewNop(),
	)
}

func TestMatchService_MarkReadyStartsOnce(t *testing.T) {
	store := newFakeMatchStore(5)
	sched := newFakeScheduler()
	svc := newTestMatchService(store, sched)
	ctx := context.Background()

	info, err := svc.MarkReady(ctx, "match1", "alice")
	if err != nil {
		t.Fatalf("first ready: %v", err)
	}
	if !info.Started {
		t.Fatal("first ready should start the match")
	}
	if info.EndAt == nil {
		t.Fatal("a started match must have an end time")
	}
	if _, ok := sched.scheduled["match1"]; !ok {
		t.Error("starting must schedule the deadline")
	}

	info, err = svc.MarkReady(ctx, "match1", "bob")
	if err != nil {
		t.Fatalf("second ready: %v", err)
	}
	if info.Started {
		t.Error("second ready must not report a start")
	}
}

func TestMatchService_MarkReadyRejectsOutsider(t *testing.T) {
	store := newFakeMatchStore(5)
	svc := newTestMatchService(store, newFakeScheduler())

	if _, err := svc.MarkReady(context.Background(), "match1", "mallory"); err != ErrNotParticipant {
		t.Errorf("got %v, want ErrNotParticipant", err)
	}
}

func TestMatchService_SubmitAnswer(t *testing.T) {
	store := newFakeMatchStore(5)
	store.setTasks([]*models.Task{
		{ID: "t1", Answer: "42"},
		{ID: "t2", Answer: "x=3"},
		{ID: "t3", Answer: "7"},
		{ID: "t4", Answer: "yes"},
		{ID: "t5", Answer: "0"},
	})
	svc := newTestMatchService(store, newFakeScheduler())
	ctx := context.Background()

	if _, err := svc.MarkReady(ctx, "match1", "alice"); err != nil {
		t.Fatalf("ready: %v", err)
	}

	if _, err := svc.SubmitAnswer(ctx, "match1", "alice", "   "); err != ErrEmptyAnswer {
		t.Errorf("blank answer: got %v, want ErrEmptyAnswer", err)
	}

	outcome, err := svc.SubmitAnswer(ctx, "match1", "alice", "wrong")
	if err != nil {
		t.Fatalf("wrong answer: %v", err)
	}
	if outcome.Correct {
		t.Error("wrong answer must not be correct")
	}
	if outcome.TaskID != "t1" {
		t.Errorf("wrong answer task = %s, want t1", outcome.TaskID)
	}

	// Case and whitespace are ignored
	outcome, err = svc.SubmitAnswer(ctx, "match1", "alice", " 42 ")
	if err != nil {
		t.Fatalf("correct answer: %v", err)
	}
	if !outcome.Correct {
		t.Fatal("correct answer must be accepted")
	}
	if outcome.NextTask == nil || outcome.NextTask.TaskID != "t2" {
		t.Error("a correct answer should surface the next task")
	}
	if outcome.Completion != nil {
		t.Error("one solved task must not complete a five-task match")
	}

	progress, err := svc.MyProgress("match1", "alice")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if progress.TasksSolved != 1 || progress.CurrentTaskIndex != 1 {
		t.Errorf("progress = %+v, want 1 solved at index 1", progress)
	}
}

func TestMatchService_CompletionOnAllTasksSolved(t *testing.T) {
	store := newFakeMatchStore(2)
	store.setTasks([]*models.Task{
		{ID: "t1", Answer: "a"},
		{ID: "t2", Answer: "b"},
	})
	sched := newFakeScheduler()
	svc := newTestMatchService(store, sched)
	ctx := context.Background()

	if _, err := svc.MarkReady(ctx, "match1", "alice"); err != nil {
		t.Fatalf("ready: %v", err)
	}

	if _, err := svc.SubmitAnswer(ctx, "match1", "alice", "a"); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	outcome, err := svc.SubmitAnswer(ctx, "match1", "alice", "b")
	if err != nil {
		t.Fatalf("second answer: %v", err)
	}

	if outcome.Completion == nil {
		t.Fatal("solving every task must complete the match")
	}
	if outcome.Completion.Result != models.MatchResultPlayer1Win {
		t.Errorf("result = %s, want player1_win", outcome.Completion.Result)
	}
	if outcome.Completion.WinnerID == nil || *outcome.Completion.WinnerID != "alice" {
		t.Error("alice must be the winner")
	}
	if outcome.Completion.RatingDeltas["alice"] != 16 || outcome.Completion.RatingDeltas["bob"] != -16 {
		t.Errorf("deltas = %v, want +16/-16", outcome.Completion.RatingDeltas)
	}
	if len(sched.cancelled) == 0 {
		t.Error("a non-timeout completion must cancel the deadline")
	}
}

func TestMatchService_CheckCompletionConcurrent(t *testing.T) {
	store := newFakeMatchStore(5)
	svc := newTestMatchService(store, newFakeScheduler())
	ctx := context.Background()

	if _, err := svc.MarkReady(ctx, "match1", "alice"); err != nil {
		t.Fatalf("ready: %v", err)
	}
	store.mu.Lock()
	store.participants[0].TasksSolved = 2
	store.participants[1].TasksSolved = 1
	store.mu.Unlock()

	const attempts = 10
	completions := make(chan *models.MatchCompletion, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			completion, err := svc.CheckCompletion(ctx, "match1", true)
			if err != nil {
				t.Errorf("check completion: %v", err)
				return
			}
			if completion != nil {
				completions <- completion
			}
		}()
	}
	wg.Wait()
	close(completions)

	var winners []*models.MatchCompletion
	for completion := range completions {
		winners = append(winners, completion)
	}

	if len(winners) != 1 {
		t.Fatalf("exactly one trigger must win, got %d", len(winners))
	}
	if store.ratingApplies != 1 {
		t.Errorf("rating applied %d times, want exactly once", store.ratingApplies)
	}
	if winners[0].Result != models.MatchResultPlayer1Win {
		t.Errorf("result = %s, want player1_win", winners[0].Result)
	}
}

func TestMatchService_TimeoutDrawOnEqualCounts(t *testing.T) {
	store := newFakeMatchStore(5)
	svc := newTestMatchService(store, newFakeScheduler())
	ctx := context.Background()

	if _, err := svc.MarkReady(ctx, "match1", "alice"); err != nil {
		t.Fatalf("ready: %v", err)
	}
	store.mu.Lock()
	store.participants[0].TasksSolved = 2
	store.participants[1].TasksSolved = 2
	store.mu.Unlock()

	completion, err := svc.CheckCompletion(ctx, "match1", true)
	if err != nil {
		t.Fatalf("check completion: %v", err)
	}
	if completion == nil {
		t.Fatal("an expired match must complete")
	}
	if completion.Result != models.MatchResultDraw {
		t.Errorf("result = %s, want draw", completion.Result)
	}
	if completion.WinnerID != nil {
		t.Error("a draw has no winner")
	}
	if completion.RatingDeltas["alice"] != 0 || completion.RatingDeltas["bob"] != 0 {
		t.Errorf("equal ratings draw should have zero deltas, got %v", completion.RatingDeltas)
	}
}

func TestMatchService_NoCompletionWhileRunning(t *testing.T) {
	store := newFakeMatchStore(5)
	svc := newTestMatchService(store, newFakeScheduler())
	ctx := context.Background()

	if _, err := svc.MarkReady(ctx, "match1", "alice"); err != nil {
		t.Fatalf("ready: %v", err)
	}
	store.mu.Lock()
	store.participants[0].TasksSolved = 2
	store.mu.Unlock()

	completion, err := svc.CheckCompletion(ctx, "match1", false)
	if err != nil {
		t.Fatalf("check completion: %v", err)
	}
	if completion != nil {
		t.Error("a running match with unsolved tasks must not complete")
	}
}

func TestMatchService_ForceTechnical(t *testing.T) {
	store := newFakeMatchStore(5)
	sched := newFakeScheduler()
	svc := newTestMatchService(store, sched)
	ctx := context.Background()

	if _, err := svc.MarkReady(ctx, "match1", "alice"); err != nil {
		t.Fatalf("ready: %v", err)
	}

	completion, err := svc.ForceTechnical(ctx, "match1")
	if err != nil {
		t.Fatalf("force technical: %v", err)
	}
	if completion == nil {
		t.Fatal("a playing match must terminate technically")
	}
	if completion.Result != models.MatchResultTechnical {
		t.Errorf("result = %s, want technical", completion.Result)
	}
	if len(completion.RatingDeltas) != 0 {
		t.Errorf("technical termination must not touch ratings, got %v", completion.RatingDeltas)
	}
	if store.ratingApplies != 0 {
		t.Error("technical termination must not apply ratings")
	}

	// Second call observes the terminal state
	completion, err = svc.ForceTechnical(ctx, "match1")
	if err != nil {
		t.Fatalf("second force technical: %v", err)
	}
	if completion != nil {
		t.Error("technical termination must be a no-op on a finished match")
	}
}

func TestMatchService_DisconnectBeforeStartCancelsMatch(t *testing.T) {
	store := newFakeMatchStore(5)
	sched := newFakeScheduler()
	svc := newTestMatchService(store, sched)
	ctx := context.Background()

	// Nobody sent ready; the match is still waiting when a player leaves
	completion, err := svc.ForceTechnical(ctx, "match1")
	if err != nil {
		t.Fatalf("force technical: %v", err)
	}
	if completion != nil {
		t.Error("cancelling a waiting match must not produce a result")
	}

	store.mu.Lock()
	status := store.match.Status
	store.mu.Unlock()
	if status != models.MatchStatusCancelled {
		t.Fatalf("status = %s, want cancelled", status)
	}
	if store.ratingApplies != 0 {
		t.Error("cancellation must not apply ratings")
	}

	// The terminal state frees both players to queue again
	if _, err := svc.MarkReady(ctx, "match1", "alice"); err != nil {
		t.Fatalf("ready on cancelled match: %v", err)
	}
	store.mu.Lock()
	status = store.match.Status
	store.mu.Unlock()
	if status != models.MatchStatusCancelled {
		t.Errorf("ready must not revive a cancelled match, status = %s", status)
	}
}

func TestMatchService_StaleSubmissionAfterFinish(t *testing.T) {
	store := newFakeMatchStore(5)
	store.setTasks([]*models.Task{{ID: "t1", Answer: "a"}})
	svc := newTestMatchService(store, newFakeScheduler())
	ctx := context.Background()

	if _, err := svc.MarkReady(ctx, "match1", "alice"); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if _, err := svc.ForceTechnical(ctx, "match1"); err != nil {
		t.Fatalf("force technical: %v", err)
	}

	outcome, err := svc.SubmitAnswer(ctx, "match1", "alice", "a")
	if err != nil {
		t.Fatalf("stale submit must not error: %v", err)
	}
	if outcome.Correct {
		t.Error("a submission after termination is reported incorrect")
	}
}

func TestMatchService_TimeRemaining(t *testing.T) {
	store := newFakeMatchStore(5)
	svc := newTestMatchService(store, newFakeScheduler())
	ctx := context.Background()

	info, err := svc.TimeRemaining("match1")
	if err != nil {
		t.Fatalf("time remaining: %v", err)
	}
	if info.Seconds != nil {
		t.Error("a waiting match has no remaining time")
	}

	if _, err := svc.MarkReady(ctx, "match1", "alice"); err != nil {
		t.Fatalf("ready: %v", err)
	}

	info, err = svc.TimeRemaining("match1")
	if err != nil {
		t.Fatalf("time remaining: %v", err)
	}
	if info.Seconds == nil {
		t.Fatal("a playing match must report remaining seconds")
	}
	if *info.Seconds <= 0 || *info.Seconds > 15*60 {
		t.Errorf("remaining = %d, want within (0, 900]", *info.Seconds)
	}
	if info.Total != 15*60 {
		t.Errorf("total = %d, want 900", info.Total)
	}
}

func TestDecideCompletion(t *testing.T) {
	match := &models.Match{MaxTasks: 5}
	alice := "alice"
	bob := "bob"

	tests := []struct {
		name        string
		solved1     int
		solved2     int
		timeExpired bool
		complete    bool
		result      models.MatchResult
		winner      *string
	}{
		{
			name:    "Nobody done, time left",
			solved1: 2, solved2: 3,
		},
		{
			name:    "Player 1 solved everything",
			solved1: 5, solved2: 3,
			complete: true,
			result:   models.MatchResultPlayer1Win,
			winner:   &alice,
		},
		{
			name:    "Player 2 solved everything",
			solved1: 1, solved2: 5,
			complete: true,
			result:   models.MatchResultPlayer2Win,
			winner:   &bob,
		},
		{
			name:    "Timeout with player 2 ahead",
			solved1: 1, solved2: 2,
			timeExpired: true,
			complete:    true,
			result:      models.MatchResultPlayer2Win,
			winner:      &bob,
		},
		{
			name:    "Timeout with equal counts",
			solved1: 0, solved2: 0,
			timeExpired: true,
			complete:    true,
			result:      models.MatchResultDraw,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			participants := []models.MatchParticipant{
				{UserID: alice, PlayerNumber: 1, TasksSolved: tt.solved1},
				{UserID: bob, PlayerNumber: 2, TasksSolved: tt.solved2},
			}
			decision := decideCompletion(match, participants, tt.timeExpired)

			if decision.Complete != tt.complete {
				t.Fatalf("complete = %v, want %v", decision.Complete, tt.complete)
			}
			if !tt.complete {
				return
			}
			if decision.Result != tt.result {
				t.Errorf("result = %s, want %s", decision.Result, tt.result)
			}
			if tt.winner == nil && decision.WinnerID != nil {
				t.Errorf("winner = %v, want nil", *decision.WinnerID)
			}
			if tt.winner != nil && (decision.WinnerID == nil || *decision.WinnerID != *tt.winner) {
				t.Errorf("winner = %v, want %s", decision.WinnerID, *tt.winner)
			}
		})
	}
}
