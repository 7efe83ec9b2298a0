package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/probatio/probatio-backend/internal/grading"
	"github.com/probatio/probatio-backend/internal/model"
	"github.com/rs/zerolog"
)

// fakeCounter implements SubmissionCounter.
type fakeCounter struct {
	count int
	err   error
}

func (f *fakeCounter) CountCompleted(_ context.Context, _, _ uuid.UUID) (int, error) {
	return f.count, f.err
}

// fakeStore implements Store. failures holds the number of writes that will
// fail before one succeeds.
type fakeStore struct {
	mu       sync.Mutex
	failures int
	saved    []*model.Submission
	results  [][]grading.Outcome
}

func (f *fakeStore) SaveSubmission(_ context.Context, sub *model.Submission, outcomes []grading.Outcome) (*model.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset")
	}
	// Idempotency: a repeated attempt ID returns the original write.
	for _, s := range f.saved {
		if s.AttemptID == sub.AttemptID {
			return s, nil
		}
	}
	saved := *sub
	saved.ID = uuid.New()
	f.saved = append(f.saved, &saved)
	f.results = append(f.results, outcomes)
	return &saved, nil
}

func (f *fakeStore) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func intPtr(n int) *int { return &n }

// threeQuestionTest builds the canonical fixture: mc "B", true_false "True",
// short_answer "paris".
func threeQuestionTest(durationMinutes *int) (*model.Test, []model.Question) {
	test := &model.Test{
		ID:              uuid.New(),
		Title:           "European Capitals",
		Subject:         "Geography",
		Difficulty:      model.DifficultyEasy,
		DurationMinutes: durationMinutes,
		Active:          true,
	}
	questions := []model.Question{
		{ID: uuid.New(), TestID: test.ID, Type: model.QuestionTypeMultipleChoice, Options: []string{"A", "B", "C", "D"}, CorrectAnswer: "B", Points: 1, Position: 1},
		{ID: uuid.New(), TestID: test.ID, Type: model.QuestionTypeTrueFalse, CorrectAnswer: "True", Points: 1, Position: 2},
		{ID: uuid.New(), TestID: test.ID, Type: model.QuestionTypeShortAnswer, CorrectAnswer: "paris", Points: 1, Position: 3},
	}
	return test, questions
}

func newTestController(t *testing.T, test *model.Test, questions []model.Question, store Store, counter SubmissionCounter) *Controller {
	t.Helper()
	return NewController(test, questions, uuid.New(), uuid.Nil, NewGate(counter), store, zerolog.Nop())
}

func TestController_FullOnlineAttempt(t *testing.T) {
	test, questions := threeQuestionTest(nil)
	store := &fakeStore{}
	ctrl := newTestController(t, test, questions, store, &fakeCounter{})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ctrl.State() != StateInProgress {
		t.Fatalf("state = %s, want in_progress", ctrl.State())
	}
	if ctrl.Clock() != nil {
		t.Fatal("untimed attempt must not have a clock")
	}

	for i, ans := range []string{"B", "True", "Paris"} {
		if err := ctrl.SetAnswer(questions[i].ID, ans); err != nil {
			t.Fatalf("SetAnswer: %v", err)
		}
	}

	sub, err := ctrl.Submit(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Score != 3 || sub.MaxScore != 3 {
		t.Errorf("score = %d/%d, want 3/3", sub.Score, sub.MaxScore)
	}
	if ctrl.State() != StateCompleted {
		t.Errorf("state = %s, want completed", ctrl.State())
	}
	if store.writes() != 1 {
		t.Errorf("store writes = %d, want 1", store.writes())
	}

	// Per-question results carry one row per question.
	if got := len(store.results[0]); got != len(questions) {
		t.Errorf("results = %d, want %d", got, len(questions))
	}
}

func TestController_RejectedByGate(t *testing.T) {
	test, questions := threeQuestionTest(nil)
	test.MaxAttempts = intPtr(2)
	ctrl := newTestController(t, test, questions, &fakeStore{}, &fakeCounter{count: 2})

	err := ctrl.Start(context.Background())
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Reason != ReasonMaxAttemptsReached {
		t.Fatalf("err = %v, want DeniedError(max_attempts_reached)", err)
	}
	if ctrl.State() != StateRejected {
		t.Errorf("state = %s, want rejected", ctrl.State())
	}
}

func TestController_GateFailsClosed(t *testing.T) {
	test, questions := threeQuestionTest(nil)
	test.MaxAttempts = intPtr(1)
	ctrl := newTestController(t, test, questions, &fakeStore{}, &fakeCounter{err: errors.New("backend down")})

	err := ctrl.Start(context.Background())
	if err == nil {
		t.Fatal("Start must fail when eligibility cannot be verified")
	}
	var denied *DeniedError
	if errors.As(err, &denied) {
		t.Fatal("infrastructure failure must not look like a rule denial")
	}
	// Recoverable: the attempt stays in not_started.
	if ctrl.State() != StateNotStarted {
		t.Errorf("state = %s, want not_started", ctrl.State())
	}
}

func TestController_ManualSubmitBlockedWhenIncomplete(t *testing.T) {
	test, questions := threeQuestionTest(nil)
	store := &fakeStore{}
	ctrl := newTestController(t, test, questions, store, &fakeCounter{})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_ = ctrl.SetAnswer(questions[0].ID, "A")
	_ = ctrl.SetAnswer(questions[1].ID, "True")

	if _, err := ctrl.Submit(context.Background(), TriggerManual); !errors.Is(err, ErrAttemptIncomplete) {
		t.Fatalf("err = %v, want ErrAttemptIncomplete", err)
	}
	// The latch was not consumed: the attempt is still in progress and a
	// timer trigger still submits the partial ledger.
	if ctrl.State() != StateInProgress {
		t.Fatalf("state = %s, want in_progress", ctrl.State())
	}

	sub, err := ctrl.Submit(context.Background(), TriggerTimer)
	if err != nil {
		t.Fatalf("timer Submit: %v", err)
	}
	if sub.Score != 1 || sub.MaxScore != 3 {
		t.Errorf("score = %d/%d, want 1/3", sub.Score, sub.MaxScore)
	}

	// The unanswered question is recorded incorrect with an empty answer.
	var q3 *grading.Outcome
	for i := range store.results[0] {
		if store.results[0][i].QuestionID == questions[2].ID {
			q3 = &store.results[0][i]
		}
	}
	if q3 == nil || q3.Answer != "" || q3.IsCorrect {
		t.Errorf("unanswered outcome = %+v, want incorrect with empty answer", q3)
	}
}

func TestController_DoubleTriggerSubmitsOnce(t *testing.T) {
	test, questions := threeQuestionTest(nil)
	store := &fakeStore{}
	ctrl := newTestController(t, test, questions, store, &fakeCounter{})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i, ans := range []string{"B", "True", "paris"} {
		_ = ctrl.SetAnswer(questions[i].ID, ans)
	}

	if _, err := ctrl.Submit(context.Background(), TriggerManual); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	// The expiry arriving a moment after the manual submit must be a no-op.
	if _, err := ctrl.Submit(context.Background(), TriggerTimer); !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("second Submit err = %v, want ErrSubmitInFlight", err)
	}
	if store.writes() != 1 {
		t.Errorf("store writes = %d, want exactly 1", store.writes())
	}
}

func TestController_ConcurrentTriggersSubmitOnce(t *testing.T) {
	test, questions := threeQuestionTest(nil)
	store := &fakeStore{}
	ctrl := newTestController(t, test, questions, store, &fakeCounter{})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i, ans := range []string{"B", "True", "paris"} {
		_ = ctrl.SetAnswer(questions[i].ID, ans)
	}

	var wg sync.WaitGroup
	var okCount, inFlightCount int
	var mu sync.Mutex
	for _, trig := range []Trigger{TriggerManual, TriggerTimer} {
		wg.Add(1)
		go func(tr Trigger) {
			defer wg.Done()
			_, err := ctrl.Submit(context.Background(), tr)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				okCount++
			case errors.Is(err, ErrSubmitInFlight):
				inFlightCount++
			default:
				t.Errorf("unexpected Submit error: %v", err)
			}
		}(trig)
	}
	wg.Wait()

	if okCount != 1 || inFlightCount != 1 {
		t.Errorf("ok=%d inFlight=%d, want exactly one of each", okCount, inFlightCount)
	}
	if store.writes() != 1 {
		t.Errorf("store writes = %d, want 1", store.writes())
	}
}

func TestController_StoreFailureFallbackAndRetry(t *testing.T) {
	test, questions := threeQuestionTest(nil)
	store := &fakeStore{failures: 1}
	ctrl := newTestController(t, test, questions, store, &fakeCounter{})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i, ans := range []string{"B", "True", "paris"} {
		_ = ctrl.SetAnswer(questions[i].ID, ans)
	}

	if _, err := ctrl.Submit(context.Background(), TriggerManual); !errors.Is(err, ErrStoreFailed) {
		t.Fatalf("err = %v, want ErrStoreFailed", err)
	}
	// Fallback released the latch with the ledger intact.
	if ctrl.State() != StateInProgress {
		t.Fatalf("state = %s, want in_progress", ctrl.State())
	}
	if len(ctrl.Answers()) != 3 {
		t.Fatalf("ledger lost on fallback: %d answers", len(ctrl.Answers()))
	}

	sub, err := ctrl.Submit(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("retry Submit: %v", err)
	}
	if sub.Score != 3 {
		t.Errorf("score = %d, want 3", sub.Score)
	}
}

func TestController_SecondStoreFailureIsTerminal(t *testing.T) {
	test, questions := threeQuestionTest(nil)
	store := &fakeStore{failures: 2}
	ctrl := newTestController(t, test, questions, store, &fakeCounter{})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i, ans := range []string{"B", "True", "paris"} {
		_ = ctrl.SetAnswer(questions[i].ID, ans)
	}

	if _, err := ctrl.Submit(context.Background(), TriggerManual); !errors.Is(err, ErrStoreFailed) {
		t.Fatalf("first err = %v, want ErrStoreFailed", err)
	}
	if _, err := ctrl.Submit(context.Background(), TriggerManual); !errors.Is(err, ErrAttemptFailed) {
		t.Fatalf("second err = %v, want ErrAttemptFailed", err)
	}
	if ctrl.State() != StateFailed {
		t.Errorf("state = %s, want failed", ctrl.State())
	}
	if store.writes() != 0 {
		t.Errorf("store writes = %d, want 0", store.writes())
	}
}

func TestController_NoAnswersWhileSubmittingOrAfter(t *testing.T) {
	test, questions := threeQuestionTest(nil)
	ctrl := newTestController(t, test, questions, &fakeStore{}, &fakeCounter{})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i, ans := range []string{"B", "True", "paris"} {
		_ = ctrl.SetAnswer(questions[i].ID, ans)
	}
	if _, err := ctrl.Submit(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := ctrl.SetAnswer(questions[0].ID, "C"); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("err = %v, want ErrNotInProgress", err)
	}
}

func TestController_UnknownQuestionRejected(t *testing.T) {
	test, questions := threeQuestionTest(nil)
	ctrl := newTestController(t, test, questions, &fakeStore{}, &fakeCounter{})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ctrl.SetAnswer(uuid.New(), "B"); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("err = %v, want ErrUnknownQuestion", err)
	}
}

func TestController_TimedAttemptAutoSubmit(t *testing.T) {
	test, questions := threeQuestionTest(intPtr(1))
	store := &fakeStore{}
	ctrl := newTestController(t, test, questions, store, &fakeCounter{})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock := ctrl.Clock()
	if clock == nil {
		t.Fatal("timed attempt must have a clock")
	}
	if r := ctrl.Remaining(); r <= 0 || r > 60 {
		t.Errorf("Remaining = %d, want within (0, 60]", r)
	}

	_ = ctrl.SetAnswer(questions[0].ID, "B")

	// Drive the expiry path directly the way the stream handler does.
	ctrl.Abandon() // stop before real expiry so the test does not wait a minute
	if ctrl.State() != StateAbandoned {
		t.Fatalf("state = %s, want abandoned", ctrl.State())
	}
	if store.writes() != 0 {
		t.Errorf("abandon must not persist, writes = %d", store.writes())
	}
}

func TestController_AbandonAfterSubmitIsNoop(t *testing.T) {
	test, questions := threeQuestionTest(nil)
	ctrl := newTestController(t, test, questions, &fakeStore{}, &fakeCounter{})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i, ans := range []string{"B", "True", "paris"} {
		_ = ctrl.SetAnswer(questions[i].ID, ans)
	}
	if _, err := ctrl.Submit(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctrl.Abandon()
	if ctrl.State() != StateCompleted {
		t.Errorf("state = %s, want completed after post-submit abandon", ctrl.State())
	}
}

func TestClock_TicksAndExpiry(t *testing.T) {
	clock := NewClock(2 * time.Second)
	clock.Start()

	var ticks []int
	deadline := time.After(4 * time.Second)
	for {
		select {
		case remaining, ok := <-clock.Ticks():
			if ok {
				if remaining <= 0 {
					t.Errorf("tick delivered non-positive remaining %d", remaining)
				}
				ticks = append(ticks, remaining)
			}
		case <-clock.Expired():
			if len(ticks) == 0 {
				t.Error("expired before any tick")
			}
			// Monotonic, never negative.
			for i := 1; i < len(ticks); i++ {
				if ticks[i] > ticks[i-1] {
					t.Errorf("ticks not monotonic: %v", ticks)
				}
			}
			if clock.Remaining() != 0 {
				t.Errorf("Remaining after expiry = %d, want 0", clock.Remaining())
			}
			// Stop after expiry is a no-op.
			clock.Stop()
			return
		case <-deadline:
			t.Fatal("clock did not expire in time")
		}
	}
}

func TestClock_StopSilencesIt(t *testing.T) {
	clock := NewClock(time.Hour)
	clock.Start()
	clock.Stop()
	clock.Stop() // idempotent

	select {
	case <-clock.Expired():
		t.Fatal("stopped clock must not expire")
	case <-time.After(1200 * time.Millisecond):
	}
}

func TestAnswerLedger(t *testing.T) {
	ledger := NewAnswerLedger()
	q1, q2 := uuid.New(), uuid.New()

	ledger.Set(q1, "A")
	ledger.Set(q1, "B") // overwrite, no history
	if a, _ := ledger.Get(q1); a != "B" {
		t.Errorf("Get = %q, want B", a)
	}
	if ledger.Len() != 1 {
		t.Errorf("Len = %d, want 1", ledger.Len())
	}

	if ledger.IsComplete([]uuid.UUID{q1, q2}) {
		t.Error("incomplete ledger reported complete")
	}
	ledger.Set(q2, "   ")
	if ledger.IsComplete([]uuid.UUID{q1, q2}) {
		t.Error("blank answer must not count toward completeness")
	}
	ledger.Set(q2, "True")
	if !ledger.IsComplete([]uuid.UUID{q1, q2}) {
		t.Error("complete ledger reported incomplete")
	}

	// The snapshot is detached from the ledger.
	snap := ledger.Answers()
	snap[q1] = "mutated"
	if a, _ := ledger.Get(q1); a != "B" {
		t.Error("Answers snapshot is not a copy")
	}
}

func TestGate_Reasons(t *testing.T) {
	studentID := uuid.New()

	tests := []struct {
		name    string
		active  bool
		max     *int
		used    int
		wantErr DenialReason
		wantOK  bool
	}{
		{"active unlimited", true, nil, 99, "", true},
		{"inactive", false, nil, 0, ReasonTestInactive, false},
		{"under ceiling", true, intPtr(3), 2, "", true},
		{"at ceiling", true, intPtr(3), 3, ReasonMaxAttemptsReached, false},
		{"over ceiling", true, intPtr(3), 4, ReasonMaxAttemptsReached, false},
		{"inactive wins over attempts", false, intPtr(3), 0, ReasonTestInactive, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			test := &model.Test{ID: uuid.New(), Active: tc.active, MaxAttempts: tc.max}
			gate := NewGate(&fakeCounter{count: tc.used})

			err := gate.CanAttempt(context.Background(), test, studentID)
			if tc.wantOK {
				if err != nil {
					t.Fatalf("CanAttempt = %v, want nil", err)
				}
				return
			}
			var denied *DeniedError
			if !errors.As(err, &denied) || denied.Reason != tc.wantErr {
				t.Fatalf("err = %v, want denial %s", err, tc.wantErr)
			}
		})
	}
}
