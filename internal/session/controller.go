package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/probatio/probatio-backend/internal/grading"
	"github.com/probatio/probatio-backend/internal/model"
	"github.com/rs/zerolog"
)

// State is the lifecycle phase of one attempt.
type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateSubmitting State = "submitting"
	StateCompleted  State = "completed"
	// StateRejected is terminal: the eligibility gate denied the start.
	StateRejected State = "rejected"
	// StateFailed is terminal: grading inconsistency or a second
	// consecutive store failure. Nothing partial was persisted.
	StateFailed State = "failed"
	// StateAbandoned is terminal: the student walked away before
	// submitting. Nothing was persisted.
	StateAbandoned State = "abandoned"
)

// Trigger identifies what fired a submit.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerTimer  Trigger = "timer"
)

// Controller errors.
var (
	ErrNotInProgress = errors.New("attempt is not in progress")
	// ErrSubmitInFlight means the single-fire latch already consumed a
	// trigger; the duplicate is a no-op by contract.
	ErrSubmitInFlight = errors.New("submit already triggered")
	// ErrAttemptIncomplete blocks a manual submit while questions are
	// unanswered. The latch is not consumed.
	ErrAttemptIncomplete = errors.New("attempt has unanswered questions")
	ErrUnknownQuestion   = errors.New("question does not belong to this test")
	// ErrStoreFailed wraps a transient persistence failure. The attempt is
	// back in progress with the ledger intact; one retry is allowed.
	ErrStoreFailed = errors.New("submission write failed")
	// ErrAttemptFailed is terminal; the caller must start a fresh attempt.
	ErrAttemptFailed = errors.New("attempt failed permanently")
)

// Store persists a graded attempt. Implementations must be idempotent on
// the submission's AttemptID so a retried write cannot duplicate.
type Store interface {
	SaveSubmission(ctx context.Context, sub *model.Submission, outcomes []grading.Outcome) (*model.Submission, error)
}

// Controller drives one student's attempt at one test: eligibility check,
// timer lifecycle, answer collection, and exactly one submission. Each
// attempt gets its own Controller instance; nothing is shared between
// attempts, so parallel attempts (and parallel tests) cannot leak state
// into each other.
type Controller struct {
	test      *model.Test
	questions []model.Question
	byID      map[uuid.UUID]model.Question
	studentID uuid.UUID
	attemptID uuid.UUID

	gate  *Gate
	store Store
	log   zerolog.Logger

	mu        sync.Mutex
	state     State
	ledger    *AnswerLedger
	clock     *Clock
	startedAt time.Time
	retried   bool
}

// NewController builds a controller for a single attempt. attemptID is the
// idempotency key carried through to persistence; pass uuid.Nil to have one
// generated.
func NewController(test *model.Test, questions []model.Question, studentID, attemptID uuid.UUID, gate *Gate, store Store, log zerolog.Logger) *Controller {
	if attemptID == uuid.Nil {
		attemptID = uuid.New()
	}
	byID := make(map[uuid.UUID]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	return &Controller{
		test:      test,
		questions: questions,
		byID:      byID,
		studentID: studentID,
		attemptID: attemptID,
		gate:      gate,
		store:     store,
		log: log.With().
			Str("test_id", test.ID.String()).
			Str("student_id", studentID.String()).
			Str("attempt_id", attemptID.String()).
			Logger(),
		state:  StateNotStarted,
		ledger: NewAnswerLedger(),
	}
}

// AttemptID returns the idempotency key for this attempt.
func (c *Controller) AttemptID() uuid.UUID { return c.attemptID }

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Clock returns the countdown for timed attempts, nil otherwise. Callers
// select on its Ticks and Expired channels.
func (c *Controller) Clock() *Clock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock
}

// Remaining returns the seconds left on a timed attempt, zero for untimed.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	clock := c.clock
	c.mu.Unlock()
	if clock == nil {
		return 0
	}
	return clock.Remaining()
}

// Start checks eligibility and moves the attempt to in_progress, starting
// the countdown for timed tests. A gate denial moves the attempt to the
// terminal rejected state; an infrastructure failure leaves it in
// not_started so the caller may retry.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNotStarted {
		return fmt.Errorf("start from state %s", c.state)
	}

	if err := c.gate.CanAttempt(ctx, c.test, c.studentID); err != nil {
		var denied *DeniedError
		if errors.As(err, &denied) {
			c.state = StateRejected
			c.log.Info().Str("reason", string(denied.Reason)).Msg("Attempt rejected")
			return err
		}
		// Fail closed but recoverably: eligibility could not be verified.
		return fmt.Errorf("eligibility check: %w", err)
	}

	c.startedAt = time.Now()
	c.state = StateInProgress

	if c.test.Timed() {
		c.clock = NewClock(time.Duration(*c.test.DurationMinutes) * time.Minute)
		c.clock.Start()
	}

	c.log.Info().Bool("timed", c.test.Timed()).Msg("Attempt started")
	return nil
}

// SetAnswer records an answer in the ledger. Allowed only while the attempt
// is in progress — in particular, not while a submission is outstanding.
func (c *Controller) SetAnswer(questionID uuid.UUID, answer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInProgress {
		return fmt.Errorf("%w: state is %s", ErrNotInProgress, c.state)
	}
	if _, ok := c.byID[questionID]; !ok {
		return ErrUnknownQuestion
	}
	c.ledger.Set(questionID, answer)
	return nil
}

// Answers returns a snapshot of the current ledger.
func (c *Controller) Answers() map[uuid.UUID]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Answers()
}

// Submit runs the attempt to completion: grade, persist, done. The two
// possible triggers — the student's explicit action and the clock expiry —
// race through a single-fire latch, so a duplicate trigger is a no-op
// (ErrSubmitInFlight) and the store sees at most one write.
//
// A manual trigger with unanswered questions returns ErrAttemptIncomplete
// without consuming the latch. A timer trigger always proceeds.
//
// On a transient store failure the attempt falls back to in_progress with
// the ledger intact and the latch released; exactly one retry is allowed
// before the attempt fails terminally. An expired clock is not restarted.
func (c *Controller) Submit(ctx context.Context, trigger Trigger) (*model.Submission, error) {
	c.mu.Lock()
	switch c.state {
	case StateSubmitting, StateCompleted:
		c.mu.Unlock()
		return nil, ErrSubmitInFlight
	case StateInProgress:
		// fall through
	default:
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: state is %s", ErrNotInProgress, state)
	}

	if trigger == TriggerManual && !c.ledger.IsComplete(c.questionIDs()) {
		c.mu.Unlock()
		return nil, ErrAttemptIncomplete
	}

	c.state = StateSubmitting
	answers := c.ledger.Answers()
	startedAt := c.startedAt
	if c.clock != nil {
		c.clock.Stop() // no-op if the clock already expired
	}
	c.mu.Unlock()

	score, err := grading.GradeAttempt(c.questions, answers)
	if err != nil {
		// The ledger and the test definition diverged. Abort without
		// persisting anything partial.
		c.fail()
		c.log.Error().Err(err).Msg("Grading inconsistency, attempt aborted")
		return nil, fmt.Errorf("%w: %v", ErrAttemptFailed, err)
	}

	sub := &model.Submission{
		AttemptID:   c.attemptID,
		TestID:      c.test.ID,
		StudentID:   c.studentID,
		Method:      model.MethodOnline,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		Score:       score.Score,
		MaxScore:    score.MaxScore,
		Percentage:  score.Percentage,
	}

	saved, err := c.store.SaveSubmission(ctx, sub, score.Outcomes)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.retried {
			// One-shot fallback: release the latch, keep the ledger.
			c.retried = true
			c.state = StateInProgress
			c.log.Warn().Err(err).Str("trigger", string(trigger)).Msg("Submission write failed, attempt recoverable")
			return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
		}
		c.state = StateFailed
		c.log.Error().Err(err).Msg("Submission write failed twice, attempt abandoned")
		return nil, fmt.Errorf("%w: %v", ErrAttemptFailed, err)
	}

	c.mu.Lock()
	c.state = StateCompleted
	c.ledger = NewAnswerLedger() // the attempt's ledger is never reused
	c.mu.Unlock()

	c.log.Info().
		Str("trigger", string(trigger)).
		Int("score", saved.Score).
		Int("max_score", saved.MaxScore).
		Msg("Attempt completed")
	return saved, nil
}

// Abandon discards an attempt before submission: the clock is stopped, the
// ledger dropped, nothing persisted. It is a no-op once submitting has
// begun — from there the attempt runs to completed or failed.
func (c *Controller) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNotStarted && c.state != StateInProgress {
		return
	}
	if c.clock != nil {
		c.clock.Stop()
	}
	c.ledger = NewAnswerLedger()
	c.state = StateAbandoned
	c.log.Info().Msg("Attempt abandoned")
}

func (c *Controller) fail() {
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
}

func (c *Controller) questionIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(c.questions))
	for i, q := range c.questions {
		ids[i] = q.ID
	}
	return ids
}
