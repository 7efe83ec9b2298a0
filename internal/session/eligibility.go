package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/probatio/probatio-backend/internal/model"
)

// DenialReason explains why a student may not start an attempt.
type DenialReason string

const (
	ReasonTestInactive       DenialReason = "test_inactive"
	ReasonMaxAttemptsReached DenialReason = "max_attempts_reached"
)

// DeniedError is returned by the gate when the student is not eligible.
// It is distinguishable from infrastructure failures, which come back as
// ordinary errors.
type DeniedError struct {
	Reason DenialReason
}

func (e *DeniedError) Error() string {
	return "attempt denied: " + string(e.Reason)
}

// SubmissionCounter reports how many completed submissions a student already
// has for a test. Implemented by repository.SubmissionRepository.
type SubmissionCounter interface {
	CountCompleted(ctx context.Context, testID, studentID uuid.UUID) (int, error)
}

// Gate decides whether a student may begin an attempt at a test.
type Gate struct {
	counter SubmissionCounter
}

// NewGate creates an eligibility gate backed by the given counter.
func NewGate(counter SubmissionCounter) *Gate {
	return &Gate{counter: counter}
}

// CanAttempt returns nil when the student may start an attempt, a
// *DeniedError when the rules forbid it, and a plain error when the backend
// could not be consulted. A backend failure is never treated as eligible —
// the gate fails closed so an outage cannot hand out extra attempts.
func (g *Gate) CanAttempt(ctx context.Context, test *model.Test, studentID uuid.UUID) error {
	if !test.Active {
		return &DeniedError{Reason: ReasonTestInactive}
	}

	if test.MaxAttempts == nil {
		return nil // no ceiling: always eligible while active
	}

	used, err := g.counter.CountCompleted(ctx, test.ID, studentID)
	if err != nil {
		return fmt.Errorf("count completed submissions: %w", err)
	}
	if used >= *test.MaxAttempts {
		return &DeniedError{Reason: ReasonMaxAttemptsReached}
	}
	return nil
}
