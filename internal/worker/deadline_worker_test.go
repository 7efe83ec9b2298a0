package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/probatio/probatio-backend/internal/model"
	"github.com/probatio/probatio-backend/internal/session"
	"github.com/rs/zerolog"
)

type fakeAttempts struct {
	attemptID  uuid.UUID
	answers    map[uuid.UUID]string
	start      time.Time
	submission *model.Submission
	submitErr  error

	submitted  int
	gotAnswers map[uuid.UUID]string
	cleared    int
}

func (f *fakeAttempts) AttemptID(ctx context.Context, testID, studentID uuid.UUID) (uuid.UUID, error) {
	return f.attemptID, nil
}

func (f *fakeAttempts) AutosavedAnswers(ctx context.Context, testID, studentID uuid.UUID) (map[uuid.UUID]string, error) {
	return f.answers, nil
}

func (f *fakeAttempts) AttemptStart(ctx context.Context, testID, studentID uuid.UUID) (time.Time, error) {
	return f.start, nil
}

func (f *fakeAttempts) SubmitRecovered(ctx context.Context, studentID, testID, attemptID uuid.UUID, answers map[uuid.UUID]string, startedAt time.Time) (*model.Submission, error) {
	f.submitted++
	f.gotAnswers = answers
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.submission, nil
}

func (f *fakeAttempts) ClearAttempt(ctx context.Context, testID, studentID uuid.UUID) {
	f.cleared++
}

type fakeArchive struct {
	answers map[uuid.UUID]string
	calls   int
}

func (f *fakeArchive) GetAnswers(ctx context.Context, testID, studentID uuid.UUID) (map[uuid.UUID]string, error) {
	f.calls++
	return f.answers, nil
}

func newSweepWorker(attempts *fakeAttempts, archive *fakeArchive) *DeadlineWorker {
	return &DeadlineWorker{
		attempts:    attempts,
		attemptRepo: archive,
		log:         zerolog.Nop(),
	}
}

func TestRecoverSubmitsExpiredAttempt(t *testing.T) {
	qID := uuid.New()
	attempts := &fakeAttempts{
		attemptID:  uuid.New(),
		answers:    map[uuid.UUID]string{qID: "Paris"},
		start:      time.Now().Add(-10 * time.Minute),
		submission: &model.Submission{Score: 1},
	}
	w := newSweepWorker(attempts, &fakeArchive{})

	w.recover(context.Background(), uuid.New(), uuid.New())

	if attempts.submitted != 1 {
		t.Fatalf("submitted = %d, want 1", attempts.submitted)
	}
	if attempts.gotAnswers[qID] != "Paris" {
		t.Errorf("submitted answers = %v, want autosaved set", attempts.gotAnswers)
	}
	if attempts.cleared != 0 {
		t.Errorf("cleared = %d, want 0 (submit owns cleanup on success)", attempts.cleared)
	}
}

func TestRecoverFallsBackToPersistedAnswers(t *testing.T) {
	qID := uuid.New()
	attempts := &fakeAttempts{
		attemptID:  uuid.New(),
		submission: &model.Submission{Score: 1},
	}
	archive := &fakeArchive{answers: map[uuid.UUID]string{qID: "True"}}
	w := newSweepWorker(attempts, archive)

	w.recover(context.Background(), uuid.New(), uuid.New())

	if archive.calls != 1 {
		t.Fatalf("archive calls = %d, want 1", archive.calls)
	}
	if attempts.gotAnswers[qID] != "True" {
		t.Errorf("submitted answers = %v, want persisted set", attempts.gotAnswers)
	}
}

// An attempt that can never be stored must have its state cleared instead of
// re-failing on every sweep.
func TestRecoverDropsUnrecoverableAttempts(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"gate denial", &session.DeniedError{Reason: session.ReasonTestInactive}},
		{"wrapped denial", fmt.Errorf("check eligibility: %w", &session.DeniedError{Reason: session.ReasonMaxAttemptsReached})},
		{"test vanished", fmt.Errorf("load paper: %w", pgx.ErrNoRows)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			attempts := &fakeAttempts{
				attemptID: uuid.New(),
				answers:   map[uuid.UUID]string{uuid.New(): "Blue"},
				submitErr: tc.err,
			}
			w := newSweepWorker(attempts, &fakeArchive{})

			w.recover(context.Background(), uuid.New(), uuid.New())

			if attempts.cleared != 1 {
				t.Errorf("cleared = %d, want 1", attempts.cleared)
			}
		})
	}
}

// Infrastructure hiccups keep the index entry so the next sweep retries.
func TestRecoverRetriesTransientFailures(t *testing.T) {
	attempts := &fakeAttempts{
		attemptID: uuid.New(),
		answers:   map[uuid.UUID]string{uuid.New(): "Blue"},
		submitErr: errors.New("connection refused"),
	}
	w := newSweepWorker(attempts, &fakeArchive{})

	w.recover(context.Background(), uuid.New(), uuid.New())

	if attempts.cleared != 0 {
		t.Errorf("cleared = %d, want 0 (transient failures retry)", attempts.cleared)
	}
}

func TestParseDeadlineMember(t *testing.T) {
	testID := uuid.New()
	studentID := uuid.New()

	gotTest, gotStudent, err := parseDeadlineMember(testID.String() + "|" + studentID.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if gotTest != testID || gotStudent != studentID {
		t.Errorf("parsed (%s, %s), want (%s, %s)", gotTest, gotStudent, testID, studentID)
	}

	for _, bad := range []string{"", "no-separator", testID.String() + "|not-a-uuid", "not-a-uuid|" + studentID.String()} {
		if _, _, err := parseDeadlineMember(bad); err == nil {
			t.Errorf("parseDeadlineMember(%q) = nil error, want failure", bad)
		}
	}
}
