package worker

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/probatio/probatio-backend/internal/config"
	"github.com/probatio/probatio-backend/internal/grading"
	"github.com/probatio/probatio-backend/internal/model"
	"github.com/probatio/probatio-backend/internal/service"
	"github.com/probatio/probatio-backend/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DeadlineSweepInterval = 5 * time.Second

// attemptRecoverer is the slice of AttemptService the sweep needs.
type attemptRecoverer interface {
	AttemptID(ctx context.Context, testID, studentID uuid.UUID) (uuid.UUID, error)
	AutosavedAnswers(ctx context.Context, testID, studentID uuid.UUID) (map[uuid.UUID]string, error)
	AttemptStart(ctx context.Context, testID, studentID uuid.UUID) (time.Time, error)
	SubmitRecovered(ctx context.Context, studentID, testID, attemptID uuid.UUID, answers map[uuid.UUID]string, startedAt time.Time) (*model.Submission, error)
	ClearAttempt(ctx context.Context, testID, studentID uuid.UUID)
}

// answerArchive is the persisted fallback when the Redis answer hash is gone.
type answerArchive interface {
	GetAnswers(ctx context.Context, testID, studentID uuid.UUID) (map[uuid.UUID]string, error)
}

// DeadlineWorker sweeps the deadline index and force-submits timed attempts
// whose clock ran out without a live connection finishing them. Attempts
// are graded from autosaved answers through the same idempotent path as a
// normal submit, so a racing client submit and the sweep cannot store the
// attempt twice.
type DeadlineWorker struct {
	attempts    attemptRecoverer
	attemptRepo answerArchive
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewDeadlineWorker creates a new DeadlineWorker.
func NewDeadlineWorker(
	attempts attemptRecoverer,
	attemptRepo answerArchive,
	rdb *redis.Client,
	log zerolog.Logger,
) *DeadlineWorker {
	return &DeadlineWorker{
		attempts:    attempts,
		attemptRepo: attemptRepo,
		rdb:         rdb,
		log:         log.With().Str("component", "deadline_worker").Logger(),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (w *DeadlineWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	ticker := time.NewTicker(DeadlineSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *DeadlineWorker) sweep(ctx context.Context) {
	now := time.Now().Unix()
	members, err := w.rdb.ZRangeByScore(ctx, config.CacheKey.AttemptDeadlineIndex(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Deadline index scan failed")
		}
		return
	}

	for _, member := range members {
		testID, studentID, err := parseDeadlineMember(member)
		if err != nil {
			// An entry that cannot even be parsed would re-fail every
			// sweep; drop it outright.
			w.log.Warn().Err(err).Str("member", member).Msg("Dropping malformed deadline entry")
			w.rdb.ZRem(ctx, config.CacheKey.AttemptDeadlineIndex(), member)
			continue
		}
		w.recover(ctx, testID, studentID)
	}
}

// recover force-submits one expired attempt. Transient infrastructure
// failures leave the index entry in place for the next sweep; attempts that
// can never be stored (test pulled mid-attempt, inconsistent answer set)
// have their state cleared so they stop re-failing every sweep.
func (w *DeadlineWorker) recover(ctx context.Context, testID, studentID uuid.UUID) {
	err := w.forceSubmit(ctx, testID, studentID)
	switch {
	case err == nil:
		// Submit cleared the attempt state and the index entry.
	case isUnrecoverable(err):
		w.log.Warn().Err(err).
			Str("test_id", testID.String()).
			Str("student_id", studentID.String()).
			Msg("Dropping unrecoverable expired attempt")
		w.attempts.ClearAttempt(ctx, testID, studentID)
	default:
		w.log.Error().Err(err).
			Str("test_id", testID.String()).
			Str("student_id", studentID.String()).
			Msg("Forced submit failed")
	}
}

func (w *DeadlineWorker) forceSubmit(ctx context.Context, testID, studentID uuid.UUID) error {
	attemptID, err := w.attempts.AttemptID(ctx, testID, studentID)
	if err != nil {
		return err
	}
	if attemptID == uuid.Nil {
		// Registration was lost; a fresh key still lets the attempt be
		// graded once.
		attemptID = uuid.New()
		w.log.Warn().
			Str("test_id", testID.String()).
			Str("student_id", studentID.String()).
			Msg("No registered attempt ID, generating one")
	}

	answers, err := w.attempts.AutosavedAnswers(ctx, testID, studentID)
	if err != nil {
		return err
	}
	if len(answers) == 0 {
		// Redis hash is gone (restart); fall back to the persisted copy.
		answers, err = w.attemptRepo.GetAnswers(ctx, testID, studentID)
		if err != nil {
			return err
		}
	}

	startedAt, err := w.attempts.AttemptStart(ctx, testID, studentID)
	if err != nil {
		return err
	}
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	sub, err := w.attempts.SubmitRecovered(ctx, studentID, testID, attemptID, answers, startedAt)
	if err != nil {
		return err
	}

	w.log.Info().
		Str("test_id", testID.String()).
		Str("student_id", studentID.String()).
		Int("answered", len(answers)).
		Int("score", sub.Score).
		Msg("Expired attempt submitted")
	return nil
}

// isUnrecoverable reports whether a forced submit can never succeed, no
// matter how many sweeps retry it.
func isUnrecoverable(err error) bool {
	var denied *session.DeniedError
	return errors.As(err, &denied) ||
		errors.Is(err, grading.ErrInconsistentAttempt) ||
		errors.Is(err, service.ErrBadAnswerSet) ||
		errors.Is(err, service.ErrNoQuestions) ||
		errors.Is(err, pgx.ErrNoRows)
}

func parseDeadlineMember(member string) (testID, studentID uuid.UUID, err error) {
	parts := strings.SplitN(member, "|", 2)
	if len(parts) != 2 {
		return uuid.Nil, uuid.Nil, errMalformedMember(member)
	}
	testID, err = uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	studentID, err = uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return testID, studentID, nil
}

type errMalformedMember string

func (e errMalformedMember) Error() string {
	return "malformed deadline member: " + string(e)
}
