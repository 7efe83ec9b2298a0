package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/probatio/probatio-backend/internal/config"
	"github.com/probatio/probatio-backend/internal/grading"
	"github.com/probatio/probatio-backend/internal/model"
	"github.com/probatio/probatio-backend/internal/repository"
	"github.com/probatio/probatio-backend/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Common attempt errors.
var (
	ErrNotSubmissionOwner = errors.New("submission belongs to another student")
	ErrBadAnswerSet       = errors.New("answer set references invalid question IDs")
)

// AttemptService owns the submit path shared by online, offline and
// deadline-forced submissions, plus the Redis state of in-flight attempts.
// It implements session.Store for the session controller.
type AttemptService struct {
	tests          *TestService
	submissionRepo *repository.SubmissionRepository
	attemptRepo    *repository.AttemptRepository
	rdb            *redis.Client
	log            zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	tests *TestService,
	submissionRepo *repository.SubmissionRepository,
	attemptRepo *repository.AttemptRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		tests:          tests,
		submissionRepo: submissionRepo,
		attemptRepo:    attemptRepo,
		rdb:            rdb,
		log:            log.With().Str("component", "attempt_service").Logger(),
	}
}

// Gate builds the eligibility gate backed by stored submission counts.
func (s *AttemptService) Gate() *session.Gate {
	return session.NewGate(s.submissionRepo)
}

// CheckEligibility reports whether a student may start an attempt right now.
// Infrastructure failures are errors, not denials.
func (s *AttemptService) CheckEligibility(ctx context.Context, testID, studentID uuid.UUID) (*model.EligibilityResponse, error) {
	test, err := s.tests.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}

	if err := s.Gate().CanAttempt(ctx, test, studentID); err != nil {
		var denied *session.DeniedError
		if errors.As(err, &denied) {
			return &model.EligibilityResponse{Eligible: false, Reason: string(denied.Reason)}, nil
		}
		return nil, err
	}
	return &model.EligibilityResponse{Eligible: true}, nil
}

// SaveSubmission persists a graded attempt with its per-question results.
// It is idempotent on the submission's attempt ID: a replay returns the
// originally stored record untouched. Implements session.Store.
func (s *AttemptService) SaveSubmission(ctx context.Context, sub *model.Submission, outcomes []grading.Outcome) (*model.Submission, error) {
	results := make([]model.Result, len(outcomes))
	for i, o := range outcomes {
		results[i] = model.Result{
			QuestionID:     o.QuestionID,
			Answer:         o.Answer,
			CorrectAnswer:  o.CorrectAnswer,
			IsCorrect:      o.IsCorrect,
			PointsEarned:   o.PointsEarned,
			PointsPossible: o.PointsPossible,
		}
	}

	stored, existed, err := s.submissionRepo.CreateWithResults(ctx, sub, results)
	if err != nil {
		return nil, fmt.Errorf("store submission: %w", err)
	}
	if existed {
		s.log.Info().
			Str("attempt_id", sub.AttemptID.String()).
			Msg("Duplicate attempt replayed, returning stored submission")
	}
	return stored, nil
}

// SubmitOnline grades and stores an attempt submitted over REST. The gate
// runs again at submit time so a test deactivated mid-attempt is rejected.
func (s *AttemptService) SubmitOnline(ctx context.Context, studentID, testID uuid.UUID, req *model.SubmitAttemptRequest) (*model.Submission, error) {
	answers, err := parseAnswerSet(req.Answers)
	if err != nil {
		return nil, err
	}
	startedAt := time.Now()
	if req.StartedAt != nil {
		startedAt = *req.StartedAt
	}
	return s.submit(ctx, submitParams{
		testID:    testID,
		studentID: studentID,
		attemptID: req.AttemptID,
		answers:   answers,
		method:    model.MethodOnline,
		startedAt: startedAt,
	})
}

// SubmitOffline grades and stores an attempt extracted from an uploaded
// answer sheet.
func (s *AttemptService) SubmitOffline(ctx context.Context, studentID, testID, attemptID uuid.UUID, answers map[uuid.UUID]string, sourceImage string) (*model.Submission, error) {
	return s.submit(ctx, submitParams{
		testID:      testID,
		studentID:   studentID,
		attemptID:   attemptID,
		answers:     answers,
		method:      model.MethodOffline,
		startedAt:   time.Now(),
		sourceImage: &sourceImage,
	})
}

// SubmitRecovered grades and stores an attempt from autosaved answers, on
// behalf of a student whose deadline passed without a live connection.
func (s *AttemptService) SubmitRecovered(ctx context.Context, studentID, testID, attemptID uuid.UUID, answers map[uuid.UUID]string, startedAt time.Time) (*model.Submission, error) {
	return s.submit(ctx, submitParams{
		testID:    testID,
		studentID: studentID,
		attemptID: attemptID,
		answers:   answers,
		method:    model.MethodOnline,
		startedAt: startedAt,
	})
}

type submitParams struct {
	testID      uuid.UUID
	studentID   uuid.UUID
	attemptID   uuid.UUID
	answers     map[uuid.UUID]string
	method      model.SubmissionMethod
	startedAt   time.Time
	sourceImage *string
}

func (s *AttemptService) submit(ctx context.Context, p submitParams) (*model.Submission, error) {
	paper, err := s.tests.GetPaper(ctx, p.testID)
	if err != nil {
		return nil, err
	}

	if err := s.Gate().CanAttempt(ctx, &paper.Test, p.studentID); err != nil {
		return nil, err
	}

	score, err := grading.GradeAttempt(paper.Questions, p.answers)
	if err != nil {
		return nil, err
	}

	sub := &model.Submission{
		AttemptID:   p.attemptID,
		TestID:      p.testID,
		StudentID:   p.studentID,
		Method:      p.method,
		StartedAt:   p.startedAt,
		CompletedAt: time.Now(),
		Score:       score.Score,
		MaxScore:    score.MaxScore,
		Percentage:  score.Percentage,
		SourceImage: p.sourceImage,
	}

	stored, err := s.SaveSubmission(ctx, sub, score.Outcomes)
	if err != nil {
		return nil, err
	}

	s.ClearAttempt(ctx, p.testID, p.studentID)
	s.log.Info().
		Str("test_id", p.testID.String()).
		Str("student_id", p.studentID.String()).
		Str("method", string(p.method)).
		Int("score", stored.Score).
		Int("max_score", stored.MaxScore).
		Msg("Attempt graded")
	return stored, nil
}

// parseAnswerSet converts the wire answer map (string question IDs) to UUID
// keys, rejecting malformed IDs before grading sees them.
func parseAnswerSet(raw map[string]string) (map[uuid.UUID]string, error) {
	answers := make(map[uuid.UUID]string, len(raw))
	for k, v := range raw {
		qid, err := uuid.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrBadAnswerSet, k)
		}
		answers[qid] = v
	}
	return answers, nil
}

// ─── In-flight attempt state (Redis) ────────────────────────────────

// RegisterAttempt records an in-flight attempt: its client-generated ID,
// start time, and (for timed tests) its deadline in the sweep index.
func (s *AttemptService) RegisterAttempt(ctx context.Context, test *model.Test, studentID, attemptID uuid.UUID, deadline time.Time) error {
	tid, sid := test.ID.String(), studentID.String()

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.AttemptIDKey(tid, sid), attemptID.String(), 0)
	pipe.Set(ctx, config.CacheKey.AttemptStartKey(tid, sid), time.Now().Unix(), 0)
	if test.Timed() {
		pipe.ZAdd(ctx, config.CacheKey.AttemptDeadlineIndex(), redis.Z{
			Score:  float64(deadline.Unix()),
			Member: config.CacheKey.DeadlineMember(tid, sid),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register attempt: %w", err)
	}
	return nil
}

// AutosaveAnswer records one answer in the attempt's Redis hash and queues
// it for asynchronous PostgreSQL persistence.
func (s *AttemptService) AutosaveAnswer(ctx context.Context, testID, studentID, questionID uuid.UUID, answer string) error {
	tid, sid := testID.String(), studentID.String()

	if err := s.rdb.HSet(ctx, config.CacheKey.AttemptAnswersKey(tid, sid), questionID.String(), answer).Err(); err != nil {
		return fmt.Errorf("autosave answer: %w", err)
	}

	payload, err := json.Marshal(map[string]string{
		"test_id":     tid,
		"student_id":  sid,
		"question_id": questionID.String(),
		"answer":      answer,
	})
	if err != nil {
		return err
	}
	return s.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload).Err()
}

// AutosavedAnswers loads the attempt's answer hash from Redis.
func (s *AttemptService) AutosavedAnswers(ctx context.Context, testID, studentID uuid.UUID) (map[uuid.UUID]string, error) {
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(testID.String(), studentID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get autosaved answers: %w", err)
	}

	answers := make(map[uuid.UUID]string, len(raw))
	for k, v := range raw {
		qid, err := uuid.Parse(k)
		if err != nil {
			continue
		}
		answers[qid] = v
	}
	return answers, nil
}

// AttemptStart returns the recorded start time of an in-flight attempt, or
// zero time when none was recorded.
func (s *AttemptService) AttemptStart(ctx context.Context, testID, studentID uuid.UUID) (time.Time, error) {
	unix, err := s.rdb.Get(ctx, config.CacheKey.AttemptStartKey(testID.String(), studentID.String())).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}

// AttemptID returns the client-generated ID of an in-flight attempt, or
// uuid.Nil when none is registered.
func (s *AttemptService) AttemptID(ctx context.Context, testID, studentID uuid.UUID) (uuid.UUID, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.AttemptIDKey(testID.String(), studentID.String())).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(raw)
}

// ClearAttempt drops all in-flight Redis state for an attempt. Best-effort:
// stale keys are harmless and expire with the next attempt.
func (s *AttemptService) ClearAttempt(ctx context.Context, testID, studentID uuid.UUID) {
	tid, sid := testID.String(), studentID.String()

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx,
		config.CacheKey.AttemptAnswersKey(tid, sid),
		config.CacheKey.AttemptStartKey(tid, sid),
		config.CacheKey.AttemptIDKey(tid, sid),
	)
	pipe.ZRem(ctx, config.CacheKey.AttemptDeadlineIndex(), config.CacheKey.DeadlineMember(tid, sid))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).
			Str("test_id", tid).
			Str("student_id", sid).
			Msg("Failed to clear attempt state")
	}
	if err := s.attemptRepo.DeleteAnswers(ctx, testID, studentID); err != nil {
		s.log.Warn().Err(err).Str("test_id", tid).Msg("Failed to clear persisted answers")
	}
}

// ─── Submission queries ─────────────────────────────────────────────

// ListMySubmissions retrieves a student's own graded submissions.
func (s *AttemptService) ListMySubmissions(ctx context.Context, studentID uuid.UUID) ([]model.Submission, error) {
	return s.submissionRepo.ListByStudent(ctx, studentID)
}

// GetSubmissionDetail retrieves one submission with its per-question
// results. Students may only read their own; teachers may read any.
func (s *AttemptService) GetSubmissionDetail(ctx context.Context, id, requesterID uuid.UUID, role model.Role) (*model.Submission, []model.Result, error) {
	sub, err := s.submissionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if role == model.RoleStudent && sub.StudentID != requesterID {
		return nil, nil, ErrNotSubmissionOwner
	}

	results, err := s.submissionRepo.ListResults(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return sub, results, nil
}

// ListTestSubmissions retrieves every submission for a test, restricted to
// the test's author.
func (s *AttemptService) ListTestSubmissions(ctx context.Context, testID, authorID uuid.UUID) ([]model.Submission, error) {
	test, err := s.tests.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	if test.CreatedBy != authorID {
		return nil, ErrNotTestAuthor
	}
	return s.submissionRepo.ListByTest(ctx, testID)
}
