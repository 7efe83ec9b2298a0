package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/probatio/probatio-backend/internal/config"
	"github.com/probatio/probatio-backend/internal/model"
	"github.com/probatio/probatio-backend/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Common test authoring errors.
var (
	ErrNotTestAuthor   = errors.New("test belongs to another teacher")
	ErrNoQuestions     = errors.New("test has no questions")
	ErrInvalidQuestion = errors.New("invalid question")
)

// TestService handles test authoring and the cached paper lifecycle.
type TestService struct {
	testRepo     *repository.TestRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewTestService creates a new TestService.
func NewTestService(
	testRepo *repository.TestRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *TestService {
	return &TestService{
		testRepo:     testRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "test_service").Logger(),
	}
}

// Create authors a test with its question list. Tests start inactive;
// activation is a separate step so authors can review first.
func (s *TestService) Create(ctx context.Context, authorID uuid.UUID, req *model.CreateTestRequest) (*model.Test, error) {
	questions := make([]model.Question, len(req.Questions))
	for i, qr := range req.Questions {
		q, err := buildQuestion(i+1, qr)
		if err != nil {
			return nil, err
		}
		questions[i] = q
	}

	test := &model.Test{
		Title:           req.Title,
		Subject:         req.Subject,
		Difficulty:      model.Difficulty(req.Difficulty),
		DurationMinutes: req.DurationMinutes,
		MaxAttempts:     req.MaxAttempts,
		Active:          false,
		CreatedBy:       authorID,
	}

	if err := s.testRepo.CreateWithQuestions(ctx, test, questions); err != nil {
		return nil, fmt.Errorf("create test: %w", err)
	}

	s.log.Info().
		Str("test_id", test.ID.String()).
		Int("questions", len(questions)).
		Msg("Test created")
	return test, nil
}

// buildQuestion validates the per-type answer rules the binding tags cannot
// express and assigns defaults.
func buildQuestion(position int, qr model.CreateQuestionRequest) (model.Question, error) {
	q := model.Question{
		Type:          model.QuestionType(qr.Type),
		Prompt:        qr.Prompt,
		Options:       qr.Options,
		CorrectAnswer: qr.CorrectAnswer,
		Points:        qr.Points,
		Position:      position,
	}
	if q.Points <= 0 {
		q.Points = 1
	}

	switch q.Type {
	case model.QuestionTypeMultipleChoice:
		if len(q.Options) < 2 {
			return q, fmt.Errorf("%w: question %d needs at least two options", ErrInvalidQuestion, position)
		}
		found := false
		for _, opt := range q.Options {
			if opt == q.CorrectAnswer {
				found = true
				break
			}
		}
		if !found {
			return q, fmt.Errorf("%w: question %d correct answer is not among its options", ErrInvalidQuestion, position)
		}
	case model.QuestionTypeTrueFalse:
		if q.CorrectAnswer != model.AnswerTrue && q.CorrectAnswer != model.AnswerFalse {
			return q, fmt.Errorf("%w: question %d correct answer must be %q or %q",
				ErrInvalidQuestion, position, model.AnswerTrue, model.AnswerFalse)
		}
		q.Options = nil
	case model.QuestionTypeShortAnswer:
		q.Options = nil
	}
	return q, nil
}

// GetByID retrieves a test by ID.
func (s *TestService) GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	return s.testRepo.GetByID(ctx, id)
}

// ListActive retrieves the tests students may attempt right now.
func (s *TestService) ListActive(ctx context.Context) ([]model.Test, error) {
	return s.testRepo.ListActive(ctx)
}

// ListByCreator retrieves a teacher's tests with pagination.
func (s *TestService) ListByCreator(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]model.Test, int, error) {
	return s.testRepo.ListByCreator(ctx, creatorID, limit, offset)
}

// SetActive flips a test's active flag, warming or clearing the paper cache
// to match.
func (s *TestService) SetActive(ctx context.Context, testID, authorID uuid.UUID, active bool) (*model.Test, error) {
	test, err := s.testRepo.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	if test.CreatedBy != authorID {
		return nil, ErrNotTestAuthor
	}

	if err := s.testRepo.SetActive(ctx, testID, active); err != nil {
		return nil, err
	}
	test.Active = active

	if active {
		if err := s.WarmTestCache(ctx, test); err != nil {
			return nil, err
		}
	} else {
		s.invalidateTestCache(ctx, testID)
	}

	s.log.Info().
		Str("test_id", testID.String()).
		Bool("active", active).
		Msg("Test activation changed")
	return test, nil
}

// WarmTestCache loads a test's paper and answer key from PostgreSQL into
// Redis so attempt starts and grading never touch the database on the hot
// path.
func (s *TestService) WarmTestCache(ctx context.Context, test *model.Test) error {
	questions, err := s.questionRepo.ListByTest(ctx, test.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	paper := model.TestPaper{Test: *test, Questions: questions}
	paperJSON, err := json.Marshal(paper)
	if err != nil {
		return fmt.Errorf("marshal paper: %w", err)
	}

	answerKey := make(map[string]interface{}, len(questions))
	for _, q := range questions {
		answerKey[q.ID.String()] = q.CorrectAnswer
	}

	duration := 0
	if test.Timed() {
		duration = *test.DurationMinutes
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.TestPayloadKey(test.ID.String()), paperJSON, 0)
	pipe.Set(ctx, config.CacheKey.TestDurationKey(test.ID.String()), duration, 0)
	pipe.Del(ctx, config.CacheKey.TestAnswerKeyKey(test.ID.String()))
	pipe.HSet(ctx, config.CacheKey.TestAnswerKeyKey(test.ID.String()), answerKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("test_id", test.ID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

func (s *TestService) invalidateTestCache(ctx context.Context, testID uuid.UUID) {
	id := testID.String()
	if err := s.rdb.Del(ctx,
		config.CacheKey.TestPayloadKey(id),
		config.CacheKey.TestDurationKey(id),
		config.CacheKey.TestAnswerKeyKey(id),
	).Err(); err != nil {
		s.log.Warn().Err(err).Str("test_id", id).Msg("Failed to clear test cache")
	}
}

// PrewarmAllCaches loads every active test into Redis on startup, so the
// cache survives service restarts without lazy-load races.
func (s *TestService) PrewarmAllCaches(ctx context.Context) error {
	tests, err := s.testRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active tests: %w", err)
	}
	if len(tests) == 0 {
		s.log.Info().Msg("No active tests to prewarm")
		return nil
	}

	warmed := 0
	for i := range tests {
		if err := s.WarmTestCache(ctx, &tests[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("test_id", tests[i].ID.String()).
				Msg("Failed to warm test, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(tests)).
		Msg("Prewarming complete")
	return nil
}

// GetPaper retrieves the cached test paper, falling back to PostgreSQL (and
// re-warming) when the cache is cold.
func (s *TestService) GetPaper(ctx context.Context, testID uuid.UUID) (*model.TestPaper, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.TestPayloadKey(testID.String())).Bytes()
	if err == nil {
		var paper model.TestPaper
		if err := json.Unmarshal(data, &paper); err != nil {
			return nil, fmt.Errorf("unmarshal paper: %w", err)
		}
		return &paper, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get paper: %w", err)
	}

	test, err := s.testRepo.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	questions, err := s.questionRepo.ListByTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	if test.Active {
		if err := s.WarmTestCache(ctx, test); err != nil {
			s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Lazy warm failed")
		}
	}
	return &model.TestPaper{Test: *test, Questions: questions}, nil
}
