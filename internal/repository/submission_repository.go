package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/probatio/probatio-backend/internal/model"
)

// SubmissionRepository handles submission and per-question result data
// access. Writes are idempotent on the client-generated attempt ID.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

const submissionColumns = `id, attempt_id, test_id, student_id, method, started_at, completed_at, score, max_score, percentage, source_image`

func scanSubmission(row interface{ Scan(dest ...any) error }, s *model.Submission) error {
	return row.Scan(&s.ID, &s.AttemptID, &s.TestID, &s.StudentID, &s.Method,
		&s.StartedAt, &s.CompletedAt, &s.Score, &s.MaxScore, &s.Percentage, &s.SourceImage)
}

// CreateWithResults stores a graded submission with its per-question results
// in one transaction. If a submission with the same attempt ID already
// exists, nothing is written and the stored record is returned with
// existed=true. The submission row and its results are append-only.
func (r *SubmissionRepository) CreateWithResults(ctx context.Context, s *model.Submission, results []model.Result) (*model.Submission, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO submissions (attempt_id, test_id, student_id, method, started_at, completed_at, score, max_score, percentage, source_image)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (attempt_id) DO NOTHING
		 RETURNING id`,
		s.AttemptID, s.TestID, s.StudentID, s.Method, s.StartedAt, s.CompletedAt,
		s.Score, s.MaxScore, s.Percentage, s.SourceImage,
	).Scan(&s.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Replay of an already-stored attempt: return the original.
		existing, getErr := r.GetByAttemptID(ctx, s.AttemptID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	for i := range results {
		res := &results[i]
		res.SubmissionID = s.ID
		err = tx.QueryRow(ctx,
			`INSERT INTO results (submission_id, question_id, answer, correct_answer, is_correct, points_earned, points_possible)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			res.SubmissionID, res.QuestionID, res.Answer, res.CorrectAnswer,
			res.IsCorrect, res.PointsEarned, res.PointsPossible,
		).Scan(&res.ID)
		if err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return s, false, nil
}

// GetByID retrieves a submission by ID.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	s := &model.Submission{}
	err := scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id), s)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByAttemptID retrieves a submission by its idempotency key.
func (r *SubmissionRepository) GetByAttemptID(ctx context.Context, attemptID uuid.UUID) (*model.Submission, error) {
	s := &model.Submission{}
	err := scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE attempt_id = $1`, attemptID), s)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CountCompleted counts a student's stored submissions for one test. The
// eligibility gate compares this against the test's attempt ceiling.
func (r *SubmissionRepository) CountCompleted(ctx context.Context, testID, studentID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM submissions WHERE test_id = $1 AND student_id = $2`,
		testID, studentID,
	).Scan(&count)
	return count, err
}

// ListByStudent retrieves a student's submissions, most recent first.
func (r *SubmissionRepository) ListByStudent(ctx context.Context, studentID uuid.UUID) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE student_id = $1 ORDER BY completed_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubmissions(rows)
}

// ListByTest retrieves all submissions for a test, for the teacher's
// results view.
func (r *SubmissionRepository) ListByTest(ctx context.Context, testID uuid.UUID) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE test_id = $1 ORDER BY completed_at DESC`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSubmissions(rows)
}

// ListResults retrieves a submission's per-question outcomes in question
// order.
func (r *SubmissionRepository) ListResults(ctx context.Context, submissionID uuid.UUID) ([]model.Result, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.submission_id, r.question_id, r.answer, r.correct_answer, r.is_correct, r.points_earned, r.points_possible
		 FROM results r
		 JOIN questions q ON q.id = r.question_id
		 WHERE r.submission_id = $1
		 ORDER BY q.position`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		var res model.Result
		if err := rows.Scan(&res.ID, &res.SubmissionID, &res.QuestionID, &res.Answer,
			&res.CorrectAnswer, &res.IsCorrect, &res.PointsEarned, &res.PointsPossible); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func collectSubmissions(rows pgx.Rows) ([]model.Submission, error) {
	var subs []model.Submission
	for rows.Next() {
		var s model.Submission
		if err := scanSubmission(rows, &s); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}
