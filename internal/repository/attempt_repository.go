package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AttemptRepository persists the autosaved answer set of in-progress
// attempts, so a server restart or deadline sweep can recover what the
// student had answered.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// UpsertAnswer records a student's latest answer to one question.
func (r *AttemptRepository) UpsertAnswer(ctx context.Context, testID, studentID, questionID uuid.UUID, answer string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_answers (test_id, student_id, question_id, answer)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (test_id, student_id, question_id)
		 DO UPDATE SET answer = EXCLUDED.answer, updated_at = NOW()`,
		testID, studentID, questionID, answer)
	return err
}

// GetAnswers retrieves the autosaved answer set for one attempt.
func (r *AttemptRepository) GetAnswers(ctx context.Context, testID, studentID uuid.UUID) (map[uuid.UUID]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, answer FROM attempt_answers
		 WHERE test_id = $1 AND student_id = $2`, testID, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make(map[uuid.UUID]string)
	for rows.Next() {
		var qid uuid.UUID
		var ans string
		if err := rows.Scan(&qid, &ans); err != nil {
			return nil, err
		}
		answers[qid] = ans
	}
	return answers, rows.Err()
}

// DeleteAnswers clears the autosaved answers once an attempt is graded or
// abandoned.
func (r *AttemptRepository) DeleteAnswers(ctx context.Context, testID, studentID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM attempt_answers WHERE test_id = $1 AND student_id = $2`,
		testID, studentID)
	return err
}
