package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/probatio/probatio-backend/internal/model"
)

// TestRepository handles test data access.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

const testColumns = `id, title, subject, difficulty, duration_minutes, max_attempts, active, created_by, created_at, updated_at`

func scanTest(row interface{ Scan(dest ...any) error }, t *model.Test) error {
	return row.Scan(&t.ID, &t.Title, &t.Subject, &t.Difficulty, &t.DurationMinutes,
		&t.MaxAttempts, &t.Active, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
}

// GetByID retrieves a test by ID.
func (r *TestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := scanTest(r.pool.QueryRow(ctx,
		`SELECT `+testColumns+` FROM tests WHERE id = $1`, id), t)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateWithQuestions inserts a test and its question list in one
// transaction, assigning positions in request order.
func (r *TestRepository) CreateWithQuestions(ctx context.Context, t *model.Test, questions []model.Question) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO tests (title, subject, difficulty, duration_minutes, max_attempts, active, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		t.Title, t.Subject, t.Difficulty, t.DurationMinutes, t.MaxAttempts, t.Active, t.CreatedBy,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return err
	}

	for i := range questions {
		q := &questions[i]
		q.TestID = t.ID
		q.Position = i + 1
		err = tx.QueryRow(ctx,
			`INSERT INTO questions (test_id, type, prompt, options, correct_answer, points, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			q.TestID, q.Type, q.Prompt, q.Options, q.CorrectAnswer, q.Points, q.Position,
		).Scan(&q.ID)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// SetActive flips a test's visibility to students.
func (r *TestRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tests SET active = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		active, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive retrieves tests students may currently attempt.
func (r *TestRepository) ListActive(ctx context.Context) ([]model.Test, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+testColumns+` FROM tests WHERE active = TRUE ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tests []model.Test
	for rows.Next() {
		var t model.Test
		if err := scanTest(rows, &t); err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// ListByCreator retrieves a teacher's tests with pagination.
func (r *TestRepository) ListByCreator(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]model.Test, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tests WHERE created_by = $1`, creatorID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+testColumns+` FROM tests WHERE created_by = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, creatorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tests []model.Test
	for rows.Next() {
		var t model.Test
		if err := scanTest(rows, &t); err != nil {
			return nil, 0, err
		}
		tests = append(tests, t)
	}
	return tests, total, rows.Err()
}
