package model

import (
	"time"

	"github.com/google/uuid"
)

// Difficulty enumerates the teacher-assigned difficulty of a test.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Test represents an authored test. Once a student has attempted it, only
// the Active flag may change.
type Test struct {
	ID    uuid.UUID  `json:"id"`
	Title string     `json:"title"`
	// Subject is the topic area shown to students (e.g. "Geography").
	Subject    string     `json:"subject"`
	Difficulty Difficulty `json:"difficulty"`
	// DurationMinutes is nil for untimed tests.
	DurationMinutes *int `json:"duration_minutes,omitempty"`
	// MaxAttempts is nil for unlimited attempts.
	MaxAttempts *int      `json:"max_attempts,omitempty"`
	Active      bool      `json:"active"`
	CreatedBy   uuid.UUID `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Timed reports whether attempts at this test run against a countdown.
func (t *Test) Timed() bool {
	return t.DurationMinutes != nil && *t.DurationMinutes > 0
}

// TestPaper is the payload served to a student starting an attempt: the test
// plus its full ordered question list. The consuming client is trusted with
// the answer key in this design.
type TestPaper struct {
	Test      Test       `json:"test"`
	Questions []Question `json:"questions"`
}

// CreateTestRequest is the payload for authoring a test with its questions.
type CreateTestRequest struct {
	Title           string                  `json:"title" binding:"required,min=3,max=255"`
	Subject         string                  `json:"subject" binding:"required,min=2,max=100"`
	Difficulty      string                  `json:"difficulty" binding:"required,oneof=easy medium hard"`
	DurationMinutes *int                    `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
	MaxAttempts     *int                    `json:"max_attempts" binding:"omitempty,min=1,max=50"`
	Questions       []CreateQuestionRequest `json:"questions" binding:"required,min=1,dive"`
}

// SetActiveRequest toggles a test's active flag.
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}
