package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionMethod records how the attempt reached the grader.
type SubmissionMethod string

const (
	MethodOnline  SubmissionMethod = "online"
	MethodOffline SubmissionMethod = "offline"
)

// Submission is the durable record of a completed attempt. It is append-only:
// once written it is never mutated by the session layer.
type Submission struct {
	ID uuid.UUID `json:"id"`
	// AttemptID is the client-generated idempotency key. Retrying a submit
	// with the same AttemptID returns the original submission.
	AttemptID   uuid.UUID        `json:"attempt_id"`
	TestID      uuid.UUID        `json:"test_id"`
	StudentID   uuid.UUID        `json:"student_id"`
	Method      SubmissionMethod `json:"method"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
	Score       int              `json:"score"`
	MaxScore    int              `json:"max_score"`
	Percentage  float64          `json:"percentage"`
	// SourceImage references the uploaded answer sheet for offline submissions.
	SourceImage *string `json:"source_image,omitempty"`
}

// Result is the per-question grading outcome belonging to a submission.
// The correct answer is snapshotted at grading time so later edits to the
// question cannot reinterpret history.
type Result struct {
	ID             uuid.UUID `json:"id"`
	SubmissionID   uuid.UUID `json:"submission_id"`
	QuestionID     uuid.UUID `json:"question_id"`
	Answer         string    `json:"answer"`
	CorrectAnswer  string    `json:"correct_answer"`
	IsCorrect      bool      `json:"is_correct"`
	PointsEarned   int       `json:"points_earned"`
	PointsPossible int       `json:"points_possible"`
}

// SubmitAttemptRequest is the payload for the online submit endpoint.
type SubmitAttemptRequest struct {
	AttemptID uuid.UUID         `json:"attempt_id" binding:"required"`
	Answers   map[string]string `json:"answers" binding:"required"`
	StartedAt *time.Time        `json:"started_at" binding:"omitempty"`
}

// EligibilityResponse is returned by the eligibility check endpoint.
type EligibilityResponse struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}
