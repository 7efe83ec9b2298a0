package model

import (
	"github.com/google/uuid"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeTrueFalse      QuestionType = "true_false"
	QuestionTypeShortAnswer    QuestionType = "short_answer"
)

// True/false answers are stored as these literal strings.
const (
	AnswerTrue  = "True"
	AnswerFalse = "False"
)

// Question represents a single test question. The correct answer is stored
// as normalized text for every type — never as an option index — so grading
// is uniform across question types.
type Question struct {
	ID     uuid.UUID    `json:"id"`
	TestID uuid.UUID    `json:"test_id"`
	Type   QuestionType `json:"type"`
	Prompt string       `json:"prompt"`
	// Options is the ordered choice list; only meaningful for multiple_choice.
	Options       []string `json:"options,omitempty"`
	CorrectAnswer string   `json:"correct_answer"`
	Points        int      `json:"points"`
	// Position defines display order and the scan order used when reading
	// answers off a photographed sheet.
	Position int `json:"position"`
}

// CreateQuestionRequest is the payload for one question inside a test.
type CreateQuestionRequest struct {
	Type          string   `json:"type" binding:"required,oneof=multiple_choice true_false short_answer"`
	Prompt        string   `json:"prompt" binding:"required,min=1,max=2000"`
	Options       []string `json:"options" binding:"omitempty,max=10,dive,min=1,max=500"`
	CorrectAnswer string   `json:"correct_answer" binding:"required,min=1,max=500"`
	Points        int      `json:"points" binding:"omitempty,min=1,max=100"`
}
