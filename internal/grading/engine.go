// Package grading scores student answers against a test's answer key.
// Every function here is pure: same (question, answer) in, same outcome
// out, so the engine is testable without a running session.
package grading

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/probatio/probatio-backend/internal/model"
)

// ErrInconsistentAttempt reports a mismatch between an attempt's answer set
// and the test's question list. Such attempts are never persisted.
var ErrInconsistentAttempt = errors.New("attempt does not match test definition")

// Outcome is the grading result for a single question.
type Outcome struct {
	QuestionID     uuid.UUID
	Answer         string
	CorrectAnswer  string
	IsCorrect      bool
	PointsEarned   int
	PointsPossible int
}

// AttemptScore aggregates the outcomes of one full attempt.
type AttemptScore struct {
	Outcomes   []Outcome
	Score      int
	MaxScore   int
	Percentage float64
}

// Grade scores a single answer. Comparison policy by question type:
//
//   - multiple_choice: exact string equality against the stored option text.
//     Options are controlled vocabulary from the author, so no trimming or
//     case folding is applied.
//   - true_false: exact equality against the literals "True"/"False".
//   - short_answer: equality after trimming and case folding, since free
//     text is author-unconstrained.
//
// An empty answer is never correct.
func Grade(q model.Question, answer string) Outcome {
	out := Outcome{
		QuestionID:     q.ID,
		Answer:         answer,
		CorrectAnswer:  q.CorrectAnswer,
		PointsPossible: q.Points,
	}

	if answer == "" {
		return out
	}

	switch q.Type {
	case model.QuestionTypeShortAnswer:
		out.IsCorrect = strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(q.CorrectAnswer))
	default:
		// multiple_choice and true_false compare verbatim.
		out.IsCorrect = answer == q.CorrectAnswer
	}

	if out.IsCorrect {
		out.PointsEarned = q.Points
	}
	return out
}

// GradeAttempt scores a full answer set against the test's question list.
// Questions missing from the answer map are graded as unanswered (incorrect,
// empty recorded answer), which is how timer-driven submits carry partial
// ledgers. Answers for unknown questions mean the ledger and the test
// definition have diverged; that is a consistency failure, not a zero.
func GradeAttempt(questions []model.Question, answers map[uuid.UUID]string) (*AttemptScore, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: test has no questions", ErrInconsistentAttempt)
	}

	known := make(map[uuid.UUID]struct{}, len(questions))
	for _, q := range questions {
		if _, dup := known[q.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate question %s", ErrInconsistentAttempt, q.ID)
		}
		known[q.ID] = struct{}{}
	}
	for qid := range answers {
		if _, ok := known[qid]; !ok {
			return nil, fmt.Errorf("%w: answer for unknown question %s", ErrInconsistentAttempt, qid)
		}
	}

	score := &AttemptScore{Outcomes: make([]Outcome, 0, len(questions))}
	for _, q := range questions {
		out := Grade(q, answers[q.ID])
		score.Outcomes = append(score.Outcomes, out)
		score.Score += out.PointsEarned
		score.MaxScore += out.PointsPossible
	}
	if score.MaxScore > 0 {
		score.Percentage = float64(score.Score) / float64(score.MaxScore) * 100
	}
	return score, nil
}
