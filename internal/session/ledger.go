package session

import (
	"strings"

	"github.com/google/uuid"
)

// AnswerLedger holds the current answers of one in-progress attempt. It is
// owned exclusively by the attempt's controller and discarded once the
// submission is durable — never shared across attempts or students.
type AnswerLedger struct {
	answers map[uuid.UUID]string
}

// NewAnswerLedger creates an empty ledger.
func NewAnswerLedger() *AnswerLedger {
	return &AnswerLedger{answers: make(map[uuid.UUID]string)}
}

// Set records the answer for a question, replacing any prior answer. No
// history is kept.
func (l *AnswerLedger) Set(questionID uuid.UUID, answer string) {
	l.answers[questionID] = answer
}

// Get returns the recorded answer and whether one exists.
func (l *AnswerLedger) Get(questionID uuid.UUID) (string, bool) {
	a, ok := l.answers[questionID]
	return a, ok
}

// Answers returns a copy of the ledger's contents, safe to hand to grading.
func (l *AnswerLedger) Answers() map[uuid.UUID]string {
	out := make(map[uuid.UUID]string, len(l.answers))
	for k, v := range l.answers {
		out[k] = v
	}
	return out
}

// Len returns the number of recorded answers.
func (l *AnswerLedger) Len() int { return len(l.answers) }

// IsComplete reports whether every given question has a non-blank answer.
// It gates the manual submit only; timer-driven submits ignore it and carry
// whatever is recorded.
func (l *AnswerLedger) IsComplete(questionIDs []uuid.UUID) bool {
	for _, id := range questionIDs {
		a, ok := l.answers[id]
		if !ok || strings.TrimSpace(a) == "" {
			return false
		}
	}
	return true
}
