package grading

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/probatio/probatio-backend/internal/model"
)

func mcQuestion(correct string, points int) model.Question {
	return model.Question{
		ID:            uuid.New(),
		Type:          model.QuestionTypeMultipleChoice,
		Options:       []string{"A", "B", "C", "D"},
		CorrectAnswer: correct,
		Points:        points,
	}
}

func TestGrade_MultipleChoice(t *testing.T) {
	tests := []struct {
		name    string
		correct string
		answer  string
		want    bool
	}{
		{"exact match", "B", "B", true},
		{"wrong option", "B", "A", false},
		{"case sensitive", "Paris", "paris", false},
		{"no trimming", "B", " B", false},
		{"empty answer", "B", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := Grade(mcQuestion(tc.correct, 2), tc.answer)
			if out.IsCorrect != tc.want {
				t.Errorf("IsCorrect = %v, want %v", out.IsCorrect, tc.want)
			}
			wantPoints := 0
			if tc.want {
				wantPoints = 2
			}
			if out.PointsEarned != wantPoints {
				t.Errorf("PointsEarned = %d, want %d", out.PointsEarned, wantPoints)
			}
			if out.PointsPossible != 2 {
				t.Errorf("PointsPossible = %d, want 2", out.PointsPossible)
			}
		})
	}
}

func TestGrade_TrueFalse(t *testing.T) {
	q := model.Question{
		ID:            uuid.New(),
		Type:          model.QuestionTypeTrueFalse,
		CorrectAnswer: model.AnswerTrue,
		Points:        1,
	}

	tests := []struct {
		answer string
		want   bool
	}{
		{"True", true},
		{"False", false},
		{"true", false}, // literal comparison, not case-folded
		{"TRUE", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := Grade(q, tc.answer).IsCorrect; got != tc.want {
			t.Errorf("Grade(%q).IsCorrect = %v, want %v", tc.answer, got, tc.want)
		}
	}
}

func TestGrade_ShortAnswer(t *testing.T) {
	q := model.Question{
		ID:            uuid.New(),
		Type:          model.QuestionTypeShortAnswer,
		CorrectAnswer: "paris",
		Points:        1,
	}

	tests := []struct {
		answer string
		want   bool
	}{
		{"paris", true},
		{"Paris", true},
		{"  PARIS  ", true},
		{"pariss", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := Grade(q, tc.answer).IsCorrect; got != tc.want {
			t.Errorf("Grade(%q).IsCorrect = %v, want %v", tc.answer, got, tc.want)
		}
	}
}

// Mirrors the canonical three-question walkthrough: mc "B", true_false
// "True", short_answer "paris", student answers all correct with a
// case-flipped short answer.
func TestGradeAttempt_FullMarks(t *testing.T) {
	q1 := mcQuestion("B", 1)
	q2 := model.Question{ID: uuid.New(), Type: model.QuestionTypeTrueFalse, CorrectAnswer: "True", Points: 1}
	q3 := model.Question{ID: uuid.New(), Type: model.QuestionTypeShortAnswer, CorrectAnswer: "paris", Points: 1}

	score, err := GradeAttempt(
		[]model.Question{q1, q2, q3},
		map[uuid.UUID]string{q1.ID: "B", q2.ID: "True", q3.ID: "Paris"},
	)
	if err != nil {
		t.Fatalf("GradeAttempt: %v", err)
	}

	if score.Score != 3 || score.MaxScore != 3 {
		t.Errorf("score = %d/%d, want 3/3", score.Score, score.MaxScore)
	}
	if score.Percentage != 100 {
		t.Errorf("percentage = %v, want 100", score.Percentage)
	}
	for _, out := range score.Outcomes {
		if !out.IsCorrect {
			t.Errorf("question %s graded incorrect", out.QuestionID)
		}
	}
}

func TestGradeAttempt_PartialLedger(t *testing.T) {
	q1 := mcQuestion("B", 1)
	q2 := model.Question{ID: uuid.New(), Type: model.QuestionTypeTrueFalse, CorrectAnswer: "True", Points: 1}
	q3 := model.Question{ID: uuid.New(), Type: model.QuestionTypeShortAnswer, CorrectAnswer: "paris", Points: 1}

	// q1 wrong, q2 right, q3 never answered (timer-driven submit).
	score, err := GradeAttempt(
		[]model.Question{q1, q2, q3},
		map[uuid.UUID]string{q1.ID: "A", q2.ID: "True"},
	)
	if err != nil {
		t.Fatalf("GradeAttempt: %v", err)
	}

	if score.Score != 1 || score.MaxScore != 3 {
		t.Errorf("score = %d/%d, want 1/3", score.Score, score.MaxScore)
	}
	if len(score.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want one per question", len(score.Outcomes))
	}

	last := score.Outcomes[2]
	if last.QuestionID != q3.ID || last.Answer != "" || last.IsCorrect {
		t.Errorf("unanswered question should be recorded incorrect with empty answer, got %+v", last)
	}

	// The sum-of-points invariant.
	sum := 0
	for _, out := range score.Outcomes {
		sum += out.PointsEarned
	}
	if sum != score.Score {
		t.Errorf("sum of outcome points %d != score %d", sum, score.Score)
	}
}

func TestGradeAttempt_Inconsistencies(t *testing.T) {
	q1 := mcQuestion("B", 1)

	t.Run("no questions", func(t *testing.T) {
		_, err := GradeAttempt(nil, nil)
		if !errors.Is(err, ErrInconsistentAttempt) {
			t.Errorf("err = %v, want ErrInconsistentAttempt", err)
		}
	})

	t.Run("unknown question answered", func(t *testing.T) {
		_, err := GradeAttempt(
			[]model.Question{q1},
			map[uuid.UUID]string{uuid.New(): "B"},
		)
		if !errors.Is(err, ErrInconsistentAttempt) {
			t.Errorf("err = %v, want ErrInconsistentAttempt", err)
		}
	})

	t.Run("duplicate question", func(t *testing.T) {
		_, err := GradeAttempt([]model.Question{q1, q1}, nil)
		if !errors.Is(err, ErrInconsistentAttempt) {
			t.Errorf("err = %v, want ErrInconsistentAttempt", err)
		}
	})
}

func TestGradeAttempt_WeightedPoints(t *testing.T) {
	q1 := mcQuestion("C", 3)
	q2 := mcQuestion("D", 2)

	score, err := GradeAttempt(
		[]model.Question{q1, q2},
		map[uuid.UUID]string{q1.ID: "C", q2.ID: "A"},
	)
	if err != nil {
		t.Fatalf("GradeAttempt: %v", err)
	}
	if score.Score != 3 || score.MaxScore != 5 {
		t.Errorf("score = %d/%d, want 3/5", score.Score, score.MaxScore)
	}
	if score.Percentage != 60 {
		t.Errorf("percentage = %v, want 60", score.Percentage)
	}
}
