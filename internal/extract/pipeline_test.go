package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/probatio/probatio-backend/internal/model"
	"github.com/rs/zerolog"
)

type fakeOCR struct {
	transcript *Transcript
	err        error
}

func (f *fakeOCR) Recognize(ctx context.Context, imagePath string) (*Transcript, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.transcript, nil
}

func sheetQuestions() []model.Question {
	return []model.Question{
		{
			ID:       uuid.New(),
			Type:     model.QuestionTypeMultipleChoice,
			Options:  []string{"Red", "Blue", "Green"},
			Position: 1,
		},
		{
			ID:       uuid.New(),
			Type:     model.QuestionTypeTrueFalse,
			Position: 2,
		},
		{
			ID:       uuid.New(),
			Type:     model.QuestionTypeShortAnswer,
			Position: 3,
		},
	}
}

func newTestPipeline(ocr OCR, minConf float64) *Pipeline {
	return NewPipeline(ocr, minConf, zerolog.Nop())
}

func TestExtractAnswersNumberedSheet(t *testing.T) {
	qs := sheetQuestions()
	ocr := &fakeOCR{transcript: &Transcript{Lines: []Line{
		{Text: "Weekly Quiz", Confidence: 95},
		{Text: "1. B", Confidence: 91},
		{Text: "2. True", Confidence: 88},
		{Text: "3. Paris", Confidence: 90},
	}}}

	answers, report, err := newTestPipeline(ocr, 60).ExtractAnswers(context.Background(), "sheet.png", qs)
	if err != nil {
		t.Fatalf("ExtractAnswers: %v", err)
	}
	if got := answers[qs[0].ID]; got != "Blue" {
		t.Errorf("q1 = %q, want option letter B mapped to %q", got, "Blue")
	}
	if got := answers[qs[1].ID]; got != model.AnswerTrue {
		t.Errorf("q2 = %q, want %q", got, model.AnswerTrue)
	}
	if got := answers[qs[2].ID]; got != "Paris" {
		t.Errorf("q3 = %q, want %q", got, "Paris")
	}
	if len(report) != 3 {
		t.Fatalf("report length = %d, want 3", len(report))
	}
	for _, e := range report {
		if e.Status != "extracted" {
			t.Errorf("question %s status = %q, want extracted", e.QuestionID, e.Status)
		}
	}
}

func TestExtractAnswersLowConfidenceDropsQuestion(t *testing.T) {
	qs := sheetQuestions()
	ocr := &fakeOCR{transcript: &Transcript{Lines: []Line{
		{Text: "1. Blue", Confidence: 92},
		{Text: "2. True", Confidence: 31}, // smudged line
		{Text: "3. Paris", Confidence: 85},
	}}}

	answers, report, err := newTestPipeline(ocr, 60).ExtractAnswers(context.Background(), "sheet.png", qs)
	if err != nil {
		t.Fatalf("ExtractAnswers: %v", err)
	}
	if _, ok := answers[qs[1].ID]; ok {
		t.Error("low-confidence line must not produce an answer")
	}
	if report[1].Status != "low_confidence" {
		t.Errorf("q2 status = %q, want low_confidence", report[1].Status)
	}
	if len(answers) != 2 {
		t.Errorf("extracted %d answers, want 2", len(answers))
	}
}

func TestExtractAnswersVariantFormats(t *testing.T) {
	qs := sheetQuestions()
	ocr := &fakeOCR{transcript: &Transcript{Lines: []Line{
		{Text: "Q1: blue", Confidence: 80},
		{Text: "2) t", Confidence: 80},
		{Text: "Q3 - paris", Confidence: 80},
	}}}

	answers, _, err := newTestPipeline(ocr, 60).ExtractAnswers(context.Background(), "sheet.png", qs)
	if err != nil {
		t.Fatalf("ExtractAnswers: %v", err)
	}
	if got := answers[qs[0].ID]; got != "Blue" {
		t.Errorf("normalized option match = %q, want Blue", got)
	}
	if got := answers[qs[1].ID]; got != model.AnswerTrue {
		t.Errorf("t shorthand = %q, want %q", got, model.AnswerTrue)
	}
	if got := answers[qs[2].ID]; got != "paris" {
		t.Errorf("short answer kept as written, got %q", got)
	}
}

func TestExtractAnswersFuzzyOptionMatch(t *testing.T) {
	qs := sheetQuestions()
	ocr := &fakeOCR{transcript: &Transcript{Lines: []Line{
		{Text: "1. Gneen", Confidence: 75}, // one OCR slip of Green
	}}}

	answers, _, err := newTestPipeline(ocr, 60).ExtractAnswers(context.Background(), "sheet.png", qs)
	if err != nil {
		t.Fatalf("ExtractAnswers: %v", err)
	}
	if got := answers[qs[0].ID]; got != "Green" {
		t.Errorf("fuzzy match = %q, want Green", got)
	}
}

func TestExtractAnswersUnnumberedFallthrough(t *testing.T) {
	qs := sheetQuestions()
	ocr := &fakeOCR{transcript: &Transcript{Lines: []Line{
		{Text: "Blue", Confidence: 82},
		{Text: "False", Confidence: 82},
		{Text: "Paris", Confidence: 82},
	}}}

	answers, _, err := newTestPipeline(ocr, 60).ExtractAnswers(context.Background(), "sheet.png", qs)
	if err != nil {
		t.Fatalf("ExtractAnswers: %v", err)
	}
	if answers[qs[0].ID] != "Blue" || answers[qs[1].ID] != model.AnswerFalse || answers[qs[2].ID] != "Paris" {
		t.Errorf("scan-order assignment = %v", answers)
	}
}

func TestExtractAnswersUnmatchedAnswerText(t *testing.T) {
	qs := sheetQuestions()
	ocr := &fakeOCR{transcript: &Transcript{Lines: []Line{
		{Text: "1. Purple", Confidence: 90}, // not in the option vocabulary
		{Text: "2. maybe", Confidence: 90},
		{Text: "3. Paris", Confidence: 90},
	}}}

	answers, report, err := newTestPipeline(ocr, 60).ExtractAnswers(context.Background(), "sheet.png", qs)
	if err != nil {
		t.Fatalf("ExtractAnswers: %v", err)
	}
	if report[0].Status != "unmatched" || report[1].Status != "unmatched" {
		t.Errorf("statuses = %q, %q, want unmatched", report[0].Status, report[1].Status)
	}
	if len(answers) != 1 {
		t.Errorf("extracted %d answers, want 1", len(answers))
	}
}

func TestExtractAnswersRecognitionFailure(t *testing.T) {
	ocr := &fakeOCR{err: ErrRecognitionFailed}
	_, _, err := newTestPipeline(ocr, 60).ExtractAnswers(context.Background(), "sheet.png", sheetQuestions())
	if !errors.Is(err, ErrRecognitionFailed) {
		t.Fatalf("err = %v, want ErrRecognitionFailed", err)
	}
}

func TestExtractAnswersNothingReadable(t *testing.T) {
	ocr := &fakeOCR{transcript: &Transcript{Lines: []Line{
		{Text: "1. Blue", Confidence: 12},
	}}}
	_, _, err := newTestPipeline(ocr, 60).ExtractAnswers(context.Background(), "sheet.png", sheetQuestions())
	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("err = %v, want ErrExtractionFailed", err)
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  The Quick  Brown ", "the quick brown"},
		{"Don't!", "dont"},
		{"A.B,C", "abc"},
	}
	for _, tc := range cases {
		if got := normalize(tc.in); got != tc.want {
			t.Errorf("normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"green", "green", 0},
		{"green", "gneen", 1},
		{"blue", "blues", 1},
		{"red", "blue", 4},
	}
	for _, tc := range cases {
		if got := levenshtein(tc.a, tc.b); got != tc.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
