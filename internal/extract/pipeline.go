// Package extract converts a photographed answer sheet into the same answer
// set an online attempt produces, so both paths feed one grading engine.
//
// The pipeline is deterministic end to end: a question whose recognition
// confidence falls below the configured floor is recorded as unanswered,
// never guessed (correctness over recall).
package extract

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/probatio/probatio-backend/internal/model"
	"github.com/rs/zerolog"
)

// ErrExtractionFailed means no usable answers could be derived from the
// image. The student can retry with a different photo; nothing was
// persisted.
var ErrExtractionFailed = errors.New("answer sheet could not be read")

// numberedLine matches sheet lines like "3. B", "Q3: True" or "12) paris".
var numberedLine = regexp.MustCompile(`^\s*(?:[Qq]\s*)?(\d{1,3})\s*[.):\-]\s*(.+)$`)

// Extraction reports what happened to one question during extraction.
type Extraction struct {
	QuestionID uuid.UUID `json:"question_id"`
	Answer     string    `json:"answer"`
	Confidence float64   `json:"confidence"`
	// Status is one of "extracted", "low_confidence", "unmatched",
	// "no_line".
	Status string `json:"status"`
}

// Pipeline derives per-question answers from an answer-sheet image.
type Pipeline struct {
	ocr           OCR
	minConfidence float64
	log           zerolog.Logger
}

// NewPipeline creates a pipeline with the given recognizer and confidence
// floor (0-100).
func NewPipeline(ocr OCR, minConfidence float64, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		ocr:           ocr,
		minConfidence: minConfidence,
		log:           log.With().Str("component", "extract_pipeline").Logger(),
	}
}

// ExtractAnswers runs recognition over the image and associates transcript
// lines with questions by the test's fixed question order. Lines carrying a
// leading number are bound to the question at that position; unnumbered
// lines fall through to the first unanswered question they plausibly answer,
// in scan order. It returns the answer set plus a per-question report.
//
// ErrRecognitionFailed (engine failure) and ErrExtractionFailed (no single
// readable answer) are both surfaced without producing a partial answer set.
func (p *Pipeline) ExtractAnswers(ctx context.Context, imagePath string, questions []model.Question) (map[uuid.UUID]string, []Extraction, error) {
	if len(questions) == 0 {
		return nil, nil, fmt.Errorf("%w: test has no questions", ErrExtractionFailed)
	}

	transcript, err := p.ocr.Recognize(ctx, imagePath)
	if err != nil {
		return nil, nil, err
	}

	ordered := make([]model.Question, len(questions))
	copy(ordered, questions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	// candidate per question index; numbered lines overwrite earlier ones
	// for the same question, mirroring the ledger's last-write-wins.
	type candidate struct {
		text string
		conf float64
	}
	candidates := make([]*candidate, len(ordered))

	var unnumbered []Line
	for _, line := range transcript.Lines {
		text := strings.TrimSpace(line.Text)
		if text == "" {
			continue
		}
		if m := numberedLine.FindStringSubmatch(text); m != nil {
			n, convErr := strconv.Atoi(m[1])
			if convErr == nil && n >= 1 && n <= len(ordered) {
				candidates[n-1] = &candidate{text: strings.TrimSpace(m[2]), conf: line.Confidence}
				continue
			}
		}
		unnumbered = append(unnumbered, Line{Text: text, Confidence: line.Confidence})
	}

	// Fallback pass: an unnumbered line claims the first question, in scan
	// order, that has no candidate yet and that the line plausibly answers.
	for _, line := range unnumbered {
		for i := range ordered {
			if candidates[i] != nil {
				continue
			}
			if _, ok := canonicalize(ordered[i], line.Text); ok {
				candidates[i] = &candidate{text: line.Text, conf: line.Confidence}
				break
			}
		}
	}

	answers := make(map[uuid.UUID]string)
	report := make([]Extraction, 0, len(ordered))

	for i, q := range ordered {
		entry := Extraction{QuestionID: q.ID}
		cand := candidates[i]
		switch {
		case cand == nil:
			entry.Status = "no_line"
		case cand.conf < p.minConfidence:
			// Below the floor the sheet may well contain the right answer;
			// recording no answer is the deliberate policy.
			entry.Status = "low_confidence"
			entry.Confidence = cand.conf
		default:
			entry.Confidence = cand.conf
			if ans, ok := canonicalize(q, cand.text); ok {
				entry.Status = "extracted"
				entry.Answer = ans
				answers[q.ID] = ans
			} else {
				entry.Status = "unmatched"
			}
		}
		report = append(report, entry)
	}

	if len(answers) == 0 {
		return nil, report, fmt.Errorf("%w: no readable answers above confidence %.0f", ErrExtractionFailed, p.minConfidence)
	}

	p.log.Debug().
		Int("questions", len(ordered)).
		Int("extracted", len(answers)).
		Msg("Answer sheet extracted")
	return answers, report, nil
}

// canonicalize maps raw sheet text onto the answer vocabulary of a question.
// The boolean is false when the text cannot be bound to a valid answer.
func canonicalize(q model.Question, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	switch q.Type {
	case model.QuestionTypeMultipleChoice:
		return matchOption(q.Options, raw)
	case model.QuestionTypeTrueFalse:
		switch normalize(raw) {
		case "t", "true":
			return model.AnswerTrue, true
		case "f", "false":
			return model.AnswerFalse, true
		}
		return "", false
	case model.QuestionTypeShortAnswer:
		// Free text: keep it as written; grading trims and casefolds.
		// Anything longer than a short phrase is unlikely to be an answer.
		if len(strings.Fields(raw)) > 6 {
			return "", false
		}
		return raw, true
	}
	return "", false
}

// matchOption binds sheet text to one option of a controlled vocabulary:
// exact text, option letter ("B" for the second option), normalized
// equality, then edit distance 1 on the normalized forms. Ambiguity counts
// as no match.
func matchOption(options []string, raw string) (string, bool) {
	for _, opt := range options {
		if raw == opt {
			return opt, true
		}
	}

	// Single letter A, B, C... selects by position.
	if len(raw) == 1 {
		idx := int(raw[0] | 0x20) // casefold ASCII
		if idx >= 'a' && idx-'a' < len(options) {
			return options[idx-'a'], true
		}
	}

	norm := normalize(raw)
	if norm == "" {
		return "", false
	}
	var matched string
	count := 0
	for _, opt := range options {
		if normalize(opt) == norm {
			matched = opt
			count++
		}
	}
	if count == 1 {
		return matched, true
	}
	if count > 1 {
		return "", false
	}

	// Last resort: one edit of OCR noise. The options are author-controlled
	// vocabulary, so a distance-1 match cannot jump between options unless
	// the author wrote near-identical choices — then nothing matches.
	for _, opt := range options {
		if levenshtein(normalize(opt), norm) <= 1 {
			if matched != "" {
				return "", false
			}
			matched = opt
		}
	}
	return matched, matched != ""
}
