package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrRecognitionFailed means the recognition engine itself failed — missing
// binary, unreadable file, timeout. It is retryable with a different image
// and never produces a submission.
var ErrRecognitionFailed = errors.New("text recognition failed")

// Line is one recognized text line with an aggregate confidence (0-100).
type Line struct {
	Text       string
	Confidence float64
}

// Transcript is the raw output of text recognition over one answer sheet.
type Transcript struct {
	Lines []Line
}

// OCR turns an image file into a transcript. Implementations must return
// ErrRecognitionFailed (wrapped) for engine-level failures.
type OCR interface {
	Recognize(ctx context.Context, imagePath string) (*Transcript, error)
}

// TesseractOCR shells out to the tesseract binary with TSV output, which
// carries per-word confidences that we aggregate per line.
type TesseractOCR struct {
	Bin     string
	Lang    string
	Timeout time.Duration
}

// NewTesseractOCR returns a TesseractOCR with the given binary, language
// and subprocess timeout. Zero values fall back to "tesseract", "eng" and
// 20 seconds.
func NewTesseractOCR(bin, lang string, timeout time.Duration) *TesseractOCR {
	if bin == "" {
		bin = "tesseract"
	}
	if lang == "" {
		lang = "eng"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &TesseractOCR{Bin: bin, Lang: lang, Timeout: timeout}
}

// Recognize runs tesseract over the image and parses its TSV output.
func (t *TesseractOCR) Recognize(ctx context.Context, imagePath string) (*Transcript, error) {
	if _, err := exec.LookPath(t.Bin); err != nil {
		return nil, fmt.Errorf("%w: %s not found in PATH", ErrRecognitionFailed, t.Bin)
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.Bin, imagePath, "stdout", "-l", t.Lang, "tsv")
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: %s", ErrRecognitionFailed, msg)
	}

	return parseTSV(out.String()), nil
}

// parseTSV groups tesseract's word rows into lines, averaging word
// confidences. TSV columns: level page block par line word left top width
// height conf text; word rows have level 5 and conf >= 0.
func parseTSV(raw string) *Transcript {
	type lineKey struct{ page, block, par, line int }

	type lineAcc struct {
		words   []string
		confSum float64
		order   int
	}

	acc := make(map[lineKey]*lineAcc)
	var orderedKeys []lineKey

	for i, row := range strings.Split(raw, "\n") {
		if i == 0 { // header
			continue
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 {
			continue
		}
		level, _ := strconv.Atoi(cols[0])
		if level != 5 {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}

		page, _ := strconv.Atoi(cols[1])
		block, _ := strconv.Atoi(cols[2])
		par, _ := strconv.Atoi(cols[3])
		line, _ := strconv.Atoi(cols[4])
		key := lineKey{page, block, par, line}

		a, ok := acc[key]
		if !ok {
			a = &lineAcc{order: len(orderedKeys)}
			acc[key] = a
			orderedKeys = append(orderedKeys, key)
		}
		a.words = append(a.words, word)
		a.confSum += conf
	}

	tr := &Transcript{Lines: make([]Line, 0, len(orderedKeys))}
	for _, key := range orderedKeys {
		a := acc[key]
		tr.Lines = append(tr.Lines, Line{
			Text:       strings.Join(a.words, " "),
			Confidence: a.confSum / float64(len(a.words)),
		})
	}
	return tr
}
