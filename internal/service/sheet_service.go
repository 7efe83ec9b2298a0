package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/probatio/probatio-backend/internal/config"
	"github.com/probatio/probatio-backend/internal/extract"
	"github.com/probatio/probatio-backend/internal/model"
	"github.com/rs/zerolog"
)

// Sentinel errors for answer sheet uploads.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
)

// Allowed answer sheet image MIME types. GIF and webp are excluded: phone
// cameras produce JPEG or PNG, and tesseract handles both natively.
var allowedMIMETypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// SheetService handles offline submissions: it stores the uploaded answer
// sheet image, runs the extraction pipeline, and hands the recovered answer
// set to the shared submit path.
type SheetService struct {
	cfg      *config.Config
	pipeline *extract.Pipeline
	tests    *TestService
	attempts *AttemptService
	log      zerolog.Logger
}

// NewSheetService creates a new SheetService.
func NewSheetService(
	cfg *config.Config,
	pipeline *extract.Pipeline,
	tests *TestService,
	attempts *AttemptService,
	log zerolog.Logger,
) *SheetService {
	return &SheetService{
		cfg:      cfg,
		pipeline: pipeline,
		tests:    tests,
		attempts: attempts,
		log:      log.With().Str("component", "sheet_service").Logger(),
	}
}

// OfflineSubmission is the outcome of a processed answer sheet.
type OfflineSubmission struct {
	Submission *model.Submission    `json:"submission"`
	Report     []extract.Extraction `json:"extraction_report"`
}

// ProcessUpload stores the sheet image, extracts answers off it, and grades
// the attempt through the same idempotent path online submits use. The
// image is kept on disk either way so a disputed grade can be re-checked by
// a human.
func (s *SheetService) ProcessUpload(ctx context.Context, studentID, testID, attemptID uuid.UUID, file multipart.File, header *multipart.FileHeader) (*OfflineSubmission, error) {
	imagePath, publicPath, err := s.saveSheet(file, header)
	if err != nil {
		return nil, err
	}

	paper, err := s.tests.GetPaper(ctx, testID)
	if err != nil {
		return nil, err
	}

	answers, report, err := s.pipeline.ExtractAnswers(ctx, imagePath, paper.Questions)
	if err != nil {
		s.log.Warn().Err(err).
			Str("test_id", testID.String()).
			Str("image", publicPath).
			Msg("Sheet extraction failed")
		return nil, err
	}

	sub, err := s.attempts.SubmitOffline(ctx, studentID, testID, attemptID, answers, publicPath)
	if err != nil {
		return nil, err
	}
	return &OfflineSubmission{Submission: sub, Report: report}, nil
}

// saveSheet validates and stores the uploaded image with a UUID filename.
// Returns the on-disk path and the public URL path.
func (s *SheetService) saveSheet(file multipart.File, header *multipart.FileHeader) (string, string, error) {
	contentType := header.Header.Get("Content-Type")
	ext, ok := allowedMIMETypes[contentType]
	if !ok {
		return "", "", fmt.Errorf("%w: %s (allowed: %s)",
			ErrUnsupportedFileType, contentType, strings.Join(allowedTypes(), ", "))
	}
	if header.Size > s.cfg.MaxUploadBytes {
		return "", "", fmt.Errorf("%w: %d bytes (max: %d)", ErrFileTooLarge, header.Size, s.cfg.MaxUploadBytes)
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create upload dir: %w", err)
	}

	filename := uuid.New().String() + ext
	destPath := filepath.Join(s.cfg.UploadDir, filename)

	dst, err := os.Create(destPath)
	if err != nil {
		return "", "", fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return "", "", fmt.Errorf("write file: %w", err)
	}

	return destPath, "/uploads/" + filename, nil
}

func allowedTypes() []string {
	types := make([]string, 0, len(allowedMIMETypes))
	for t := range allowedMIMETypes {
		types = append(types, t)
	}
	return types
}
