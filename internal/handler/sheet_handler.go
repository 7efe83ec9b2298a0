package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/probatio/probatio-backend/internal/extract"
	"github.com/probatio/probatio-backend/internal/middleware"
	"github.com/probatio/probatio-backend/internal/response"
	"github.com/probatio/probatio-backend/internal/service"
)

// SheetHandler handles offline answer-sheet submissions.
type SheetHandler struct {
	sheetService *service.SheetService
}

// NewSheetHandler creates a new SheetHandler.
func NewSheetHandler(sheetService *service.SheetService) *SheetHandler {
	return &SheetHandler{sheetService: sheetService}
}

// Upload godoc
// POST /api/v1/student/tests/:id/sheet
// Multipart form: "sheet" (jpeg/png image), "attempt_id" (UUID).
// Extracts answers from the photographed sheet and grades them through the
// same idempotent path as an online submit. An unreadable image is a 422
// and stores nothing, so the student can retry with a better photo.
func (h *SheetHandler) Upload(c *gin.Context) {
	claims := middleware.GetClaims(c)

	testID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attemptID, err := uuid.Parse(c.PostForm("attempt_id"))
	if err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"attempt_id": "must be a valid UUID"})
		return
	}

	file, header, err := c.Request.FormFile("sheet")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	result, err := h.sheetService.ProcessUpload(c.Request.Context(), claims.UserID, testID, attemptID, file, header)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedFileType):
			response.Fail(c, http.StatusBadRequest, response.ErrUnsupportedFile)
		case errors.Is(err, service.ErrFileTooLarge):
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
		case errors.Is(err, extract.ErrRecognitionFailed), errors.Is(err, extract.ErrExtractionFailed):
			response.Fail(c, http.StatusUnprocessableEntity, response.ErrExtractionFailed)
		default:
			failSubmit(c, err)
		}
		return
	}

	response.Success(c, http.StatusCreated, result)
}
