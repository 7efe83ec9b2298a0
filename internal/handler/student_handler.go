package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/probatio/probatio-backend/internal/grading"
	"github.com/probatio/probatio-backend/internal/middleware"
	"github.com/probatio/probatio-backend/internal/model"
	"github.com/probatio/probatio-backend/internal/response"
	"github.com/probatio/probatio-backend/internal/service"
	"github.com/probatio/probatio-backend/internal/session"
	"github.com/probatio/probatio-backend/internal/validator"
)

// StudentHandler handles the student-facing test and submission endpoints.
type StudentHandler struct {
	testService    *service.TestService
	attemptService *service.AttemptService
}

// NewStudentHandler creates a new StudentHandler.
func NewStudentHandler(testService *service.TestService, attemptService *service.AttemptService) *StudentHandler {
	return &StudentHandler{testService: testService, attemptService: attemptService}
}

// ListTests godoc
// GET /api/v1/student/tests
// Lists the tests currently open for attempts.
func (h *StudentHandler) ListTests(c *gin.Context) {
	tests, err := h.testService.ListActive(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"tests": tests})
}

// GetPaper godoc
// GET /api/v1/student/tests/:id/paper
// Returns the test with its ordered question list, for rendering an attempt.
func (h *StudentHandler) GetPaper(c *gin.Context) {
	testID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	paper, err := h.testService.GetPaper(c.Request.Context(), testID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, service.ErrNoQuestions) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if !paper.Test.Active {
		response.Fail(c, http.StatusConflict, response.ErrTestInactive)
		return
	}

	response.Success(c, http.StatusOK, paper)
}

// Eligibility godoc
// GET /api/v1/student/tests/:id/eligibility
// Reports whether the student may start an attempt right now. An infra
// failure is a 500, never a denial: the gate fails closed but visibly.
func (h *StudentHandler) Eligibility(c *gin.Context) {
	claims := middleware.GetClaims(c)

	testID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	elig, err := h.attemptService.CheckEligibility(c.Request.Context(), testID, claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrEligibilityCheck)
		return
	}

	response.Success(c, http.StatusOK, elig)
}

// Submit godoc
// POST /api/v1/student/tests/:id/submit
// Grades and stores an online attempt. Safe to retry: the attempt_id makes
// replays return the originally stored submission.
func (h *StudentHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)

	testID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sub, err := h.attemptService.SubmitOnline(c.Request.Context(), claims.UserID, testID, &req)
	if err != nil {
		failSubmit(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"submission": sub})
}

// failSubmit maps submit-path errors onto the error taxonomy. Shared by the
// online and offline submit endpoints.
func failSubmit(c *gin.Context, err error) {
	var denied *session.DeniedError
	switch {
	case errors.As(err, &denied):
		if denied.Reason == session.ReasonTestInactive {
			response.Fail(c, http.StatusConflict, response.ErrTestInactive)
		} else {
			response.Fail(c, http.StatusConflict, response.ErrMaxAttemptsReached)
		}
	case errors.Is(err, pgx.ErrNoRows):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrBadAnswerSet), errors.Is(err, grading.ErrInconsistentAttempt):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrGradingInconsistency)
	case errors.Is(err, service.ErrNoQuestions):
		response.Fail(c, http.StatusConflict, response.ErrConflict)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrSubmissionWriteFailed)
	}
}

// MySubmissions godoc
// GET /api/v1/student/submissions
// Lists the student's graded submissions, most recent first.
func (h *StudentHandler) MySubmissions(c *gin.Context) {
	claims := middleware.GetClaims(c)

	subs, err := h.attemptService.ListMySubmissions(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"submissions": subs})
}

// SubmissionDetail godoc
// GET /api/v1/student/submissions/:id
// Returns one submission with its per-question results.
func (h *StudentHandler) SubmissionDetail(c *gin.Context) {
	claims := middleware.GetClaims(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sub, results, err := h.attemptService.GetSubmissionDetail(c.Request.Context(), id, claims.UserID, claims.Role)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, service.ErrNotSubmissionOwner):
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"submission": sub,
		"results":    results,
	})
}
