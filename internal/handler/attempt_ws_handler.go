package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/probatio/probatio-backend/internal/middleware"
	"github.com/probatio/probatio-backend/internal/response"
	"github.com/probatio/probatio-backend/internal/service"
	"github.com/probatio/probatio-backend/internal/session"
	ws "github.com/probatio/probatio-backend/internal/websocket"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// AttemptWSHandler streams a live attempt over WebSocket: the server owns
// the session state machine and the countdown, pushing ticks and the forced
// submit at expiry; the client only sends answers and intents.
type AttemptWSHandler struct {
	testService    *service.TestService
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewAttemptWSHandler creates a new AttemptWSHandler.
func NewAttemptWSHandler(testService *service.TestService, attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *AttemptWSHandler {
	return &AttemptWSHandler{
		testService:    testService,
		attemptService: attemptService,
		log:            log.With().Str("component", "attempt_ws").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// Stream godoc
// WS /ws/v1/student/tests/:test_id/attempt?token=...&attempt_id=...
// Runs one attempt end to end. attempt_id is optional; when omitted the
// server generates the idempotency key and reports it in the started event.
func (h *AttemptWSHandler) Stream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid test ID"})
		return
	}

	// Optional client-supplied idempotency key for reconnects.
	attemptID := uuid.Nil
	if raw := c.Query("attempt_id"); raw != "" {
		attemptID, err = uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt ID"})
			return
		}
	}

	paper, err := h.testService.GetPaper(c.Request.Context(), testID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "test not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID
	ctrl := session.NewController(&paper.Test, paper.Questions, studentID, attemptID,
		h.attemptService.Gate(), h.attemptService, h.log)

	wsLog := h.log.With().
		Str("student_id", studentID.String()).
		Str("test_id", testID.String()).
		Str("attempt_id", ctrl.AttemptID().String()).
		Logger()

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		var denied *session.DeniedError
		if errors.As(err, &denied) {
			code := response.ErrMaxAttemptsReached
			if denied.Reason == session.ReasonTestInactive {
				code = response.ErrTestInactive
			}
			ws.WriteError(conn, string(code), response.GetMessage(code))
			return
		}
		ws.WriteError(conn, string(response.ErrEligibilityCheck), response.GetMessage(response.ErrEligibilityCheck))
		return
	}

	var deadline time.Time
	started := ws.StartedResponse{Event: ws.EventStarted, AttemptID: ctrl.AttemptID().String()}
	if paper.Test.Timed() {
		remaining := ctrl.Remaining()
		started.RemainingSeconds = &remaining
		deadline = time.Now().Add(time.Duration(remaining) * time.Second)
	}
	if err := h.attemptService.RegisterAttempt(ctx, &paper.Test, studentID, ctrl.AttemptID(), deadline); err != nil {
		wsLog.Error().Err(err).Msg("Attempt registration failed")
	}
	ws.WriteTyped(conn, started)
	wsLog.Info().Msg("Student connected")

	h.run(ctx, conn, wsLog, ctrl, testID, studentID)
}

// run drives the select loop over client messages and the attempt clock.
func (h *AttemptWSHandler) run(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, ctrl *session.Controller, testID, studentID uuid.UUID) {
	msgs := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go readPump(conn, msgs, readErr, done)

	// Untimed attempts select on channels that never fire.
	var ticks <-chan int
	var expired <-chan struct{}
	if clock := ctrl.Clock(); clock != nil {
		ticks = clock.Ticks()
		expired = clock.Expired()
	}

	for {
		select {
		case data, ok := <-msgs:
			if !ok {
				err := <-readErr
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("Unexpected close")
				} else {
					wsLog.Debug().Msg("Connection closed")
				}
				return
			}
			if done := h.handleMessage(ctx, conn, wsLog, ctrl, testID, studentID, data); done {
				return
			}

		case remaining := <-ticks:
			ws.WriteTyped(conn, ws.TickResponse{Event: ws.EventTick, RemainingSeconds: remaining})

		case <-expired:
			ws.WriteTyped(conn, ws.ExpiredResponse{Event: ws.EventExpired})
			h.submit(ctx, conn, wsLog, ctrl, session.TriggerTimer)
			return
		}
	}
}

// readPump feeds client frames into msgs until the connection errors or done
// closes. The select loop may exit on timer expiry or a terminal submit while
// a frame is in flight; closing the connection does not interrupt a pending
// channel send, so the pump needs done as its own way out.
func readPump(conn *websocket.Conn, msgs chan<- []byte, readErr chan<- error, done <-chan struct{}) {
	defer close(msgs)
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case msgs <- data:
		case <-done:
			return
		}
	}
}

// handleMessage dispatches one client message. Returns true when the
// connection should close.
func (h *AttemptWSHandler) handleMessage(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, ctrl *session.Controller, testID, studentID uuid.UUID, data []byte) bool {
	var envelope ws.RequestEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		ws.WriteError(conn, string(response.ErrInvalidPayload), "malformed message")
		return false
	}

	switch envelope.Action {
	case ws.ActionAnswer:
		var msg ws.AnswerRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			ws.WriteError(conn, string(response.ErrInvalidPayload), "malformed answer")
			return false
		}
		h.handleAnswer(ctx, conn, wsLog, ctrl, testID, studentID, &msg)
		return false

	case ws.ActionSubmit:
		return h.submit(ctx, conn, wsLog, ctrl, session.TriggerManual)

	case ws.ActionAbandon:
		ctrl.Abandon()
		h.attemptService.ClearAttempt(ctx, testID, studentID)
		wsLog.Info().Msg("Attempt abandoned")
		return true

	case ws.ActionPing:
		ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		return false

	default:
		wsLog.Warn().Str("action", string(envelope.Action)).Msg("Unknown action")
		ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(envelope.Action))
		return false
	}
}

func (h *AttemptWSHandler) handleAnswer(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, ctrl *session.Controller, testID, studentID uuid.UUID, msg *ws.AnswerRequest) {
	questionID, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		ws.WriteError(conn, string(response.ErrInvalidID), "invalid question_id format")
		return
	}

	if err := ctrl.SetAnswer(questionID, msg.Answer); err != nil {
		ws.WriteError(conn, string(response.ErrInvalidPayload), err.Error())
		return
	}

	if err := h.attemptService.AutosaveAnswer(ctx, testID, studentID, questionID, msg.Answer); err != nil {
		// The ledger holds the answer; autosave is recovery state only.
		wsLog.Warn().Err(err).Msg("Autosave failed")
	}

	ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, Status: "ok"})
}

// submit runs the single-fire submit path and reports the outcome. Returns
// true when the attempt reached a terminal state and the connection should
// close.
func (h *AttemptWSHandler) submit(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, ctrl *session.Controller, trigger session.Trigger) bool {
	sub, err := ctrl.Submit(ctx, trigger)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrAttemptIncomplete):
			ws.WriteError(conn, string(response.ErrAttemptIncomplete), response.GetMessage(response.ErrAttemptIncomplete))
			return false
		case errors.Is(err, session.ErrSubmitInFlight):
			ws.WriteError(conn, string(response.ErrConflict), "submit already in progress")
			return false
		case errors.Is(err, session.ErrStoreFailed):
			// One retry is allowed; the attempt is back in progress.
			ws.WriteError(conn, string(response.ErrSubmissionWriteFailed), response.GetMessage(response.ErrSubmissionWriteFailed))
			return false
		default:
			wsLog.Error().Err(err).Msg("Submit failed terminally")
			ws.WriteError(conn, string(response.ErrInternal), response.GetMessage(response.ErrInternal))
			return true
		}
	}

	h.attemptService.ClearAttempt(ctx, sub.TestID, sub.StudentID)
	wsLog.Info().
		Int("score", sub.Score).
		Int("max_score", sub.MaxScore).
		Str("trigger", string(trigger)).
		Msg("Attempt submitted")

	ws.WriteTyped(conn, ws.GradedResponse{
		Event:      ws.EventGraded,
		Status:     "completed",
		Score:      float64(sub.Score),
		MaxScore:   float64(sub.MaxScore),
		Percentage: sub.Percentage,
	})
	return true
}
