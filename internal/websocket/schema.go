package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer  Action = "answer"
	ActionSubmit  Action = "submit"
	ActionAbandon Action = "abandon"
	ActionPing    Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest is sent by the client to record a single answer.
type AnswerRequest struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// SubmitRequest is sent by the client to finish and grade the attempt.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// AbandonRequest is sent by the client to walk away without grading.
type AbandonRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventStarted Event = "started"
	EventTick    Event = "tick"
	EventSaved   Event = "saved"
	EventExpired Event = "expired"
	EventGraded  Event = "graded"
	EventPong    Event = "pong"
)

// StartedResponse confirms the attempt is live and carries its identity.
type StartedResponse struct {
	Event            Event  `json:"event"`
	AttemptID        string `json:"attempt_id"`
	RemainingSeconds *int   `json:"remaining_seconds,omitempty"`
}

// TickResponse is pushed once per clock tick on timed tests.
type TickResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}

type SavedResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
}

// ExpiredResponse tells the client the deadline passed and the server is
// submitting whatever was answered.
type ExpiredResponse struct {
	Event Event `json:"event"`
}

type GradedResponse struct {
	Event      Event   `json:"event"`
	Status     string  `json:"status"`
	Score      float64 `json:"score"`
	MaxScore   float64 `json:"max_score"`
	Percentage float64 `json:"percentage"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
