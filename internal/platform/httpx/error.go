package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/feastline/api/internal/platform/requestctx"
)

// Error is the wire shape of every non-2xx response the API produces. The
// error code is a stable machine-readable string; mobile clients switch on it.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// envelope is the JSON layout. Correlation ids are omitted when absent so
// callback acks and health probes stay minimal.
type envelope struct {
	Code      string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`

	Details map[string]any `json:"-"`
}

func (e envelope) MarshalJSON() ([]byte, error) {
	type plain envelope
	if len(e.Details) == 0 {
		return json.Marshal(plain(e))
	}
	out := make(map[string]any, len(e.Details)+5)
	for k, v := range e.Details {
		out[k] = v
	}
	out["error"] = e.Code
	out["message"] = e.Message
	out["status"] = e.Status
	if e.RequestID != "" {
		out["request_id"] = e.RequestID
	}
	if e.TraceID != "" {
		out["trace_id"] = e.TraceID
	}
	return json.Marshal(out)
}

// NewError builds an Error, clamping code and message to header-safe strings.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clip(code, 80),
		Message: clip(message, 512),
		Status:  status,
	}
}

// WithDetails attaches extra top-level JSON fields to the envelope.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	e.Details = make(map[string]any, len(details))
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WriteError renders the envelope, filling request and trace ids from the
// context when the caller did not set them.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	env := envelope{
		Code:      err.Code,
		Message:   err.Message,
		Status:    status,
		RequestID: err.RequestID,
		TraceID:   err.TraceID,
		Details:   err.Details,
	}
	if env.RequestID == "" {
		env.RequestID = clip(middleware.GetReqID(ctx), 80)
	}
	if env.TraceID == "" {
		env.TraceID = clip(requestctx.TraceID(ctx), 64)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// clip collapses newlines and bounds the string so log injection through an
// error message cannot reach the envelope.
func clip(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.NewReplacer("\n", " ", "\r", " ").Replace(value)
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
