package web

// errors.go provides unified error response handling for the web layer.
//
// The technical error is logged with the request ID; the client gets the
// message, action and code from core.MapError, as JSON for API routes and
// as an HTML alert for pages.

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/bibcards/internal/core"
	"github.com/JonMunkholm/bibcards/internal/logging"
	"github.com/JonMunkholm/bibcards/internal/render"
	"github.com/JonMunkholm/bibcards/internal/web/templates"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errNoFile      = errors.New("no file provided")
	errEmptyFile   = errors.New("empty file")
	errFileTooBig  = errors.New("file too large")
	errInvalidBody = errors.New("invalid request body")
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status of a pipeline error.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, core.ErrSessionNotFound), errors.Is(err, core.ErrNoArchive), errors.Is(err, core.ErrCardNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyBatches), errors.Is(err, core.ErrTooManySessions):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrNoData), errors.Is(err, core.ErrEmptyArchive):
		return http.StatusUnprocessableEntity
	case errors.As(err, &maxErr), errors.Is(err, errFileTooBig), errors.Is(err, render.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, render.ErrUnsupportedImage):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, errNoFile), errors.Is(err, errEmptyFile), errors.Is(err, errInvalidBody),
		strings.HasPrefix(err.Error(), "invalid csv"), strings.HasPrefix(err.Error(), "unknown theme"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the mapped user message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if strings.HasPrefix(r.URL.Path, "/api/") || wantsJSON(r) {
		respondErrorJSON(w, r, err, status)
		return
	}

	msg := logError(r, err, status)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	page := templates.Layout("Marathon BIB Creator", templates.ErrorAlert(msg.Message, msg.Action, msg.Code))
	if err := page.Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render error page", "error", err)
	}
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := logError(r, err, status)
	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

func logError(r *http.Request, err error, status int) core.UserMessage {
	msg := core.MapError(err)
	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}
	return msg
}

// wantsJSON checks if the client prefers JSON response.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json")
}
