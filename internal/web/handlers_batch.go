package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/bibcards/internal/core"
	"github.com/JonMunkholm/bibcards/internal/logging"
)

// sseHeartbeat is how often an idle progress stream resends the current
// progress. Each heartbeat also checks that the session still exists.
var sseHeartbeat = 15 * time.Second

// BatchResponse acknowledges a started batch.
type BatchResponse struct {
	Status   string                  `json:"status"`
	Progress core.GenerationProgress `json:"progress"`
}

// handleGenerate starts barcode generation in the background.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.service.StartGeneration(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	logging.WithFields(r.Context(), "session_id", id).Info("generation started")
	s.respondStarted(w, id)
}

// handleExport starts a card export in the background.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	opts, err := parseExportOptions(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.service.StartExport(r.Context(), id, opts); err != nil {
		s.respondError(w, r, err)
		return
	}
	logging.WithFields(r.Context(), "session_id", id).Info("export started",
		"transparent", opts.Transparent,
		"text_only", opts.TextOnly,
	)
	s.respondStarted(w, id)
}

func (s *Server) respondStarted(w http.ResponseWriter, id string) {
	resp := BatchResponse{Status: "started"}
	if sess, err := s.service.Session(id); err == nil {
		resp.Progress = sess.Progress()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// parseExportOptions reads transparent and textOnly from a JSON body or
// form values. An empty body means defaults.
func parseExportOptions(r *http.Request) (core.ExportOptions, error) {
	var opts core.ExportOptions
	if wantsJSON(r) {
		err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&opts)
		if err != nil && err != io.EOF {
			return opts, fmt.Errorf("%w: %v", errInvalidBody, err)
		}
		return opts, nil
	}
	opts.Transparent = formBool(r, "transparent")
	opts.TextOnly = formBool(r, "textOnly")
	return opts, nil
}

// formBool accepts checkbox "on" as well as strconv booleans.
func formBool(r *http.Request, key string) bool {
	v := r.FormValue(key)
	if v == "on" {
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// handleProgress streams session progress via Server-Sent Events.
// The current progress is sent first; the stream stays open until the
// client disconnects or the session goes away.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	progressCh, detach, err := s.service.SubscribeProgress(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer detach()

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, fmt.Errorf("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	eventID := 0
	for {
		select {
		case progress := <-progressCh:
			eventID++
			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", eventID, data)
			flusher.Flush()

		case <-heartbeat.C:
			sess, err := s.service.Session(id)
			if err != nil {
				fmt.Fprintf(w, "event: closed\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			// Resend the current state in case the client missed an update.
			eventID++
			data, _ := json.Marshal(sess.Progress())
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", eventID, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
