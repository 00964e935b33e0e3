package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/bibcards/internal/core"
	"github.com/JonMunkholm/bibcards/internal/logging"
	"github.com/JonMunkholm/bibcards/internal/web/templates"
)

// SessionResponse summarizes a session for API clients.
type SessionResponse struct {
	ID            string                  `json:"id"`
	Theme         string                  `json:"theme"`
	HasBackground bool                    `json:"hasBackground"`
	Participants  int                     `json:"participants"`
	Barcodes      int                     `json:"barcodes"`
	Progress      core.GenerationProgress `json:"progress"`
	Busy          bool                    `json:"busy"`
	Archive       *ArchiveResponse        `json:"archive,omitempty"`
}

// ArchiveResponse describes the latest export of a session.
type ArchiveResponse struct {
	Name      string    `json:"name"`
	Files     int       `json:"files"`
	Skipped   []string  `json:"skipped,omitempty"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

func toSessionResponse(sess *core.Session) SessionResponse {
	resp := SessionResponse{
		ID:            sess.ID,
		Theme:         sess.Theme(),
		HasBackground: sess.HasBackground(),
		Participants:  len(sess.Participants()),
		Barcodes:      len(sess.Barcodes()),
		Progress:      sess.Progress(),
		Busy:          sess.Busy(),
	}
	if a, err := sess.Archive(); err == nil {
		resp.Archive = &ArchiveResponse{
			Name:      a.Name,
			Files:     a.Files,
			Skipped:   a.Skipped,
			Size:      len(a.Data),
			CreatedAt: a.CreatedAt,
		}
	}
	return resp
}

// session resolves the {sessionID} URL parameter.
func (s *Server) session(r *http.Request) (*core.Session, error) {
	return s.service.Session(chi.URLParam(r, "sessionID"))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.IndexPage().Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render index", "error", err)
	}
}

// handleCreateSession starts a session. Browsers are redirected to its
// page; API clients get the session as JSON.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.CreateSession()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusCreated, toSessionResponse(sess))
		return
	}
	http.Redirect(w, r, "/session/"+sess.ID, http.StatusSeeOther)
}

func (s *Server) handleSessionPage(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		s.respondError(w, r, err)
		return
	}

	view := templates.SessionView{
		ID:            sess.ID,
		Theme:         sess.Theme(),
		HasBackground: sess.HasBackground(),
		Participants:  sess.Participants(),
		Barcodes:      sess.Barcodes(),
		Progress:      sess.Progress(),
		Busy:          sess.Busy(),
		Notifications: sess.Notifications(0),
	}
	if a, err := sess.Archive(); err == nil {
		view.ArchiveName = a.Name
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.SessionPage(view).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render session page", "error", err, "session_id", sess.ID)
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveSession(chi.URLParam(r, "sessionID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string                  `json:"status"`
	Sessions int                     `json:"sessions"`
	Batches  core.BatchLimiterStatus `json:"batches"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Sessions: s.service.SessionCount(),
		Batches:  s.service.LimiterStatus(),
	})
}
