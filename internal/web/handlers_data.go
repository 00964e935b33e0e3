package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/bibcards/internal/core"
	"github.com/JonMunkholm/bibcards/internal/logging"
	"github.com/JonMunkholm/bibcards/internal/render"
)

// formFile opens the multipart "file" field of a request limited to max bytes.
func formFile(w http.ResponseWriter, r *http.Request, max int64) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, max)

	if err := r.ParseMultipartForm(max); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			return nil, nil, fmt.Errorf("%w: limit is %d bytes", errFileTooBig, max)
		}
		return nil, nil, fmt.Errorf("%w: %v", errNoFile, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, errNoFile
	}
	if header.Size == 0 {
		file.Close()
		return nil, nil, errEmptyFile
	}
	return file, header, nil
}

// ParticipantsResponse is returned after a participant upload.
type ParticipantsResponse struct {
	Count        int                `json:"count"`
	Participants []participantEntry `json:"participants"`
}

type participantEntry struct {
	core.Participant
	HasBarcode      bool `json:"hasBarcode"`
	BarcodeFallback bool `json:"barcodeFallback,omitempty"`
}

func participantEntries(participants []core.Participant, barcodes map[string]core.BarcodeArtifact) []participantEntry {
	out := make([]participantEntry, 0, len(participants))
	for _, p := range participants {
		a, ok := barcodes[p.BibNumber]
		out = append(out, participantEntry{Participant: p, HasBarcode: ok, BarcodeFallback: a.Fallback})
	}
	return out
}

// handleUploadParticipants streams an uploaded CSV into the session.
func (s *Server) handleUploadParticipants(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := s.service.Session(id); err != nil {
		s.respondError(w, r, err)
		return
	}

	file, header, err := formFile(w, r, s.cfg.Upload.MaxFileSize)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer file.Close()

	logger := logging.WithFields(r.Context(), "session_id", id, "filename", header.Filename)
	participants, err := s.service.Ingest(id, file, header.Size)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	logger.Info("participants loaded", "count", len(participants), "bytes", header.Size)

	writeJSON(w, http.StatusOK, ParticipantsResponse{
		Count:        len(participants),
		Participants: participantEntries(participants, nil),
	})
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	participants := sess.Participants()
	writeJSON(w, http.StatusOK, ParticipantsResponse{
		Count:        len(participants),
		Participants: participantEntries(participants, sess.Barcodes()),
	})
}

// handleUploadBackground stores a background image after checking that the
// renderer can decode it.
func (s *Server) handleUploadBackground(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := s.service.Session(id); err != nil {
		s.respondError(w, r, err)
		return
	}

	file, _, err := formFile(w, r, s.cfg.Upload.MaxImageSize)
	if err != nil {
		_ = s.service.RejectBackground(id, err)
		s.respondError(w, r, err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		_ = s.service.RejectBackground(id, err)
		s.respondError(w, r, fmt.Errorf("read background: %w", err))
		return
	}

	mediaType, err := render.SniffImage(data, s.cfg.Upload.MaxImagePixels)
	if err != nil {
		_ = s.service.RejectBackground(id, err)
		s.respondError(w, r, err)
		return
	}

	if err := s.service.SetBackground(id, data, mediaType); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mediaType": mediaType, "size": len(data)})
}

func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var theme string
	if wantsJSON(r) {
		var body struct {
			Theme string `json:"theme"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
			s.respondError(w, r, fmt.Errorf("%w: %v", errInvalidBody, err))
			return
		}
		theme = body.Theme
	} else {
		theme = r.FormValue("theme")
	}

	if err := s.service.SetTheme(id, theme); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"theme": theme})
}

// handleNotifications returns notifications newer than ?since=N.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	since, _ := strconv.Atoi(r.URL.Query().Get("since"))
	notes := sess.Notifications(since)
	if notes == nil {
		notes = []core.Notification{}
	}
	writeJSON(w, http.StatusOK, notes)
}

// handleBarcode serves the barcode image of one bib number.
func (s *Server) handleBarcode(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	bib, err := url.PathUnescape(chi.URLParam(r, "bib"))
	if err != nil {
		bib = chi.URLParam(r, "bib")
	}
	artifact, ok := sess.Barcode(bib)
	if !ok {
		s.respondError(w, r, fmt.Errorf("%w: %s", core.ErrCardNotFound, bib))
		return
	}

	w.Header().Set("Content-Type", artifact.MediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	w.Header().Set("Cache-Control", "no-store")
	if artifact.Fallback {
		w.Header().Set("X-Barcode-Fallback", "true")
	}
	_, _ = w.Write(artifact.Data)
}

// handleArchive downloads the latest exported archive.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	archive, err := sess.Archive()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, archive.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(archive.Data)))
	_, _ = w.Write(archive.Data)
}
