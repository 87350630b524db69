package api

import (
	"net/http"
	"strings"

	"github.com/banshee-data/spectro.cam/internal/db"
	"github.com/banshee-data/spectro.cam/internal/httputil"
)

// handleRecordings lists recordings (GET ?limit=) or records the current
// spectrum (POST ?label=).
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodPost {
		ctx, cancel := requestContext(r)
		defer cancel()
		id, err := s.host.Record(ctx, r.URL.Query().Get("label"))
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, map[string]string{"id": id})
		return
	}

	limit, err := httputil.QueryInt(r, "limit", db.DefaultRecordingsLimit)
	if err != nil || limit < 1 {
		httputil.BadRequest(w, "invalid 'limit' parameter")
		return
	}
	recs, err := s.host.Recordings(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, recs)
}

func (s *Server) handleRecordingByID(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet, http.MethodDelete) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/recordings/")
	if id == "" || strings.Contains(id, "/") {
		httputil.NotFound(w, "recording not found")
		return
	}

	if r.Method == http.MethodDelete {
		writeResult(w, s.host.DeleteRecording(id))
		return
	}
	rec, err := s.host.Recording(id)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, rec)
}
