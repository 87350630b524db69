package api

import (
	"net/http"

	"github.com/banshee-data/spectro.cam/internal/httputil"
	"github.com/banshee-data/spectro.cam/internal/reference"
)

// handleReference returns the loaded curve as JSON, or unloads it.
func (s *Server) handleReference(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet, http.MethodDelete) {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	if r.Method == http.MethodDelete {
		writeResult(w, s.host.ClearReference(ctx))
		return
	}
	points, err := s.host.ReferencePoints(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, points)
}

func (s *Server) handleReferenceCSV(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	points, err := s.host.ReferencePoints(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="reference.csv"`)
	if err := reference.WriteCSV(w, points); err != nil {
		writeError(w, err)
	}
}

func (s *Server) handleReferenceImport(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	writeResult(w, s.host.ImportReference(ctx, r.URL.Query().Get("path")))
}

func (s *Server) handleReferenceTungsten(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	temp, err := httputil.QueryInt(r, "temp", reference.DefaultFilamentTemp)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	writeResult(w, s.host.SetTungstenReference(ctx, temp))
}

func (s *Server) handleReferenceStore(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		httputil.BadRequest(w, "missing 'name' parameter")
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	writeResult(w, s.host.StoreReference(ctx, name))
}

func (s *Server) handleReferenceLoad(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		httputil.BadRequest(w, "missing 'name' parameter")
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	writeResult(w, s.host.LoadReference(ctx, name))
}

// handleReferences lists the curves stored in the database, or deletes the
// one named by ?name=.
func (s *Server) handleReferences(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet, http.MethodDelete) {
		return
	}
	if r.Method == http.MethodDelete {
		name := r.URL.Query().Get("name")
		if name == "" {
			httputil.BadRequest(w, "missing 'name' parameter")
			return
		}
		writeResult(w, s.host.DeleteStoredReference(name))
		return
	}
	refs, err := s.host.References()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, refs)
}
