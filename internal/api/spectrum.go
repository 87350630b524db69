package api

import (
	"bytes"
	"image/png"
	"net/http"

	"github.com/banshee-data/spectro.cam/internal/httputil"
	"github.com/banshee-data/spectro.cam/internal/spectrum"
)

func (s *Server) handleSpectrum(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	snap, err := s.host.Snapshot(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, snap)
}

func (s *Server) handleSpectrumCSV(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	points, err := s.host.ExportPoints(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="spectrum.csv"`)
	if err := spectrum.WriteExportCSV(w, points); err != nil {
		writeError(w, err)
	}
}

func (s *Server) handleSpectrumPNG(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	var buf bytes.Buffer
	if err := s.host.WritePlot(ctx, &buf); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	index, err := httputil.QueryInt(r, "index", spectrum.ChannelSum)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	points, err := s.host.Channel(ctx, index)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(points) == 0 {
		writeError(w, spectrum.ErrNoSpectrum)
		return
	}
	httputil.WriteJSONOK(w, points)
}

func (s *Server) handlePeaks(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	var peaks bool
	switch kind := r.URL.Query().Get("kind"); kind {
	case "", "peaks":
		peaks = true
	case "dips":
	default:
		httputil.BadRequest(w, "'kind' must be peaks or dips")
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	points, err := s.host.Peaks(ctx, peaks)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, points)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	path, err := s.host.Export(ctx, r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"path": path})
}

// handlePreview serves the latest full camera frame. A frame is served once;
// 404 means no new frame arrived since the last request.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	win, ok := s.host.Preview()
	if !ok || win.Data == nil {
		httputil.NotFound(w, "no preview frame available")
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, win.Data.ToRGBA()); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}
