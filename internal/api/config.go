package api

import (
	"net/http"

	"github.com/banshee-data/spectro.cam/internal/config"
	"github.com/banshee-data/spectro.cam/internal/httputil"
)

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()

	if r.Method == http.MethodGet {
		cfg, err := s.host.Config(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, cfg)
		return
	}

	// omitted fields keep their current values
	cfg, err := s.host.Config(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := httputil.DecodeJSON(w, r, cfg); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.host.UpdateConfig(ctx, cfg); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, cfg)
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	writeResult(w, s.host.SaveConfig(ctx))
}

func (s *Server) handleGainPreset(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	preset := r.URL.Query().Get("preset")
	if preset == "" {
		httputil.BadRequest(w, "missing 'preset' parameter")
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	writeResult(w, s.host.SetGainPreset(ctx, config.GainPreset(preset)))
}

// handleCalibrationReference commits or clears the per-column reference
// scaling.
func (s *Server) handleCalibrationReference(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost, http.MethodDelete) {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	if r.Method == http.MethodDelete {
		writeResult(w, s.host.ClearCalibration(ctx))
		return
	}
	writeResult(w, s.host.CommitCalibration(ctx))
}

func (s *Server) handleZeroReference(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost, http.MethodDelete) {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	if r.Method == http.MethodDelete {
		writeResult(w, s.host.ClearZeroReference(ctx))
		return
	}
	writeResult(w, s.host.SetZeroReference(ctx))
}
