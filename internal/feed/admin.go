package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/spectro.cam/internal/frame"
)

// echartsAssetsPrefix serves the echarts javascript for the debug charts.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// chartPayload mirrors the broadcast snapshot.
type chartPayload struct {
	Start    time.Time             `json:"start"`
	End      time.Time             `json:"end"`
	Spectrum []frame.SpectrumPoint `json:"spectrum"`
}

// AttachAdminRoutes registers the feed debug pages on mux.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("feed-clients", "Connected spectrum feed clients", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Stats   Stats        `json:"stats"`
			Clients []ClientInfo `json:"clients"`
		}{s.Stats(), s.Clients()})
	})

	debug.HandleFunc("spectrum-chart", "Latest broadcast spectrum", s.handleSpectrumChart)

	// Server-Sent Events with every broadcast payload.
	debug.HandleSilentFunc("feed-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

func (s *Server) handleSpectrumChart(w http.ResponseWriter, r *http.Request) {
	latest := s.Latest()
	if latest == nil {
		http.Error(w, "no spectrum broadcast yet", http.StatusNotFound)
		return
	}
	var snap chartPayload
	if err := json.Unmarshal(latest, &snap); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusInternalServerError)
		return
	}

	x := make([]string, len(snap.Spectrum))
	y := make([]opts.LineData, len(snap.Spectrum))
	for i, p := range snap.Spectrum {
		x[i] = fmt.Sprintf("%.1f", p.Wavelength)
		y[i] = opts.LineData{Value: p.Value}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Spectrum", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Spectrum",
			Subtitle: fmt.Sprintf("%s to %s", snap.Start.Format(time.RFC3339Nano), snap.End.Format(time.RFC3339Nano)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "wavelength (nm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "intensity"}),
	)
	line.SetXAxis(x).AddSeries("sum", y)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
