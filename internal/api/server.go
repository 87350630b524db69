// Package api serves the spectrometer control and data endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/spectro.cam/internal/db"
	"github.com/banshee-data/spectro.cam/internal/httputil"
	"github.com/banshee-data/spectro.cam/internal/monitoring"
	"github.com/banshee-data/spectro.cam/internal/reference"
	"github.com/banshee-data/spectro.cam/internal/security"
	"github.com/banshee-data/spectro.cam/internal/spectrometer"
	"github.com/banshee-data/spectro.cam/internal/spectrum"
)

// ANSI escape codes for the access log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// requestTimeout bounds how long a handler waits for the host loop.
const requestTimeout = 5 * time.Second

type Server struct {
	host *spectrometer.Host
}

func NewServer(host *spectrometer.Host) *Server {
	return &Server{host: host}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with every /api route registered.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes registers the API routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/stream/", s.handleStream)

	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/config/save", s.handleSaveConfig)
	mux.HandleFunc("/api/calibration/gain-preset", s.handleGainPreset)
	mux.HandleFunc("/api/calibration/reference", s.handleCalibrationReference)
	mux.HandleFunc("/api/zero-reference", s.handleZeroReference)

	mux.HandleFunc("/api/spectrum", s.handleSpectrum)
	mux.HandleFunc("/api/spectrum.csv", s.handleSpectrumCSV)
	mux.HandleFunc("/api/spectrum.png", s.handleSpectrumPNG)
	mux.HandleFunc("/api/spectrum/channel", s.handleChannel)
	mux.HandleFunc("/api/peaks", s.handlePeaks)
	mux.HandleFunc("/api/export", s.handleExport)
	mux.HandleFunc("/api/preview.png", s.handlePreview)

	mux.HandleFunc("/api/reference", s.handleReference)
	mux.HandleFunc("/api/reference.csv", s.handleReferenceCSV)
	mux.HandleFunc("/api/reference/import", s.handleReferenceImport)
	mux.HandleFunc("/api/reference/tungsten", s.handleReferenceTungsten)
	mux.HandleFunc("/api/reference/store", s.handleReferenceStore)
	mux.HandleFunc("/api/reference/load", s.handleReferenceLoad)
	mux.HandleFunc("/api/references", s.handleReferences)

	mux.HandleFunc("/api/recordings", s.handleRecordings)
	mux.HandleFunc("/api/recordings/", s.handleRecordingByID)
}

// requestContext bounds r's context by requestTimeout.
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, spectrometer.ErrInvalidConfig),
		errors.Is(err, spectrometer.ErrInvalidChannel),
		errors.Is(err, reference.ErrNoReference),
		errors.Is(err, reference.ErrOutOfRange),
		errors.Is(err, reference.ErrInvalidCSV),
		errors.Is(err, spectrum.ErrZeroSignal),
		errors.Is(err, security.ErrInvalidPath),
		errors.Is(err, security.ErrOutsideDirectory):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, spectrum.ErrNoSpectrum):
		return http.StatusConflict
	case errors.Is(err, spectrometer.ErrNoStore):
		return http.StatusNotImplemented
	case errors.Is(err, spectrometer.ErrStopped),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError writes err with the status statusFor picks. Server errors are
// logged.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		monitoring.Logf("[API] %v", err)
	}
	httputil.WriteJSONError(w, status, err.Error())
}

// writeResult writes {"status":"ok"} or the error.
func writeResult(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	st, err := s.host.Status(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, st)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()

	var err error
	switch action := r.URL.Path[len("/api/stream/"):]; action {
	case "start":
		err = s.host.StartStream(ctx)
	case "stop":
		err = s.host.StopStream(ctx)
	case "pause":
		err = s.host.PauseStream(ctx)
	case "resume":
		err = s.host.ResumeStream(ctx)
	default:
		httputil.NotFound(w, "unknown stream action "+strconv.Quote(action))
		return
	}
	writeResult(w, err)
}
