package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"gridcal/internal/capture"
	"gridcal/internal/config"
	appLog "gridcal/internal/log"
	"gridcal/internal/model"
	"gridcal/internal/pipeline"
)

// maxCaptureBytes bounds POST /api/captures bodies.
const maxCaptureBytes = 16 << 20

// CaptureURLHeader marks a raw feed body posted to /api/captures; its value
// is the URL the body was fetched from.
const CaptureURLHeader = "X-Capture-URL"

// Server provides the HTTP API over a pipeline: capture ingestion, change
// inspection, and CSV / iCalendar downloads.
type Server struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	source   capture.Source
	mux      *http.ServeMux

	// Rendered exports, keyed by format. An entry is valid while the newest
	// stored capture is the one it was rendered after and the local date has
	// not changed since.
	exportMu    sync.RWMutex
	exportCache map[pipeline.Format]*exportCache
}

type exportCache struct {
	out       pipeline.Export
	captureAt time.Time
	body      string
	day       string
}

// NewServer constructs a new Server. src may be nil, in which case
// POST /api/refresh is unavailable.
func NewServer(cfg *config.Config, p *pipeline.Pipeline, src capture.Source) *Server {
	s := &Server{
		cfg:         cfg,
		pipeline:    p,
		source:      src,
		mux:         http.NewServeMux(),
		exportCache: make(map[pipeline.Format]*exportCache),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than lock everyone out.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="gridcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves the API on cfg.Listen until ctx is canceled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/captures", s.handlePostCapture)
	s.mux.HandleFunc("GET /api/captures/latest", s.handleLatestCapture)
	s.mux.HandleFunc("GET /api/diff", s.handleDiff)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /export.csv", s.handleExport(pipeline.FormatCSV))
	s.mux.HandleFunc("GET /export.ics", s.handleExport(pipeline.FormatICS))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePostCapture accepts a capture from an external collaborator.
//
// Two body forms are accepted:
//   - a JSON Capture object ({"url", "method", "status", "responseData", ...})
//   - the raw feed body, with its source URL in the X-Capture-URL header
func (s *Server) handlePostCapture(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCaptureBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "capture body too large")
		return
	}

	c, err := decodeCapture(r, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := s.pipeline.Ingest(r.Context(), c)
	if err != nil {
		appLog.Error("api captures: ingest failed", err)
		writeError(w, http.StatusInternalServerError, "failed to store capture")
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func decodeCapture(r *http.Request, body []byte) (model.Capture, error) {
	if u := r.Header.Get(CaptureURLHeader); u != "" {
		return model.Capture{
			URL:    u,
			Method: http.MethodGet,
			Body:   string(body),
			Status: http.StatusOK,
		}, nil
	}

	var c model.Capture
	if err := json.Unmarshal(body, &c); err != nil {
		return model.Capture{}, errors.New("body must be a capture object or carry " + CaptureURLHeader)
	}
	if c.URL == "" && c.Body == "" {
		return model.Capture{}, errors.New("capture has neither url nor responseData")
	}
	if c.Method == "" {
		c.Method = http.MethodGet
	}
	return c, nil
}

func (s *Server) handleLatestCapture(w http.ResponseWriter, r *http.Request) {
	c, found, err := s.pipeline.Latest(r.Context())
	if err != nil {
		appLog.Error("api captures: read latest failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read captures")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no captures stored")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	d, err := s.pipeline.LatestDiff(r.Context())
	if err != nil {
		appLog.Error("api diff failed", err)
		writeError(w, http.StatusInternalServerError, "failed to compare captures")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleRefresh takes a capture from the configured source right away,
// outside the cron schedule.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		writeError(w, http.StatusServiceUnavailable, "no capture source configured")
		return
	}
	d, err := s.pipeline.Refresh(r.Context(), s.source)
	if err != nil {
		appLog.Error("api refresh failed", err)
		writeError(w, http.StatusBadGateway, "capture failed")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleExport(f pipeline.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := s.export(r.Context(), f)
		switch {
		case errors.Is(err, pipeline.ErrNoData), errors.Is(err, pipeline.ErrNoEvents):
			writeError(w, http.StatusNotFound, err.Error())
			return
		case err != nil:
			appLog.Error("api export failed", err, "format", string(f))
			writeError(w, http.StatusInternalServerError, "export failed")
			return
		}

		w.Header().Set("Content-Type", out.ContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+out.FileName+`"`)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, out.Body)
	}
}

func (s *Server) export(ctx context.Context, f pipeline.Format) (pipeline.Export, error) {
	latest, found, err := s.pipeline.Latest(ctx)
	if err != nil {
		return pipeline.Export{}, err
	}
	if !found {
		return pipeline.Export{}, pipeline.ErrNoData
	}

	day := s.pipeline.Today()
	s.exportMu.RLock()
	ec := s.exportCache[f]
	s.exportMu.RUnlock()
	if ec != nil && ec.day == day && ec.captureAt.Equal(latest.Timestamp) && ec.body == latest.Body {
		return ec.out, nil
	}

	out, err := s.pipeline.Export(ctx, f)
	if err != nil {
		return pipeline.Export{}, err
	}

	s.exportMu.Lock()
	s.exportCache[f] = &exportCache{out: out, captureAt: latest.Timestamp, body: latest.Body, day: day}
	s.exportMu.Unlock()
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
