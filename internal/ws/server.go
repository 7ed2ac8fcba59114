package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/jumepi/polar-h10-health-checker/internal/config"
	"github.com/jumepi/polar-h10-health-checker/internal/export"
	"github.com/jumepi/polar-h10-health-checker/internal/ingest"
	"github.com/jumepi/polar-h10-health-checker/internal/session"
)

// TokenHeader carries the auth token for clients that cannot set
// Authorization.
const TokenHeader = "X-H10-Token"

type Server struct {
	store          *session.Store
	ingestor       *ingest.Ingestor
	broadcaster    *Broadcaster
	transport      *ingest.TransportHealth
	exportFormat   export.Format
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	logger         *slog.Logger
	started        time.Time
	proc           *process.Process
	frontend       http.Handler
}

// NewServer wires the HTTP API over the store and its ingestor. transport
// may be nil when nothing is acquiring.
func NewServer(cfg config.ServerConfig, store *session.Store, in *ingest.Ingestor, b *Broadcaster, transport *ingest.TransportHealth, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:          store,
		ingestor:       in,
		broadcaster:    b,
		transport:      transport,
		exportFormat:   export.FormatCSV,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.AuthToken,
		logger:         logger.With("component", "http"),
		started:        time.Now(),
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	}
	return s
}

// SetExportFormat sets the format used when /api/export has no format
// parameter.
func (s *Server) SetExportFormat(f export.Format) {
	s.exportFormat = f
}

// SetFrontend mounts h at "/". The API routes take precedence.
func (s *Server) SetFrontend(h http.Handler) {
	s.frontend = h
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/frame", s.handleFrame)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/session/reset", s.handleReset)
	mux.HandleFunc("/api/session/stop", s.handleStop)
	mux.HandleFunc("/api/session/resume", s.handleResume)
	mux.HandleFunc("/api/export", s.handleExport)
	mux.HandleFunc("/api/health", s.handleHealth)
	if s.frontend != nil {
		mux.Handle("/", s.frontend)
	}
}

// Handler returns the routes wrapped with security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		s.logger.Warn("ws client rejected", "remote", r.RemoteAddr, "err", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	s.logger.Info("ws client connected", "remote", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.logger.Info("ws client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var window float64
	if v := r.URL.Query().Get("window"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) || parsed <= 0 {
			http.Error(w, "window must be a positive number of seconds", http.StatusBadRequest)
			return
		}
		window = parsed
	}
	writeJSON(w, http.StatusOK, s.broadcaster.Frame(r.Context(), window))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, SessionPayload{
		Session: s.store.Summary(),
		Health:  s.health(false),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	prev := s.store.Reset()
	s.ingestor.Resume()
	payload := ResetPayload{Previous: prev.Summary(), Current: s.store.Summary()}
	s.logger.Info("session reset", "previous", prev.ID, "samples", prev.SampleCount, "current", payload.Current.ID)
	s.broadcaster.Broadcast(WSMessage{Type: MsgReset, Payload: payload})
	writeJSON(w, http.StatusOK, payload)
}

// handleStop halts ingestion. The response is sent only after in-flight
// appends have finished, so a snapshot taken afterwards is final.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.ingestor.Stop()
	writeJSON(w, http.StatusOK, s.store.Summary())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.ingestor.Resume()
	writeJSON(w, http.StatusOK, s.store.Summary())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	format := s.exportFormat
	if v := r.URL.Query().Get("format"); v != "" {
		f, err := export.ParseFormat(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		format = f
	}

	snap := s.store.Snapshot()
	rows, err := export.SnapshotRows(snap)
	if errors.Is(err, export.ErrEmptySession) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Buffer so a writer failure can still become a 500.
	var buf bytes.Buffer
	if err := export.Write(r.Context(), &buf, format, rows); err != nil {
		s.logger.Error("export failed", "format", format, "err", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}

	name := export.FileName(snap.ID, format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
	s.logger.Info("session exported", "session", snap.ID, "format", format, "rows", len(rows))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, s.health(true))
}

func (s *Server) health(withProcess bool) HealthPayload {
	h := HealthPayload{
		Streams: s.ingestor.Health(),
		Stopped: s.ingestor.Stopped(),
		Clients: s.broadcaster.ClientCount(),
	}
	if s.transport != nil {
		st := s.transport.State(ingest.DefaultFailureThreshold)
		h.Transport = &st
	}
	if withProcess {
		h.Process = s.processStats()
	}
	return h
}

func (s *Server) processStats() *ProcessStats {
	st := &ProcessStats{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
		UptimeSec:  time.Since(s.started).Seconds(),
	}
	if s.proc == nil {
		return st
	}
	if mem, err := s.proc.MemoryInfo(); err == nil {
		st.RSSBytes = mem.RSS
	}
	if cpu, err := s.proc.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	return st
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get(TokenHeader) == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// ListenAndServe serves handler until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, host string, port int, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
