// Package gateway serves the local dashboard API: task submission,
// steering, provider status, and the live event stream over SSE and
// WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"zora/internal/provider"
	"zora/internal/session"
	"zora/pkg/logger"
)

const (
	authProbeTimeout = 5 * time.Second
	shutdownGrace    = 5 * time.Second
)

// Config wires the server to the orchestration core. Submit and Steer
// are injected to keep the gateway transport-only.
type Config struct {
	Addr      string
	StaticDir string

	RateLimit  int
	RateWindow time.Duration

	Registry *provider.Registry
	Sessions *session.Store

	// Submit accepts a prompt and returns the assigned job id.
	Submit func(prompt string) (string, error)
	// Steer posts a mid-task steering message.
	Steer func(jobID, message, author, source string) error
	// ActiveJobs reports in-flight jobs and their pipeline states.
	ActiveJobs func() map[string]string
}

// Server is the HTTP gateway.
type Server struct {
	cfg     Config
	hub     *Hub
	limiter *RateLimiter
	httpSrv *http.Server
	started time.Time
}

// New builds the server and its routes. The middleware chain is
// Recovery -> Logging -> RateLimit.
func New(cfg Config) *Server {
	s := &Server{
		cfg:     cfg,
		hub:     NewHub(),
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		started: time.Now(),
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/quota", s.handleQuota).Methods(http.MethodGet)
	api.HandleFunc("/jobs", s.handleJobs).Methods(http.MethodGet)
	api.HandleFunc("/system", s.handleSystem).Methods(http.MethodGet)
	api.HandleFunc("/task", s.handleTask).Methods(http.MethodPost)
	api.HandleFunc("/steer", s.handleSteer).Methods(http.MethodPost)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)
	r.PathPrefix("/").HandlerFunc(s.handleStatic)

	var handler http.Handler = r
	handler = rateLimitMiddleware(s.limiter, handler)
	handler = loggingMiddleware(handler)
	handler = recoveryMiddleware(handler)

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Hub exposes the broadcast hub so the orchestrator can feed it.
func (s *Server) Hub() *Hub { return s.hub }

// Handler exposes the full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	logger.Info().Str("addr", s.cfg.Addr).Msg("gateway listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains connections and disconnects stream subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	s.limiter.Close()
	sctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	return s.httpSrv.Shutdown(sctx)
}

type providerHealth struct {
	Name           string     `json:"name"`
	Valid          bool       `json:"valid"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	CanAutoRefresh bool       `json:"canAutoRefresh"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), authProbeTimeout)
	defer cancel()

	var (
		providers []providerHealth
		anyValid  bool
	)
	if s.cfg.Registry != nil {
		for _, p := range s.cfg.Registry.All() {
			st := p.CheckAuth(ctx)
			providers = append(providers, providerHealth{
				Name:           p.Name(),
				Valid:          st.Valid,
				ExpiresAt:      st.ExpiresAt,
				CanAutoRefresh: st.CanAutoRefresh,
			})
			if st.Valid {
				anyValid = true
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        anyValid,
		"providers": providers,
	})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), authProbeTimeout)
	defer cancel()

	var out []map[string]any
	if s.cfg.Registry != nil {
		for _, p := range s.cfg.Registry.All() {
			out = append(out, map[string]any{
				"name":     p.Name(),
				"auth":     p.CheckAuth(ctx),
				"quota":    p.QuotaStatus(),
				"usage":    p.Usage(),
				"costTier": p.CostTier().String(),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "providers": out})
}

type jobInfo struct {
	JobID     string    `json:"jobId"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updatedAt"`
	SizeBytes int64     `json:"sizeBytes"`
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	active := map[string]string{}
	if s.cfg.ActiveJobs != nil {
		active = s.cfg.ActiveJobs()
	}

	var jobs []jobInfo
	if s.cfg.Sessions != nil {
		infos, err := s.cfg.Sessions.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, info := range infos {
			state, ok := active[info.JobID]
			if !ok {
				state = "stored"
			}
			jobs = append(jobs, jobInfo{
				JobID:     info.JobID,
				State:     state,
				UpdatedAt: info.UpdatedAt,
				SizeBytes: info.SizeBytes,
			})
			delete(active, info.JobID)
		}
	}
	// In-flight jobs whose session log has not hit disk yet.
	for id, state := range active {
		jobs = append(jobs, jobInfo{JobID: id, State: state, UpdatedAt: time.Now()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "jobs": jobs})
}

func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"uptime":        time.Since(s.started).Round(time.Second).String(),
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
		"goroutines":    runtime.NumGoroutine(),
		"memory": map[string]any{
			"used":  m.Alloc,
			"total": m.Sys,
		},
	})
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if s.cfg.Submit == nil {
		writeError(w, http.StatusServiceUnavailable, "task submission unavailable")
		return
	}
	jobID, err := s.cfg.Submit(req.Prompt)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "jobId": jobID})
}

func (s *Server) handleSteer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID   string `json:"jobId"`
		Message string `json:"message"`
		Author  string `json:"author"`
		Source  string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.JobID == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "jobId and message are required")
		return
	}
	if s.cfg.Steer == nil {
		writeError(w, http.StatusServiceUnavailable, "steering unavailable")
		return
	}
	if err := s.cfg.Steer(req.JobID, req.Message, req.Author, req.Source); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleStatic serves the dashboard bundle, falling back to the SPA
// entry point for client-side routes.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if s.cfg.StaticDir == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	path := filepath.Join(s.cfg.StaticDir, filepath.Clean("/"+r.URL.Path))
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		http.ServeFile(w, r, path)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.cfg.StaticDir, "index.html"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
