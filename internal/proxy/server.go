// Package proxy implements the OpenAI-compatible HTTP surface: it rewrites
// chat completion requests from the embedded-XML tool convention to native
// tool calling, forwards them upstream, and converts the responses back.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/toolbridge/toolbridge/internal/config"
	"github.com/toolbridge/toolbridge/internal/upstream"
)

// Server is the main proxy HTTP server.
type Server struct {
	Config      *config.ServerConfig
	httpServer  *http.Server
	client      *upstream.Client
	debugDumpMu sync.Mutex
	dumpFileMu  sync.Mutex
}

// New creates a new proxy server with all routes registered.
func New(cfg *config.ServerConfig) *Server {
	s := &Server{
		Config: cfg,
		client: upstream.NewClient(cfg.TargetBaseURL, cfg.UpstreamAPIKey, cfg.Verbose, cfg.Debug),
	}

	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)

	// OpenAI-compatible routes
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleListModels)

	// OPTIONS for CORS preflight
	mux.HandleFunc("OPTIONS /", s.handleOptions)

	handler := s.corsMiddleware(s.verboseMiddleware(s.debugMiddleware(mux)))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
		// ReadTimeout covers only reading the request body; 30s is plenty
		// for any JSON payload.
		ReadTimeout: 30 * time.Second,
		// WriteTimeout must outlast long upstream SSE streams.
		WriteTimeout: 600 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// ListenAndServe starts the proxy server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware allows requests from any origin. The adapter is designed
// for local use; wildcard CORS lets browser-based IDE extensions reach it
// without a per-origin allowlist.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqHeaders := r.Header.Get("Access-Control-Request-Headers")
		if reqHeaders == "" {
			reqHeaders = "Authorization, Content-Type, Accept"
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) verboseMiddleware(next http.Handler) http.Handler {
	if !s.Config.Verbose {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) debugMiddleware(next http.Handler) http.Handler {
	if s.Config == nil || !s.Config.Debug {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dump, err := httputil.DumpRequest(r, true)
		if err != nil {
			slog.Error("request.dump.failed", "method", r.Method, "path", r.URL.Path, "error", err)
		} else {
			slog.Info("request.dump", "method", r.Method, "path", r.URL.Path)
			s.writeDebugDumpBlock("INBOUND REQUEST", dump)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeDebugDumpBlock(title string, data []byte) {
	if s == nil {
		return
	}
	s.debugDumpMu.Lock()
	defer s.debugDumpMu.Unlock()

	header := "===== " + strings.TrimSpace(title) + " BEGIN =====\n"
	footer := "===== " + strings.TrimSpace(title) + " END =====\n"

	if _, err := os.Stderr.WriteString(header); err != nil {
		slog.Error("debug.dump.write.failed", "title", title, "error", err)
		return
	}
	if len(data) > 0 {
		if _, err := os.Stderr.Write(data); err != nil {
			slog.Error("debug.dump.write.failed", "title", title, "error", err)
			return
		}
		if data[len(data)-1] != '\n' {
			if _, err := os.Stderr.WriteString("\n"); err != nil {
				slog.Error("debug.dump.write.failed", "title", title, "error", err)
				return
			}
		}
	}
	if _, err := os.Stderr.WriteString(footer); err != nil {
		slog.Error("debug.dump.write.failed", "title", title, "error", err)
	}
}
