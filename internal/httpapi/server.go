// Package httpapi exposes the gateway's HTTP surface: provider
// webhooks, flow and credential management, and health.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/threadlinehq/threadline/internal/config"
	"github.com/threadlinehq/threadline/internal/pipeline"
	"github.com/threadlinehq/threadline/internal/store"
)

// InboundProcessor runs one inbound message through the pipeline.
// Satisfied by *pipeline.Pipeline.
type InboundProcessor interface {
	ProcessInbound(ctx context.Context, ev pipeline.InboundEvent) error
}

// Server is the gateway HTTP server.
type Server struct {
	cfg       *config.Config
	processor InboundProcessor
	stores    *store.Stores
	log       *slog.Logger

	limiter    *senderRateLimiter
	mux        *http.ServeMux
	httpServer *http.Server
}

func NewServer(cfg *config.Config, processor InboundProcessor, stores *store.Stores, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		processor: processor,
		stores:    stores,
		log:       log,
		limiter:   newSenderRateLimiter(defaultSenderLimits()),
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /webhooks/whatsapp/inbound", s.handleInbound)
	s.mux.HandleFunc("POST /webhooks/whatsapp/status", s.handleStatus)

	s.mux.HandleFunc("GET /v1/flows", s.auth(s.handleFlowList))
	s.mux.HandleFunc("POST /v1/flows", s.auth(s.handleFlowCreate))
	s.mux.HandleFunc("GET /v1/flows/{id}", s.auth(s.handleFlowGet))
	s.mux.HandleFunc("PUT /v1/flows/{id}", s.auth(s.handleFlowUpdate))
	s.mux.HandleFunc("POST /v1/flows/{id}/publish", s.auth(s.handleFlowPublish))
	s.mux.HandleFunc("POST /v1/flows/{id}/archive", s.auth(s.handleFlowArchive))

	s.mux.HandleFunc("GET /v1/credentials", s.auth(s.handleCredentialList))
	s.mux.HandleFunc("POST /v1/credentials", s.auth(s.handleCredentialUpsert))
	s.mux.HandleFunc("DELETE /v1/credentials/{serviceType}", s.auth(s.handleCredentialDeactivate))

	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Start runs the listener until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errc <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// auth requires the configured bearer token on management endpoints.
// An empty configured token leaves the endpoints open (dev mode).
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIToken != "" {
			if extractBearerToken(r) != s.cfg.Server.APIToken {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
