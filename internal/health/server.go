// Package health exposes a lightweight HTTP health endpoint for container
// probes and a read-only view of the loaded commands.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"wa_command_bot/internal/logging"
	"wa_command_bot/internal/plugin"
)

const (
	storePingTimeout   = 2 * time.Second
	readHeaderTimeout  = 2 * time.Second
	healthListenPrefix = ":"
)

// StoreChecker defines the subset of store behavior required for health.
type StoreChecker interface {
	Ping(ctx context.Context) error
}

// ConnectionChecker reports whether the chat transport session is up.
type ConnectionChecker interface {
	Connected() bool
}

// PluginLister lists the registered command descriptors.
type PluginLister interface {
	All() []plugin.Descriptor
}

// Deps are the collaborators probed by the endpoints. Nil fields are
// reported as errors on /healthz; a nil Plugins disables /plugins.
type Deps struct {
	Store     StoreChecker
	Transport ConnectionChecker
	Plugins   PluginLister
}

// Server hosts the health endpoints and owns the underlying HTTP server.
type Server struct {
	server *http.Server
	logger *logrus.Entry
	deps   Deps
}

type response struct {
	Status    string `json:"status"`
	Store     string `json:"store,omitempty"`
	Transport string `json:"transport,omitempty"`
}

type pluginView struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description,omitempty"`
	Enabled     bool     `json:"enabled"`
	Builtin     bool     `json:"builtin"`
	Aliases     []string `json:"aliases"`
	Permissions []string `json:"permissions"`
	CooldownMS  int64    `json:"cooldown_ms"`
}

// NewServer constructs a health server that exposes GET /healthz and
// GET /plugins on the provided port.
func NewServer(port int, deps Deps, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger: logging.Component(logger, "health"),
		deps:   deps,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/plugins", srv.handlePlugins)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", healthListenPrefix, port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// ListenAndServe starts the health server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("event", "health_stopped").Info("health server stopped")
			return nil
		}

		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok"}

	if s.deps.Store == nil {
		resp.Store = "error"
		s.logger.WithField("event", "health_store_missing").Warn("store checker is not configured for health endpoint")
	} else {
		pingCtx, cancel := context.WithTimeout(r.Context(), storePingTimeout)
		err := s.deps.Store.Ping(pingCtx)
		cancel()

		if err != nil {
			resp.Store = "error"
			s.logger.WithFields(logging.Fields{
				"event": "health_store_error",
			}).WithError(err).Warn("store ping failed during health check")
		}
	}

	if s.deps.Transport == nil || !s.deps.Transport.Connected() {
		resp.Transport = "disconnected"
	}

	if resp.Store != "" || resp.Transport != "" {
		resp.Status = "degraded"
	}

	s.writeJSON(w, resp)
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Plugins == nil {
		http.NotFound(w, r)
		return
	}

	all := s.deps.Plugins.All()
	views := make([]pluginView, 0, len(all))
	for _, d := range all {
		views = append(views, pluginView{
			Name:        d.Name,
			Category:    d.Category,
			Description: d.Description,
			Enabled:     d.Enabled,
			Builtin:     d.Builtin,
			Aliases:     append([]string{}, d.Aliases...),
			Permissions: append([]string{}, d.Permissions...),
			CooldownMS:  d.Cooldown.Milliseconds(),
		})
	}

	s.writeJSON(w, views)
}

func (s *Server) writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}
