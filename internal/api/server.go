package api

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/meshcore/tbr-agent/internal/actionqueue"
	"github.com/meshcore/tbr-agent/internal/allowlist"
	"github.com/meshcore/tbr-agent/internal/collections"
	"github.com/meshcore/tbr-agent/internal/collector"
	"github.com/meshcore/tbr-agent/internal/config"
)

// Server wraps the HTTP server and mux for the Thread border router agent's
// control API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a new API server wired with every action and
// device/diagnostic collection route, plus the supplemented system and
// allow-list endpoints.
func NewServer(
	port int,
	adminToken string,
	apiMaxBodyBytes int64,
	queue *actionqueue.Queue,
	devices *collections.Collection,
	diagnostics *collections.Collection,
	allowList *allowlist.List,
	coll *collector.Collector,
	startedAt time.Time,
	runtimeCfg *atomic.Pointer[config.RuntimeConfig],
) *Server {
	mux := http.NewServeMux()

	// Public (no auth).
	mux.Handle("GET /healthz", HandleHealthz())

	authed := http.NewServeMux()

	authed.Handle("POST /api/actions", HandleSubmitActions(queue))
	authed.Handle("GET /api/actions", HandleListActions(queue))
	authed.Handle("DELETE /api/actions", HandleDeleteAllActions(queue))
	authed.Handle("GET /api/actions/{id}", HandleGetAction(queue))

	authed.Handle("GET /api/devices", HandleListCollection(devices, "devices"))
	authed.Handle("GET /api/devices/{id}", HandleGetCollectionItem(devices, "devices"))
	authed.Handle("DELETE /api/devices", HandleClearCollection(devices))
	authed.Handle("POST /api/devices", HandleStartDiscovery(queue, devices, coll))

	authed.Handle("GET /api/diagnostics", HandleListCollection(diagnostics, "diagnostics"))
	authed.Handle("GET /api/diagnostics/{id}", HandleGetCollectionItem(diagnostics, "diagnostics"))
	authed.Handle("DELETE /api/diagnostics", HandleClearCollection(diagnostics))

	authed.Handle("GET /api/allowlist", HandleListAllowlist(allowList))

	authed.Handle("GET /api/system", HandleSystemInfo(startedAt, runtimeCfg))
	authed.Handle("PATCH /api/system/config", HandlePatchSystemConfig(runtimeCfg))

	limitedAuthed := RequestBodyLimitMiddleware(apiMaxBodyBytes, authed)
	mux.Handle("/api/", AuthMiddleware(adminToken, limitedAuthed))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
