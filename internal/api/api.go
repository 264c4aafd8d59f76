// Package api exposes the relay's operator-facing surface: REST CRUD over
// trade groups and members, live connection listing, global settings, a
// runtime metrics snapshot, and a websocket that pushes system-state
// snapshots and UI notifications. It never touches the EA wire protocol
// directly (see internal/gateway for that); it reads and writes through
// internal/persist and internal/bus exactly as the router does.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sankey-copier/relay-server/internal/bus"
	"github.com/sankey-copier/relay-server/internal/conntrack"
	"github.com/sankey-copier/relay-server/internal/persist"
	"github.com/sankey-copier/relay-server/internal/snapshot"
	"github.com/sankey-copier/relay-server/internal/statusupdater"
	"go.uber.org/zap"
)

// Server wires the REST/WS handlers to the relay's shared components.
type Server struct {
	store   *persist.Store
	conns   *conntrack.Tracker
	bus     *bus.Bus
	snap    *snapshot.Broadcaster
	updater *statusupdater.Updater
	log     *zap.Logger
	startAt time.Time
}

// New builds a Server. updater is invoked after every operator-intent toggle
// (enable/disable master or member) so the new runtime_status and
// warning_codes are recomputed and republished immediately, rather than
// waiting for the next heartbeat-triggered recompute.
func New(store *persist.Store, conns *conntrack.Tracker, b *bus.Bus, snap *snapshot.Broadcaster, updater *statusupdater.Updater, log *zap.Logger) *Server {
	return &Server{store: store, conns: conns, bus: b, snap: snap, updater: updater, log: log, startAt: time.Now()}
}

// Router builds the chi mux, with permissive CORS for the operator UI.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/trade-groups", func(r chi.Router) {
		r.Get("/", s.handleListTradeGroups)
		r.Post("/", s.handleCreateTradeGroup)
		r.Get("/{id}", s.handleGetTradeGroup)
		r.Delete("/{id}", s.handleDeleteTradeGroup)
		r.Put("/{id}/master", s.handleSetMasterEnabled)
		r.Post("/{id}/members", s.handleAddMember)
		r.Put("/{id}/members/{slave}/enabled", s.handleSetMemberEnabled)
	})

	r.Get("/api/connections", s.handleListConnections)
	r.Get("/api/victoria-logs-settings", s.handleGetLogSetting)
	r.Put("/api/victoria-logs-settings", s.handleSetLogSetting)
	r.Get("/api/runtime-status-metrics", s.handleRuntimeMetrics)
	r.Get("/ws", s.handleWS)

	return r
}
