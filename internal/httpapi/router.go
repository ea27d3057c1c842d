// Package httpapi exposes the elevation tile engine's authoritative HTTP
// surface: versioned tile endpoints and the point-sample risk endpoint.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/floodcontour/elevation-tiles/internal/engine"
)

// Server wires the Tile Engine into chi routes.
type Server struct {
	engine *engine.Engine
	log    *slog.Logger
}

// NewServer constructs the HTTP server handler around an already-built
// Engine. The Engine's own lifecycle (construction at startup, teardown at
// shutdown) is managed by the caller.
func NewServer(e *engine.Engine, log *slog.Logger) http.Handler {
	s := &Server{engine: e, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type"},
		ExposedHeaders:   []string{"X-Tile-Source", "X-Water-Level", "X-Request-ID"},
		MaxAge:           300,
	}))

	r.Route("/api/v1/tiles", func(r chi.Router) {
		r.Get("/elevation-data/{z}/{x}/{yExt}", s.handleUint16)
		r.Get("/elevation/{z}/{x}/{yExt}", s.handleTopoPNG)
		r.Get("/flood/{waterLevel}/{z}/{x}/{yExt}", s.handleFloodPNG)
	})
	r.Post("/risk/location", s.handleRiskLocation)

	return r
}
