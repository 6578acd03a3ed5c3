// README: API gateway; wires middleware and delegates routes to module handlers.
package http

import (
	"context"
	"log/slog"
	"net/http"

	"glideway/internal/infra"
	"glideway/internal/modules/poolride"
	"glideway/internal/realtime"
)

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

type ServerDeps struct {
	PoolRides *poolride.Service
	Verifier  infra.TokenVerifier
	// Feed is nil when no pub/sub broker is configured.
	Feed           *realtime.Feed
	Logger         *slog.Logger
	AllowedOrigins []string
	Checks         map[string]HealthCheck
}

type Server struct {
	poolRides      *poolride.Service
	verifier       infra.TokenVerifier
	feed           *realtime.Feed
	log            *slog.Logger
	allowedOrigins []string
	checks         map[string]HealthCheck
}

func NewServer(deps ServerDeps) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		poolRides:      deps.PoolRides,
		verifier:       deps.Verifier,
		feed:           deps.Feed,
		log:            log,
		allowedOrigins: deps.AllowedOrigins,
		checks:         deps.Checks,
	}
}

func (s *Server) Routes() http.Handler {
	return NewRouter(s)
}
