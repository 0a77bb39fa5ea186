package http

import (
	"github.com/fasthttp/router"
	"github.com/rs/zerolog"

	"github.com/Conte777/tg-session-migrator/pkg/httputil"
)

// Router registers migration HTTP routes
type Router struct {
	health *HealthHandler
	status *StatusHandler
	logger zerolog.Logger
}

// NewRouter creates a new migration router
func NewRouter(health *HealthHandler, status *StatusHandler, logger zerolog.Logger) *Router {
	return &Router{
		health: health,
		status: status,
		logger: logger,
	}
}

// RegisterRoutes registers migration routes on the router
func (r *Router) RegisterRoutes(rt *router.Router) {
	mw := []httputil.Middleware{httputil.Recover(r.logger), httputil.AccessLog(r.logger)}

	rt.GET("/health", httputil.Chain(r.health.Handle, mw...))
	rt.GET("/status", httputil.Chain(r.status.Status, mw...))
	rt.GET("/runs/{run_id}", httputil.Chain(r.status.Run, mw...))
}
