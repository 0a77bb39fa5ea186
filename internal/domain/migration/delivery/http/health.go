package http

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"go.uber.org/fx"

	"github.com/Conte777/tg-session-migrator/internal/domain/migration/deps"
	"github.com/Conte777/tg-session-migrator/pkg/httputil"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const storeCheckTimeout = 2 * time.Second

// ComponentHealth represents health status of a single component
type ComponentHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the JSON response for health check
type HealthResponse struct {
	Status     HealthStatus      `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
}

// HealthHandler handles HTTP health check requests
type HealthHandler struct {
	store  deps.RecordStore
	events deps.HealthChecker
	logger zerolog.Logger
}

// HealthHandlerParams defines parameters for HealthHandler with optional dependencies
type HealthHandlerParams struct {
	fx.In

	Store  deps.RecordStore
	Events deps.HealthChecker `optional:"true"`
	Logger zerolog.Logger
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(params HealthHandlerParams) *HealthHandler {
	return &HealthHandler{
		store:  params.Store,
		events: params.Events,
		logger: params.Logger,
	}
}

// Handle handles the health check request for fasthttp
func (h *HealthHandler) Handle(ctx *fasthttp.RequestCtx) {
	components := h.checkComponents()
	status := determineOverallStatus(components)

	response := HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Components: components,
	}

	logEvent := h.logger.Debug()
	if status != HealthStatusHealthy {
		logEvent = h.logger.Warn()
	}
	logEvent.
		Str("status", string(status)).
		Interface("components", components).
		Msg("Health check completed")

	httputil.WriteHealthResponse(ctx, response, status != HealthStatusUnhealthy)
}

func (h *HealthHandler) checkComponents() []ComponentHealth {
	components := make([]ComponentHealth, 0, 2)

	ctx, cancel := context.WithTimeout(context.Background(), storeCheckTimeout)
	defer cancel()

	store := ComponentHealth{Name: "record_store", Healthy: true}
	if keys, err := h.store.List(ctx); err != nil {
		store.Healthy = false
		store.Message = err.Error()
	} else {
		store.Message = fmt.Sprintf("%d account records", len(keys))
	}
	components = append(components, store)

	if h.events != nil {
		events := ComponentHealth{Name: "event_publisher", Healthy: h.events.IsHealthy()}
		if !events.Healthy {
			events.Message = "event publisher is not healthy"
		}
		components = append(components, events)
	}

	return components
}

// determineOverallStatus determines overall health status based on component health
func determineOverallStatus(components []ComponentHealth) HealthStatus {
	allHealthy := true
	anyHealthy := false

	for _, component := range components {
		if !component.Healthy {
			allHealthy = false
		} else {
			anyHealthy = true
		}
	}

	if allHealthy {
		return HealthStatusHealthy
	} else if anyHealthy {
		return HealthStatusDegraded
	}

	return HealthStatusUnhealthy
}
