package httpserver

import (
	"context"
	"net/http"

	"github.com/iago/fleetops-back/internal/http/handlers"
	"github.com/iago/fleetops-back/internal/http/middleware"
	"go.uber.org/zap"
)

type RouterDependencies struct {
	API            *handlers.API
	Metrics        http.Handler
	Logger         *zap.Logger
	Authenticator  middleware.Authenticator
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter builds the HTTP surface. ctx bounds background middleware work
// such as the rate limiter sweeper.
func NewRouter(ctx context.Context, deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", deps.API.Health)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	mux.HandleFunc("POST /v1/optimizations", deps.API.CreateOptimization)
	mux.HandleFunc("GET /v1/optimizations", deps.API.ListOptimizations)
	mux.HandleFunc("GET /v1/optimizations/{jobId}", deps.API.GetOptimization)

	mux.HandleFunc("POST /v1/routes", deps.API.CreateRoutes)
	mux.HandleFunc("GET /v1/routes", deps.API.ListRoutes)
	mux.HandleFunc("GET /v1/routes/{jobId}", deps.API.GetRouteStatus)

	mux.HandleFunc("GET /v1/notifications", deps.API.ListNotifications)
	mux.HandleFunc("POST /v1/notifications/mark-read", deps.API.MarkNotificationsRead)

	mux.HandleFunc("GET /v1/assignments", deps.API.ListAssignments)
	mux.HandleFunc("POST /v1/assignments", deps.API.CreateAssignments)
	mux.HandleFunc("GET /v1/assignments/date/{date}", deps.API.ListAssignmentsByDate)
	mux.HandleFunc("GET /v1/assignments/driver/{id}", deps.API.ListDriverAssignments)
	mux.HandleFunc("PUT /v1/assignments/{id}/status", deps.API.UpdateAssignmentStatus)
	mux.HandleFunc("PATCH /v1/assignments/{id}/status", deps.API.UpdateAssignmentStatus)
	mux.HandleFunc("PATCH /v1/assignments/{id}/notes", deps.API.UpdateAssignmentNotes)
	mux.HandleFunc("DELETE /v1/assignments/{id}", deps.API.DeleteAssignment)

	mux.HandleFunc("GET /v1/drivers", deps.API.ListDrivers)
	mux.HandleFunc("POST /v1/drivers", deps.API.CreateDriver)
	mux.HandleFunc("GET /v1/drivers/stats", deps.API.DriverStats)
	mux.HandleFunc("GET /v1/drivers/locations", deps.API.DriverLocations)
	mux.HandleFunc("GET /v1/drivers/{id}", deps.API.GetDriver)
	mux.HandleFunc("PUT /v1/drivers/{id}", deps.API.UpdateDriver)
	mux.HandleFunc("DELETE /v1/drivers/{id}", deps.API.DeleteDriver)
	mux.HandleFunc("PATCH /v1/drivers/{id}/status", deps.API.UpdateDriverStatus)
	mux.HandleFunc("POST /v1/drivers/{id}/locations", deps.API.RecordDriverLocation)

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.Authenticator)(handler)
	handler = middleware.RateLimit(ctx, deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
