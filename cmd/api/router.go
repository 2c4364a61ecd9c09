package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/tunelodge/royaltydesk/pkg/middleware"
	"github.com/tunelodge/royaltydesk/pkg/observability"
)

// SetupRouter configures all routes and returns the HTTP handler
func SetupRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	jwtSecret := []byte(deps.Config.Auth.JWTSecret)
	if len(jwtSecret) == 0 {
		deps.Logger.Warn("JWT secret is empty; auth middleware will reject requests")
	}

	deps.ImportHandler.Register(mux)
	deps.ReconHandler.Register(mux)
	registerUtilityRoutes(mux, deps)

	tracer := otel.GetTracerProvider().Tracer("royaltydesk/api")

	// Metric labels and span names use the registered pattern, not the raw
	// path, so path parameters don't explode cardinality.
	routePattern := func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		return pattern
	}

	var limiter *rate.Limiter
	if deps.Config.Server.RateLimitPerSecond > 0 && deps.Config.Server.RateLimitBurst > 0 {
		limiter = rate.NewLimiter(
			rate.Limit(float64(deps.Config.Server.RateLimitPerSecond)),
			deps.Config.Server.RateLimitBurst,
		)
	}

	publicPaths := []string{"/health", "/health/details", "/metrics"}

	handler := middleware.Chain(mux,
		middleware.RequestID("X-Request-ID"),
		middleware.Tracing(tracer, routePattern),
		middleware.RateLimit(limiter),
		middleware.Recovery(deps.Logger),
		middleware.Logging(deps.Logger),
		middleware.Auth(jwtSecret, publicPaths...),
		func(next http.Handler) http.Handler {
			return observability.MetricsMiddleware(routePattern, next)
		},
	)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // narrow to the dashboard origin in prod
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           7200,
	})

	return corsHandler.Handler(handler)
}

// registerUtilityRoutes registers health check and metrics routes
func registerUtilityRoutes(mux *http.ServeMux, deps *Dependencies) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if err := deps.DB.Health(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, writeErr := w.Write([]byte("database unhealthy")); writeErr != nil {
				deps.Logger.Error("failed to write health response", slog.Any("error", writeErr))
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			deps.Logger.Error("failed to write health response", slog.Any("error", err))
		}
	})

	mux.HandleFunc("/health/details", func(w http.ResponseWriter, _ *http.Request) {
		type status struct {
			Status string `json:"status"`
			Detail string `json:"detail,omitempty"`
		}
		result := map[string]status{
			"db":    {Status: "ok"},
			"ready": {Status: "ok"},
		}

		if err := deps.DB.Health(); err != nil {
			result["db"] = status{Status: "fail", Detail: err.Error()}
			result["ready"] = status{Status: "fail", Detail: "db unavailable"}
		}

		code := http.StatusOK
		for _, v := range result {
			if v.Status == "fail" {
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(result); err != nil {
			deps.Logger.Error("failed to encode health details", slog.Any("error", err))
		}
	})

	mux.Handle("/metrics", promhttp.Handler())

	deps.Logger.Info("registered utility routes", "paths", []string{"/health", "/health/details", "/metrics"})
}
