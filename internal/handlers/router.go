package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"mar-engine/internal/auth"
	"mar-engine/internal/middleware"
	"mar-engine/internal/services"
)

// HealthChecker reports whether the backing store is reachable
type HealthChecker func(ctx context.Context) error

// RouterConfig holds the transport settings of the API
type RouterConfig struct {
	Location          *time.Location
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	HSTSEnabled       bool
	Health            HealthChecker
}

// NewRouter mounts every API route. The returned limiter must be stopped on shutdown.
func NewRouter(engine *services.Engine, jwtManager *auth.JWTManager, cfg RouterConfig, log zerolog.Logger) (chi.Router, *middleware.RateLimiter) {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	if cfg.RateLimitRequests <= 0 || cfg.RateLimitWindow <= 0 {
		cfg.RateLimitRequests, cfg.RateLimitWindow = 100, time.Minute
	}

	r := chi.NewRouter()
	limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders(cfg.HSTSEnabled))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(limiter.Middleware)

	r.Get("/health", HandleHealth(cfg.Health))
	if engine.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", engine.Metrics.Handler())
	}

	am := middleware.NewAuthMiddleware(jwtManager)

	r.Route("/api", func(r chi.Router) {
		r.Use(am.RequireAuth)

		r.Route("/mar", func(r chi.Router) {
			r.Get("/settings/current", HandleGetCurrentSettings(engine))
			r.With(middleware.RequireAdmin).Put("/settings", HandleUpdateSettings(engine))
			r.Get("/{serviceUserID}/availability", HandleGetAvailability(engine, loc))
			r.Post("/{serviceUserID}/validate", HandleValidateAdministration(engine))
			r.Post("/{serviceUserID}/dispense", HandleDispense(engine))
			r.Get("/{serviceUserID}/chart", HandleGetChart(engine, loc))
		})

		r.Route("/stock", func(r chi.Router) {
			r.Post("/{medicationID}/changes", HandleRecordStockChange(engine))
			r.Get("/{medicationID}/history", HandleGetStockHistory(engine, loc))
			r.Get("/{medicationID}/daily", HandleGetDailyStock(engine, loc))
			r.With(middleware.RequireAdmin).Post("/snapshot", HandleRecordDailyStock(engine))
			r.Get("/alerts", HandleGetStockAlerts(engine))
			r.With(middleware.RequireAdmin).Post("/alerts/check", HandleCheckStock(engine))
			r.Put("/alerts/{alertID}/read", HandleMarkStockAlertRead(engine))
		})

		r.Route("/updates", func(r chi.Router) {
			r.Get("/", HandleListUpdates(engine))
			r.Get("/medication/{medicationID}", HandleListMedicationUpdates(engine))
			r.With(middleware.RequireAdmin).Delete("/", HandlePurgeUpdates(engine))
		})

		r.Route("/summaries", func(r chi.Router) {
			r.Get("/", HandleListSummaries(engine, loc))
			r.With(middleware.RequireAdmin).Post("/", HandleGenerateSummary(engine, loc))
			r.Get("/{summaryID}", HandleGetSummary(engine))
			r.Get("/medication/{medicationID}", HandleListMedicationSummaries(engine, loc))
			r.Get("/service-user/{serviceUserID}", HandleListServiceUserSummaries(engine, loc))
		})

		r.Route("/medications", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Post("/", HandleCreateMedication(engine, loc))
			r.Patch("/{medicationID}", HandleUpdateMedication(engine))
			r.Put("/{medicationID}/deactivate", HandleDeactivateMedication(engine))
			r.Delete("/{medicationID}", HandleDeleteMedication(engine))
		})
	})

	return r, limiter
}

// HandleHealth reports liveness and store reachability
func HandleHealth(check HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("health check failed")
				respondError(w, r, http.StatusServiceUnavailable, "database unreachable", nil)
				return
			}
		}
		respondJSON(w, r, http.StatusOK, "ok", map[string]string{"status": "healthy"})
	}
}
