package api

import (
	"log/slog"
	"net/http"
	"time"

	_ "loan-underwriting/docs"
	"loan-underwriting/internal/api/handler"
	mw "loan-underwriting/internal/api/middleware"
	"loan-underwriting/internal/config"
	"loan-underwriting/internal/domain/loan"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
)

const defaultRequestTimeout = 30 * time.Second

func SetupRouter(underwriting loan.UnderwritingService, checks map[string]handler.Pinger, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	router := chi.NewRouter()

	setupMiddleware(router, cfg, logger)
	setupMetricsEndpoint(router, cfg, logger)
	router.Get("/health", handler.NewHealthHandler(checks, logger).Health)
	setupLoanRoutes(router, underwriting, cfg, logger)
	setupSwaggerEndpoint(router, logger)

	return router
}

func setupMiddleware(router *chi.Mux, cfg *config.Config, logger *slog.Logger) {
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(mw.StructuredLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Compress(5))
	router.Use(middleware.Timeout(timeout))
	router.Use(mw.NewRateLimiterMiddleware(cfg.Server.RateLimit, logger).Middleware)
	router.Use(mw.MetricsMiddleware())
}

func setupMetricsEndpoint(router *chi.Mux, cfg *config.Config, logger *slog.Logger) {
	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	logger.Info("Setting up Prometheus metrics endpoint", "path", metricsPath)
	router.Handle(metricsPath, promhttp.Handler())
}

func setupSwaggerEndpoint(router *chi.Mux, logger *slog.Logger) {
	logger.Info("Setting up Swagger UI endpoint", "path", "/swagger/")
	router.Get("/swagger/*", httpSwagger.WrapHandler)
	router.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/swagger/index.html", http.StatusMovedPermanently)
	})
}

func setupLoanRoutes(router *chi.Mux, underwriting loan.UnderwritingService, cfg *config.Config, logger *slog.Logger) {
	loanHandler := handler.NewLoanHandler(underwriting, logger)

	router.Route("/api/loans", func(r chi.Router) {
		r.Use(mw.AuthMiddleware(cfg.Server.Auth, logger))
		r.With(mw.NewApplicationRateLimiter(cfg.Server.ApplicationRateLimit, logger).Middleware).
			Post("/", loanHandler.ApplyForLoan)
		r.Get("/", loanHandler.ListLoans)
		r.Get("/my-loans", loanHandler.GetMyLoans)
		r.Get("/{loanID}", loanHandler.GetLoan)
	})
}
