package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/alexisbeaulieu97/tuner/internal/app/decision"
	"github.com/alexisbeaulieu97/tuner/internal/ports"
)

const defaultShutdownTimeout = 10 * time.Second

// WebAPI serves the decision engine over HTTP.
type WebAPI struct {
	router          *chi.Mux
	logger          *zerolog.Logger
	server          *http.Server
	shutdownTimeout time.Duration
}

type Dependencies struct {
	Runner  *decision.Runner
	Audits  ports.AuditStore
	Plans   ports.PlanStore
	Catalog ports.StrategyCatalog
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Dependencies    Dependencies
}

func NewWebAPI(logger zerolog.Logger, config Config) *WebAPI {
	h := NewHandler(config.Dependencies)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(Logger(&logger))
	router.Use(middleware.Recoverer)

	router.Get("/healthz", h.Health)
	if config.Dependencies.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", config.Dependencies.Metrics)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/strategies", h.ListStrategies)

		r.Route("/audits", func(r chi.Router) {
			r.Get("/", h.ListAudits)
			r.Post("/", h.CreateAudit)
			r.Get("/{audit}", h.GetAudit)
			r.Post("/{audit}/execute", h.ExecuteAudit)
			r.Post("/{audit}/cancel", h.CancelAudit)
			r.Get("/{audit}/action_plan", h.GetAuditPlan)
		})

		r.Route("/action_plans", func(r chi.Router) {
			r.Get("/", h.ListActionPlans)
			r.Get("/{plan}", h.GetActionPlan)
			r.Delete("/{plan}", h.DeleteActionPlan)
		})
	})

	timeout := config.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	return &WebAPI{
		router: router,
		logger: &logger,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		shutdownTimeout: timeout,
	}
}

// Handler exposes the router, mainly for tests.
func (w *WebAPI) Handler() http.Handler { return w.router }

// Start serves until ctx is done, then shuts down gracefully.
func (w *WebAPI) Start(ctx context.Context) error {
	serverErrors := make(chan error, 1)

	go func() {
		w.logger.Info().Str("addr", w.server.Addr).Msg("starting server")
		serverErrors <- w.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		w.logger.Info().Msg("shutdown initiated")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.shutdownTimeout)
		defer cancel()

		err := w.server.Shutdown(shutdownCtx)
		if err != nil {
			w.logger.Error().Err(err).Msg("graceful shutdown failed")
			err = w.server.Close()
		}

		if err != nil {
			return err
		}
	}

	return nil
}
