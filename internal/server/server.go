// Package server provides the HTTP server and routing for stockwatch.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/shaoq/stockwatch/internal/cache"
	"github.com/shaoq/stockwatch/internal/calendar"
	"github.com/shaoq/stockwatch/internal/config"
	"github.com/shaoq/stockwatch/internal/enrich"
	"github.com/shaoq/stockwatch/internal/providers"
	"github.com/shaoq/stockwatch/internal/rules"
	"github.com/shaoq/stockwatch/internal/snapshots"
	"github.com/shaoq/stockwatch/internal/stocks"
)

// Config holds the server's dependencies.
type Config struct {
	Log         zerolog.Logger
	Cfg         *config.Config
	Stocks      *stocks.Repository
	Rules       *rules.Repository
	Enricher    *enrich.Service
	Snapshots   *snapshots.Service
	Calendar    *calendar.Service
	Coordinator *providers.Coordinator
	Spot        *providers.SpotCache
	Caches      *cache.Registry
}

// Server is the HTTP server.
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	cfg         *config.Config
	stocks      *stocks.Repository
	rules       *rules.Repository
	enricher    *enrich.Service
	snapshots   *snapshots.Service
	calendar    *calendar.Service
	coordinator *providers.Coordinator
	spot        *providers.SpotCache
	caches      *cache.Registry
	started     time.Time
	now         func() time.Time
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		cfg:         cfg.Cfg,
		stocks:      cfg.Stocks,
		rules:       cfg.Rules,
		enricher:    cfg.Enricher,
		snapshots:   cfg.Snapshots,
		calendar:    cfg.Calendar,
		coordinator: cfg.Coordinator,
		spot:        cfg.Spot,
		caches:      cfg.Caches,
		started:     time.Now(),
		now:         time.Now,
	}

	s.setupMiddleware(cfg.Cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/stocks", func(r chi.Router) {
			r.Get("/", s.handleListStocks)
			r.Post("/", s.handleCreateStock)
			r.Post("/batch-delete", s.handleBatchDeleteStocks)
			r.Post("/batch-remove-from-group", s.handleBatchRemoveFromGroup)
			r.Post("/update-all-prices", s.handleUpdateAllPrices)

			r.Get("/symbol/{symbol}/update-price", s.handleUpdatePrice)
			r.Post("/symbol/{symbol}/update-price", s.handleUpdatePrice)
			r.Post("/symbol/{symbol}/clear-cache-and-refresh", s.handleForceRefresh)
			r.Get("/symbol/{symbol}/charts", s.handleCharts)

			r.Get("/{id}", s.handleGetStock)
			r.Put("/{id}", s.handleUpdateStock)
			r.Delete("/{id}", s.handleDeleteStock)
			r.Get("/{id}/signal", s.handleEvaluateSignal)
			r.Get("/{id}/signals", s.handleSignalHistory)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", s.handleListGroups)
			r.Post("/", s.handleCreateGroup)
			r.Delete("/{id}", s.handleDeleteGroup)
		})

		r.Route("/providers", func(r chi.Router) {
			r.Get("/health", s.handleProviderHealth)
			r.Get("/capabilities", s.handleProviderCapabilities)
			r.Post("/reset-all", s.handleProviderResetAll)
			r.Post("/{name}/reset", s.handleProviderReset)
		})

		r.Route("/spot-cache", func(r chi.Router) {
			r.Get("/status", s.handleSpotStatus)
			r.Post("/clear", s.handleSpotClear)
		})

		r.Route("/trading-calendar", func(r chi.Router) {
			r.Get("/check", s.handleCalendarCheck)
			r.Post("/refresh", s.handleCalendarRefresh)
			r.Get("/monthly", s.handleCalendarMonthly)
		})

		r.Route("/snapshots", func(r chi.Router) {
			r.Post("/generate", s.handleGenerateSnapshots)
			r.Get("/check-today", s.handleCheckToday)
			r.Get("/dates", s.handleSnapshotDates)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/daily", s.handleDailyReport)
			r.Get("/trend", s.handleTrend)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Put("/{id}/toggle", s.handleToggleRule)
		})

		r.Route("/market", func(r chi.Router) {
			r.Get("/financial/{symbol}", s.handleFinancialReport)
			r.Get("/valuation/{symbol}", s.handleValuation)
			r.Get("/macro/{indicator}", s.handleMacro)
		})

		r.Post("/cache/clear", s.handleCacheClear)
		r.Get("/system/status", s.handleSystemStatus)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": "2.0.0",
		"service": "stockwatch",
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error payload in the {"detail": ...} shape clients
// expect.
func (s *Server) writeError(w http.ResponseWriter, status int, detail any) {
	s.writeJSON(w, status, map[string]any{"detail": detail})
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "请求体格式错误")
		return false
	}
	return true
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
