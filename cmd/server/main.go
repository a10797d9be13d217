package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaoq/stockwatch/internal/cache"
	"github.com/shaoq/stockwatch/internal/calendar"
	"github.com/shaoq/stockwatch/internal/config"
	"github.com/shaoq/stockwatch/internal/database"
	"github.com/shaoq/stockwatch/internal/enrich"
	"github.com/shaoq/stockwatch/internal/providers"
	"github.com/shaoq/stockwatch/internal/reliability"
	"github.com/shaoq/stockwatch/internal/rules"
	"github.com/shaoq/stockwatch/internal/scheduler"
	"github.com/shaoq/stockwatch/internal/server"
	"github.com/shaoq/stockwatch/internal/snapshots"
	"github.com/shaoq/stockwatch/internal/stocks"
	"github.com/shaoq/stockwatch/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting StockWatch")

	// Initialize database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Build the provider ladder
	spot := providers.NewSpotCache(cfg.SpotSnapshotPath, log)
	sina := providers.NewSina(cfg.HTTPTimeout, cfg.ProviderCooldown, log)
	eastmoney := providers.NewEastmoney(spot, cfg.HTTPTimeout, cfg.ProviderCooldown, log)
	tencent := providers.NewTencent(cfg.HTTPTimeout, cfg.ProviderCooldown, log)
	netease := providers.NewNetease(cfg.HTTPTimeout, cfg.ProviderCooldown, log)
	akshare := providers.NewAKShare(cfg.AKToolsURL, spot, eastmoney.FetchSpotTable, cfg.HTTPTimeout, cfg.ProviderCooldown, log)
	openbb := providers.NewOpenBB(cfg.OpenBBURL, cfg.HTTPTimeout, cfg.ProviderCooldown, log)

	provs := []providers.Provider{sina, eastmoney, tencent, netease}
	if akshare.Configured() {
		provs = append(provs, akshare)
	} else {
		log.Info().Msg("AKTools sidecar not configured, akshare provider disabled")
	}
	if openbb.Configured() {
		provs = append(provs, openbb)
	} else {
		log.Info().Msg("OpenBB sidecar not configured, openbb provider disabled")
	}
	for _, name := range cfg.DisabledProviders {
		for _, p := range provs {
			if p.Name() == name {
				p.Health().Disable()
				log.Info().Str("provider", name).Msg("Provider disabled via configuration")
			}
		}
	}

	coordinator := providers.NewCoordinator(cfg.ProviderMinInterval, log, provs...)

	// Calendar hydrates from akshare when the sidecar is available
	var calendarSource calendar.TradeDateSource
	if akshare.Configured() {
		calendarSource = akshare
	}
	cal := calendar.New(db, calendarSource, log)

	// Domain services
	registry := cache.NewRegistry()
	rulesRepo := rules.NewRepository(db, log)
	if seeded, err := rulesRepo.SeedDefaults(); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed trading rules")
	} else if seeded > 0 {
		log.Info().Int("count", seeded).Msg("Seeded default trading rules")
	}
	stocksRepo := stocks.NewRepository(db, log)
	enricher := enrich.New(coordinator, cal, rulesRepo, cfg.BatchWorkers, registry, log)
	snapRepo := snapshots.NewRepository(db, log)
	snapSvc := snapshots.NewService(snapRepo, stocksRepo, enricher, log)

	// Initialize scheduler
	sched := scheduler.New(log)
	if err := registerJobs(sched, cfg, db, snapSvc, cal, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	sched.Start()
	defer sched.Stop()

	// Initialize HTTP server
	srv := server.New(server.Config{
		Log:         log,
		Cfg:         cfg,
		Stocks:      stocksRepo,
		Rules:       rulesRepo,
		Enricher:    enricher,
		Snapshots:   snapSvc,
		Calendar:    cal,
		Coordinator: coordinator,
		Spot:        spot,
		Caches:      registry,
	})

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	db *database.DB,
	snapSvc *snapshots.Service,
	cal *calendar.Service,
	log zerolog.Logger,
) error {
	if err := sched.AddJob(cfg.SnapshotCron, scheduler.NewSnapshotJob(snapSvc, cal, log)); err != nil {
		return err
	}
	if err := sched.AddJob(cfg.CalendarCron, scheduler.NewCalendarRefreshJob(cal, log)); err != nil {
		return err
	}

	if cfg.BackupEnabled {
		s3Client, err := reliability.NewS3Client(
			cfg.S3Endpoint, cfg.S3Region, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, log)
		if err != nil {
			return err
		}
		backupSvc := reliability.NewBackupService(
			db, s3Client, filepath.Dir(cfg.DatabasePath), cfg.BackupRetained, log)
		if err := sched.AddJob(cfg.BackupCron, reliability.NewBackupJob(backupSvc)); err != nil {
			return err
		}
	}

	return nil
}
