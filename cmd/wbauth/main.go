package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wbauth/internal/api"
	"wbauth/internal/audit"
	"wbauth/internal/automation"
	"wbauth/internal/booking"
	"wbauth/internal/config"
	"wbauth/internal/database"
	"wbauth/internal/events"
	"wbauth/internal/login"
	"wbauth/internal/metrics"
	"wbauth/internal/models"
	"wbauth/internal/reaper"
	"wbauth/internal/repository"
	"wbauth/internal/service"
	"wbauth/internal/session"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("WBAUTH_CONFIG_PATH"), "path to config.yaml")
	flag.Parse()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if !cfg.Logging.Pretty {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		logger = logger.Level(lvl)
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	var store models.CookieStore = db
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		store = repository.NewCachedCookieStore(db, rdb, cfg.CacheTTL(), &logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profiles := automation.NewProfiles(cfg.Browser.ProfilesDir)
	driver := automation.NewRodDriver(cfg.RodConfig(), profiles, &logger)
	detector := automation.NewPhraseDetector(nil, nil)

	if cfg.Signals.Path != "" {
		if err := config.WatchSignals(ctx, cfg.Signals.Path, cfg.SignalsReloadInterval(), func(s *config.Signals) {
			detector.SetPhrases(s.RateLimit, s.InvalidCode)
			logger.Info().
				Int("rate_limit", len(s.RateLimit)).
				Int("invalid_code", len(s.InvalidCode)).
				Msg("signal phrases loaded")
		}); err != nil {
			logger.Error().Err(err).Msg("signals watch failed, using built-in phrases")
		}
	}

	registry := session.NewRegistry(&logger)
	bus := events.NewBus(&logger)

	auditSvc := audit.NewService(db, db, cfg.AuditRetention(), &logger)
	auditSvc.Subscribe(bus)
	auditSvc.Start(ctx)

	loginWF := login.NewWorkflow(driver, detector, registry, store, bus, &logger)
	bookingWF := booking.NewWorkflow(driver, cfg.Portal.SupplyBaseURL, bus, &logger)
	authSvc := service.NewAuthService(loginWF, bookingWF, registry, store, profiles, bus, &logger)

	r := reaper.New(registry, store, reaper.Config{
		Interval:      cfg.SweepInterval(),
		TTL:           cfg.SessionTTL(),
		PurgeInterval: cfg.CookiePurgeInterval(),
	}, &logger)
	r.Start(ctx)

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register(registry.Len)
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.Backup.Enabled {
		backup := database.NewBackupService(db, database.BackupConfig{
			Enabled:       true,
			Interval:      cfg.BackupInterval(),
			StoragePath:   cfg.Backup.Path,
			RetentionDays: cfg.Backup.RetentionDays,
		}, &logger)
		go backup.Start(ctx)
	}

	server := api.NewHTTPServer(cfg.Server.Address, authSvc, auditSvc, api.Limits{
		PerMinute: cfg.Limits.CodeRequestsPerMinute,
		Burst:     cfg.Limits.Burst,
	}, &logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	logger.Info().Str("addr", cfg.Server.Address).Msg("wbauth started")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("api server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api shutdown")
	}

	r.Stop()
	auditSvc.Stop()
	registry.Close()
	logger.Info().Msg("wbauth stopped")
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.Ping(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	serve(ctx, &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}, "health", logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serve(ctx, &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}, "metrics", logger)
}

func serve(ctx context.Context, srv *http.Server, name string, logger *zerolog.Logger) {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("server", name).Msg("server error")
	}
}
