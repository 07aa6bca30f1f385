package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rota/internal/api"
	"rota/internal/config"
	"rota/internal/conflict"
	"rota/internal/database"
	"rota/internal/events"
	"rota/internal/export"
	"rota/internal/lock"
	"rota/internal/matching"
	"rota/internal/metrics"
	"rota/internal/notify"
	"rota/internal/reminders"
	"rota/internal/rota"
	"rota/internal/timesheet"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	configPath := os.Getenv("ROTA_CONFIG_PATH")
	if configPath == "" {
		configPath = config.DefaultPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && cfg.Logging.Level != "" {
		logger = logger.Level(lvl)
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus(&logger)

	var (
		rdb    *redis.Client
		locker conflict.Locker = lock.NewLocal()
	)
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		locker = lock.NewRedis(rdb, lock.RedisConfig{TTL: cfg.LockTTL()}, &logger)
		bus.Subscribe("*", events.NewStreamSink(rdb, "", 0).Handle)
		logger.Info().Str("addr", cfg.Redis.Address).Msg("using redis for booking locks and event stream")
	}

	var notifier interface {
		rota.Notifier
		reminders.Notifier
	} = notify.NewLog(&logger)
	if cfg.Telegram.BotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("create bot error")
		}
		bot.Debug = cfg.Telegram.Debug
		perSecond, burst := cfg.NotifyRate()
		notifier = notify.NewTelegram(bot, perSecond, burst, &logger)
		logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifications enabled")
	}

	policy := cfg.Policy()
	matcher := matching.NewMatcher(matching.Policy{
		DefaultRadiusMiles: policy.DefaultRadiusMiles,
		RequireCoordinates: policy.RequireCoordinates,
	})
	reconciler := timesheet.NewReconciler(policy.ToleranceMinutes)
	conflicts := conflict.NewService(db, locker, matcher, &logger)

	server := api.NewHTTPServer(cfg.APIPort(), cfg.API.APIKey, api.Services{
		Matching:   matching.NewService(db, matcher, &logger),
		Conflicts:  conflicts,
		Timesheets: timesheet.NewService(db, reconciler, bus, &logger),
		Rota:       rota.NewService(db, conflicts, notifier, bus, &logger),
		Export:     export.NewService(db, &logger),
		Workers:    db,
	}, &logger)

	err = config.WatchPolicy(ctx, configPath, 30*time.Second, &logger, func(p config.Policy) {
		matcher.SetPolicy(matching.Policy{
			DefaultRadiusMiles: p.DefaultRadiusMiles,
			RequireCoordinates: p.RequireCoordinates,
		})
		reconciler.SetTolerance(p.ToleranceMinutes)
		logger.Info().
			Int("tolerance_minutes", p.ToleranceMinutes).
			Float64("default_radius_miles", p.DefaultRadiusMiles).
			Bool("require_coordinates", p.RequireCoordinates).
			Msg("scheduling policy applied")
	})
	if err != nil {
		logger.Error().Err(err).Msg("policy watcher not started")
	}

	go database.NewBackupService(db, cfg.Backup, &logger).Start(ctx)
	if cfg.Reminders.Enabled {
		go reminders.NewService(db, notifier, reminders.Config{
			Lead:          cfg.Reminders.Lead(),
			CheckInterval: cfg.Reminders.CheckInterval(),
			MaxConcurrent: cfg.Reminders.Concurrency(),
		}, &logger).Start(ctx)
	}
	go startHealthServer(ctx, cfg.HealthPort(), db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.PrometheusPort(), &logger)
	}

	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			logger.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	logger.Info().Msg("Rota service started")
	if err := server.Start(); err != nil {
		logger.Error().Err(err).Msg("API server error")
	}
	logger.Info().Msg("Rota service stopped")
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
		if err := db.PingContext(ctxPing); err != nil {
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

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
