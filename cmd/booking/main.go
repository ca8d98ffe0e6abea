package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"respirakids/internal/api"
	"respirakids/internal/booking"
	"respirakids/internal/config"
	"respirakids/internal/db"
	"respirakids/internal/events"
	"respirakids/internal/identity"
	"respirakids/internal/metrics"
	"respirakids/internal/pgstore"
	"respirakids/internal/ratelimit"
	"respirakids/internal/schedule"
	"respirakids/internal/wizard"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// slotStore is implemented by both the SQLite and the PostgreSQL stores.
type slotStore interface {
	booking.Store
	schedule.Repository
	identity.Directory
}

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Msg("failed to load .env")
	}

	cfg, err := config.Load(os.Getenv("BOOKING_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		logger = logger.Level(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("redis unavailable")
	}

	schedulesCfg, err := cfg.LoadSchedules()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load schedules config")
	}

	var (
		store    slotStore
		ping     func(context.Context) error
		database *db.DB
	)
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pool, pg, err := pgstore.Open(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("open postgres error")
		}
		defer pool.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("postgres schema error")
		}
		store, ping = pg, pool.Ping
		logger.Info().Msg("using postgres slot store; catalog is managed externally")
	default:
		database, err = db.NewDB(cfg.Database.Path)
		if err != nil {
			logger.Fatal().Err(err).Msg("open db error")
		}
		defer database.Close()
		store, ping = database, database.PingContext
	}

	bus := events.NewEventBus()
	bus.Subscribe(events.AppointmentBooked, func(e events.Event) error {
		var p booking.BookedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		logger.Info().
			Str("appointment_id", p.AppointmentID).
			Str("schedule_id", p.ScheduleID).
			Str("slot_id", p.SlotID).
			Msg("appointment booked")
		return nil
	})

	var sender identity.CodeSender = logSender{logger: logger.With().Str("component", "otp-log").Logger()}
	if cfg.WhatsApp.BaseURL != "" {
		wa := identity.NewWhatsAppSender(cfg.WhatsApp.BaseURL, cfg.WhatsApp.Instance, cfg.WhatsApp.APIKey,
			cfg.WhatsApp.MessageTemplate, cfg.WhatsAppTimeout())
		wa.UseLocation(schedulesCfg.Location())
		sender = wa
	} else {
		logger.Warn().Msg("whatsapp.base_url not set, verification codes are only logged")
	}

	resendInterval, resendBurst := cfg.ResendPolicy()
	verifier := identity.NewVerifier(store, rdb, sender, identity.Options{
		CountryCode:    cfg.CountryCode(),
		CodeTTL:        cfg.CodeTTL(),
		MaxAttempts:    cfg.MaxCodeAttempts(),
		ResendInterval: resendInterval,
		ResendBurst:    resendBurst,
	}, &logger)
	go verifier.ResendLimiter().Run(ctx, time.Minute, 10*time.Minute)

	catalog := schedule.NewCatalog(store, &logger)
	if ttl := cfg.ScheduleCacheTTL(); ttl > 0 {
		catalog.UseRedisCache(rdb, ttl)
	}

	if database != nil {
		syncer := &catalogSyncer{db: database, horizon: cfg.SlotHorizonDays(), logger: logger.With().Str("component", "sync").Logger()}
		err = config.WatchSchedules(ctx, cfg.SchedulesConfigPath, cfg.SchedulesWatchInterval(),
			func(sc *config.SchedulesConfig) {
				syncer.apply(ctx, sc)
				catalog.Invalidate(ctx)
			},
			func(err error) {
				logger.Error().Err(err).Msg("schedules config reload rejected")
			},
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("schedules sync error")
		}
		go syncer.run(ctx, 6*time.Hour)

		if cfg.Backup.Enabled {
			interval, retention := cfg.BackupPolicy()
			go db.NewBackupService(database, cfg.Backup.Path, interval, retention, &logger).Start(ctx)
		}
	}

	bookingSvc := booking.NewService(store, bus, &logger)
	bookingSvc.SetStatusKeys(cfg.StatusKeys())
	if _, err := bookingSvc.ResolveStatuses(ctx); err != nil {
		logger.Fatal().Err(err).Msg("appointment statuses missing")
	}

	sessions := wizard.NewSessionStore(wizard.Dependencies{
		Identity: verifier,
		Catalog:  catalog,
		Booker:   bookingSvc,
		Logger:   &logger,
	}, cfg.SessionTimeout())
	go sessions.Run(ctx, time.Minute)

	rps, burst := cfg.RateLimit()
	limiter := ratelimit.New(rps, burst)
	go limiter.Run(ctx, time.Minute, 3*time.Minute)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		port := cfg.Monitoring.PrometheusPort
		if port == 0 {
			port = 9090
		}
		go startMetricsServer(ctx, port, &logger)
	}

	router := api.NewRouter(&api.Config{
		Sessions: sessions,
		Logger:   &logger,
		Limiter:  limiter,
		Ready: func(ctx context.Context) error {
			ctxPing, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			if err := ping(ctxPing); err != nil {
				return fmt.Errorf("db: %w", err)
			}
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
		OnSuccess: func(sessionID, appointmentID string) {
			logger.Info().Str("session_id", sessionID).Str("appointment_id", appointmentID).Msg("wizard finished")
		},
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Str("address", srv.Addr).Str("driver", cfg.Database.Driver).Msg("booking service started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("http server error")
	}
	logger.Info().Msg("booking service stopped")
}

// catalogSyncer keeps the SQLite catalog in line with schedules.yaml and extends the slot horizon.
type catalogSyncer struct {
	db      *db.DB
	horizon int
	logger  zerolog.Logger

	mu     sync.Mutex
	latest *config.SchedulesConfig
}

func (s *catalogSyncer) apply(ctx context.Context, sc *config.SchedulesConfig) {
	s.mu.Lock()
	s.latest = sc
	s.mu.Unlock()
	s.sync(ctx, sc)
}

func (s *catalogSyncer) sync(ctx context.Context, sc *config.SchedulesConfig) {
	stats, err := s.db.SyncSchedulesFromConfig(ctx, sc, time.Now(), s.horizon)
	if err != nil {
		s.logger.Error().Err(err).Msg("catalog sync failed")
		return
	}
	pruned, err := s.db.PruneSlots(ctx, time.Now())
	if err != nil {
		s.logger.Warn().Err(err).Msg("slot pruning failed")
	}
	s.logger.Info().
		Int("schedules", stats.Schedules).
		Int("responsibles", stats.Responsibles).
		Int("slots_created", stats.SlotsCreated).
		Int64("slots_pruned", pruned).
		Msg("catalog synced")
}

func (s *catalogSyncer) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			sc := s.latest
			s.mu.Unlock()
			if sc != nil {
				s.sync(ctx, sc)
			}
		}
	}
}

// logSender writes codes to the log when no gateway is configured.
type logSender struct {
	logger zerolog.Logger
}

func (l logSender) SendCode(_ context.Context, jid, code string, expiresAt time.Time) error {
	l.logger.Warn().Str("jid", jid).Str("code", code).Time("expires_at", expiresAt).Msg("verification code")
	return nil
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
