package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"slotbook/internal/api"
	"slotbook/internal/config"
	"slotbook/internal/database"
	"slotbook/internal/domain"
	"slotbook/internal/events"
	"slotbook/internal/logging"
	"slotbook/internal/metrics"
	"slotbook/internal/payment"
	"slotbook/internal/repository"
	"slotbook/internal/service"
	"slotbook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// slotGenerationSchedule runs shortly after midnight in the booking timezone.
const slotGenerationSchedule = "5 0 * * *"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	location := cfg.Booking.Location()

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	catalog := service.NewCatalogService(db, cfg.Schedule, location, domain.SystemClock{}, &logger)
	if err := catalog.SyncServices(ctx, cfg.Services); err != nil {
		return fmt.Errorf("sync services: %w", err)
	}
	if _, err := catalog.GenerateSlots(ctx); err != nil {
		return fmt.Errorf("generate slots: %w", err)
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}
	drafts := service.NewDraftService(initDraftRepository(cfg, redisClient, &logger), domain.SystemClock{}, &logger)

	eventBus := events.NewEventBus()
	subscribeEvents(eventBus, &logger)

	reservations := service.NewReservationService(db, initVerifier(cfg, &logger), eventBus, service.ReservationOptions{
		HoldTTL:  cfg.Booking.HoldTTL,
		Location: location,
		Market:   cfg.Booking.Market,
	}, &logger)

	httpServer := api.NewHTTPServer(cfg.API, reservations, drafts, location, &logger)

	scheduler := cron.New(cron.WithLocation(location))
	if _, err := scheduler.AddFunc(slotGenerationSchedule, func() {
		if _, err := catalog.GenerateSlots(ctx); err != nil {
			logger.Error().Err(err).Msg("scheduled slot generation failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule slot generation: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)

	sweeper := worker.NewHoldSweeper(reservations, cfg.Booking.SweepInterval, &logger)
	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(db, cfg.Backup, &logger)
		g.Go(func() error {
			backupService.Start(gctx)
			return nil
		})
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		g.Go(func() error {
			return startMetricsServer(gctx, cfg.Monitoring.PrometheusPort, &logger)
		})
	}

	g.Go(httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")
	err = g.Wait()
	logger.Info().Msg("API server stopped")
	return err
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("create database directory")
		return nil, err
	}
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, drafts fall back to memory until it recovers")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return redisClient
}

func initDraftRepository(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.DraftRepository {
	memory := repository.NewMemoryDraftRepository(cfg.Booking.DraftTTL)
	if redisClient == nil {
		return memory
	}
	primary := repository.NewRedisDraftRepository(redisClient, cfg.Booking.DraftTTL)
	return repository.NewFailoverDraftRepository(primary, memory, logger)
}

func initVerifier(cfg *config.Config, logger *zerolog.Logger) domain.PaymentVerifier {
	if !cfg.Stripe.Enabled {
		logger.Warn().Msg("stripe is disabled, payment confirmations are checked locally only")
		return payment.StaticVerifier{}
	}
	return payment.NewStripeVerifier(cfg.Stripe.SecretKey, logger)
}

func subscribeEvents(bus *events.EventBus, logger *zerolog.Logger) {
	bus.OnError(func(ev *events.Event, err error) {
		logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: handler failed")
	})

	logBooking := func(ev *events.Event) error {
		var payload events.BookingEventPayload
		if err := ev.Decode(&payload); err != nil {
			return err
		}
		logger.Info().
			Str("event", ev.Type).
			Str("booking_id", payload.BookingID).
			Str("service_id", payload.ServiceID).
			Time("start", payload.StartTime).
			Int64("amount", payload.Amount).
			Str("currency", payload.Currency).
			Msg("booking event")
		return nil
	}

	logHold := func(ev *events.Event) error {
		var payload events.HoldEventPayload
		if err := ev.Decode(&payload); err != nil {
			return err
		}
		logger.Debug().
			Str("event", ev.Type).
			Str("hold_id", payload.HoldID).
			Str("slot_id", payload.SlotID).
			Str("session_id", payload.SessionID).
			Msg("hold event")
		return nil
	}

	bus.Subscribe(events.EventBookingFinalized, logBooking)
	bus.Subscribe(events.EventBookingCancelled, logBooking)
	bus.Subscribe(events.EventHoldAcquired, logHold)
	bus.Subscribe(events.EventHoldReleased, logHold)
	bus.Subscribe(events.EventHoldExpired, logHold)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
		return err
	}
	return nil
}
