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
	"syscall"
	"time"

	"slotbook/internal/api"
	"slotbook/internal/bot"
	"slotbook/internal/config"
	"slotbook/internal/domain"
	"slotbook/internal/logging"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/repository"
	"slotbook/internal/service"
	"slotbook/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

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
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if cfg.Telegram.BotToken == "" || cfg.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
		logger.Error().Msg("set telegram.bot_token in config.yaml")
		return os.ErrInvalid
	}
	if cfg.Bot.APIBaseURL == "" {
		logger.Error().Msg("set bot.api_base_url in config.yaml")
		return os.ErrInvalid
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	client := initClient(cfg, redisClient, &logger)
	releaser := worker.NewReleaser(
		client,
		redisClient,
		worker.ReleasePolicy(cfg.Booking.ReleaseMaxRetries, cfg.Booking.ReleaseInitialDelay),
		cfg.Booking.ReleaseQueueSize,
		&logger,
	)

	clock := domain.SystemClock{}
	location := cfg.Booking.Location()
	holds := service.NewHoldManager(client, clock, cfg.Booking.HoldTTL, &logger).WithReleaser(releaser)

	wrapper, err := bot.NewBotWrapper(cfg.Telegram.BotToken, cfg.Telegram.Debug)
	if err != nil {
		logger.Error().Err(err).Msg("create Bot API client")
		return err
	}

	telegramBot := bot.NewBot(bot.Deps{
		Telegram: bot.NewTelegramService(wrapper),
		Wizard: service.WizardDeps{
			Backend:      client,
			Holds:        holds,
			Finalizer:    service.NewFinalizer(client, holds, &logger),
			Availability: service.NewAvailabilityClient(client, location, &logger),
			Drafts:       client.Drafts(),
			Details:      service.NewDetailsValidator(cfg.Booking.Market),
			Clock:        clock,
			Logger:       &logger,
		},
		Limiter:  initRateLimiter(cfg, redisClient, &logger),
		Exporter: client,
		Config:   cfg.Bot,
		Location: location,
		Metrics:  bot.NewMetrics(prometheus.DefaultRegisterer),
		Logger:   &logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		releaser.Start(gctx)
		return nil
	})

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		g.Go(func() error {
			return startMetricsServer(gctx, cfg.Monitoring.PrometheusPort, &logger)
		})
	}

	telegramBot.StartHoldReminders(gctx, 0)
	g.Go(func() error {
		logger.Info().Str("api", cfg.Bot.APIBaseURL).Msg("bot started")
		telegramBot.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		telegramBot.Stop()
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("Shutdown complete.")
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

	return cfg, logging.Component(baseLogger, "bot-main"), closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}
	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable")
	}
	return redisClient
}

func initClient(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) *api.Client {
	var opts []api.ClientOption
	if cfg.Bot.APIKey != "" {
		opts = append(opts, api.WithAPIKey(cfg.API.Auth.HeaderAPIKey, cfg.Bot.APIKey))
	}
	if redisClient != nil {
		opts = append(opts, api.WithServiceCache(redisClient, models.ServicesCacheTTL))
	}
	return api.NewClient(cfg.Bot.APIBaseURL, logger, opts...)
}

// initRateLimiter counts messages in Redis when available so limits hold
// across bot replicas.
func initRateLimiter(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) bot.RateLimiter {
	window := time.Duration(cfg.Bot.RateLimitWindow) * time.Second
	memory := repository.NewMemoryDraftRepository(window)
	if redisClient == nil {
		return memory
	}
	primary := repository.NewRedisDraftRepository(redisClient, window)
	return repository.NewFailoverDraftRepository(primary, memory, logger)
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
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
		return err
	}
	return nil
}
