package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cine-agenda/internal/adapters/geocoder"
	"cine-agenda/internal/adapters/repo"
	"cine-agenda/internal/adapters/source"
	"cine-agenda/internal/adapters/telegram"
	"cine-agenda/internal/domain"
	"cine-agenda/internal/infra/cache"
	"cine-agenda/internal/infra/config"
	"cine-agenda/internal/infra/db"
	httpinfra "cine-agenda/internal/infra/http"
	logger "cine-agenda/internal/infra/log"
	"cine-agenda/internal/infra/metrics"
	"cine-agenda/internal/infra/queue"
	"cine-agenda/internal/infra/registry"
	"cine-agenda/internal/usecase/normalize"
	"cine-agenda/internal/usecase/refresh"
	"cine-agenda/internal/usecase/schedule"
)

const alertDedupTTL = time.Hour

func main() {
	cfg, err := config.Load()
	log := logger.NewLogger(cfg.AppEnv, "aggregator")
	if err != nil {
		log.Fatal().Err(err).Msg("aggregator: invalid config")
	}
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("aggregator: invalid timezone")
	}
	reg, err := registry.Load(cfg.RegistryPath, registry.Defaults{
		RefreshInterval: cfg.Refresh.DefaultInterval,
		FetchTimeout:    cfg.Refresh.DefaultTimeout,
		Kinds:           source.Kinds(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("aggregator: registry not loaded")
	}
	log.Info().Int("cinemas", len(reg.Entries)).Str("path", cfg.RegistryPath).Msg("aggregator: registry loaded")

	var (
		kv          domain.Cache = cache.NewMemory(nil)
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		kv = cache.NewRedis(redisClient, "cine-agenda:")
	}

	catalog := normalize.NewCatalog()
	normalizer := normalize.NewService(catalog, normalize.NewAliases(reg.Aliases), loc, normalize.Window{
		Retention: cfg.Refresh.RetentionPast,
		Horizon:   cfg.Refresh.Horizon,
	}, time.Now)
	store := schedule.NewStore(reg.Cinemas(), loc, cfg.Refresh.RetentionPast, time.Now)

	var snapshots domain.SnapshotRepo
	if cfg.PGDSN != "" {
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("aggregator: no database connection")
		}
		defer pool.Close()
		snapshots = warmStart(ctx, pool, catalog, store, cfg.Refresh.RetentionPast, log)
	}

	g := geocoder.NewCached(geocoder.NewBAN(cfg.Geocoder.URL, cfg.Geocoder.Timeout), kv, log.With().Str("component", "geocoder").Logger())
	failures := geocoder.Locate(ctx, g, store.Cinemas(), store.SetCoordinate, log.With().Str("component", "geocoder").Logger())
	log.Info().Int("unmapped", len(failures)).Msg("aggregator: cinemas geocoded")

	var events queue.Multi
	if cfg.RabbitMQ.URL != "" {
		publisher, err := queue.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, log.With().Str("component", "rabbitmq").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("aggregator: rabbitmq publisher")
		}
		defer publisher.Close()
		events = append(events, publisher)
	}
	if redisClient != nil {
		events = append(events, queue.NewRedisEventLog(redisClient, "cine-agenda:events", 500))
	}

	var alerter domain.Alerter
	if cfg.Telegram.Token != "" && cfg.Telegram.AlertChatID != 0 {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			log.Error().Err(err).Msg("aggregator: telegram alerts disabled")
		} else {
			alerter = telegram.NewAlerter(bot, cfg.Telegram.AlertChatID, kv, alertDedupTTL, log.With().Str("component", "telegram").Logger())
		}
	}

	fetcher := source.NewFetcher(nil, source.FetcherConfig{
		UserAgent: cfg.Fetch.UserAgent,
		RPS:       cfg.Fetch.RPS,
		Burst:     cfg.Fetch.Burst,
	})
	sources, errs := refresh.BuildSources(reg.Entries, source.Deps{Fetcher: fetcher, Location: loc, Now: time.Now}, source.BreakerConfig{
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	}, log)
	for _, err := range errs {
		log.Error().Err(err).Msg("aggregator: source disabled")
	}

	deps := refresh.Deps{
		Store:      store,
		Normalizer: normalizer,
		Catalog:    catalog,
		Repo:       snapshots,
		Alerter:    alerter,
		Logger:     log,
		Now:        time.Now,
	}
	if len(events) > 0 {
		deps.Events = events
	}
	orchestrator := refresh.New(sources, deps, refresh.Config{
		Tick:                  cfg.Refresh.Tick,
		SweepInterval:         cfg.Refresh.SweepInterval,
		Retention:             cfg.Refresh.RetentionPast,
		MaxParallel:           cfg.Refresh.MaxParallel,
		SuspiciousMinPrevious: cfg.Refresh.SuspiciousMinPrevious,
		SuspiciousCommitAfter: cfg.Refresh.SuspiciousCommitAfter,
	})

	server := httpinfra.NewServer(log.With().Str("component", "http").Logger())
	httpinfra.NewAPI(schedule.NewReader(store, catalog), orchestrator, time.Now, log).Mount(server)
	go func() {
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			log.Error().Err(err).Msg("aggregator: http server stopped")
			stop()
		}
	}()
	if cfg.MetricsAddr != "" {
		metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
	}

	log.Info().Int("sources", len(sources)).Msg("aggregator: started")
	orchestrator.Run(ctx)

	log.Info().Msg("aggregator: stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

// warmStart поднимает схему и загружает последнюю копию расписания в память.
func warmStart(ctx context.Context, pool *pgxpool.Pool, catalog *normalize.Catalog, store *schedule.Store, retention time.Duration, log zerolog.Logger) domain.SnapshotRepo {
	pg := repo.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("aggregator: schema not applied")
	}
	movies, err := pg.LoadMovies(ctx)
	if err != nil {
		log.Error().Err(err).Msg("aggregator: movies not restored")
	}
	catalog.Restore(movies)
	screenings, err := pg.LoadScreenings(ctx, time.Now().Add(-retention))
	if err != nil {
		log.Error().Err(err).Msg("aggregator: screenings not restored")
	}
	restored := store.Restore(screenings)
	log.Info().Int("movies", len(movies)).Int("screenings", restored).Msg("aggregator: snapshot restored")
	return pg
}
