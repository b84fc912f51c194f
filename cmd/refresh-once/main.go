package main

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"cine-agenda/internal/adapters/source"
	"cine-agenda/internal/domain"
	"cine-agenda/internal/infra/config"
	logger "cine-agenda/internal/infra/log"
	"cine-agenda/internal/infra/registry"
	"cine-agenda/internal/usecase/normalize"
	"cine-agenda/internal/usecase/refresh"
	"cine-agenda/internal/usecase/schedule"
)

type output struct {
	Report   refresh.CycleReport     `json:"report"`
	Statuses []domain.SourceStatus   `json:"statuses"`
	Listing  []schedule.ListingEntry `json:"listing"`
	Stored   map[string]int          `json:"stored"`
}

// refresh-once выполняет один цикл обновления и печатает отчёт в JSON.
// Аргументы ограничивают запуск перечисленными источниками.
func main() {
	cfg, err := config.Load()
	log := logger.NewLogger(cfg.AppEnv, "refresh-once")
	if err != nil {
		log.Fatal().Err(err).Msg("refresh-once: invalid config")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("refresh-once: invalid timezone")
	}
	reg, err := registry.Load(cfg.RegistryPath, registry.Defaults{
		RefreshInterval: cfg.Refresh.DefaultInterval,
		FetchTimeout:    cfg.Refresh.DefaultTimeout,
		Kinds:           source.Kinds(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("refresh-once: registry not loaded")
	}
	entries := reg.Entries
	if only := os.Args[1:]; len(only) > 0 {
		entries = slices.DeleteFunc(slices.Clone(entries), func(e domain.RegistryEntry) bool {
			return !slices.Contains(only, e.Cinema.ID)
		})
	}

	catalog := normalize.NewCatalog()
	normalizer := normalize.NewService(catalog, normalize.NewAliases(reg.Aliases), loc, normalize.Window{
		Retention: cfg.Refresh.RetentionPast,
		Horizon:   cfg.Refresh.Horizon,
	}, time.Now)
	store := schedule.NewStore(reg.Cinemas(), loc, cfg.Refresh.RetentionPast, time.Now)

	fetcher := source.NewFetcher(nil, source.FetcherConfig{
		UserAgent: cfg.Fetch.UserAgent,
		RPS:       cfg.Fetch.RPS,
		Burst:     cfg.Fetch.Burst,
	})
	sources, errs := refresh.BuildSources(entries, source.Deps{Fetcher: fetcher, Location: loc, Now: time.Now}, source.BreakerConfig{}, log)
	for _, err := range errs {
		log.Error().Err(err).Msg("refresh-once: source disabled")
	}

	orchestrator := refresh.New(sources, refresh.Deps{
		Store:      store,
		Normalizer: normalizer,
		Catalog:    catalog,
		Logger:     log,
		Now:        time.Now,
	}, refresh.Config{
		MaxParallel:           cfg.Refresh.MaxParallel,
		SuspiciousMinPrevious: cfg.Refresh.SuspiciousMinPrevious,
		SuspiciousCommitAfter: cfg.Refresh.SuspiciousCommitAfter,
	})

	out := output{
		Report:   orchestrator.RunCycle(ctx),
		Statuses: orchestrator.Statuses(),
		Listing:  schedule.NewReader(store, catalog).DailyListing(time.Now()),
		Stored:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		out.Stored[e.Cinema.ID] = store.Count(e.Cinema.ID)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal().Err(err).Msg("refresh-once: report not written")
	}
	if out.Report.Count(refresh.OutcomeFailed) > 0 {
		os.Exit(1)
	}
}
