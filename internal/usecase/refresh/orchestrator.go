package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cine-agenda/internal/adapters/source"
	"cine-agenda/internal/domain"
	"cine-agenda/internal/infra/metrics"
	"cine-agenda/internal/usecase/normalize"
	"cine-agenda/internal/usecase/schedule"
)

const notifyTimeout = 5 * time.Second

// Outcome описывает итог обработки источника в цикле.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeFailed     Outcome = "failed"
	OutcomeSuspicious Outcome = "suspicious_empty"
	OutcomeSkipped    Outcome = "skipped"
)

// Source связывает запись реестра с готовым адаптером.
type Source struct {
	Entry   domain.RegistryEntry
	Adapter domain.SourceAdapter
}

// Config настраивает оркестратор.
type Config struct {
	Tick          time.Duration
	SweepInterval time.Duration
	Retention     time.Duration
	MaxParallel   int
	// SuspiciousMinPrevious: пустой ответ подозрителен, если в хранилище
	// было хотя бы столько будущих сеансов.
	SuspiciousMinPrevious int
	// SuspiciousCommitAfter: после стольких пустых ответов подряд пустой
	// результат фиксируется.
	SuspiciousCommitAfter int
}

// Deps содержит зависимости оркестратора. Repo, Events и Alerter необязательны.
type Deps struct {
	Store      *schedule.Store
	Normalizer *normalize.Service
	Catalog    *normalize.Catalog
	Repo       domain.SnapshotRepo
	Events     domain.EventPublisher
	Alerter    domain.Alerter
	Logger     zerolog.Logger
	Now        func() time.Time
}

// SourceReport описывает обработку одного источника.
type SourceReport struct {
	SourceID string        `json:"source_id"`
	CinemaID string        `json:"cinema_id"`
	Outcome  Outcome       `json:"outcome"`
	BatchID  string        `json:"batch_id,omitempty"`
	Records  int           `json:"records"`
	Dropped  int           `json:"dropped"`
	Partial  bool          `json:"partial,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
}

// CycleReport описывает один цикл обновления.
type CycleReport struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Sources    []SourceReport `json:"sources"`
}

// Count возвращает число источников с указанным исходом.
func (r CycleReport) Count(outcome Outcome) int {
	n := 0
	for _, s := range r.Sources {
		if s.Outcome == outcome {
			n++
		}
	}
	return n
}

type sourceState struct {
	mu         sync.Mutex
	status     domain.SourceStatus
	inFlight   bool
	nextDue    time.Time
	emptyRuns  int
	lastFailed bool
}

// Orchestrator периодически обновляет источники. Каждый источник
// обрабатывается независимо; состояние хранится отдельно для каждого.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	sources []Source
	states  map[string]*sourceState
	slots   chan struct{}
	logger  zerolog.Logger
}

// New создаёт оркестратор для списка источников.
func New(sources []Source, deps Deps, cfg Config) *Orchestrator {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.SuspiciousCommitAfter < 1 {
		cfg.SuspiciousCommitAfter = 1
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	states := make(map[string]*sourceState, len(sources))
	for _, src := range sources {
		states[src.Entry.Cinema.SourceID] = &sourceState{status: domain.SourceStatus{
			SourceID: src.Entry.Cinema.SourceID,
			CinemaID: src.Entry.Cinema.ID,
			Phase:    domain.PhaseIdle,
		}}
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		sources: sources,
		states:  states,
		slots:   make(chan struct{}, cfg.MaxParallel),
		logger:  deps.Logger.With().Str("component", "refresh").Logger(),
	}
}

// Run запускает обновление по тикеру до отмены контекста. Циклы не ждут
// друг друга: медленный источник пропускается, остальные обновляются вовремя.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	dispatch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report := o.RunCycle(ctx)
			if len(report.Sources) > 0 {
				o.logger.Info().
					Int("committed", report.Count(OutcomeCommitted)).
					Int("failed", report.Count(OutcomeFailed)).
					Int("suspicious", report.Count(OutcomeSuspicious)).
					Int("skipped", report.Count(OutcomeSkipped)).
					Msg("refresh: cycle finished")
			}
		}()
	}

	ticker := time.NewTicker(o.cfg.Tick)
	defer ticker.Stop()
	var sweep <-chan time.Time
	if o.cfg.SweepInterval > 0 {
		sweeper := time.NewTicker(o.cfg.SweepInterval)
		defer sweeper.Stop()
		sweep = sweeper.C
	}

	dispatch()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			dispatch()
		case <-sweep:
			o.Sweep(ctx)
		}
	}
}

// RunCycle обновляет источники, у которых истёк интервал, и ждёт их
// завершения. Источник, обновление которого ещё идёт, пропускается.
func (o *Orchestrator) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{StartedAt: o.deps.Now()}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	add := func(r SourceReport) {
		mu.Lock()
		report.Sources = append(report.Sources, r)
		mu.Unlock()
	}

	for _, src := range o.sources {
		state := o.states[src.Entry.Cinema.SourceID]
		claimed, running := o.claim(state, report.StartedAt)
		if running {
			o.logger.Debug().Str("source", src.Entry.Cinema.SourceID).Msg("refresh: previous run still in flight, skipped")
			add(SourceReport{SourceID: src.Entry.Cinema.SourceID, CinemaID: src.Entry.Cinema.ID, Outcome: OutcomeSkipped, Reason: "in flight"})
			continue
		}
		if !claimed {
			continue
		}
		g.Go(func() error {
			defer o.release(state)
			select {
			case o.slots <- struct{}{}:
			case <-ctx.Done():
				add(o.failed(ctx, src, state, o.deps.Now(), &domain.AdapterFailure{
					SourceID: src.Entry.Cinema.SourceID, Reason: "canceled", At: o.deps.Now(), Err: ctx.Err(),
				}))
				return nil
			}
			defer func() { <-o.slots }()
			add(o.refreshSource(ctx, src, state))
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Sources, func(i, j int) bool {
		return report.Sources[i].SourceID < report.Sources[j].SourceID
	})
	report.FinishedAt = o.deps.Now()
	return report
}

// claim помечает источник занятым, если пришло время его обновить.
func (o *Orchestrator) claim(state *sourceState, now time.Time) (claimed, running bool) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.inFlight {
		return false, true
	}
	if !state.nextDue.IsZero() && now.Before(state.nextDue) {
		return false, false
	}
	state.inFlight = true
	if state.lastFailed {
		state.status.Phase = domain.PhaseIdle
	}
	return true, false
}

func (o *Orchestrator) release(state *sourceState) {
	state.mu.Lock()
	state.inFlight = false
	state.mu.Unlock()
}

func (o *Orchestrator) setPhase(state *sourceState, phase domain.SourcePhase) {
	state.mu.Lock()
	state.status.Phase = phase
	state.mu.Unlock()
}

// refreshSource выполняет конвейер fetch, normalize, merge, commit для источника.
func (o *Orchestrator) refreshSource(ctx context.Context, src Source, state *sourceState) SourceReport {
	cinema, ok := o.deps.Store.Cinema(src.Entry.Cinema.ID)
	if !ok {
		cinema = src.Entry.Cinema
	}
	sourceID := cinema.SourceID
	log := o.logger.With().Str("source", sourceID).Str("cinema", cinema.ID).Logger()
	start := o.deps.Now()

	state.mu.Lock()
	state.status.Phase = domain.PhaseFetching
	state.status.LastAttemptAt = start
	state.nextDue = start.Add(src.Entry.RefreshInterval)
	state.mu.Unlock()

	result, failure := source.SafeFetch(ctx, sourceID, src.Adapter, src.Entry.FetchTimeout)
	if failure != nil {
		return o.failed(ctx, src, state, start, failure)
	}
	metrics.RefreshRecords.WithLabelValues(sourceID).Set(float64(len(result.Records)))

	o.setPhase(state, domain.PhaseNormalizing)
	batch, errs := o.deps.Normalizer.Batch(result, cinema, o.deps.Now())
	for _, err := range errs {
		log.Debug().Err(err).Msg("refresh: record dropped")
	}
	if len(errs) > 0 {
		metrics.NormalizeDroppedTotal.WithLabelValues(sourceID).Add(float64(len(errs)))
	}

	report := SourceReport{
		SourceID: sourceID,
		CinemaID: cinema.ID,
		BatchID:  batch.ID,
		Records:  len(batch.Screenings),
		Dropped:  batch.Dropped,
		Partial:  batch.Partial,
	}

	if len(batch.Screenings) == 0 && !batch.Partial {
		if suspicious := o.checkEmpty(ctx, cinema, state, start, len(result.Records)); suspicious != nil {
			report.Outcome = OutcomeSuspicious
			report.Reason = suspicious.Error()
			report.Duration = o.deps.Now().Sub(start)
			return report
		}
	} else {
		state.mu.Lock()
		state.emptyRuns = 0
		state.mu.Unlock()
	}

	o.setPhase(state, domain.PhaseCommitting)
	merged, err := o.deps.Store.Commit(batch)
	if err != nil {
		return o.failed(ctx, src, state, start, &domain.AdapterFailure{SourceID: sourceID, Reason: "commit failed", At: o.deps.Now(), Err: err})
	}
	metrics.StoreScreenings.WithLabelValues(cinema.ID).Set(float64(len(merged)))
	o.persist(ctx, log, batch, merged)

	finished := o.deps.Now()
	state.mu.Lock()
	state.status.Phase = domain.PhaseIdle
	state.status.LastSuccessAt = finished
	state.status.LastError = ""
	state.status.LastRecords = len(batch.Screenings)
	state.status.LastDropped = batch.Dropped
	state.status.Suspicious = false
	state.lastFailed = false
	state.mu.Unlock()

	metrics.ObserveRefresh(sourceID, string(OutcomeCommitted), start)
	log.Info().
		Str("batch", batch.ID).
		Int("records", len(batch.Screenings)).
		Int("dropped", batch.Dropped).
		Int("stored", len(merged)).
		Bool("partial", batch.Partial).
		Msg("refresh: batch committed")

	o.notify(ctx, domain.RefreshEvent{
		Kind:     domain.RefreshCommitted,
		SourceID: sourceID,
		CinemaID: cinema.ID,
		BatchID:  batch.ID,
		Records:  len(batch.Screenings),
		Dropped:  batch.Dropped,
		Partial:  batch.Partial,
		At:       finished,
	}, nil)

	report.Outcome = OutcomeCommitted
	report.Duration = finished.Sub(start)
	return report
}

// checkEmpty решает судьбу пустого ответа. Возвращает ошибку, если пакет
// фиксировать не нужно.
func (o *Orchestrator) checkEmpty(ctx context.Context, cinema domain.Cinema, state *sourceState, start time.Time, raw int) *domain.SuspiciousEmptyResult {
	future, err := o.deps.Store.Query(domain.ScheduleFilter{
		CinemaID: cinema.ID,
		Range:    &domain.DateRange{From: start},
	})
	if err != nil || len(future) == 0 || len(future) < o.cfg.SuspiciousMinPrevious {
		state.mu.Lock()
		state.emptyRuns = 0
		state.mu.Unlock()
		return nil
	}

	state.mu.Lock()
	state.emptyRuns++
	runs := state.emptyRuns
	state.mu.Unlock()

	log := o.logger.With().Str("source", cinema.SourceID).Str("cinema", cinema.ID).Logger()
	if runs >= o.cfg.SuspiciousCommitAfter {
		log.Warn().Int("previous", len(future)).Int("runs", runs).Msg("refresh: empty result repeated, committing")
		return nil
	}

	suspicious := &domain.SuspiciousEmptyResult{SourceID: cinema.SourceID, Previous: len(future), At: start}
	metrics.SuspiciousEmptyTotal.WithLabelValues(cinema.SourceID).Inc()
	metrics.ObserveRefresh(cinema.SourceID, string(OutcomeSuspicious), start)
	log.Warn().Int("previous", len(future)).Int("raw_records", raw).Int("runs", runs).Msg("refresh: suspicious empty result, previous schedule kept")

	state.mu.Lock()
	state.status.Phase = domain.PhaseIdle
	state.status.Suspicious = true
	state.status.LastRecords = 0
	state.status.LastDropped = raw
	state.mu.Unlock()

	o.notify(ctx, domain.RefreshEvent{
		Kind:     domain.RefreshSuspiciousEmpty,
		SourceID: cinema.SourceID,
		CinemaID: cinema.ID,
		Dropped:  raw,
		Reason:   suspicious.Error(),
		At:       start,
	}, &domain.Alert{
		Kind:     domain.RefreshSuspiciousEmpty,
		SourceID: cinema.SourceID,
		CinemaID: cinema.ID,
		Text:     fmt.Sprintf("Источник вернул пустое расписание, ранее было %d сеансов. Данные сохранены.", len(future)),
	})
	return suspicious
}

// failed фиксирует сбой источника. Данные кинотеатра в хранилище не меняются.
func (o *Orchestrator) failed(ctx context.Context, src Source, state *sourceState, start time.Time, failure *domain.AdapterFailure) SourceReport {
	cinema := src.Entry.Cinema
	state.mu.Lock()
	state.status.Phase = domain.PhaseFailedThisCycle
	state.status.LastError = failure.Error()
	state.lastFailed = true
	state.mu.Unlock()

	metrics.ObserveRefresh(cinema.SourceID, string(OutcomeFailed), start)
	o.logger.Error().
		Err(failure.Err).
		Str("source", cinema.SourceID).
		Str("cinema", cinema.ID).
		Str("reason", failure.Reason).
		Msg("refresh: source failed, keeping last schedule")

	o.notify(ctx, domain.RefreshEvent{
		Kind:     domain.RefreshFailed,
		SourceID: cinema.SourceID,
		CinemaID: cinema.ID,
		Reason:   failure.Reason,
		At:       failure.At,
	}, &domain.Alert{
		Kind:     domain.RefreshFailed,
		SourceID: cinema.SourceID,
		CinemaID: cinema.ID,
		Text:     failure.Error(),
	})

	return SourceReport{
		SourceID: cinema.SourceID,
		CinemaID: cinema.ID,
		Outcome:  OutcomeFailed,
		Reason:   failure.Reason,
		Duration: o.deps.Now().Sub(start),
	}
}

// persist сохраняет результат слияния в долговременную копию. Ошибка
// не отменяет фиксацию в памяти.
func (o *Orchestrator) persist(ctx context.Context, log zerolog.Logger, batch domain.RefreshBatch, merged []domain.Screening) {
	if o.deps.Repo == nil {
		return
	}
	var movies []domain.Movie
	if o.deps.Catalog != nil {
		ids := make([]string, 0, len(batch.Screenings))
		for _, sc := range batch.Screenings {
			ids = append(ids, sc.MovieID)
		}
		movies = o.deps.Catalog.ByIDs(ids)
	}
	if err := o.deps.Repo.SaveBatch(ctx, batch, merged, movies); err != nil {
		log.Warn().Err(err).Str("batch", batch.ID).Msg("refresh: snapshot not persisted")
	}
}

// notify публикует событие, записывает его в журнал запусков и при
// необходимости уведомляет оператора. Ошибки доставки только логируются.
func (o *Orchestrator) notify(ctx context.Context, event domain.RefreshEvent, alert *domain.Alert) {
	event.ID = domain.NewEventID()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if o.deps.Repo != nil {
		if err := o.deps.Repo.RecordRun(ctx, event); err != nil {
			o.logger.Warn().Err(err).Str("source", event.SourceID).Msg("refresh: run not recorded")
		}
	}
	if o.deps.Events != nil {
		if err := o.deps.Events.Publish(ctx, event); err != nil {
			o.logger.Warn().Err(err).Str("source", event.SourceID).Msg("refresh: event not published")
		}
	}
	if alert != nil && o.deps.Alerter != nil {
		if err := o.deps.Alerter.Alert(ctx, *alert); err != nil {
			o.logger.Warn().Err(err).Str("source", event.SourceID).Msg("refresh: alert not sent")
		}
	}
}

// Sweep удаляет устаревшие сеансы из памяти и из долговременной копии.
func (o *Orchestrator) Sweep(ctx context.Context) {
	now := o.deps.Now()
	removed := o.deps.Store.Sweep(now)
	for _, cinema := range o.deps.Store.Cinemas() {
		metrics.StoreScreenings.WithLabelValues(cinema.ID).Set(float64(o.deps.Store.Count(cinema.ID)))
	}
	var purged int64
	if o.deps.Repo != nil && o.cfg.Retention > 0 {
		var err error
		purged, err = o.deps.Repo.PurgeBefore(ctx, now.Add(-o.cfg.Retention))
		if err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Warn().Err(err).Msg("refresh: snapshot purge failed")
		}
	}
	o.logger.Debug().Int("removed", removed).Int64("purged", purged).Msg("refresh: sweep done")
}

// Statuses возвращает состояние всех источников в порядке реестра.
func (o *Orchestrator) Statuses() []domain.SourceStatus {
	out := make([]domain.SourceStatus, 0, len(o.sources))
	for _, src := range o.sources {
		state := o.states[src.Entry.Cinema.SourceID]
		state.mu.Lock()
		out = append(out, state.status)
		state.mu.Unlock()
	}
	return out
}
