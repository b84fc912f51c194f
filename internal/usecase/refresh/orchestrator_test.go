package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cine-agenda/internal/domain"
	"cine-agenda/internal/usecase/normalize"
	"cine-agenda/internal/usecase/schedule"
)

type adapterFunc func(ctx context.Context) (domain.FetchResult, error)

func (f adapterFunc) Fetch(ctx context.Context) (domain.FetchResult, error) { return f(ctx) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubRepo struct {
	mu      sync.Mutex
	saved   []domain.RefreshBatch
	movies  int
	runs    []domain.RefreshEvent
	cutoffs []time.Time
	saveErr error
}

func (r *stubRepo) SaveBatch(_ context.Context, batch domain.RefreshBatch, _ []domain.Screening, movies []domain.Movie) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, batch)
	r.movies += len(movies)
	return r.saveErr
}
func (r *stubRepo) LoadScreenings(context.Context, time.Time) ([]domain.Screening, error) {
	return nil, nil
}
func (r *stubRepo) LoadMovies(context.Context) ([]domain.Movie, error) { return nil, nil }
func (r *stubRepo) RecordRun(_ context.Context, event domain.RefreshEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, event)
	return nil
}
func (r *stubRepo) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoffs = append(r.cutoffs, cutoff)
	return 0, nil
}

type stubAlerter struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (a *stubAlerter) Alert(_ context.Context, alert domain.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *stubAlerter) kinds() []domain.RefreshEventKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.RefreshEventKind, 0, len(a.alerts))
	for _, al := range a.alerts {
		out = append(out, al.Kind)
	}
	return out
}

type fixture struct {
	clock   *clock
	store   *schedule.Store
	repo    *stubRepo
	alerter *stubAlerter
	orch    *Orchestrator
}

const interval = time.Hour

func newFixture(t *testing.T, cfg Config, adapters map[string]domain.SourceAdapter) *fixture {
	t.Helper()
	loc := normalize.MustParis()
	clk := &clock{now: time.Date(2024, 6, 1, 10, 0, 0, 0, loc)}
	ids := []string{"A", "B"}
	var (
		cinemas []domain.Cinema
		sources []Source
	)
	for _, id := range ids {
		adapter, ok := adapters[id]
		if !ok {
			continue
		}
		cinema := domain.Cinema{ID: id, Name: "Cinéma " + id, SourceID: id}
		cinemas = append(cinemas, cinema)
		sources = append(sources, Source{
			Entry:   domain.RegistryEntry{Cinema: cinema, RefreshInterval: interval, FetchTimeout: time.Second},
			Adapter: adapter,
		})
	}
	store := schedule.NewStore(cinemas, loc, 24*time.Hour, clk.Now)
	catalog := normalize.NewCatalog()
	norm := normalize.NewService(catalog, nil, loc, normalize.Window{Retention: 24 * time.Hour, Horizon: 30 * 24 * time.Hour}, clk.Now)
	repo := &stubRepo{}
	alerter := &stubAlerter{}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = 4
	}
	orch := New(sources, Deps{
		Store:      store,
		Normalizer: norm,
		Catalog:    catalog,
		Repo:       repo,
		Alerter:    alerter,
		Logger:     zerolog.Nop(),
		Now:        clk.Now,
	}, cfg)
	return &fixture{clock: clk, store: store, repo: repo, alerter: alerter, orch: orch}
}

func records(titles ...string) domain.FetchResult {
	var out domain.FetchResult
	for i, title := range titles {
		out.Records = append(out.Records, domain.ProvisionalRecord{
			Title: title,
			Start: fmt.Sprintf("2024-06-01T%02d:00:00", 14+i),
		})
	}
	return out
}

func static(res domain.FetchResult) domain.SourceAdapter {
	return adapterFunc(func(context.Context) (domain.FetchResult, error) { return res, nil })
}

func outcomeOf(report CycleReport, id string) Outcome {
	for _, s := range report.Sources {
		if s.SourceID == id {
			return s.Outcome
		}
	}
	return ""
}

func TestRunCycleCommitsAmelie(t *testing.T) {
	amelie := domain.FetchResult{Records: []domain.ProvisionalRecord{{
		Title:   "Le Fabuleux Destin d'Amélie Poulain",
		Start:   "2024-06-01T20:00:00",
		Version: "VF",
	}}}
	f := newFixture(t, Config{}, map[string]domain.SourceAdapter{"A": static(amelie)})

	report := f.orch.RunCycle(context.Background())
	if outcomeOf(report, "A") != OutcomeCommitted {
		t.Fatalf("ожидали фиксацию, получили %+v", report.Sources)
	}
	got, err := f.store.Query(domain.ScheduleFilter{CinemaID: "A"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ожидали один сеанс, получили %d", len(got))
	}
	want := time.Date(2024, 6, 1, 20, 0, 0, 0, normalize.MustParis())
	if !got[0].StartsAt.Equal(want) || got[0].Version != "vf" {
		t.Fatalf("неверный сеанс: %+v", got[0])
	}

	status := f.orch.Statuses()[0]
	if status.Phase != domain.PhaseIdle || status.LastRecords != 1 || status.LastSuccessAt.IsZero() {
		t.Fatalf("неверный статус: %+v", status)
	}
	if len(f.repo.saved) != 1 || f.repo.movies != 1 {
		t.Fatalf("пакет должен сохраняться в долговременную копию: %d/%d", len(f.repo.saved), f.repo.movies)
	}
	if len(f.repo.runs) != 1 || f.repo.runs[0].Kind != domain.RefreshCommitted || f.repo.runs[0].ID == "" {
		t.Fatalf("ожидали запись о запуске, получили %+v", f.repo.runs)
	}
}

func TestFailureKeepsPreviousSchedule(t *testing.T) {
	var fail bool
	var mu sync.Mutex
	adapter := adapterFunc(func(context.Context) (domain.FetchResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return domain.FetchResult{}, errors.New("connection reset")
		}
		return records("Paris, Texas", "Stalker"), nil
	})
	f := newFixture(t, Config{}, map[string]domain.SourceAdapter{"A": adapter})
	f.orch.RunCycle(context.Background())
	firstSuccess := f.orch.Statuses()[0].LastSuccessAt

	mu.Lock()
	fail = true
	mu.Unlock()
	f.clock.Advance(interval)

	report := f.orch.RunCycle(context.Background())
	if outcomeOf(report, "A") != OutcomeFailed {
		t.Fatalf("ожидали сбой, получили %+v", report.Sources)
	}
	got, _ := f.store.Query(domain.ScheduleFilter{CinemaID: "A"})
	if len(got) != 2 {
		t.Fatalf("после сбоя должны остаться прежние сеансы, получили %d", len(got))
	}
	status := f.orch.Statuses()[0]
	if status.Phase != domain.PhaseFailedThisCycle || status.LastError == "" {
		t.Fatalf("неверный статус после сбоя: %+v", status)
	}
	if !status.LastSuccessAt.Equal(firstSuccess) {
		t.Fatalf("время последнего успеха не должно меняться")
	}
	if kinds := f.alerter.kinds(); len(kinds) != 1 || kinds[0] != domain.RefreshFailed {
		t.Fatalf("ожидали уведомление о сбое, получили %v", kinds)
	}
}

func TestTimeoutIsAdapterFailure(t *testing.T) {
	var hang atomic.Bool
	adapter := adapterFunc(func(ctx context.Context) (domain.FetchResult, error) {
		if !hang.Load() {
			return records("Playtime", "Stalker"), nil
		}
		<-ctx.Done()
		return domain.FetchResult{}, ctx.Err()
	})
	f := newFixture(t, Config{}, map[string]domain.SourceAdapter{"A": adapter})
	f.orch.sources[0].Entry.FetchTimeout = 20 * time.Millisecond

	if outcomeOf(f.orch.RunCycle(context.Background()), "A") != OutcomeCommitted {
		t.Fatalf("первый запуск должен зафиксировать пакет")
	}
	before, _ := f.store.Query(domain.ScheduleFilter{CinemaID: "A"})
	if len(before) != 2 {
		t.Fatalf("ожидали 2 сеанса после первого запуска, получили %d", len(before))
	}

	hang.Store(true)
	f.clock.Advance(interval)
	report := f.orch.RunCycle(context.Background())
	if outcomeOf(report, "A") != OutcomeFailed || report.Sources[0].Reason != "timeout" {
		t.Fatalf("ожидали сбой по таймауту, получили %+v", report.Sources)
	}
	after, _ := f.store.Query(domain.ScheduleFilter{CinemaID: "A"})
	if len(after) != len(before) {
		t.Fatalf("таймаут не должен менять расписание: было %d, стало %d", len(before), len(after))
	}
	for i := range before {
		if after[i].ID != before[i].ID || !after[i].StartsAt.Equal(before[i].StartsAt) {
			t.Fatalf("таймаут не должен менять расписание: было %+v, стало %+v", before[i], after[i])
		}
	}
}

func TestSourcesAreIsolated(t *testing.T) {
	panicking := adapterFunc(func(context.Context) (domain.FetchResult, error) {
		panic("unexpected markup")
	})
	f := newFixture(t, Config{}, map[string]domain.SourceAdapter{
		"A": panicking,
		"B": static(records("Playtime")),
	})

	report := f.orch.RunCycle(context.Background())
	if outcomeOf(report, "A") != OutcomeFailed {
		t.Fatalf("паника источника должна стать сбоем, получили %+v", report.Sources)
	}
	if outcomeOf(report, "B") != OutcomeCommitted {
		t.Fatalf("сбой A не должен мешать B, получили %+v", report.Sources)
	}
	if f.store.Count("B") != 1 || f.store.Count("A") != 0 {
		t.Fatalf("неверное содержимое хранилища: A=%d B=%d", f.store.Count("A"), f.store.Count("B"))
	}
}

func TestInFlightSourceIsSkipped(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := adapterFunc(func(context.Context) (domain.FetchResult, error) {
		once.Do(func() { close(started) })
		<-release
		return records("Jeanne Dielman"), nil
	})
	f := newFixture(t, Config{}, map[string]domain.SourceAdapter{"A": blocking})

	done := make(chan CycleReport, 1)
	go func() { done <- f.orch.RunCycle(context.Background()) }()
	<-started

	second := f.orch.RunCycle(context.Background())
	if outcomeOf(second, "A") != OutcomeSkipped {
		t.Fatalf("повторный запуск должен пропускаться, получили %+v", second.Sources)
	}
	if phase := f.orch.Statuses()[0].Phase; phase != domain.PhaseFetching {
		t.Fatalf("ожидали фазу fetching, получили %s", phase)
	}

	close(release)
	first := <-done
	if outcomeOf(first, "A") != OutcomeCommitted {
		t.Fatalf("первый запуск должен завершиться фиксацией, получили %+v", first.Sources)
	}
}

func TestRefreshIntervalGating(t *testing.T) {
	var calls int
	var mu sync.Mutex
	adapter := adapterFunc(func(context.Context) (domain.FetchResult, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return records("Cléo de 5 à 7"), nil
	})
	f := newFixture(t, Config{}, map[string]domain.SourceAdapter{"A": adapter})

	f.orch.RunCycle(context.Background())
	if report := f.orch.RunCycle(context.Background()); len(report.Sources) != 0 {
		t.Fatalf("интервал ещё не истёк, получили %+v", report.Sources)
	}
	f.clock.Advance(interval)
	f.orch.RunCycle(context.Background())
	if calls != 2 {
		t.Fatalf("ожидали 2 вызова источника, получили %d", calls)
	}
}

func TestSuspiciousEmptyResult(t *testing.T) {
	var empty bool
	var mu sync.Mutex
	adapter := adapterFunc(func(context.Context) (domain.FetchResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if empty {
			return domain.FetchResult{}, nil
		}
		return records("A bout de souffle", "Le Mépris", "Pierrot le fou"), nil
	})
	f := newFixture(t, Config{SuspiciousMinPrevious: 3, SuspiciousCommitAfter: 2}, map[string]domain.SourceAdapter{"A": adapter})
	f.orch.RunCycle(context.Background())

	mu.Lock()
	empty = true
	mu.Unlock()
	f.clock.Advance(interval)

	report := f.orch.RunCycle(context.Background())
	if outcomeOf(report, "A") != OutcomeSuspicious {
		t.Fatalf("ожидали подозрительный пустой ответ, получили %+v", report.Sources)
	}
	if f.store.Count("A") != 3 {
		t.Fatalf("подозрительный пустой ответ не должен стирать расписание, осталось %d", f.store.Count("A"))
	}
	if !f.orch.Statuses()[0].Suspicious {
		t.Fatalf("статус должен отмечать подозрительный ответ")
	}
	if kinds := f.alerter.kinds(); len(kinds) != 1 || kinds[0] != domain.RefreshSuspiciousEmpty {
		t.Fatalf("ожидали уведомление о пустом ответе, получили %v", kinds)
	}

	f.clock.Advance(interval)
	report = f.orch.RunCycle(context.Background())
	if outcomeOf(report, "A") != OutcomeCommitted {
		t.Fatalf("повторный пустой ответ должен фиксироваться, получили %+v", report.Sources)
	}
	if f.store.Count("A") != 0 {
		t.Fatalf("после фиксации пустого ответа будущих сеансов быть не должно")
	}
}

func TestEmptyResultWithoutHistoryIsCommitted(t *testing.T) {
	f := newFixture(t, Config{SuspiciousMinPrevious: 1, SuspiciousCommitAfter: 3}, map[string]domain.SourceAdapter{"A": static(domain.FetchResult{})})
	report := f.orch.RunCycle(context.Background())
	if outcomeOf(report, "A") != OutcomeCommitted {
		t.Fatalf("пустой ответ без истории не подозрителен, получили %+v", report.Sources)
	}
}

func TestDroppedRecordsAreCounted(t *testing.T) {
	res := records("Sans toit ni loi")
	res.Records = append(res.Records, domain.ProvisionalRecord{Title: "  ", Start: "2024-06-01T21:00:00"})
	res.Records = append(res.Records, domain.ProvisionalRecord{Title: "Vagabond", Start: "demain"})
	f := newFixture(t, Config{}, map[string]domain.SourceAdapter{"A": static(res)})

	report := f.orch.RunCycle(context.Background())
	if report.Sources[0].Records != 1 || report.Sources[0].Dropped != 2 {
		t.Fatalf("ожидали 1 сеанс и 2 отброшенные записи, получили %+v", report.Sources[0])
	}
}

func TestPersistFailureDoesNotFailCommit(t *testing.T) {
	f := newFixture(t, Config{}, map[string]domain.SourceAdapter{"A": static(records("Shoah"))})
	f.repo.saveErr = errors.New("db down")

	report := f.orch.RunCycle(context.Background())
	if outcomeOf(report, "A") != OutcomeCommitted || f.store.Count("A") != 1 {
		t.Fatalf("ошибка долговременной копии не должна отменять фиксацию: %+v", report.Sources)
	}
}

func TestSweepPurgesSnapshot(t *testing.T) {
	f := newFixture(t, Config{Retention: 24 * time.Hour}, map[string]domain.SourceAdapter{"A": static(records("Nuit et brouillard"))})
	f.orch.RunCycle(context.Background())
	f.clock.Advance(72 * time.Hour)

	f.orch.Sweep(context.Background())
	if f.store.Count("A") != 0 {
		t.Fatalf("устаревшие сеансы должны удаляться")
	}
	want := f.clock.Now().Add(-24 * time.Hour)
	if len(f.repo.cutoffs) != 1 || !f.repo.cutoffs[0].Equal(want) {
		t.Fatalf("ожидали очистку копии до %s, получили %v", want, f.repo.cutoffs)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{Tick: 10 * time.Millisecond, SweepInterval: 10 * time.Millisecond}, map[string]domain.SourceAdapter{"A": static(records("Zazie dans le métro"))})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.orch.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for f.store.Count("A") == 0 {
		select {
		case <-deadline:
			t.Fatalf("первый цикл должен запускаться сразу")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run должен завершаться после отмены контекста")
	}
}
