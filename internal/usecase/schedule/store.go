package schedule

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"cine-agenda/internal/domain"
	"cine-agenda/internal/usecase/merge"
)

const dayLayout = "2006-01-02"

// snapshot неизменяем после публикации: читатели получают его без блокировок.
type snapshot struct {
	screenings []domain.Screening
	byDate     map[string][]domain.Screening
	updatedAt  time.Time
	batchID    string
}

type shard struct {
	mu     sync.Mutex
	cinema atomic.Pointer[domain.Cinema]
	snap   atomic.Pointer[snapshot]
}

// Store хранит нормализованные сеансы по кинотеатрам.
// Фиксации одного кинотеатра взаимно исключают друг друга, разные
// кинотеатры фиксируются параллельно.
type Store struct {
	loc       *time.Location
	retention time.Duration
	now       func() time.Time

	shards map[string]*shard
	order  []string
}

// NewStore создаёт хранилище для кинотеатров реестра.
func NewStore(cinemas []domain.Cinema, loc *time.Location, retention time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	s := &Store{
		loc:       loc,
		retention: retention,
		now:       now,
		shards:    make(map[string]*shard, len(cinemas)),
	}
	for _, c := range cinemas {
		if _, ok := s.shards[c.ID]; ok {
			continue
		}
		sh := &shard{}
		cinema := c
		sh.cinema.Store(&cinema)
		sh.snap.Store(&snapshot{byDate: map[string][]domain.Screening{}})
		s.shards[c.ID] = sh
		s.order = append(s.order, c.ID)
	}
	return s
}

// Location возвращает пояс, в котором считаются локальные даты.
func (s *Store) Location() *time.Location {
	return s.loc
}

func (s *Store) cutoff(now time.Time) time.Time {
	return now.Add(-s.retention)
}

func (s *Store) build(screenings []domain.Screening, updatedAt time.Time, batchID string) *snapshot {
	merge.Sort(screenings)
	snap := &snapshot{
		screenings: screenings,
		byDate:     make(map[string][]domain.Screening),
		updatedAt:  updatedAt,
		batchID:    batchID,
	}
	for i := 0; i < len(screenings); {
		day := screenings[i].StartsAt.In(s.loc).Format(dayLayout)
		j := i + 1
		for j < len(screenings) && screenings[j].StartsAt.In(s.loc).Format(dayLayout) == day {
			j++
		}
		snap.byDate[day] = screenings[i:j:j]
		i = j
	}
	return snap
}

// Commit сливает пакет с текущими сеансами кинотеатра и атомарно публикует
// результат. Возвращает итоговый набор сеансов кинотеатра.
func (s *Store) Commit(batch domain.RefreshBatch) ([]domain.Screening, error) {
	sh, ok := s.shards[batch.CinemaID]
	if !ok {
		return nil, domain.ErrCinemaNotFound
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now()
	current := sh.snap.Load()
	merged := merge.Merge(current.screenings, batch, now, s.loc)
	merged = merge.Purge(merged, s.cutoff(now))
	updatedAt := batch.FetchedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}
	next := s.build(merged, updatedAt, batch.ID)
	sh.snap.Store(next)
	return append([]domain.Screening(nil), next.screenings...), nil
}

// Query возвращает сеансы по фильтру. Сеансы старше горизонта удержания
// не возвращаются, даже если очистка ещё не прошла.
func (s *Store) Query(filter domain.ScheduleFilter) ([]domain.Screening, error) {
	ids := s.order
	if filter.CinemaID != "" {
		if _, ok := s.shards[filter.CinemaID]; !ok {
			return nil, domain.ErrCinemaNotFound
		}
		ids = []string{filter.CinemaID}
	}
	cutoff := s.cutoff(s.now())
	var out []domain.Screening
	for _, id := range ids {
		snap := s.shards[id].snap.Load()
		for _, sc := range window(snap.screenings, filter.Range) {
			if sc.StartsAt.Before(cutoff) {
				continue
			}
			out = append(out, sc)
		}
	}
	if len(ids) > 1 {
		merge.Sort(out)
	}
	if out == nil {
		out = []domain.Screening{}
	}
	return out, nil
}

// window выбирает подотрезок отсортированных сеансов, попадающий в интервал.
func window(sorted []domain.Screening, rng *domain.DateRange) []domain.Screening {
	if rng == nil {
		return sorted
	}
	lo := 0
	if !rng.From.IsZero() {
		lo = sort.Search(len(sorted), func(i int) bool { return !sorted[i].StartsAt.Before(rng.From) })
	}
	hi := len(sorted)
	if !rng.To.IsZero() {
		hi = sort.Search(len(sorted), func(i int) bool { return !sorted[i].StartsAt.Before(rng.To) })
	}
	if lo >= hi {
		return nil
	}
	return sorted[lo:hi]
}

// Day возвращает сеансы всех кинотеатров на локальную дату по индексу дат.
func (s *Store) Day(day string) []domain.Screening {
	cutoff := s.cutoff(s.now())
	var out []domain.Screening
	for _, id := range s.order {
		for _, sc := range s.shards[id].snap.Load().byDate[day] {
			if sc.StartsAt.Before(cutoff) {
				continue
			}
			out = append(out, sc)
		}
	}
	merge.Sort(out)
	return out
}

// Cinema возвращает кинотеатр по идентификатору.
func (s *Store) Cinema(id string) (domain.Cinema, bool) {
	sh, ok := s.shards[id]
	if !ok {
		return domain.Cinema{}, false
	}
	return *sh.cinema.Load(), true
}

// Cinemas возвращает все кинотеатры в порядке реестра.
func (s *Store) Cinemas() []domain.Cinema {
	out := make([]domain.Cinema, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.shards[id].cinema.Load())
	}
	return out
}

// MapCinemas возвращает только кинотеатры с известными координатами.
func (s *Store) MapCinemas() []domain.Cinema {
	out := make([]domain.Cinema, 0, len(s.order))
	for _, c := range s.Cinemas() {
		if c.Mappable() {
			out = append(out, c)
		}
	}
	return out
}

// SetCoordinate публикует координаты кинотеатра после геокодирования.
func (s *Store) SetCoordinate(id string, coord domain.Coordinate) error {
	sh, ok := s.shards[id]
	if !ok {
		return domain.ErrCinemaNotFound
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cinema := *sh.cinema.Load()
	cinema.Coordinate = &coord
	sh.cinema.Store(&cinema)
	return nil
}

// LastUpdated возвращает момент последней успешной фиксации кинотеатра.
func (s *Store) LastUpdated(id string) (time.Time, bool) {
	sh, ok := s.shards[id]
	if !ok {
		return time.Time{}, false
	}
	snap := sh.snap.Load()
	return snap.updatedAt, !snap.updatedAt.IsZero()
}

// Count возвращает число хранимых сеансов кинотеатра.
func (s *Store) Count(id string) int {
	sh, ok := s.shards[id]
	if !ok {
		return 0
	}
	return len(sh.snap.Load().screenings)
}

// Sweep удаляет сеансы старше горизонта удержания во всех кинотеатрах.
// Возвращает число удалённых сеансов.
func (s *Store) Sweep(now time.Time) int {
	cutoff := s.cutoff(now)
	removed := 0
	for _, id := range s.order {
		sh := s.shards[id]
		sh.mu.Lock()
		current := sh.snap.Load()
		kept := merge.Purge(current.screenings, cutoff)
		if diff := len(current.screenings) - len(kept); diff > 0 {
			removed += diff
			sh.snap.Store(s.build(kept, current.updatedAt, current.batchID))
		}
		sh.mu.Unlock()
	}
	return removed
}

// Restore загружает сеансы из долговременной копии при старте.
// Сеансы неизвестных кинотеатров и устаревшие сеансы пропускаются.
func (s *Store) Restore(screenings []domain.Screening) int {
	byCinema := make(map[string][]domain.Screening)
	for _, sc := range screenings {
		if _, ok := s.shards[sc.CinemaID]; !ok {
			continue
		}
		byCinema[sc.CinemaID] = append(byCinema[sc.CinemaID], sc)
	}
	cutoff := s.cutoff(s.now())
	restored := 0
	for id, list := range byCinema {
		sh := s.shards[id]
		sh.mu.Lock()
		current := sh.snap.Load()
		combined := append(append([]domain.Screening(nil), current.screenings...), list...)
		combined = merge.Purge(merge.Collapse(combined), cutoff)
		restored += len(combined) - len(current.screenings)
		updatedAt := current.updatedAt
		for _, sc := range combined {
			if sc.FetchedAt.After(updatedAt) {
				updatedAt = sc.FetchedAt
			}
		}
		sh.snap.Store(s.build(combined, updatedAt, current.batchID))
		sh.mu.Unlock()
	}
	return restored
}
