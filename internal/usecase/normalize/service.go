package normalize

import (
	"strings"
	"time"

	"cine-agenda/internal/domain"
)

// Window задаёт допустимый интервал начала сеанса относительно текущего момента.
type Window struct {
	// Retention: насколько далеко в прошлое принимаются и хранятся сеансы.
	Retention time.Duration
	// Horizon: насколько далеко в будущее принимаются сеансы.
	Horizon time.Duration
}

// Contains проверяет, что момент t попадает в окно вокруг now.
func (w Window) Contains(t, now time.Time) bool {
	if t.Before(now.Add(-w.Retention)) {
		return false
	}
	if w.Horizon > 0 && t.After(now.Add(w.Horizon)) {
		return false
	}
	return true
}

// Service переводит сырые записи в каноничные сеансы.
type Service struct {
	catalog *Catalog
	aliases Aliases
	loc     *time.Location
	window  Window
	now     func() time.Time
}

// NewService создаёт нормализатор.
func NewService(catalog *Catalog, aliases Aliases, loc *time.Location, window Window, now func() time.Time) *Service {
	if loc == nil {
		loc = MustParis()
	}
	if now == nil {
		now = time.Now
	}
	if aliases == nil {
		aliases = Aliases{}
	}
	return &Service{catalog: catalog, aliases: aliases, loc: loc, window: window, now: now}
}

// Location возвращает пояс, в котором интерпретируются локальные отметки.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Normalize проверяет запись и строит сеанс для кинотеатра источника.
func (s *Service) Normalize(rec domain.ProvisionalRecord, cinema domain.Cinema) (domain.Screening, error) {
	sourceID := rec.SourceID
	if sourceID == "" {
		sourceID = cinema.SourceID
	}
	invalid := func(field, value, reason string) error {
		return &domain.ValidationError{SourceID: sourceID, Field: field, Value: value, Reason: reason}
	}

	title, hint := SplitTitle(rec.Title)
	key := s.aliases.Key(title)
	if key == "" {
		return domain.Screening{}, invalid("title", rec.Title, "empty after normalization")
	}

	start, err := ParseStart(rec, s.loc)
	if err != nil {
		raw := rec.Start
		if raw == "" {
			raw = strings.TrimSpace(rec.Date + " " + rec.Time)
		}
		return domain.Screening{}, invalid("start", raw, err.Error())
	}
	if !s.window.Contains(start, s.now()) {
		return domain.Screening{}, invalid("start", start.Format(time.RFC3339), "outside accepted horizon")
	}

	version := rec.Version
	if version == "" {
		version = hint
	}

	movie := s.catalog.Resolve(key, title, rec)
	screening := domain.Screening{
		CinemaID:   cinema.ID,
		SourceID:   sourceID,
		MovieID:    movie.ID,
		MovieTitle: movie.Title,
		StartsAt:   start.In(s.loc),
		Version:    Version(version),
		PriceTag:   collapse(rec.Price),
		Format:     strings.ToUpper(collapse(rec.Format)),
		Auditorium: s.venue(rec.Venue, cinema),
		BookingURL: strings.TrimSpace(rec.BookingURL),
	}
	screening.ID = domain.ScreeningID(screening.Key())
	return screening, nil
}

// venue отбрасывает место проведения, совпадающее с самим кинотеатром:
// у каждого источника ровно один кинотеатр, остаётся только название зала.
func (s *Service) venue(raw string, cinema domain.Cinema) string {
	v := collapse(raw)
	if v == "" {
		return ""
	}
	folded := Fold(v)
	if folded == Fold(cinema.Name) || folded == Fold(cinema.Address) {
		return ""
	}
	return v
}

// Batch нормализует результат адаптера в пакет обновления. Отброшенные
// записи возвращаются списком ошибок и учитываются в Dropped.
func (s *Service) Batch(result domain.FetchResult, cinema domain.Cinema, fetchedAt time.Time) (domain.RefreshBatch, []error) {
	batch := domain.RefreshBatch{
		ID:         domain.NewBatchID(),
		SourceID:   cinema.SourceID,
		CinemaID:   cinema.ID,
		FetchedAt:  fetchedAt,
		Partial:    result.Partial,
		Coverage:   append([]string(nil), result.Coverage...),
		Screenings: make([]domain.Screening, 0, len(result.Records)),
	}
	var errs []error
	for _, rec := range result.Records {
		screening, err := s.Normalize(rec, cinema)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		screening.BatchID = batch.ID
		screening.FetchedAt = fetchedAt
		batch.Screenings = append(batch.Screenings, screening)
	}
	batch.Dropped = len(errs)
	return batch, errs
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
