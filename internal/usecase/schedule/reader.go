package schedule

import (
	"time"

	"cine-agenda/internal/domain"
	"cine-agenda/internal/usecase/normalize"
)

// Reader отдаёт слою выдачи расписание только для чтения.
type Reader struct {
	store   *Store
	catalog *normalize.Catalog
}

// NewReader создаёт фасад чтения.
func NewReader(store *Store, catalog *normalize.Catalog) *Reader {
	return &Reader{store: store, catalog: catalog}
}

// GetSchedule возвращает сеансы кинотеатра (или всех) в интервале.
func (r *Reader) GetSchedule(cinemaID string, rng *domain.DateRange) ([]domain.Screening, error) {
	return r.store.Query(domain.ScheduleFilter{CinemaID: cinemaID, Range: rng})
}

// GetCinemas возвращает все кинотеатры реестра.
func (r *Reader) GetCinemas() []domain.Cinema {
	return r.store.Cinemas()
}

// MapCinemas возвращает кинотеатры, которые можно показать на карте.
func (r *Reader) MapCinemas() []domain.Cinema {
	return r.store.MapCinemas()
}

// LastUpdated возвращает момент последней успешной фиксации кинотеатра.
func (r *Reader) LastUpdated(cinemaID string) (time.Time, bool) {
	return r.store.LastUpdated(cinemaID)
}

// Location возвращает пояс расписания.
func (r *Reader) Location() *time.Location {
	return r.store.Location()
}

// Movies возвращает фильмы, на которые ссылаются сеансы.
func (r *Reader) Movies(screenings []domain.Screening) []domain.Movie {
	ids := make([]string, 0, len(screenings))
	for _, sc := range screenings {
		ids = append(ids, sc.MovieID)
	}
	return r.catalog.ByIDs(ids)
}

// DailyListing собирает афишу локального дня по всем кинотеатрам:
// фильмы с сеансами по кинотеатрам, популярные первыми.
func (r *Reader) DailyListing(date time.Time) []ListingEntry {
	loc := r.store.Location()
	day := date.In(loc).Format(dayLayout)
	movie := func(sc domain.Screening) domain.Movie {
		if m, ok := r.catalog.Get(sc.MovieID); ok {
			return m
		}
		return domain.Movie{ID: sc.MovieID, Title: sc.MovieTitle}
	}
	cinemaName := func(id string) string {
		if c, ok := r.store.Cinema(id); ok {
			return c.Name
		}
		return id
	}
	out := group(r.store.Day(day), loc, movie, cinemaName)
	if out == nil {
		out = []ListingEntry{}
	}
	return out
}
