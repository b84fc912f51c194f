package domain

import "time"

// Coordinate хранит географическую точку кинотеатра.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Cinema описывает кинотеатр из реестра источников.
type Cinema struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Address    string      `json:"address"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
	SourceID   string      `json:"source_id"`
}

// Mappable сообщает, можно ли показать кинотеатр на карте.
func (c Cinema) Mappable() bool {
	return c.Coordinate != nil
}

// Movie описывает фильм в каноничной схеме.
type Movie struct {
	ID             string   `json:"id"`
	Key            string   `json:"key"`
	Title          string   `json:"title"`
	OriginalTitle  string   `json:"original_title,omitempty"`
	RuntimeMinutes int      `json:"runtime_minutes,omitempty"`
	PosterURL      string   `json:"poster_url,omitempty"`
	Genres         []string `json:"genres,omitempty"`
	Director       string   `json:"director,omitempty"`
	Cast           []string `json:"cast,omitempty"`
	Synopsis       string   `json:"synopsis,omitempty"`
	Popularity     int      `json:"popularity,omitempty"`
	ExternalRef    string   `json:"external_ref,omitempty"`
	FilmURL        string   `json:"film_url,omitempty"`
}

// Screening описывает один сеанс фильма в кинотеатре.
type Screening struct {
	ID         string    `json:"id"`
	CinemaID   string    `json:"cinema_id"`
	SourceID   string    `json:"source_id"`
	MovieID    string    `json:"movie_id"`
	MovieTitle string    `json:"movie_title"`
	StartsAt   time.Time `json:"starts_at"`
	Version    string    `json:"version,omitempty"`
	PriceTag   string    `json:"price,omitempty"`
	Format     string    `json:"format,omitempty"`
	Auditorium string    `json:"auditorium,omitempty"`
	BookingURL string    `json:"booking_url,omitempty"`
	BatchID    string    `json:"batch_id,omitempty"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// ScreeningKey задаёт идентичность сеанса: кинотеатр, фильм, начало и версия.
type ScreeningKey struct {
	CinemaID string
	MovieID  string
	StartsAt int64
	Version  string
}

// Key возвращает ключ идентичности сеанса.
func (s Screening) Key() ScreeningKey {
	return ScreeningKey{
		CinemaID: s.CinemaID,
		MovieID:  s.MovieID,
		StartsAt: s.StartsAt.Unix(),
		Version:  s.Version,
	}
}

// Completeness считает заполненные необязательные поля.
func (s Screening) Completeness() int {
	n := 0
	for _, v := range []string{s.PriceTag, s.Format, s.Auditorium, s.BookingURL} {
		if v != "" {
			n++
		}
	}
	return n
}

// ProvisionalRecord содержит сырую запись адаптера до нормализации.
type ProvisionalRecord struct {
	SourceID      string
	Title         string
	OriginalTitle string
	// Start содержит полную отметку времени, если источник её отдаёт.
	Start string
	// Date и Time используются источниками, которые публикуют их раздельно.
	Date        string
	Time        string
	TZ          string
	Version     string
	Price       string
	Format      string
	Venue       string
	BookingURL  string
	Runtime     string
	PosterURL   string
	Genres      []string
	Director    string
	Cast        []string
	Synopsis    string
	Popularity  int
	ExternalRef string
	FilmURL     string
}

// FetchResult содержит результат одного запуска адаптера.
type FetchResult struct {
	Records []ProvisionalRecord
	// Partial выставляется, если часть дат получить не удалось.
	Partial bool
	// Coverage перечисляет локальные даты (2006-01-02), полученные полностью.
	Coverage []string
}

// RefreshBatch является единицей атомарной фиксации в хранилище.
type RefreshBatch struct {
	ID         string
	SourceID   string
	CinemaID   string
	FetchedAt  time.Time
	Screenings []Screening
	Partial    bool
	Coverage   []string
	Dropped    int
}

// Covers сообщает, покрывает ли пакет указанную локальную дату.
func (b RefreshBatch) Covers(day string) bool {
	if !b.Partial {
		return true
	}
	for _, d := range b.Coverage {
		if d == day {
			return true
		}
	}
	return false
}

// DateRange задаёт полуоткрытый интервал [From, To). Нулевая граница не ограничивает.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains проверяет попадание момента в интервал.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// ScheduleFilter задаёт выборку сеансов.
type ScheduleFilter struct {
	CinemaID string
	Range    *DateRange
}
