package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"cine-agenda/internal/domain"
	"cine-agenda/internal/usecase/normalize"
	"cine-agenda/internal/usecase/schedule"
)

type stubStatuses []domain.SourceStatus

func (s stubStatuses) Statuses() []domain.SourceStatus { return s }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	loc := normalize.MustParis()
	now := func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, loc) }
	cinemas := []domain.Cinema{
		{ID: "champo", Name: "Le Champo", Address: "51 rue des Écoles", SourceID: "champo", Coordinate: &domain.Coordinate{Lat: 48.85, Lon: 2.34}},
		{ID: "studio-28", Name: "Studio 28", SourceID: "studio-28"},
	}
	store := schedule.NewStore(cinemas, loc, 24*time.Hour, now)
	catalog := normalize.NewCatalog()
	norm := normalize.NewService(catalog, nil, loc, normalize.Window{Retention: 24 * time.Hour}, now)

	commit := func(cinema domain.Cinema, recs ...domain.ProvisionalRecord) {
		batch, errs := norm.Batch(domain.FetchResult{Records: recs}, cinema, now())
		if len(errs) > 0 {
			t.Fatalf("не ожидали ошибок нормализации: %v", errs)
		}
		if _, err := store.Commit(batch); err != nil {
			t.Fatalf("не ожидали ошибку фиксации: %v", err)
		}
	}
	commit(cinemas[0],
		domain.ProvisionalRecord{Title: "Amélie", Start: "2024-06-01T20:00:00", Version: "VF"},
		domain.ProvisionalRecord{Title: "Stalker", Start: "2024-06-02T18:00:00", Version: "VOST"},
	)
	commit(cinemas[1], domain.ProvisionalRecord{Title: "Amélie", Start: "2024-06-01T21:30:00"})

	server := NewServer(zerolog.Nop())
	statuses := stubStatuses{{SourceID: "champo", CinemaID: "champo", Phase: domain.PhaseIdle}}
	NewAPI(schedule.NewReader(store, catalog), statuses, now, zerolog.Nop()).Mount(server)
	ts := httptest.NewServer(server.Router)
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, want int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("запрос не выполнен: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		t.Fatalf("ожидали статус %d, получили %d", want, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("не удалось разобрать ответ: %v", err)
		}
	}
}

func TestCinemasEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var all []map[string]any
	getJSON(t, ts.URL+"/api/v1/cinemas", http.StatusOK, &all)
	if len(all) != 2 || all[0]["id"] != "champo" {
		t.Fatalf("неверный список кинотеатров: %v", all)
	}
	if _, ok := all[0]["last_updated"]; !ok {
		t.Fatalf("ожидали признак свежести данных")
	}

	var mapped []map[string]any
	getJSON(t, ts.URL+"/api/v1/cinemas/map", http.StatusOK, &mapped)
	if len(mapped) != 1 || mapped[0]["id"] != "champo" {
		t.Fatalf("на карте должен быть только кинотеатр с координатами: %v", mapped)
	}
}

func TestScheduleEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var resp struct {
		CinemaID   string             `json:"cinema_id"`
		Screenings []domain.Screening `json:"screenings"`
		Movies     []domain.Movie     `json:"movies"`
	}
	getJSON(t, ts.URL+"/api/v1/schedule?cinema=champo", http.StatusOK, &resp)
	if resp.CinemaID != "champo" || len(resp.Screenings) != 2 || len(resp.Movies) != 2 {
		t.Fatalf("неверное расписание кинотеатра: %+v", resp)
	}

	resp.Screenings = nil
	getJSON(t, ts.URL+"/api/v1/schedule?date=2024-06-01", http.StatusOK, &resp)
	if len(resp.Screenings) != 2 {
		t.Fatalf("ожидали 2 сеанса за день по всем кинотеатрам, получили %d", len(resp.Screenings))
	}
	for _, sc := range resp.Screenings {
		if sc.MovieTitle != "Amélie" {
			t.Fatalf("в выборку за день попал чужой сеанс: %+v", sc)
		}
	}

	resp.Screenings = nil
	getJSON(t, ts.URL+"/api/v1/schedule?cinema=champo&from=2024-06-02", http.StatusOK, &resp)
	if len(resp.Screenings) != 1 || resp.Screenings[0].MovieTitle != "Stalker" {
		t.Fatalf("неверная выборка по интервалу: %+v", resp.Screenings)
	}
}

func TestScheduleEndpointErrors(t *testing.T) {
	ts := newTestServer(t)
	getJSON(t, ts.URL+"/api/v1/schedule?cinema=unknown", http.StatusNotFound, nil)
	getJSON(t, ts.URL+"/api/v1/schedule?date=01-06-2024", http.StatusBadRequest, nil)
	getJSON(t, ts.URL+"/api/v1/schedule?from=2024-06-03&to=2024-06-02", http.StatusBadRequest, nil)
}

func TestListingEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var resp struct {
		Date    string                  `json:"date"`
		Days    []schedule.DayChip      `json:"days"`
		Entries []schedule.ListingEntry `json:"entries"`
	}
	getJSON(t, ts.URL+"/api/v1/listing", http.StatusOK, &resp)
	if resp.Date != "2024-06-01" || len(resp.Days) != 7 || !resp.Days[0].Selected {
		t.Fatalf("неверная лента дней: %+v", resp)
	}
	if len(resp.Entries) != 1 || len(resp.Entries[0].Showtimes) != 2 {
		t.Fatalf("ожидали один фильм в двух кинотеатрах: %+v", resp.Entries)
	}

	getJSON(t, ts.URL+"/api/v1/listing?delta=42", http.StatusOK, &resp)
	if resp.Date != "2024-06-07" || !resp.Days[6].Selected {
		t.Fatalf("смещение должно ограничиваться шестью днями: %s", resp.Date)
	}
	getJSON(t, ts.URL+"/api/v1/listing?delta=tomorrow", http.StatusBadRequest, nil)
}

func TestSourcesAndHealth(t *testing.T) {
	ts := newTestServer(t)

	var statuses []domain.SourceStatus
	getJSON(t, ts.URL+"/api/v1/sources", http.StatusOK, &statuses)
	if len(statuses) != 1 || statuses[0].Phase != domain.PhaseIdle {
		t.Fatalf("неверные статусы: %+v", statuses)
	}

	var health map[string]string
	getJSON(t, ts.URL+"/healthz", http.StatusOK, &health)
	if health["status"] != "ok" {
		t.Fatalf("неверный ответ healthz: %v", health)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("запрос метрик не выполнен: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("неожиданный ответ /metrics: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}
