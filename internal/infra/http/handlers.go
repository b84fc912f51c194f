package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"cine-agenda/internal/domain"
	"cine-agenda/internal/usecase/schedule"
)

const dateLayout = "2006-01-02"

// StatusProvider отдаёт состояние источников.
type StatusProvider interface {
	Statuses() []domain.SourceStatus
}

// API обслуживает запросы к расписанию.
type API struct {
	reader   *schedule.Reader
	statuses StatusProvider
	now      func() time.Time
	log      zerolog.Logger
}

// NewAPI создаёт обработчики API.
func NewAPI(reader *schedule.Reader, statuses StatusProvider, now func() time.Time, logger zerolog.Logger) *API {
	if now == nil {
		now = time.Now
	}
	return &API{reader: reader, statuses: statuses, now: now, log: logger}
}

// Mount регистрирует маршруты API на сервере.
func (a *API) Mount(s *Server) {
	r := s.Router
	r.Get("/healthz", a.health)
	r.Get("/api/v1/cinemas", a.cinemas)
	r.Get("/api/v1/cinemas/map", a.mapCinemas)
	r.Get("/api/v1/schedule", a.schedule)
	r.Get("/api/v1/listing", a.listing)
	r.Get("/api/v1/sources", a.sources)
}

type cinemaView struct {
	domain.Cinema
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

func (a *API) view(c domain.Cinema) cinemaView {
	v := cinemaView{Cinema: c}
	if at, ok := a.reader.LastUpdated(c.ID); ok {
		v.LastUpdated = &at
	}
	return v
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (a *API) cinemas(w http.ResponseWriter, _ *http.Request) {
	list := a.reader.GetCinemas()
	out := make([]cinemaView, 0, len(list))
	for _, c := range list {
		out = append(out, a.view(c))
	}
	writeJSON(w, out)
}

func (a *API) mapCinemas(w http.ResponseWriter, _ *http.Request) {
	list := a.reader.MapCinemas()
	out := make([]cinemaView, 0, len(list))
	for _, c := range list {
		out = append(out, a.view(c))
	}
	writeJSON(w, out)
}

func (a *API) schedule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := parseRange(q.Get("date"), q.Get("from"), q.Get("to"), a.reader.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cinemaID := strings.TrimSpace(q.Get("cinema"))
	screenings, err := a.reader.GetSchedule(cinemaID, rng)
	if errors.Is(err, domain.ErrCinemaNotFound) {
		writeError(w, http.StatusNotFound, "cinema not found")
		return
	}
	if err != nil {
		a.log.Error().Err(err).Msg("http: schedule query failed")
		writeError(w, http.StatusInternalServerError, "schedule unavailable")
		return
	}
	resp := map[string]any{
		"screenings": screenings,
		"movies":     a.reader.Movies(screenings),
	}
	if cinemaID != "" {
		resp["cinema_id"] = cinemaID
		if at, ok := a.reader.LastUpdated(cinemaID); ok {
			resp["last_updated"] = at
		}
	}
	writeJSON(w, resp)
}

func (a *API) listing(w http.ResponseWriter, r *http.Request) {
	delta := 0
	if raw := r.URL.Query().Get("delta"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "delta must be an integer")
			return
		}
		delta = n
	}
	delta = schedule.ClampDelta(delta)
	today := a.now().In(a.reader.Location())
	day := today.AddDate(0, 0, delta)
	writeJSON(w, map[string]any{
		"date":    day.Format(dateLayout),
		"days":    schedule.DayStrip(today, delta),
		"entries": a.reader.DailyListing(day),
	})
}

func (a *API) sources(w http.ResponseWriter, _ *http.Request) {
	if a.statuses == nil {
		writeJSON(w, []domain.SourceStatus{})
		return
	}
	writeJSON(w, a.statuses.Statuses())
}

// parseRange разбирает параметры выборки. date задаёт локальные сутки;
// from и to принимают дату или RFC3339.
func parseRange(date, from, to string, loc *time.Location) (*domain.DateRange, error) {
	if date != "" {
		d, err := time.ParseInLocation(dateLayout, date, loc)
		if err != nil {
			return nil, errors.New("date must be YYYY-MM-DD")
		}
		rng := schedule.DayRange(d, loc)
		return &rng, nil
	}
	if from == "" && to == "" {
		return nil, nil
	}
	var rng domain.DateRange
	var err error
	if from != "" {
		if rng.From, err = parseBound(from, loc); err != nil {
			return nil, errors.New("from: " + err.Error())
		}
	}
	if to != "" {
		if rng.To, err = parseBound(to, loc); err != nil {
			return nil, errors.New("to: " + err.Error())
		}
	}
	if !rng.From.IsZero() && !rng.To.IsZero() && !rng.From.Before(rng.To) {
		return nil, errors.New("from must be before to")
	}
	return &rng, nil
}

func parseBound(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(dateLayout, raw, loc); err == nil {
		return t, nil
	}
	return time.Time{}, errors.New("expected YYYY-MM-DD or RFC3339")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
