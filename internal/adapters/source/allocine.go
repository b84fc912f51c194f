package source

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"cine-agenda/internal/domain"
)

const (
	allocineBaseURL = "https://www.allocine.fr"
	allocineDays    = 7
	allocineMaxPage = 30

	allocineFilmURL = "https://www.allocine.fr/film/fichefilm_gen_cfilm=%d.html"
)

// Версии показа в ответе Allociné.
var allocineVersions = map[string]string{
	"dubbed":   "vf",
	"original": "vost",
	"local":    "",
}

var allocineStopMessages = map[string]struct{}{
	"no.showtime.error": {},
	"next.showtime.on":  {},
}

// flexInt принимает число как в виде числа, так и в виде строки.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("allocine: number %q: %w", raw, err)
	}
	*n = flexInt(v)
	return nil
}

type allocinePage struct {
	Message    string           `json:"message"`
	Error      any              `json:"error"`
	Results    []allocineResult `json:"results"`
	Pagination struct {
		Page       flexInt `json:"page"`
		TotalPages flexInt `json:"totalPages"`
	} `json:"pagination"`
}

type allocineResult struct {
	Movie     allocineMovie                 `json:"movie"`
	Showtimes map[string][]allocineShowtime `json:"showtimes"`
}

type allocineMovie struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"originalTitle"`
	Runtime       string  `json:"runtime"`
	Synopsis      string  `json:"synopsis"`
	WantToSee     flexInt `json:"wantToSee"`
	Genres        []struct {
		Translate string `json:"translate"`
	} `json:"genres"`
	Credits []struct {
		Person struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		} `json:"person"`
	} `json:"credits"`
	Cast struct {
		Edges []struct {
			Node struct {
				Actor *struct {
					FirstName string `json:"firstName"`
					LastName  string `json:"lastName"`
				} `json:"actor"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"cast"`
	Poster *struct {
		URL string `json:"url"`
	} `json:"poster"`
}

type allocineShowtime struct {
	StartsAt   string   `json:"startsAt"`
	Projection []string `json:"projection"`
}

func (p allocinePage) stopped() bool {
	if _, ok := allocineStopMessages[p.Message]; ok {
		return true
	}
	switch v := p.Error.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	default:
		return true
	}
}

// Allocine читает расписание кинотеатра из ленты сеансов Allociné.
type Allocine struct {
	fetcher *Fetcher
	baseURL string
	theater string
	days    int
	loc     *time.Location
	now     func() time.Time
}

// NewAllocine создаёт адаптер для кода кинотеатра theater (например C0071).
func NewAllocine(fetcher *Fetcher, baseURL, theater string, days int, loc *time.Location, now func() time.Time) *Allocine {
	if baseURL == "" {
		baseURL = allocineBaseURL
	}
	if days <= 0 {
		days = allocineDays
	}
	if now == nil {
		now = time.Now
	}
	return &Allocine{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		theater: theater,
		days:    days,
		loc:     loc,
		now:     now,
	}
}

// Fetch загружает сеансы на days дней вперёд. Если часть дней не
// загрузилась, результат помечается частичным.
func (a *Allocine) Fetch(ctx context.Context) (domain.FetchResult, error) {
	today := a.now().In(a.loc)
	var (
		result  domain.FetchResult
		lastErr error
	)
	for i := 0; i < a.days; i++ {
		day := today.AddDate(0, 0, i).Format("2006-01-02")
		records, err := a.fetchDay(ctx, day)
		if err != nil {
			if ctx.Err() != nil {
				return domain.FetchResult{}, ctx.Err()
			}
			lastErr = err
			continue
		}
		result.Records = append(result.Records, records...)
		result.Coverage = append(result.Coverage, day)
	}
	if len(result.Coverage) == 0 {
		return domain.FetchResult{}, lastErr
	}
	result.Partial = len(result.Coverage) < a.days
	return result, nil
}

func (a *Allocine) fetchDay(ctx context.Context, day string) ([]domain.ProvisionalRecord, error) {
	var records []domain.ProvisionalRecord
	for page := 1; page <= allocineMaxPage; page++ {
		endpoint := fmt.Sprintf("%s/_/showtimes/theater-%s/d-%s/p-%d/", a.baseURL, a.theater, day, page)
		body, err := a.fetcher.Get(ctx, endpoint, "application/json")
		if err != nil {
			return nil, err
		}
		var data allocinePage
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("allocine: decode %s page %d: %w", day, page, err)
		}
		if data.stopped() {
			break
		}
		for _, res := range data.Results {
			records = append(records, res.records()...)
		}
		if int(data.Pagination.Page) >= int(data.Pagination.TotalPages) {
			break
		}
	}
	return records, nil
}

func (r allocineResult) records() []domain.ProvisionalRecord {
	base := domain.ProvisionalRecord{
		Title:         r.Movie.Title,
		OriginalTitle: r.Movie.OriginalTitle,
		Runtime:       r.Movie.Runtime,
		Synopsis:      strings.TrimSpace(r.Movie.Synopsis),
		Popularity:    int(r.Movie.WantToSee),
	}
	if n, ok := allocineNumericID(r.Movie.ID); ok {
		base.ExternalRef = "allocine:" + strconv.Itoa(n)
		base.FilmURL = fmt.Sprintf(allocineFilmURL, n)
	}
	for _, g := range r.Movie.Genres {
		if g.Translate != "" {
			base.Genres = append(base.Genres, g.Translate)
		}
	}
	if len(r.Movie.Credits) > 0 {
		p := r.Movie.Credits[0].Person
		base.Director = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}
	for _, e := range r.Movie.Cast.Edges {
		if a := e.Node.Actor; a != nil {
			if name := strings.TrimSpace(a.FirstName + " " + a.LastName); name != "" {
				base.Cast = append(base.Cast, name)
			}
		}
	}
	if r.Movie.Poster != nil {
		base.PosterURL = r.Movie.Poster.URL
	}

	kinds := make([]string, 0, len(r.Showtimes))
	for kind := range r.Showtimes {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	var out []domain.ProvisionalRecord
	for _, kind := range kinds {
		for _, st := range r.Showtimes[kind] {
			rec := base
			rec.Start = st.StartsAt
			rec.Version = allocineVersions[kind]
			rec.Format = projection(st.Projection)
			out = append(out, rec)
		}
	}
	return out
}

// allocineNumericID раскодирует идентификатор вида base64("Movie:123").
func allocineNumericID(id string) (int, bool) {
	decoded, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		return 0, false
	}
	parts := strings.Split(string(decoded), ":")
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// projection оставляет только отличия от обычного цифрового показа.
func projection(values []string) string {
	var out []string
	for _, v := range values {
		v = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(v)), "FORMAT_")
		if v == "" || v == "DIGITAL" {
			continue
		}
		out = append(out, v)
	}
	return strings.Join(out, " ")
}
