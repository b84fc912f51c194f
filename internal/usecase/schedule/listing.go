package schedule

import (
	"sort"
	"time"

	"cine-agenda/internal/domain"
)

// MaxDelta ограничивает выбор дня в ленте: сегодня и шесть следующих дней.
const MaxDelta = 6

var (
	frenchDays   = [7]string{"dim", "lun", "mar", "mer", "jeu", "ven", "sam"}
	frenchMonths = [12]string{"janv", "févr", "mars", "avr", "mai", "juin", "juil", "août", "sept", "oct", "nov", "déc"}
)

// Showtime описывает один сеанс в дневной афише.
type Showtime struct {
	Time       string `json:"time"`
	Version    string `json:"version,omitempty"`
	BookingURL string `json:"booking_url,omitempty"`
}

// CinemaShowtimes группирует сеансы фильма в одном кинотеатре.
type CinemaShowtimes struct {
	CinemaID   string     `json:"cinema_id"`
	CinemaName string     `json:"cinema_name"`
	Times      []Showtime `json:"times"`
}

// ListingEntry описывает фильм дневной афиши со всеми его сеансами.
type ListingEntry struct {
	Movie     domain.Movie      `json:"movie"`
	Showtimes []CinemaShowtimes `json:"showtimes"`
}

// DayChip описывает день в ленте выбора даты.
type DayChip struct {
	Date     string `json:"date"`
	Weekday  string `json:"weekday"`
	Day      int    `json:"day"`
	Month    string `json:"month"`
	Index    int    `json:"index"`
	Selected bool   `json:"selected"`
}

// ClampDelta приводит смещение дня к допустимому диапазону.
func ClampDelta(delta int) int {
	if delta < 0 {
		return 0
	}
	if delta > MaxDelta {
		return MaxDelta
	}
	return delta
}

// FrenchWeekday возвращает краткое французское название дня недели.
func FrenchWeekday(d time.Weekday) string {
	return frenchDays[d]
}

// FrenchMonth возвращает краткое французское название месяца.
func FrenchMonth(m time.Month) string {
	return frenchMonths[m-1]
}

// DayStrip строит ленту из семи дней начиная с today.
func DayStrip(today time.Time, delta int) []DayChip {
	delta = ClampDelta(delta)
	out := make([]DayChip, 0, MaxDelta+1)
	for i := 0; i <= MaxDelta; i++ {
		d := today.AddDate(0, 0, i)
		out = append(out, DayChip{
			Date:     d.Format(dayLayout),
			Weekday:  FrenchWeekday(d.Weekday()),
			Day:      d.Day(),
			Month:    FrenchMonth(d.Month()),
			Index:    i,
			Selected: i == delta,
		})
	}
	return out
}

// DayRange возвращает интервал локальных суток, содержащих момент day.
func DayRange(day time.Time, loc *time.Location) domain.DateRange {
	local := day.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return domain.DateRange{From: start, To: start.AddDate(0, 0, 1)}
}

// group собирает дневную афишу из сеансов, отсортированных по времени.
func group(screenings []domain.Screening, loc *time.Location, movie func(domain.Screening) domain.Movie, cinemaName func(string) string) []ListingEntry {
	index := make(map[string]int)
	var out []ListingEntry
	for _, sc := range screenings {
		i, ok := index[sc.MovieID]
		if !ok {
			i = len(out)
			index[sc.MovieID] = i
			out = append(out, ListingEntry{Movie: movie(sc)})
		}
		entry := &out[i]
		j := -1
		for k := range entry.Showtimes {
			if entry.Showtimes[k].CinemaID == sc.CinemaID {
				j = k
				break
			}
		}
		if j < 0 {
			entry.Showtimes = append(entry.Showtimes, CinemaShowtimes{CinemaID: sc.CinemaID, CinemaName: cinemaName(sc.CinemaID)})
			j = len(entry.Showtimes) - 1
		}
		entry.Showtimes[j].Times = append(entry.Showtimes[j].Times, Showtime{
			Time:       sc.StartsAt.In(loc).Format("15:04"),
			Version:    sc.Version,
			BookingURL: sc.BookingURL,
		})
	}
	for i := range out {
		sort.SliceStable(out[i].Showtimes, func(a, b int) bool {
			return out[i].Showtimes[a].CinemaName < out[i].Showtimes[b].CinemaName
		})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Movie.Popularity != out[b].Movie.Popularity {
			return out[a].Movie.Popularity > out[b].Movie.Popularity
		}
		return out[a].Movie.Title < out[b].Movie.Title
	})
	return out
}
