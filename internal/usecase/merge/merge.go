package merge

import (
	"sort"
	"time"

	"cine-agenda/internal/domain"
)

// Collapse схлопывает сеансы с одинаковым ключом идентичности. Из дублей
// остаётся более полная запись, при равенстве первая встреченная.
func Collapse(screenings []domain.Screening) []domain.Screening {
	index := make(map[domain.ScreeningKey]int, len(screenings))
	out := make([]domain.Screening, 0, len(screenings))
	for _, s := range screenings {
		key := s.Key()
		if i, ok := index[key]; ok {
			if s.Completeness() > out[i].Completeness() {
				out[i] = s
			}
			continue
		}
		index[key] = len(out)
		out = append(out, s)
	}
	return out
}

// Merge объединяет текущие сеансы кинотеатра с новым пакетом источника.
//
// Все прежние сеансы источника полностью заменяются пакетом, прошедшие
// записи пакета не добавляются. Частичный пакет оставляет прежние сеансы
// источника только на непокрытые даты.
func Merge(existing []domain.Screening, batch domain.RefreshBatch, now time.Time, loc *time.Location) []domain.Screening {
	merged := make(map[domain.ScreeningKey]domain.Screening, len(existing)+len(batch.Screenings))
	for _, s := range existing {
		switch {
		case s.SourceID != batch.SourceID:
		case batch.Partial && !batch.Covers(s.StartsAt.In(loc).Format("2006-01-02")):
		default:
			continue
		}
		merged[s.Key()] = s
	}
	for _, s := range Collapse(batch.Screenings) {
		if s.StartsAt.Before(now) {
			continue
		}
		merged[s.Key()] = s
	}
	out := make([]domain.Screening, 0, len(merged))
	for _, s := range merged {
		out = append(out, s)
	}
	Sort(out)
	return out
}

// Purge отбрасывает сеансы, начавшиеся раньше cutoff.
func Purge(screenings []domain.Screening, cutoff time.Time) []domain.Screening {
	out := screenings[:0:0]
	for _, s := range screenings {
		if s.StartsAt.Before(cutoff) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Sort упорядочивает сеансы по времени начала, затем по названию.
func Sort(screenings []domain.Screening) {
	sort.Slice(screenings, func(i, j int) bool {
		a, b := screenings[i], screenings[j]
		if !a.StartsAt.Equal(b.StartsAt) {
			return a.StartsAt.Before(b.StartsAt)
		}
		if a.MovieTitle != b.MovieTitle {
			return a.MovieTitle < b.MovieTitle
		}
		if a.CinemaID != b.CinemaID {
			return a.CinemaID < b.CinemaID
		}
		return a.ID < b.ID
	})
}
