package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	ics "github.com/arran4/golang-ical"

	"cine-agenda/internal/domain"
)

// ICS читает расписание из календаря iCalendar.
type ICS struct {
	fetcher *Fetcher
	url     string
}

// NewICS создаёт адаптер для ленты по адресу url.
func NewICS(fetcher *Fetcher, url string) *ICS {
	return &ICS{fetcher: fetcher, url: url}
}

// Fetch загружает и разбирает календарь.
func (a *ICS) Fetch(ctx context.Context) (domain.FetchResult, error) {
	body, err := a.fetcher.Get(ctx, a.url, "text/calendar")
	if err != nil {
		return domain.FetchResult{}, err
	}
	records, err := ParseICS(bytes.NewReader(body))
	if err != nil {
		return domain.FetchResult{}, err
	}
	return domain.FetchResult{Records: records}, nil
}

// ParseICS переводит события VEVENT в сырые записи.
func ParseICS(r io.Reader) ([]domain.ProvisionalRecord, error) {
	cal, err := ics.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("ics: parse: %w", err)
	}
	var out []domain.ProvisionalRecord
	for _, ev := range cal.Events() {
		rec := domain.ProvisionalRecord{
			Title:      value(ev.GetProperty(ics.ComponentPropertySummary)),
			Venue:      value(ev.GetProperty(ics.ComponentPropertyLocation)),
			BookingURL: value(ev.GetProperty(ics.ComponentPropertyUrl)),
			Synopsis:   value(ev.GetProperty(ics.ComponentPropertyDescription)),
		}
		if start := ev.GetProperty(ics.ComponentPropertyDtStart); start != nil {
			rec.Start = strings.TrimSpace(start.Value)
			if tz := start.ICalParameters[string(ics.ParameterTzid)]; len(tz) > 0 {
				rec.TZ = tz[0]
			}
		}
		if categories := value(ev.GetProperty(ics.ComponentPropertyCategories)); categories != "" {
			rec.Version = strings.TrimSpace(strings.Split(categories, ",")[0])
		}
		out = append(out, rec)
	}
	return out, nil
}

func value(p *ics.IANAProperty) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.Value)
}
