package normalize

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cine-agenda/internal/domain"
)

var (
	errNoTimestamp = errors.New("no timestamp")
	errDateOnly    = errors.New("date without time")
)

var zonedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04Z07:00",
	"20060102T150405Z",
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"20060102T150405",
}

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02.01.2006",
	"2/1/2006",
	"20060102",
}

var frenchClock = regexp.MustCompile(`^(\d{1,2})\s*[hH:]\s*(\d{2})?$`)

// ParseStart разбирает время начала сеанса. Отметки без смещения
// трактуются в поясе записи, иначе в поясе по умолчанию.
func ParseStart(rec domain.ProvisionalRecord, fallback *time.Location) (time.Time, error) {
	loc := fallback
	if rec.TZ != "" {
		l, err := LoadLocation(rec.TZ)
		if err != nil {
			return time.Time{}, err
		}
		loc = l
	}

	raw := strings.TrimSpace(rec.Start)
	if raw != "" {
		for _, layout := range zonedLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, nil
			}
		}
		for _, layout := range localLayouts {
			if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
				return t, nil
			}
		}
		for _, layout := range dateLayouts {
			if _, err := time.ParseInLocation(layout, raw, loc); err == nil {
				return time.Time{}, errDateOnly
			}
		}
		return time.Time{}, errors.New("unsupported timestamp layout")
	}

	if rec.Date == "" || rec.Time == "" {
		return time.Time{}, errNoTimestamp
	}
	day, err := parseDay(strings.TrimSpace(rec.Date), loc)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := parseClock(strings.TrimSpace(rec.Time))
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc), nil
}

func parseDay(raw string, loc *time.Location) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unsupported date layout")
}

func parseClock(raw string) (int, int, error) {
	m := frenchClock.FindStringSubmatch(raw)
	if m == nil {
		return 0, 0, errors.New("unsupported time layout")
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour > 23 || minute > 59 {
		return 0, 0, errors.New("time out of range")
	}
	return hour, minute, nil
}

// DayKey возвращает локальную дату момента в формате 2006-01-02.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
