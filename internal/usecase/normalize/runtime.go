package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	isoDuration  = regexp.MustCompile(`^P(?:T)?(?:(\d+)H)?(?:(\d+)M)?(?:\d+S)?$`)
	hoursMinutes = regexp.MustCompile(`^(?:(\d+)\s*h)?\s*(?:(\d+)\s*(?:min|mn|m)?)?$`)
)

// ParseRuntime переводит длительность ("1h 45min", "105 min", "PT1H45M")
// в минуты. Неразборчивая строка даёт 0.
func ParseRuntime(raw string) int {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0
	}
	if m := isoDuration.FindStringSubmatch(strings.ToUpper(s)); m != nil {
		return atoi(m[1])*60 + atoi(m[2])
	}
	if m := hoursMinutes.FindStringSubmatch(s); m != nil {
		return atoi(m[1])*60 + atoi(m[2])
	}
	return 0
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
