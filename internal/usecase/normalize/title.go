package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var trailingVersion = regexp.MustCompile(`(?i)\s*[\(\[]\s*(vostfr|vost|vo\s*st(?:fr)?|vo|vf|vfstf|st)\s*[\)\]]\s*$`)

// Fold приводит строку к форме для сравнения: без диакритики, в нижнем
// регистре, знаки препинания заменены пробелами, пробелы схлопнуты.
func Fold(raw string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, raw)
	if err != nil {
		stripped = raw
	}
	folded := cases.Fold().String(stripped)
	folded = strings.ReplaceAll(folded, "&", " et ")
	folded = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}

// SplitTitle отделяет от названия хвостовую пометку версии вида "(VOSTFR)"
// и возвращает отображаемое название и найденную пометку.
func SplitTitle(raw string) (title, version string) {
	title = strings.Join(strings.Fields(raw), " ")
	if m := trailingVersion.FindStringSubmatch(title); len(m) == 2 {
		version = m[1]
		title = strings.TrimSpace(title[:len(title)-len(m[0])])
	}
	return title, version
}

// Aliases сопоставляет свёрнутые варианты названий каноничному ключу.
type Aliases map[string]string

// NewAliases сворачивает ключи и значения исходной таблицы.
func NewAliases(raw map[string]string) Aliases {
	out := make(Aliases, len(raw))
	for from, to := range raw {
		k, v := Fold(from), Fold(to)
		if k == "" || v == "" || k == v {
			continue
		}
		out[k] = v
	}
	return out
}

// Key возвращает ключ идентичности фильма для названия.
func (a Aliases) Key(title string) string {
	key := Fold(title)
	if canonical, ok := a[key]; ok {
		return canonical
	}
	return key
}
