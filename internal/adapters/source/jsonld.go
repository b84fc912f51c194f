package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/net/html"
	"golang.org/x/text/language"

	"cine-agenda/internal/domain"
	"cine-agenda/internal/usecase/normalize"
)

// JSONLD читает сеансы из разметки schema.org на странице кинотеатра.
type JSONLD struct {
	fetcher *Fetcher
	url     string
}

// NewJSONLD создаёт адаптер для страницы по адресу url.
func NewJSONLD(fetcher *Fetcher, url string) *JSONLD {
	return &JSONLD{fetcher: fetcher, url: url}
}

// Fetch загружает страницу и извлекает события показа.
func (a *JSONLD) Fetch(ctx context.Context) (domain.FetchResult, error) {
	body, err := a.fetcher.Get(ctx, a.url, "text/html")
	if err != nil {
		return domain.FetchResult{}, err
	}
	records, err := ParseJSONLD(bytes.NewReader(body))
	if err != nil {
		return domain.FetchResult{}, err
	}
	return domain.FetchResult{Records: records}, nil
}

// ParseJSONLD находит блоки application/ld+json и собирает из них
// события ScreeningEvent и Event. Нечитаемые блоки пропускаются.
func ParseJSONLD(r io.Reader) ([]domain.ProvisionalRecord, error) {
	blocks, err := ldBlocks(r)
	if err != nil {
		return nil, err
	}
	var out []domain.ProvisionalRecord
	for _, block := range blocks {
		var doc any
		if err := json.Unmarshal([]byte(block), &doc); err != nil {
			continue
		}
		walk(doc, &out)
	}
	return out, nil
}

func ldBlocks(r io.Reader) ([]string, error) {
	z := html.NewTokenizer(r)
	var (
		blocks   []string
		inScript bool
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return blocks, nil
			}
			return nil, fmt.Errorf("jsonld: tokenize: %w", z.Err())
		case html.StartTagToken:
			tok := z.Token()
			if tok.Data != "script" {
				continue
			}
			for _, attr := range tok.Attr {
				if attr.Key == "type" && strings.EqualFold(strings.TrimSpace(attr.Val), "application/ld+json") {
					inScript = true
				}
			}
		case html.TextToken:
			if inScript {
				blocks = append(blocks, string(z.Text()))
			}
		case html.EndTagToken:
			inScript = false
		}
	}
}

func walk(node any, out *[]domain.ProvisionalRecord) {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			walk(item, out)
		}
	case map[string]any:
		if graph, ok := v["@graph"]; ok {
			walk(graph, out)
		}
		if isEvent(v["@type"]) {
			*out = append(*out, eventRecord(v))
		}
	}
}

func isEvent(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "ScreeningEvent" || v == "Event"
	case []any:
		for _, item := range v {
			if isEvent(item) {
				return true
			}
		}
	}
	return false
}

func eventRecord(ev map[string]any) domain.ProvisionalRecord {
	work := first(ev["workPresented"])
	rec := domain.ProvisionalRecord{
		Title:      text(work["name"]),
		Start:      text(ev["startDate"]),
		Venue:      name(ev["location"]),
		Format:     text(ev["videoFormat"]),
		BookingURL: text(ev["url"]),
		Synopsis:   text(ev["description"]),
		Runtime:    text(work["duration"]),
		PosterURL:  name(work["image"]),
		Director:   name(work["director"]),
		Genres:     texts(work["genre"]),
	}
	if rec.Title == "" {
		rec.Title = text(ev["name"])
	}
	if rec.Synopsis == "" {
		rec.Synopsis = text(work["description"])
	}
	if text(ev["subtitleLanguage"]) != "" || name(ev["subtitleLanguage"]) != "" {
		rec.Version = normalize.VersionSubtitled
	} else {
		rec.Version = spokenVersion(name(ev["inLanguage"]))
	}
	if offer := first(ev["offers"]); offer != nil {
		if price := text(offer["price"]); price != "" {
			rec.Price = strings.TrimSpace(price + " " + text(offer["priceCurrency"]))
		}
		if u := text(offer["url"]); u != "" {
			rec.BookingURL = u
		}
	}
	return rec
}

// spokenVersion переводит inLanguage в тег версии: французская дорожка это
// vf, любая другая vo. Текстовые пометки вроде "VOSTFR" разбираются как есть.
func spokenVersion(raw string) string {
	if raw == "" {
		return ""
	}
	switch v := normalize.Version(raw); v {
	case normalize.VersionOriginal, normalize.VersionSubtitled, normalize.VersionDubbed, normalize.VersionDubbedForHOH:
		return v
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return ""
	}
	if base, _ := tag.Base(); base == frenchBase {
		return normalize.VersionDubbed
	}
	return normalize.VersionOriginal
}

var frenchBase, _ = language.French.Base()

func first(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	return ""
}

// name принимает строку или объект с полем name либо url.
func name(v any) string {
	if s := text(v); s != "" {
		return s
	}
	m := first(v)
	if m == nil {
		return ""
	}
	if s := text(m["name"]); s != "" {
		return s
	}
	return text(m["url"])
}

func texts(v any) []string {
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, item := range t {
			if s := text(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
