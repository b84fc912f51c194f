package source

import (
	"fmt"
	"sort"
	"time"

	"cine-agenda/internal/domain"
)

// Deps содержит общие зависимости адаптеров.
type Deps struct {
	Fetcher  *Fetcher
	Location *time.Location
	Now      func() time.Time
	// AllocineURL переопределяет адрес Allociné в тестах.
	AllocineURL string
}

// Factory создаёт адаптер по описанию из реестра.
type Factory func(cfg domain.AdapterConfig, deps Deps) (domain.SourceAdapter, error)

var factories = map[string]Factory{
	"allocine": func(cfg domain.AdapterConfig, deps Deps) (domain.SourceAdapter, error) {
		if cfg.Theater == "" {
			return nil, fmt.Errorf("allocine: theater code is required")
		}
		return NewAllocine(deps.Fetcher, deps.AllocineURL, cfg.Theater, cfg.Days, deps.Location, deps.Now), nil
	},
	"ics": func(cfg domain.AdapterConfig, deps Deps) (domain.SourceAdapter, error) {
		if cfg.URL == "" {
			return nil, fmt.Errorf("ics: url is required")
		}
		return NewICS(deps.Fetcher, cfg.URL), nil
	},
	"jsonld": func(cfg domain.AdapterConfig, deps Deps) (domain.SourceAdapter, error) {
		if cfg.URL == "" {
			return nil, fmt.Errorf("jsonld: url is required")
		}
		return NewJSONLD(deps.Fetcher, cfg.URL), nil
	},
}

// New создаёт адаптер нужного типа.
func New(cfg domain.AdapterConfig, deps Deps) (domain.SourceAdapter, error) {
	factory, ok := factories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownAdapter, cfg.Kind)
	}
	if deps.Fetcher == nil {
		deps.Fetcher = NewFetcher(nil, FetcherConfig{})
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return factory(cfg, deps)
}

// Kinds возвращает поддерживаемые типы адаптеров.
func Kinds() []string {
	out := make([]string, 0, len(factories))
	for kind := range factories {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}
