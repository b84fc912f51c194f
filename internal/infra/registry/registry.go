package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"cine-agenda/internal/domain"
)

// Разделитель ключей выбран так, чтобы точки в названиях фильмов
// не превращались во вложенные ключи.
const delim = "::"

// Defaults задаёт значения для записей без собственных интервалов.
type Defaults struct {
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
	// Kinds перечисляет допустимые типы адаптеров.
	Kinds []string
}

// Registry содержит загруженный реестр кинотеатров.
type Registry struct {
	Entries []domain.RegistryEntry
	// Aliases отображает сырое название фильма в каноничное.
	Aliases map[string]string
}

// Cinemas возвращает кинотеатры в порядке реестра.
func (r Registry) Cinemas() []domain.Cinema {
	out := make([]domain.Cinema, 0, len(r.Entries))
	for _, entry := range r.Entries {
		out = append(out, entry.Cinema)
	}
	return out
}

type coordinates struct {
	Lat float64 `koanf:"lat"`
	Lon float64 `koanf:"lon"`
}

type adapterEntry struct {
	Kind    string `koanf:"kind"`
	Theater string `koanf:"theater"`
	URL     string `koanf:"url"`
	Days    int    `koanf:"days"`
}

type cinemaEntry struct {
	ID              string        `koanf:"id"`
	Name            string        `koanf:"name"`
	Address         string        `koanf:"address"`
	Coordinates     *coordinates  `koanf:"coordinates"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	FetchTimeout    time.Duration `koanf:"fetch_timeout"`
	Adapter         adapterEntry  `koanf:"adapter"`
}

type document struct {
	Cinemas []cinemaEntry     `koanf:"cinemas"`
	Aliases map[string]string `koanf:"aliases"`
}

// Load читает YAML-файл реестра и проверяет записи.
func Load(path string, defaults Defaults) (Registry, error) {
	k := koanf.New(delim)
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Registry{}, fmt.Errorf("registry: load %s: %w", path, err)
	}
	var doc document
	if err := k.Unmarshal("", &doc); err != nil {
		return Registry{}, fmt.Errorf("registry: decode %s: %w", path, err)
	}
	return build(doc, defaults)
}

func build(doc document, defaults Defaults) (Registry, error) {
	if len(doc.Cinemas) == 0 {
		return Registry{}, errors.New("registry: no cinemas")
	}
	seen := make(map[string]struct{}, len(doc.Cinemas))
	reg := Registry{
		Entries: make([]domain.RegistryEntry, 0, len(doc.Cinemas)),
		Aliases: make(map[string]string, len(doc.Aliases)),
	}
	for i, c := range doc.Cinemas {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return Registry{}, fmt.Errorf("registry: cinema #%d: empty id", i+1)
		}
		if _, dup := seen[id]; dup {
			return Registry{}, fmt.Errorf("registry: duplicate cinema id %q", id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(c.Name) == "" {
			return Registry{}, fmt.Errorf("registry: cinema %q: empty name", id)
		}
		kind := strings.ToLower(strings.TrimSpace(c.Adapter.Kind))
		if len(defaults.Kinds) > 0 && !slices.Contains(defaults.Kinds, kind) {
			return Registry{}, fmt.Errorf("registry: cinema %q: %w: %q", id, domain.ErrUnknownAdapter, c.Adapter.Kind)
		}

		entry := domain.RegistryEntry{
			Cinema: domain.Cinema{
				ID:       id,
				Name:     strings.TrimSpace(c.Name),
				Address:  strings.TrimSpace(c.Address),
				SourceID: id,
			},
			Adapter: domain.AdapterConfig{
				Kind:    kind,
				Theater: strings.TrimSpace(c.Adapter.Theater),
				URL:     strings.TrimSpace(c.Adapter.URL),
				Days:    c.Adapter.Days,
			},
			RefreshInterval: c.RefreshInterval,
			FetchTimeout:    c.FetchTimeout,
		}
		if c.Coordinates != nil {
			entry.Cinema.Coordinate = &domain.Coordinate{Lat: c.Coordinates.Lat, Lon: c.Coordinates.Lon}
		}
		if entry.RefreshInterval <= 0 {
			entry.RefreshInterval = defaults.RefreshInterval
		}
		if entry.FetchTimeout <= 0 {
			entry.FetchTimeout = defaults.FetchTimeout
		}
		reg.Entries = append(reg.Entries, entry)
	}
	for raw, canonical := range doc.Aliases {
		if strings.TrimSpace(raw) == "" || strings.TrimSpace(canonical) == "" {
			continue
		}
		reg.Aliases[raw] = canonical
	}
	return reg, nil
}
