package normalize

import (
	"sort"
	"sync"

	"cine-agenda/internal/domain"
)

// Catalog хранит таблицу фильмов по нормализованному ключу названия.
// Близкие, но не совпавшие после нормализации названия дают разные фильмы.
type Catalog struct {
	mu    sync.RWMutex
	byKey map[string]*domain.Movie
	byID  map[string]*domain.Movie
}

// NewCatalog создаёт пустой каталог.
func NewCatalog() *Catalog {
	return &Catalog{
		byKey: make(map[string]*domain.Movie),
		byID:  make(map[string]*domain.Movie),
	}
}

// Resolve возвращает фильм по ключу, создавая его при первом совпадении.
// Последующие записи только дополняют пустые поля метаданных.
func (c *Catalog) Resolve(key, title string, rec domain.ProvisionalRecord) domain.Movie {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.byKey[key]
	if !ok {
		m = &domain.Movie{ID: domain.MovieID(key), Key: key, Title: title}
		c.byKey[key] = m
		c.byID[m.ID] = m
	}
	enrich(m, rec)
	return cloneMovie(*m)
}

func enrich(m *domain.Movie, rec domain.ProvisionalRecord) {
	if m.OriginalTitle == "" && rec.OriginalTitle != "" && rec.OriginalTitle != m.Title {
		m.OriginalTitle = rec.OriginalTitle
	}
	if m.RuntimeMinutes == 0 {
		m.RuntimeMinutes = ParseRuntime(rec.Runtime)
	}
	if m.PosterURL == "" {
		m.PosterURL = rec.PosterURL
	}
	if len(m.Genres) == 0 && len(rec.Genres) > 0 {
		m.Genres = append([]string(nil), rec.Genres...)
	}
	if m.Director == "" {
		m.Director = rec.Director
	}
	if len(m.Cast) == 0 && len(rec.Cast) > 0 {
		m.Cast = append([]string(nil), rec.Cast...)
	}
	if m.Synopsis == "" {
		m.Synopsis = rec.Synopsis
	}
	if m.ExternalRef == "" {
		m.ExternalRef = rec.ExternalRef
	}
	if m.FilmURL == "" {
		m.FilmURL = rec.FilmURL
	}
	if rec.Popularity > m.Popularity {
		m.Popularity = rec.Popularity
	}
}

// Get возвращает фильм по идентификатору.
func (c *Catalog) Get(id string) (domain.Movie, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byID[id]
	if !ok {
		return domain.Movie{}, false
	}
	return cloneMovie(*m), true
}

// Lookup ищет фильм по ключу названия.
func (c *Catalog) Lookup(key string) (domain.Movie, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byKey[key]
	if !ok {
		return domain.Movie{}, false
	}
	return cloneMovie(*m), true
}

// ByIDs возвращает известные фильмы из списка идентификаторов.
func (c *Catalog) ByIDs(ids []string) []domain.Movie {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{}, len(ids))
	out := make([]domain.Movie, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if m, ok := c.byID[id]; ok {
			out = append(out, cloneMovie(*m))
		}
	}
	return out
}

// All возвращает все фильмы, упорядоченные по ключу.
func (c *Catalog) All() []domain.Movie {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Movie, 0, len(c.byKey))
	for _, m := range c.byKey {
		out = append(out, cloneMovie(*m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len возвращает число фильмов.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

// Restore загружает фильмы из долговременного хранилища.
func (c *Catalog) Restore(movies []domain.Movie) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, movie := range movies {
		if movie.Key == "" {
			continue
		}
		m := cloneMovie(movie)
		if m.ID == "" {
			m.ID = domain.MovieID(m.Key)
		}
		c.byKey[m.Key] = &m
		c.byID[m.ID] = &m
	}
}

func cloneMovie(m domain.Movie) domain.Movie {
	if m.Genres != nil {
		m.Genres = append([]string(nil), m.Genres...)
	}
	if m.Cast != nil {
		m.Cast = append([]string(nil), m.Cast...)
	}
	return m
}
