package repo

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cine-agenda/internal/domain"
	"cine-agenda/internal/infra/metrics"
)

//go:embed schema.sql
var schema string

var screeningColumns = []string{
	"id", "cinema_id", "source_id", "movie_id", "movie_title", "starts_at",
	"version", "price_tag", "format", "auditorium", "booking_url", "batch_id", "fetched_at",
}

// Postgres хранит долговременную копию расписания на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.SnapshotRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 10*time.Second)
}

// EnsureSchema создаёт таблицы, если их ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, schema)
	metrics.ObserveNetworkRequest("postgres", "ensure_schema", "schema", start, err)
	if err != nil {
		return fmt.Errorf("repo: ensure schema: %w", err)
	}
	return nil
}

func screeningRow(s domain.Screening) []any {
	return []any{
		s.ID, s.CinemaID, s.SourceID, s.MovieID, s.MovieTitle, s.StartsAt.UTC(),
		s.Version, s.PriceTag, s.Format, s.Auditorium, s.BookingURL, s.BatchID, s.FetchedAt.UTC(),
	}
}

// movieRow раскладывает фильм по параметрам upsert; пустые массивы пишутся как '{}'.
func movieRow(m domain.Movie) []any {
	genres, cast := m.Genres, m.Cast
	if genres == nil {
		genres = []string{}
	}
	if cast == nil {
		cast = []string{}
	}
	return []any{
		m.ID, m.Key, m.Title, m.OriginalTitle, m.RuntimeMinutes, m.PosterURL, genres,
		m.Director, cast, m.Synopsis, m.Popularity, m.ExternalRef, m.FilmURL,
	}
}

// SaveBatch заменяет сеансы кинотеатра результатом слияния и обновляет
// фильмы в одной транзакции.
func (p *Postgres) SaveBatch(ctx context.Context, batch domain.RefreshBatch, merged []domain.Screening, movies []domain.Movie) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM screenings WHERE cinema_id = $1`, batch.CinemaID); err != nil {
			return fmt.Errorf("delete screenings: %w", err)
		}
		if len(merged) > 0 {
			_, err := tx.CopyFrom(ctx, pgx.Identifier{"screenings"}, screeningColumns,
				pgx.CopyFromSlice(len(merged), func(i int) ([]any, error) {
					return screeningRow(merged[i]), nil
				}))
			if err != nil {
				return fmt.Errorf("copy screenings: %w", err)
			}
		}
		if len(movies) == 0 {
			return nil
		}
		b := &pgx.Batch{}
		for _, m := range movies {
			b.Queue(`
INSERT INTO movies (id, title_key, title, original_title, runtime_minutes, poster_url, genres, director, cast_members, synopsis, popularity, external_ref, film_url, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
ON CONFLICT (id) DO UPDATE SET
  original_title=EXCLUDED.original_title, runtime_minutes=EXCLUDED.runtime_minutes, poster_url=EXCLUDED.poster_url,
  genres=EXCLUDED.genres, director=EXCLUDED.director, cast_members=EXCLUDED.cast_members, synopsis=EXCLUDED.synopsis,
  popularity=EXCLUDED.popularity, external_ref=EXCLUDED.external_ref, film_url=EXCLUDED.film_url, updated_at=now()
`, movieRow(m)...)
		}
		return tx.SendBatch(ctx, b).Close()
	})
	metrics.ObserveNetworkRequest("postgres", "save_batch", batch.CinemaID, start, err)
	if err != nil {
		return fmt.Errorf("repo: save batch %s: %w", batch.ID, err)
	}
	return nil
}

// LoadScreenings возвращает сеансы, начинающиеся не раньше since.
func (p *Postgres) LoadScreenings(ctx context.Context, since time.Time) ([]domain.Screening, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, cinema_id, source_id, movie_id, movie_title, starts_at, version, price_tag, format, auditorium, booking_url, batch_id, fetched_at
FROM screenings WHERE starts_at >= $1
ORDER BY cinema_id, starts_at
`, since)
	metrics.ObserveNetworkRequest("postgres", "screenings_load", "screenings", start, err)
	if err != nil {
		return nil, fmt.Errorf("repo: load screenings: %w", err)
	}
	defer rows.Close()

	var out []domain.Screening
	for rows.Next() {
		var s domain.Screening
		if err := rows.Scan(&s.ID, &s.CinemaID, &s.SourceID, &s.MovieID, &s.MovieTitle, &s.StartsAt, &s.Version,
			&s.PriceTag, &s.Format, &s.Auditorium, &s.BookingURL, &s.BatchID, &s.FetchedAt); err != nil {
			return nil, fmt.Errorf("repo: scan screening: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LoadMovies возвращает каталог фильмов.
func (p *Postgres) LoadMovies(ctx context.Context) ([]domain.Movie, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, title_key, title, original_title, runtime_minutes, poster_url, genres, director, cast_members, synopsis, popularity, external_ref, film_url
FROM movies ORDER BY title_key
`)
	metrics.ObserveNetworkRequest("postgres", "movies_load", "movies", start, err)
	if err != nil {
		return nil, fmt.Errorf("repo: load movies: %w", err)
	}
	defer rows.Close()

	var out []domain.Movie
	for rows.Next() {
		var m domain.Movie
		if err := rows.Scan(&m.ID, &m.Key, &m.Title, &m.OriginalTitle, &m.RuntimeMinutes, &m.PosterURL, &m.Genres,
			&m.Director, &m.Cast, &m.Synopsis, &m.Popularity, &m.ExternalRef, &m.FilmURL); err != nil {
			return nil, fmt.Errorf("repo: scan movie: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordRun сохраняет исход обновления источника.
func (p *Postgres) RecordRun(ctx context.Context, event domain.RefreshEvent) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO refresh_runs (id, kind, source_id, cinema_id, batch_id, records, dropped, partial, reason, at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO NOTHING
`, event.ID, string(event.Kind), event.SourceID, event.CinemaID, event.BatchID, event.Records, event.Dropped, event.Partial, event.Reason, event.At.UTC())
	metrics.ObserveNetworkRequest("postgres", "refresh_runs_insert", "refresh_runs", start, err)
	if err != nil {
		return fmt.Errorf("repo: record run: %w", err)
	}
	return nil
}

// PurgeBefore удаляет сеансы, начавшиеся раньше cutoff.
func (p *Postgres) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM screenings WHERE starts_at < $1`, cutoff.UTC())
	metrics.ObserveNetworkRequest("postgres", "screenings_purge", "screenings", start, err)
	if err != nil {
		return 0, fmt.Errorf("repo: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
