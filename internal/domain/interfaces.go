package domain

import (
	"context"
	"time"
)

// SourceAdapter получает расписание одного кинотеатра.
type SourceAdapter interface {
	Fetch(ctx context.Context) (FetchResult, error)
}

// Geocoder переводит адрес в координаты.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Coordinate, error)
}

// SnapshotRepo хранит долговременную копию расписания.
type SnapshotRepo interface {
	// SaveBatch заменяет сеансы кинотеатра результатом слияния.
	SaveBatch(ctx context.Context, batch RefreshBatch, merged []Screening, movies []Movie) error
	LoadScreenings(ctx context.Context, since time.Time) ([]Screening, error)
	LoadMovies(ctx context.Context) ([]Movie, error)
	RecordRun(ctx context.Context, event RefreshEvent) error
	// PurgeBefore удаляет сеансы, начавшиеся раньше cutoff.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventPublisher рассылает события обновления расписания.
type EventPublisher interface {
	Publish(ctx context.Context, event RefreshEvent) error
}

// Alerter уведомляет оператора о проблемах источников.
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
