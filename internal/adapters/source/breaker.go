package source

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"cine-agenda/internal/domain"
	"cine-agenda/internal/infra/metrics"
)

// BreakerConfig настраивает предохранитель источника.
type BreakerConfig struct {
	// MaxFailures подряд переводят предохранитель в открытое состояние.
	MaxFailures uint32
	// OpenTimeout задаёт паузу перед пробным запросом.
	OpenTimeout time.Duration
}

type breakerAdapter struct {
	sourceID string
	next     domain.SourceAdapter
	cb       *gobreaker.CircuitBreaker[domain.FetchResult]
}

// WithBreaker оборачивает адаптер предохранителем: после серии сбоев
// источник не опрашивается до истечения OpenTimeout.
func WithBreaker(sourceID string, next domain.SourceAdapter, cfg BreakerConfig, logger zerolog.Logger) domain.SourceAdapter {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Minute
	}
	metrics.CircuitBreakerState.WithLabelValues(sourceID).Set(0)
	cb := gobreaker.NewCircuitBreaker[domain.FetchResult](gobreaker.Settings{
		Name:        sourceID,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("source", name).Str("from", from.String()).Str("to", to.String()).Msg("source: breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return &breakerAdapter{sourceID: sourceID, next: next, cb: cb}
}

func (b *breakerAdapter) Fetch(ctx context.Context) (domain.FetchResult, error) {
	res, err := b.cb.Execute(func() (domain.FetchResult, error) {
		return b.next.Fetch(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.FetchResult{}, &domain.AdapterFailure{SourceID: b.sourceID, Reason: "circuit open", At: time.Now(), Err: err}
	}
	return res, err
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
