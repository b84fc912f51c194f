package geocoder

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"cine-agenda/internal/domain"
	"cine-agenda/internal/infra/metrics"
	"cine-agenda/internal/usecase/normalize"
)

// Cached хранит найденные координаты бессрочно: адрес кинотеатра
// геокодируется один раз, а не в каждом цикле обновления.
type Cached struct {
	next   domain.Geocoder
	cache  domain.Cache
	logger zerolog.Logger
}

// NewCached оборачивает геокодер кэшем.
func NewCached(next domain.Geocoder, cache domain.Cache, logger zerolog.Logger) *Cached {
	return &Cached{next: next, cache: cache, logger: logger}
}

func cacheKey(address string) string {
	return "geocode:" + normalize.Fold(address)
}

// Geocode возвращает координаты из кэша или запрашивает их у next.
func (c *Cached) Geocode(ctx context.Context, address string) (domain.Coordinate, error) {
	key := cacheKey(address)
	if data, err := c.cache.Get(key); err == nil {
		var coord domain.Coordinate
		if err := json.Unmarshal(data, &coord); err == nil {
			return coord, nil
		}
	} else if !errors.Is(err, domain.ErrCacheMiss) {
		c.logger.Warn().Err(err).Msg("geocoder: cache read failed")
	}

	coord, err := c.next.Geocode(ctx, address)
	if err != nil {
		return domain.Coordinate{}, err
	}
	data, err := json.Marshal(coord)
	if err != nil {
		return coord, fmt.Errorf("geocoder: encode: %w", err)
	}
	if err := c.cache.Set(key, data, 0); err != nil {
		c.logger.Warn().Err(err).Msg("geocoder: cache write failed")
	}
	return coord, nil
}

// Locate заполняет координаты кинотеатров без них. Координаты из реестра
// не перезаписываются. Кинотеатр, который не удалось найти, остаётся без
// координат и не попадает на карту.
func Locate(ctx context.Context, g domain.Geocoder, cinemas []domain.Cinema, set func(id string, c domain.Coordinate) error, logger zerolog.Logger) []error {
	var failures []error
	for _, cinema := range cinemas {
		if cinema.Coordinate != nil {
			continue
		}
		if cinema.Address == "" {
			failures = append(failures, &domain.GeocodeFailure{CinemaID: cinema.ID, Err: errors.New("empty address")})
			continue
		}
		coord, err := g.Geocode(ctx, cinema.Address)
		if err == nil {
			err = set(cinema.ID, coord)
		}
		if err != nil {
			failure := &domain.GeocodeFailure{CinemaID: cinema.ID, Address: cinema.Address, Err: err}
			metrics.GeocodeFailuresTotal.Inc()
			logger.Warn().Err(failure).Str("cinema", cinema.ID).Msg("geocoder: cinema excluded from map")
			failures = append(failures, failure)
		}
	}
	return failures
}
