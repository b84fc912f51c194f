package refresh

import (
	"fmt"

	"github.com/rs/zerolog"

	"cine-agenda/internal/adapters/source"
	"cine-agenda/internal/domain"
)

// BuildSources создаёт адаптеры для записей реестра. Каждый адаптер
// оборачивается предохранителем. Записи с ошибочной конфигурацией
// пропускаются и возвращаются списком ошибок.
func BuildSources(entries []domain.RegistryEntry, deps source.Deps, breaker source.BreakerConfig, logger zerolog.Logger) ([]Source, []error) {
	out := make([]Source, 0, len(entries))
	var errs []error
	for _, entry := range entries {
		adapter, err := source.New(entry.Adapter, deps)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", entry.Cinema.SourceID, err))
			continue
		}
		out = append(out, Source{
			Entry:   entry,
			Adapter: source.WithBreaker(entry.Cinema.SourceID, adapter, breaker, logger),
		})
	}
	return out, errs
}
