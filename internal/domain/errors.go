package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCacheMiss возвращается кэшем при отсутствии ключа.
	ErrCacheMiss = errors.New("cache miss")
	// ErrUnknownAdapter: в реестре указан неизвестный тип адаптера.
	ErrUnknownAdapter = errors.New("unknown adapter kind")
	// ErrCinemaNotFound: кинотеатр отсутствует в реестре.
	ErrCinemaNotFound = errors.New("cinema not found")
)

// AdapterFailure описывает сбой получения данных одного источника.
type AdapterFailure struct {
	SourceID string
	Reason   string
	At       time.Time
	Err      error
}

func (f *AdapterFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("source %s: %s: %v", f.SourceID, f.Reason, f.Err)
	}
	return fmt.Sprintf("source %s: %s", f.SourceID, f.Reason)
}

func (f *AdapterFailure) Unwrap() error { return f.Err }

// ValidationError описывает отброшенную сырую запись.
type ValidationError struct {
	SourceID string
	Field    string
	Value    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("source %s: invalid %s %q: %s", e.SourceID, e.Field, e.Value, e.Reason)
}

// SuspiciousEmptyResult возвращается, если источник вернул ноль записей после непустых запусков.
type SuspiciousEmptyResult struct {
	SourceID string
	Previous int
	At       time.Time
}

func (e *SuspiciousEmptyResult) Error() string {
	return fmt.Sprintf("source %s: empty result after %d records", e.SourceID, e.Previous)
}

// GeocodeFailure возвращается, если не удалось определить координаты адреса.
type GeocodeFailure struct {
	CinemaID string
	Address  string
	Err      error
}

func (e *GeocodeFailure) Error() string {
	return fmt.Sprintf("geocode %s (%q): %v", e.CinemaID, e.Address, e.Err)
}

func (e *GeocodeFailure) Unwrap() error { return e.Err }
