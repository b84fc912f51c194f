package domain

import "time"

// SourcePhase описывает состояние конвейера обновления одного источника.
type SourcePhase string

const (
	PhaseIdle            SourcePhase = "idle"
	PhaseFetching        SourcePhase = "fetching"
	PhaseNormalizing     SourcePhase = "normalizing"
	PhaseCommitting      SourcePhase = "committing"
	PhaseFailedThisCycle SourcePhase = "failed_this_cycle"
)

// SourceStatus отдаёт внешнему слою признак свежести данных источника.
type SourceStatus struct {
	SourceID      string      `json:"source_id"`
	CinemaID      string      `json:"cinema_id"`
	Phase         SourcePhase `json:"phase"`
	LastAttemptAt time.Time   `json:"last_attempt_at,omitempty"`
	LastSuccessAt time.Time   `json:"last_success_at,omitempty"`
	LastError     string      `json:"last_error,omitempty"`
	LastRecords   int         `json:"last_records"`
	LastDropped   int         `json:"last_dropped"`
	Suspicious    bool        `json:"suspicious"`
}

// RefreshEventKind описывает исход обновления источника.
type RefreshEventKind string

const (
	// RefreshCommitted: пакет зафиксирован.
	RefreshCommitted RefreshEventKind = "committed"
	// RefreshFailed: источник не отдал данные в этом цикле.
	RefreshFailed RefreshEventKind = "failed"
	// RefreshSuspiciousEmpty: источник неожиданно вернул пустой результат.
	RefreshSuspiciousEmpty RefreshEventKind = "suspicious_empty"
)

// RefreshEvent содержит итог одного обновления источника.
type RefreshEvent struct {
	ID       string           `json:"event_id"`
	Kind     RefreshEventKind `json:"kind"`
	SourceID string           `json:"source_id"`
	CinemaID string           `json:"cinema_id"`
	BatchID  string           `json:"batch_id,omitempty"`
	Records  int              `json:"records"`
	Dropped  int              `json:"dropped"`
	Partial  bool             `json:"partial,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	At       time.Time        `json:"at"`
}

// Alert описывает сообщение оператору.
type Alert struct {
	Kind     RefreshEventKind
	SourceID string
	CinemaID string
	Text     string
}

// AdapterConfig описывает адаптер источника в реестре.
type AdapterConfig struct {
	Kind    string `json:"kind"`
	Theater string `json:"theater,omitempty"`
	URL     string `json:"url,omitempty"`
	Days    int    `json:"days,omitempty"`
}

// RegistryEntry связывает кинотеатр с его источником и частотой опроса.
type RegistryEntry struct {
	Cinema          Cinema
	Adapter         AdapterConfig
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
}
