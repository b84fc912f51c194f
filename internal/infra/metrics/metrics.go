package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	RefreshRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refresh_runs_total",
		Help: "Запуски обновления источников по исходу",
	}, []string{"source", "status"})

	RefreshDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "refresh_duration_seconds",
		Help:    "Длительность обновления одного источника",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"source"})

	RefreshRecords = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "refresh_records",
		Help: "Число записей в последнем ответе источника",
	}, []string{"source"})

	NormalizeDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "normalize_dropped_total",
		Help: "Записи, отброшенные при нормализации",
	}, []string{"source"})

	SuspiciousEmptyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "suspicious_empty_total",
		Help: "Подозрительно пустые ответы источников",
	}, []string{"source"})

	StoreScreenings = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "store_screenings",
		Help: "Сеансы в хранилище по кинотеатрам",
	}, []string{"cinema"})

	GeocodeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geocode_failures_total",
		Help: "Ошибки геокодирования адресов",
	})

	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Состояние предохранителя источника (0 closed, 1 half-open, 2 open)",
	}, []string{"source"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		RefreshRunsTotal,
		RefreshDuration,
		RefreshRecords,
		NormalizeDroppedTotal,
		SuspiciousEmptyTotal,
		StoreScreenings,
		GeocodeFailuresTotal,
		CircuitBreakerState,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// Handler отдаёт метрики реестра по умолчанию.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveRefresh фиксирует исход обновления источника.
func ObserveRefresh(source, status string, start time.Time) {
	RefreshRunsTotal.WithLabelValues(source, status).Inc()
	RefreshDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}
