package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv       string `envconfig:"APP_ENV" default:"dev"`
	TZ           string `envconfig:"TZ" default:"Europe/Paris"`
	Port         int    `envconfig:"PORT" default:"8080"`
	MetricsAddr  string `envconfig:"METRICS_ADDR" default:":9090"`
	RegistryPath string `envconfig:"REGISTRY_PATH" default:"configs/cinemas.yml"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitMQ struct {
		URL   string `envconfig:"RABBITMQ_URL"`
		Queue string `envconfig:"EVENTS_QUEUE" default:"schedule_events"`
	} `envconfig:""`

	Telegram struct {
		Token       string `envconfig:"TG_BOT_TOKEN"`
		AlertChatID int64  `envconfig:"TG_ALERT_CHAT_ID"`
	} `envconfig:""`

	Refresh struct {
		Tick                  time.Duration `envconfig:"REFRESH_TICK" default:"1m"`
		DefaultInterval       time.Duration `envconfig:"REFRESH_DEFAULT_INTERVAL" default:"6h"`
		DefaultTimeout        time.Duration `envconfig:"FETCH_DEFAULT_TIMEOUT" default:"30s"`
		MaxParallel           int           `envconfig:"REFRESH_MAX_PARALLEL" default:"4"`
		RetentionPast         time.Duration `envconfig:"RETENTION_PAST" default:"24h"`
		Horizon               time.Duration `envconfig:"SCHEDULE_HORIZON" default:"720h"`
		SweepInterval         time.Duration `envconfig:"SWEEP_INTERVAL" default:"1h"`
		SuspiciousMinPrevious int           `envconfig:"SUSPICIOUS_MIN_PREVIOUS" default:"5"`
		SuspiciousCommitAfter int           `envconfig:"SUSPICIOUS_COMMIT_AFTER" default:"3"`
	} `envconfig:""`

	Fetch struct {
		UserAgent string  `envconfig:"FETCH_USER_AGENT" default:"cine-agenda/1.0"`
		RPS       float64 `envconfig:"FETCH_RPS" default:"2"`
		Burst     int     `envconfig:"FETCH_BURST" default:"2"`
	} `envconfig:""`

	Breaker struct {
		MaxFailures uint32        `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
		OpenTimeout time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"30m"`
	} `envconfig:""`

	Geocoder struct {
		URL     string        `envconfig:"GEOCODER_URL" default:"https://api-adresse.data.gouv.fr/search/"`
		Timeout time.Duration `envconfig:"GEOCODER_TIMEOUT" default:"10s"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения. Файл .env, если он есть, читается первым
// и не перекрывает уже заданные переменные.
func Load() (AppConfig, error) {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("config: %w", err)
	}
	if cfg.Refresh.MaxParallel <= 0 {
		cfg.Refresh.MaxParallel = 1
	}
	if cfg.Refresh.SuspiciousCommitAfter < 1 {
		cfg.Refresh.SuspiciousCommitAfter = 1
	}
	return cfg, nil
}

// Location возвращает часовой пояс расписания.
func (c AppConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return nil, fmt.Errorf("config: tz %q: %w", c.TZ, err)
	}
	return loc, nil
}
