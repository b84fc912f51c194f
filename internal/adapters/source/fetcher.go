package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cine-agenda/internal/infra/metrics"
)

const (
	defaultUserAgent = "cine-agenda/1.0 (+https://github.com/cine-agenda)"
	maxBodySize      = 8 << 20
)

// ErrBodyTooLarge возвращается, когда ответ больше допустимого размера.
var ErrBodyTooLarge = errors.New("body too large")

// FetcherConfig настраивает общий HTTP-клиент адаптеров.
type FetcherConfig struct {
	UserAgent string
	// RPS ограничивает частоту запросов к одному хосту.
	RPS   float64
	Burst int
	// MaxBody ограничивает размер тела ответа; ноль означает 8 МиБ.
	MaxBody int64
}

// Fetcher выполняет GET-запросы к источникам с ограничением частоты по хосту.
type Fetcher struct {
	client    *http.Client
	userAgent string
	limit     rate.Limit
	burst     int
	maxBody   int64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher создаёт клиент. Нулевой RPS отключает ограничение.
func NewFetcher(client *http.Client, cfg FetcherConfig) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = maxBodySize
	}
	return &Fetcher{
		client:    client,
		userAgent: cfg.UserAgent,
		limit:     limit,
		burst:     cfg.Burst,
		maxBody:   cfg.MaxBody,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(f.limit, f.burst)
		f.limiters[host] = l
	}
	return l
}

// Get загружает тело ответа. Статус 400 и выше считается ошибкой.
func (f *Fetcher) Get(ctx context.Context, rawURL, accept string) (body []byte, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("source: parse url: %w", err)
	}
	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("source: rate limit: %w", err)
	}

	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("source", "get", u.Host, start, err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("source: build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: get %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("source: get %s: status %d: %s", u.Path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	body, err = io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("source: read body: %w", err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, fmt.Errorf("source: get %s: %w (> %d bytes)", u.Path, ErrBodyTooLarge, f.maxBody)
	}
	return body, nil
}
