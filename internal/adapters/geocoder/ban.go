package geocoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"cine-agenda/internal/domain"
	"cine-agenda/internal/infra/metrics"
)

// DefaultBANURL указывает на Base Adresse Nationale.
const DefaultBANURL = "https://api-adresse.data.gouv.fr/search/"

// ErrNotFound возвращается, если адрес не распознан.
var ErrNotFound = errors.New("address not found")

// BAN геокодирует адреса через api-adresse.data.gouv.fr.
type BAN struct {
	client  *http.Client
	baseURL string
}

// NewBAN создаёт клиент. Пустой baseURL означает публичный сервис.
func NewBAN(baseURL string, timeout time.Duration) *BAN {
	if baseURL == "" {
		baseURL = DefaultBANURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BAN{client: &http.Client{Timeout: timeout}, baseURL: baseURL}
}

type banResponse struct {
	Features []struct {
		Geometry struct {
			// Coordinates в порядке GeoJSON: долгота, широта.
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// Geocode возвращает координаты лучшего совпадения.
func (b *BAN) Geocode(ctx context.Context, address string) (coord domain.Coordinate, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("geocoder", "search", "ban", start, err)
	}()

	endpoint, err := url.Parse(b.baseURL)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("geocoder: parse url: %w", err)
	}
	q := endpoint.Query()
	q.Set("q", address)
	q.Set("limit", "1")
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("geocoder: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("geocoder: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Coordinate{}, fmt.Errorf("geocoder: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var out banResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Coordinate{}, fmt.Errorf("geocoder: decode: %w", err)
	}
	if len(out.Features) == 0 || len(out.Features[0].Geometry.Coordinates) < 2 {
		return domain.Coordinate{}, ErrNotFound
	}
	c := out.Features[0].Geometry.Coordinates
	return domain.Coordinate{Lat: c[1], Lon: c[0]}, nil
}
