package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cine-agenda/internal/domain"
)

var testDefaults = Defaults{
	RefreshInterval: 6 * time.Hour,
	FetchTimeout:    30 * time.Second,
	Kinds:           []string{"allocine", "ics", "jsonld"},
}

func writeRegistry(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cinemas.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("не удалось записать файл: %v", err)
	}
	return path
}

func TestLoadRegistry(t *testing.T) {
	path := writeRegistry(t, `
cinemas:
  - id: champo
    name: Le Champo
    address: 51 rue des Écoles, 75005 Paris
    coordinates:
      lat: 48.8503
      lon: 2.3434
    adapter:
      kind: allocine
      theater: C0071
      days: 5
  - id: studio-28
    name: Studio 28
    address: 10 rue Tholozé, 75018 Paris
    refresh_interval: 2h
    fetch_timeout: 10s
    adapter:
      kind: ICS
      url: https://example.org/studio28.ics
aliases:
  "Le Voyage de Chihiro (4K)": "Le Voyage de Chihiro"
  "Dr. Folamour": "Docteur Folamour"
`)
	reg, err := Load(path, testDefaults)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(reg.Entries) != 2 {
		t.Fatalf("ожидали 2 кинотеатра, получили %d", len(reg.Entries))
	}
	champo := reg.Entries[0]
	if champo.Cinema.Coordinate == nil || champo.Cinema.Coordinate.Lat != 48.8503 {
		t.Fatalf("координаты должны читаться из реестра: %+v", champo.Cinema)
	}
	if champo.Adapter.Theater != "C0071" || champo.Adapter.Days != 5 {
		t.Fatalf("неверный адаптер: %+v", champo.Adapter)
	}
	if champo.RefreshInterval != 6*time.Hour || champo.FetchTimeout != 30*time.Second {
		t.Fatalf("ожидали значения по умолчанию, получили %s/%s", champo.RefreshInterval, champo.FetchTimeout)
	}
	if champo.Cinema.SourceID != "champo" {
		t.Fatalf("источник должен совпадать с id кинотеатра")
	}

	studio := reg.Entries[1]
	if studio.Adapter.Kind != "ics" {
		t.Fatalf("тип адаптера должен приводиться к нижнему регистру: %q", studio.Adapter.Kind)
	}
	if studio.RefreshInterval != 2*time.Hour || studio.FetchTimeout != 10*time.Second {
		t.Fatalf("собственные интервалы не применились: %s/%s", studio.RefreshInterval, studio.FetchTimeout)
	}
	if studio.Cinema.Coordinate != nil {
		t.Fatalf("координаты не заданы и должны быть пустыми")
	}
	if reg.Aliases["Dr. Folamour"] != "Docteur Folamour" {
		t.Fatalf("алиас с точкой потерян: %v", reg.Aliases)
	}
	if names := reg.Cinemas(); names[0].ID != "champo" || names[1].ID != "studio-28" {
		t.Fatalf("порядок реестра нарушен: %+v", names)
	}
}

func TestLoadRegistryValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "duplicate id",
			body: "cinemas:\n  - {id: a, name: A, adapter: {kind: ics, url: x}}\n  - {id: a, name: B, adapter: {kind: ics, url: y}}\n",
			want: "duplicate",
		},
		{
			name: "empty name",
			body: "cinemas:\n  - {id: a, name: '', adapter: {kind: ics}}\n",
			want: "empty name",
		},
		{
			name: "empty list",
			body: "aliases: {}\n",
			want: "no cinemas",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeRegistry(t, tt.body), testDefaults)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("ожидали ошибку %q, получили %v", tt.want, err)
			}
		})
	}
}

func TestLoadRegistryUnknownKind(t *testing.T) {
	path := writeRegistry(t, "cinemas:\n  - {id: a, name: A, adapter: {kind: rss}}\n")
	_, err := Load(path, testDefaults)
	if !errors.Is(err, domain.ErrUnknownAdapter) {
		t.Fatalf("ожидали ErrUnknownAdapter, получили %v", err)
	}
}

func TestLoadRegistryMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml"), testDefaults); err == nil {
		t.Fatalf("ожидали ошибку для отсутствующего файла")
	}
}
