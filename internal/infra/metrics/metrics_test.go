package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveNetworkRequestLabels(t *testing.T) {
	before := testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("source", "get", "example.org", "error"))
	ObserveNetworkRequest("source", "get", "example.org", time.Now(), errors.New("boom"))
	after := testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("source", "get", "example.org", "error"))
	if after-before != 1 {
		t.Fatalf("ожидали рост счётчика на 1, получили %v", after-before)
	}

	ObserveNetworkRequest("", "", "", time.Now(), nil)
	if v := testutil.ToFloat64(NetworkRequestTotal.WithLabelValues("unknown", "unknown", "unknown", "success")); v < 1 {
		t.Fatalf("пустые метки должны заменяться на unknown")
	}
}

func TestObserveRefresh(t *testing.T) {
	before := testutil.ToFloat64(RefreshRunsTotal.WithLabelValues("champo", "committed"))
	ObserveRefresh("champo", "committed", time.Now().Add(-time.Second))
	if got := testutil.ToFloat64(RefreshRunsTotal.WithLabelValues("champo", "committed")) - before; got != 1 {
		t.Fatalf("ожидали один запуск, получили %v", got)
	}
}

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)
	StoreScreenings.WithLabelValues("champo").Set(3)
	if n := testutil.CollectAndCount(StoreScreenings); n < 1 {
		t.Fatalf("ожидали хотя бы одну серию store_screenings")
	}
}
