package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestMetrics(t *testing.T) {
	m := New()

	m.RecordRun("systematic", OutcomeGenerated, 30*time.Millisecond, 25, 42.5)
	m.RecordRun("systematic", OutcomeCached, time.Millisecond, 25, 42.5)
	m.CacheHit()
	m.CacheMiss()
	m.CacheMiss()
	m.PublishError("kestrel.plan.generated")
	m.ObserveHTTP("POST", "/ledgers/{clientId}/{fiscalYear}/plans", 201, 5*time.Millisecond)

	body := scrape(t, m)

	want := []string{
		`kestrel_sampling_runs_total{method="systematic",outcome="generated"} 1`,
		`kestrel_sampling_runs_total{method="systematic",outcome="cached"} 1`,
		`kestrel_sample_size_count{method="systematic"} 1`,
		`kestrel_result_cache_requests_total{result="hit"} 1`,
		`kestrel_result_cache_requests_total{result="miss"} 2`,
		`kestrel_event_publish_errors_total{topic="kestrel.plan.generated"} 1`,
		`kestrel_http_requests_total{method="POST",route="/ledgers/{clientId}/{fiscalYear}/plans",status="201"} 1`,
		`go_goroutines`,
	}
	for _, w := range want {
		if !strings.Contains(body, w) {
			t.Errorf("expected exposition to contain %q", w)
		}
	}
}

func TestIndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.CacheHit()
	if strings.Contains(scrape(t, b), `kestrel_result_cache_requests_total{result="hit"} 1`) {
		t.Error("metrics leaked between registries")
	}
}
