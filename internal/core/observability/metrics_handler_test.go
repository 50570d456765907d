package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)
	Init(reg)

	ExposeBuildInfo("test")
	ObserveHTTP("POST", "/runs", 200, 0.001)
	ObserveRun("medium", "ok")
	ObserveStage("clip", 0.2)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`roughness_build_info{version="test"} 1`,
		`http_requests_total{method="POST",route="/runs",status="200"}`,
		`roughness_runs_total{class="medium",outcome="ok"}`,
		`roughness_stage_duration_seconds_bucket{stage="clip"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics payload missing %q; got:\n%s", want, body)
		}
	}
}

func TestCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(cacheOps.WithLabelValues("get", "error"))
	ObserveCacheOp("get", errors.New("down"), 0.001)
	if got := testutil.ToFloat64(cacheOps.WithLabelValues("get", "error")); got != before+1 {
		t.Fatalf("cache_op_total=%v want %v", got, before+1)
	}

	before = testutil.ToFloat64(lookupRowsSkipped.WithLabelValues("med_n.csv"))
	AddLookupRowsSkipped("med_n.csv", 2)
	AddLookupRowsSkipped("med_n.csv", 0)
	if got := testutil.ToFloat64(lookupRowsSkipped.WithLabelValues("med_n.csv")); got != before+2 {
		t.Fatalf("skipped=%v want %v", got, before+2)
	}

	before = testutil.ToFloat64(runCacheResults.WithLabelValues("hit"))
	IncRunCacheHit()
	if got := testutil.ToFloat64(runCacheResults.WithLabelValues("hit")); got != before+1 {
		t.Fatalf("hits=%v", got)
	}
}
