package redisstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/manning-roughness/internal/metrics"
)

func TestCommands_RecordOutcomeMetrics(t *testing.T) {
	p := metrics.Init(metrics.Config{})
	c, mr := newMini(t)
	ctx := context.Background()

	_ = c.Set(ctx, "run:m", []byte("x"), time.Minute)
	_, _ = c.MGet(ctx, []string{"run:m", "run:none"})
	_ = c.SAdd(ctx, "idx:m", []string{"run:m"}, time.Minute)
	_, _ = c.SMembers(ctx, []string{"idx:m"})
	_ = c.Del(ctx, "run:m")

	mr.SetError("LOADING")
	_ = c.Set(ctx, "run:m", []byte("x"), time.Minute)
	mr.SetError("")

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`cache_op_total{op="ping",outcome="ok"}`,
		`cache_op_total{op="set",outcome="ok"}`,
		`cache_op_total{op="set",outcome="error"}`,
		`cache_op_total{op="mget",outcome="ok"}`,
		`cache_op_total{op="sadd",outcome="ok"}`,
		`cache_op_total{op="sunion",outcome="ok"}`,
		`cache_op_total{op="del",outcome="ok"}`,
		`redis_operation_duration_seconds_count{op="sunion"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s\n%s", want, body)
		}
	}
}
