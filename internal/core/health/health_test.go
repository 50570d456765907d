package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestReadiness_AllChecksPass(t *testing.T) {
	dir := t.TempDir()
	h := Readiness(map[string]Check{
		"redis":   PingCheck(fakePinger{}),
		"lookups": PathCheck(dir),
	}, time.Second)

	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200 body=%s", rr.Code, rr.Body.String())
	}
	var got readyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "ready" || got.Checks["redis"].Status != "ok" || got.Checks["lookups"].Status != "ok" {
		t.Fatalf("resp=%+v", got)
	}
}

func TestReadiness_FailingCheckIs503(t *testing.T) {
	h := Readiness(map[string]Check{
		"redis":     PingCheck(fakePinger{err: errors.New("connection refused")}),
		"landcover": PathCheck(filepath.Join(t.TempDir(), "missing.vrt")),
	}, time.Second)

	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", rr.Code)
	}
	var got readyResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got.Status != "not_ready" || got.Checks["redis"].Error != "connection refused" || got.Checks["landcover"].Status != "fail" {
		t.Fatalf("resp=%+v", got)
	}
}

func TestReadiness_NoChecksIsReady(t *testing.T) {
	rr := httptest.NewRecorder()
	Readiness(nil, 0)(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
}
