package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/manning-roughness/internal/app/runner"
	"github.com/mohammed-shakir/manning-roughness/internal/core/config"
	"github.com/mohammed-shakir/manning-roughness/internal/core/health"
	"github.com/mohammed-shakir/manning-roughness/internal/pipeline"
	"github.com/mohammed-shakir/manning-roughness/internal/runstore"
)

type okRuns struct{}

func (okRuns) Run(context.Context, pipeline.Request, pipeline.Feedback) (runner.Response, error) {
	return runner.Response{RunID: "r1"}, nil
}

type noHistory struct{}

func (noHistory) Recent(context.Context, int) ([]runstore.Run, error) { return nil, nil }

func newTestServer(t *testing.T, d Deps) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := httptest.NewServer(NewHandler(logger, d))
	t.Cleanup(ts.Close)
	return ts
}

func TestNewHandler_Routes(t *testing.T) {
	ts := newTestServer(t, Deps{
		Runs:    okRuns{},
		History: noHistory{},
		Ready:   map[string]health.Check{"noop": func(context.Context) error { return nil }},
	})

	for path, want := range map[string]int{
		"/healthz": http.StatusOK,
		"/readyz":  http.StatusOK,
		"/runs":    http.StatusOK,
		"/metrics": http.StatusNotFound,
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("GET %s status=%d want %d", path, resp.StatusCode, want)
		}
	}

	body := `{"aoi":{"type":"Polygon","coordinates":[[[11,55],[11.1,55],[11.1,55.1],[11,55.1],[11,55]]]}}`
	resp, err := http.Post(ts.URL+"/runs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("POST /runs status=%d reqid=%q", resp.StatusCode, resp.Header.Get("X-Request-ID"))
	}
}

func TestNewHandler_HistoryIsOptional(t *testing.T) {
	ts := newTestServer(t, Deps{Runs: okRuns{}})
	resp, err := http.Get(ts.URL + "/runs")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d want 405", resp.StatusCode)
	}
}

func TestWriteTimeout_CoversExternalTools(t *testing.T) {
	if got := WriteTimeout(config.Config{ExternalTimeout: 10 * time.Minute}); got < 10*time.Minute {
		t.Fatalf("write timeout %v shorter than tool timeout", got)
	}
	if got := WriteTimeout(config.Config{}); got != 60*time.Second {
		t.Fatalf("default=%v", got)
	}
}
