// Package health serves the liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Check reports nil when the dependency it covers is usable.
type Check func(ctx context.Context) error

// Pinger is satisfied by the redis store.
type Pinger interface {
	Ping(ctx context.Context) error
}

func PingCheck(p Pinger) Check {
	return p.Ping
}

// PathCheck fails when path does not exist.
func PathCheck(path string) Check {
	return func(context.Context) error {
		_, err := os.Stat(path)
		return err
	}
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readyResponse struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Readiness runs every check concurrently, each bounded by timeout, and
// answers 503 if any of them fails.
func Readiness(checks map[string]Check, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	names := make([]string, 0, len(checks))
	for n := range checks {
		names = append(names, n)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		results := make([]checkResult, len(names))
		var wg sync.WaitGroup
		for i, n := range names {
			wg.Add(1)
			go func(i int, c Check) {
				defer wg.Done()
				if err := c(ctx); err != nil {
					results[i] = checkResult{Status: "fail", Error: err.Error()}
					return
				}
				results[i] = checkResult{Status: "ok"}
			}(i, checks[n])
		}
		wg.Wait()

		out := readyResponse{Status: "ready", Checks: make(map[string]checkResult, len(names))}
		for i, n := range names {
			out.Checks[n] = results[i]
			if results[i].Status != "ok" {
				out.Status = "not_ready"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
