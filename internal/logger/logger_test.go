package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestFromContext_AppliesRunFields(t *testing.T) {
	var buf bytes.Buffer
	base := Build(Config{Level: "debug", Service: "roughness"}, &buf)

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithStage(ctx, "clip")
	ctx = WithRequestID(ctx, "")
	FromContext(ctx, &base).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if line["run_id"] != "run-1" || line["stage"] != "clip" || line["service"] != "roughness" {
		t.Fatalf("missing fields: %v", line)
	}
	if s, _ := line["request_id"].(string); len(s) != 16 {
		t.Fatalf("expected generated request id, got %v", line["request_id"])
	}
	if RunID(ctx) != "run-1" {
		t.Fatalf("RunID=%q", RunID(ctx))
	}
}

func TestSlogBridge_RespectsLevelAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := Build(Config{Level: "warn"}, &buf)
	sl := NewSlog(&base)

	sl.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level: %s", buf.String())
	}
	sl.With("component", "lookup").Warn("row skipped", "line", 3, "elapsed", 2*time.Millisecond)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if line["level"] != "warn" || line["component"] != "lookup" || line["line"] != float64(3) {
		t.Fatalf("unexpected line: %v", line)
	}
	Build(Config{Level: "info"}, &bytes.Buffer{})
}
