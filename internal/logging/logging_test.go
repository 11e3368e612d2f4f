package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/fxsml/msgctx"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return rec
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Service: "msgctx", Version: "v1"}, &buf)

	logger.Debug("hello", "key", "value")

	rec := decodeLine(t, &buf)
	if rec["msg"] != "hello" || rec["key"] != "value" {
		t.Errorf("unexpected record %v", rec)
	}
	if rec["service"] != "msgctx" || rec["version"] != "v1" {
		t.Errorf("expected service attributes, got %v", rec)
	}
}

func TestNew_TextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "text"}, &buf)

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}

	logger.Warn("kept")
	if !strings.Contains(buf.String(), "msg=kept") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{}, &buf)

	id := uuid.New()
	traceID := trace.TraceID{1, 2, 3}
	ctx := msgctx.WithCorrelationID(context.Background(), id)
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  trace.SpanID{1},
	}))

	logger.With("component", "test").InfoContext(ctx, "in flow")

	rec := decodeLine(t, &buf)
	if rec["correlationid"] != id.String() {
		t.Errorf("expected correlationid %s, got %v", id, rec["correlationid"])
	}
	if rec["trace_id"] != traceID.String() {
		t.Errorf("expected trace_id %s, got %v", traceID, rec["trace_id"])
	}
	if rec["component"] != "test" {
		t.Errorf("expected component attribute, got %v", rec)
	}

	buf.Reset()
	logger.Info("outside flow")
	rec = decodeLine(t, &buf)
	if _, ok := rec["correlationid"]; ok {
		t.Error("expected no correlationid outside a flow")
	}
}

func TestCorrelationHandler_KeepsExplicitAttr(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{}, &buf)

	id := uuid.New()
	ctx := msgctx.WithCorrelationID(context.Background(), id)
	logger.InfoContext(ctx, "created", "correlationid", id)

	if n := strings.Count(buf.String(), `"correlationid"`); n != 1 {
		t.Errorf("expected one correlationid field, got %d in %s", n, buf.String())
	}
}
