package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestStartSpan_FailSpan(t *testing.T) {
	exp := useTestTracer(t)

	ctx, ok := StartSpan(context.Background(), "app.analyze_session")
	if cid := CorrelationID(ctx); len(cid) != 32 {
		t.Errorf("CorrelationID length = %d, want 32", len(cid))
	}
	FailSpan(ok, nil)
	ok.End()

	_, bad := StartSpan(context.Background(), "gemini.ScorePronunciation")
	FailSpan(bad, errors.New("quota exceeded"))
	bad.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Unset {
		t.Errorf("%s status = %v, want unset", spans[0].Name, spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "quota exceeded" {
		t.Errorf("%s status = %+v", spans[1].Name, spans[1].Status)
	}
	if len(spans[1].Events) != 1 {
		t.Errorf("recorded %d error events, want 1", len(spans[1].Events))
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background(), "session_id", "s-1").Info("no span")
	out := buf.String()
	if strings.Contains(out, "trace_id") || !strings.Contains(out, "session_id=s-1") {
		t.Errorf("log output = %s", out)
	}
	buf.Reset()

	ctx, span := StartSpan(context.Background(), "log-test")
	defer span.End()
	Logger(ctx).Info("with span")
	if !strings.Contains(buf.String(), "trace_id=") || !strings.Contains(buf.String(), "span_id=") {
		t.Errorf("log output missing trace attributes: %s", buf.String())
	}
}
