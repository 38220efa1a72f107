package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestStartSpanRecordsErrors(t *testing.T) {
	recorder := withRecorder(t)

	sc := StartSpan(context.Background(), "app.submit")
	sc.RecordError(errors.New("boom"))
	sc.RecordError(nil)
	sc.End()
	sc.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "app.submit", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Len(t, ended[0].Events(), 1)
}

func TestTraceHandlerAddsSpanIDs(t *testing.T) {
	withRecorder(t)

	var buf bytes.Buffer
	log := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	sc := StartSpan(context.Background(), "app.approve")
	defer sc.End()
	log.InfoContext(sc.Context(), "status changed")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, sc.Span().SpanContext().TraceID().String(), record["trace_id"])
	assert.Equal(t, sc.Span().SpanContext().SpanID().String(), record["span_id"])
}
