package telemetry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/telemetry"
)

func TestNewLogger_AddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := telemetry.NewLogger(&buf, "debug", "json")

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.Info().Ctx(ctx).Msg("inside span")
	span.End()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
	assert.Equal(t, "inside span", entry["message"])
}

func TestNewLogger_WithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := telemetry.NewLogger(&buf, "info", "json")

	logger.Info().Ctx(context.Background()).Msg("plain")
	logger.Info().Msg("no context")

	assert.NotContains(t, buf.String(), "trace_id")
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := telemetry.NewLogger(&buf, "warn", "json")
	logger.Info().Msg("dropped")
	assert.Empty(t, buf.String())

	fallback := telemetry.NewLogger(&buf, "loud", "json")
	fallback.Debug().Msg("dropped")
	fallback.Info().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
	assert.NotContains(t, buf.String(), "dropped")
}

func TestSetupTracer_NoEndpoint(t *testing.T) {
	shutdown, err := telemetry.SetupTracer(context.Background(), "orders", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
