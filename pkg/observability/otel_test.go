package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitOTel_Disabled(t *testing.T) {
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, NopLogger())
	require.NoError(t, err)
	assert.Nil(t, providers)
}

func TestShutdownOTel_Nil(t *testing.T) {
	assert.NoError(t, ShutdownOTel(context.Background(), nil, NopLogger()))
}

func TestShutdownOTel_TracerOnly(t *testing.T) {
	providers := &OTelProviders{TracerProvider: sdktrace.NewTracerProvider()}
	assert.NoError(t, ShutdownOTel(context.Background(), providers, NopLogger()))
}

func TestUpdateLoggerWithTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	assert.Same(t, logger, UpdateLoggerWithTraceContext(context.Background(), logger))

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "render")
	defer span.End()

	UpdateLoggerWithTraceContext(ctx, logger).Info("traced")
	assert.Contains(t, buf.String(), span.SpanContext().TraceID().String())
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestStartSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, ok := StartSpan(context.Background(), "pdf.render", attribute.String("pdf.kind", "invoice"))
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "billing.webhook")
	EndSpan(failed, errors.New("bad signature"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "pdf.render", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("pdf.kind", "invoice"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "bad signature", spans[1].Status().Description)
}
