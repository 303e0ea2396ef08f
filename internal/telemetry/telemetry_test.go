package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup_StdoutExport(t *testing.T) {
	var buf bytes.Buffer
	tp, err := Setup("codlab-test", Options{Stdout: true, Output: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "handle_change")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "handle_change")
	assert.Contains(t, buf.String(), "codlab-test")
}

func TestSetup_NoExporter(t *testing.T) {
	tp, err := Setup("codlab-test", Options{})
	require.NoError(t, err)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "x")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
}
