package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), Config{}, nil)
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsValid())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_WritesSpansToFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "traces", "traces.log")

	p, err := Setup(context.Background(), Config{Enabled: true, TraceFile: file}, nil)
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "router.handle")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "router.handle")
}
