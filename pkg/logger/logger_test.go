package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_EmitsServiceField(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("marketplace", "info", &buf)

	l.Info("starting up")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "marketplace", entry["service"])
	assert.Equal(t, "starting up", entry["msg"])
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("marketplace", "warn", &buf)

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("visible")
	assert.NotZero(t, buf.Len())
}

func TestWithContext_AddsCorrelationAndUser(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter("marketplace", "info", &buf)

	ctx := WithCorrelationID(context.Background(), "corr-123")
	ctx = WithUserID(ctx, "user-456")

	WithContext(ctx, base).Info("gated render")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "corr-123", entry["correlation_id"])
	assert.Equal(t, "user-456", entry["user_id"])
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	var buf bytes.Buffer
	l := NewWithWriter("marketplace", "info", &buf)
	ctx := NewContext(context.Background(), l)
	assert.Equal(t, l, FromContext(ctx))
}
