package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesActionEntries(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWithWriter("bill-engine", &buf, "info")

	lg.Info("bill_generated", map[string]any{"bill_id": "b-1", "total": 2566})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "bill-engine", entry["service"])
	assert.Equal(t, "bill_generated", entry["action"])
	assert.Equal(t, "b-1", entry["bill_id"])
	assert.EqualValues(t, 2566, entry["total"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWithWriter("svc", &buf, "warn")

	lg.Info("ignored", nil)
	lg.Debug("ignored", nil)
	assert.Zero(t, buf.Len())

	lg.Error("store_failed", errors.New("connection refused"), nil)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, map[string]any{"msg": "connection refused"}, entry["error"])
}

func TestCtxAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWithWriter("svc", &buf, "debug")
	ctx := ContextWithRequestID(context.Background(), "req-42")

	lg.Ctx(ctx).Debug("handled", nil)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, "req-42", RequestID(ctx))
}
