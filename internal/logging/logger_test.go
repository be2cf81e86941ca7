package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestKeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf)).WithComponent("guard")

	l.Info("veto issued", "asset", "GOLD", "remaining_min", 12, "err", errors.New("cooldown"))

	entry := decode(t, &buf)
	assert.Equal(t, "veto issued", entry["message"])
	assert.Equal(t, "guard", entry["component"])
	assert.Equal(t, "GOLD", entry["asset"])
	assert.Equal(t, float64(12), entry["remaining_min"])
	assert.Equal(t, "cooldown", entry["err"])
}

func TestPrintfArgs(t *testing.T) {
	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf))

	l.Warn("broker %s degraded after %d failures", "mt5", 3)

	entry := decode(t, &buf)
	assert.Equal(t, "broker mt5 degraded after 3 failures", entry["message"])
	assert.Equal(t, "warn", entry["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf).Level(ParseLevel("warn")))

	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Error("kept")
	assert.NotZero(t, buf.Len())
}

func TestCycleContext(t *testing.T) {
	var buf bytes.Buffer
	base := FromZerolog(zerolog.New(&buf))
	ctx := NewContext(context.Background(), base)

	ctx, l := WithCycleContext(ctx, "signal")
	require.NotEmpty(t, CycleID(ctx))
	assert.Same(t, l, FromContext(ctx))

	l.Info("cycle done")
	entry := decode(t, &buf)
	assert.Equal(t, "signal", entry["worker"])
	assert.Equal(t, CycleID(ctx), entry["cycle_id"])
}
