package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func newJSON(buf *bytes.Buffer, level slog.Level) *Logger {
	return New(slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})))
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSON(&buf, slog.LevelInfo)
	ctx := context.Background()

	logger.Debug(ctx, "hidden")
	logger.Info(ctx, "shown", "a", 1)
	logger.Warn(ctx, "warned")
	logger.Error(ctx, "failed")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "shown", lines[0]["msg"])
	assert.Equal(t, float64(1), lines[0]["a"])
	assert.Equal(t, "WARN", lines[1]["level"])
	assert.Equal(t, "ERROR", lines[2]["level"])
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSON(&buf, slog.LevelDebug).WithOperation(OpAdmit).WithKey("abc")

	logger.Info(context.Background(), "admitted")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "admit", lines[0]["operation"])
	assert.Equal(t, "abc", lines[0]["key"])
}

func TestLogger_Nop(t *testing.T) {
	ctx := context.Background()
	var nilLogger *Logger

	assert.NotPanics(t, func() {
		for _, l := range []*Logger{NewNop(), New(nil), nilLogger} {
			l.Info(ctx, "x")
			l.With("a", 1).Warn(ctx, "y")
			l.LogOperation(ctx, OpFetch, time.Second, 10, errors.New("boom"))
			l.LogHit(ctx, "k", 1)
			l.LogCleanup(ctx, OpCleanup, 2, time.Millisecond)
		}
	})
}

func TestLogger_LogOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSON(&buf, slog.LevelDebug)
	ctx := context.Background()

	logger.LogOperation(ctx, OpFetch, 25*time.Millisecond, 128, nil)
	logger.LogOperation(ctx, OpFetch, time.Millisecond, 0, errors.New("timeout"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "cache operation completed", lines[0]["msg"])
	assert.Equal(t, true, lines[0]["success"])
	assert.Equal(t, float64(128), lines[0]["size"])
	assert.Equal(t, "cache operation failed", lines[1]["msg"])
	assert.Equal(t, "timeout", lines[1]["error"])
	_, hasSize := lines[1]["size"]
	assert.False(t, hasSize)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
