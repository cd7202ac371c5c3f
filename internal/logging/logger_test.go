package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{" warn ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"fatal", LevelFatal},
		{"unknown", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func jsonLogger(buf *bytes.Buffer, level Level) *Logger {
	return New(&Config{Level: level, Output: buf, JSON: true})
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf, LevelWarn)

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warn("shown %d", 3)
	l.Error("shown %d", 4)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "shown 3", lines[0]["message"])
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "error", lines[1]["level"])
}

func TestLoggerComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf, LevelDebug).
		WithComponent("router").
		WithField("persona", "fixie").
		WithFields(map[string]interface{}{"fallback": true})

	l.Info("routed %s", "query")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "router", lines[0]["component"])
	assert.Equal(t, "fixie", lines[0]["persona"])
	assert.Equal(t, true, lines[0]["fallback"])
	assert.Equal(t, "routed query", lines[0]["message"])
}

func TestLoggerConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: LevelInfo, Output: &buf, Colored: false, Component: "cli"})

	l.Info("hello %s", "world")

	out := buf.String()
	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, "cli")
}

func TestLoggerFileOutput(t *testing.T) {
	dir := t.TempDir()
	path := DailyFilePath(filepath.Join(dir, "logs"), "netbot", time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC))
	assert.True(t, strings.HasSuffix(path, "netbot_2026-03-09.log"))

	var console bytes.Buffer
	l := New(&Config{Level: LevelInfo, Output: &console, FilePath: path})
	l.Info("persisted line")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "persisted line")
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.Error("nothing %d", 1)
	assert.Equal(t, LevelFatal, l.Level())
}

func TestSessionContext(t *testing.T) {
	ctx := WithSession(context.Background(), "s-1")
	assert.Equal(t, "s-1", SessionFrom(ctx))
	assert.Equal(t, "", SessionFrom(context.Background()))

	var buf bytes.Buffer
	jsonLogger(&buf, LevelInfo).ForContext(ctx).Info("turn")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "s-1", lines[0]["session"])
}

func TestDetachContext(t *testing.T) {
	parent, cancel := context.WithCancel(WithSession(context.Background(), "s-2"))
	detached := DetachContext(parent)
	cancel()

	assert.Error(t, parent.Err())
	assert.NoError(t, detached.Err())
	assert.Equal(t, "s-2", SessionFrom(detached))

	timed, stop := DetachContextWithTimeout(parent, 20*time.Millisecond)
	defer stop()
	assert.NoError(t, timed.Err())
	<-timed.Done()
	assert.ErrorIs(t, timed.Err(), context.DeadlineExceeded)
}
