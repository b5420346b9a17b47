package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dubstudio/pkg/config"
)

func TestInit(t *testing.T) {
	tempDir := t.TempDir()
	serverLog := filepath.Join(tempDir, "server.log")
	synthLog := filepath.Join(tempDir, "synthesis.log")
	eventLogFile := filepath.Join(tempDir, "events.jsonl")

	require.NoError(t, os.WriteFile(synthLog, []byte("previous run\n"), 0o644))

	cfg := &config.LogConfig{
		Server:    config.LogSettings{Path: serverLog, Level: "DEBUG"},
		Synthesis: config.LogSettings{Path: synthLog},
		Events:    config.LogSettings{Path: eventLogFile},
		Trace:     true,
	}

	prev := slog.Default()
	cleanup, err := Init(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		cleanup()
		slog.SetDefault(prev)
		EnableTrace = false
	})

	slog.Info("render finished", "job", "abc")
	LogEvent(&Event{JobID: "abc", Type: "job", Outcome: "done"})

	content, err := os.ReadFile(serverLog)
	require.NoError(t, err)
	assert.Contains(t, string(content), "render finished")

	_, err = os.Stat(synthLog + ".old")
	assert.NoError(t, err, "previous synthesis history should be rotated")
	assert.True(t, EnableTrace)

	raw, err := os.ReadFile(eventLogFile)
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &ev))
	assert.Equal(t, "abc", ev.JobID)
	assert.Equal(t, "done", ev.Outcome)
	assert.False(t, ev.Time.IsZero())

	assert.Contains(t, GlobalLogCapture.GetLastLine(), "render finished")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestLogCaptureWriter(t *testing.T) {
	w := NewLogCapture(3)
	assert.Equal(t, "", w.GetLastLine())
	for _, s := range []string{"a\n", "b\n", "c\n", "d\n"} {
		_, _ = w.Write([]byte(s))
	}
	assert.Equal(t, "d", w.GetLastLine())
	assert.Equal(t, []string{"b", "c", "d"}, w.Lines(0))
	assert.Equal(t, []string{"c", "d"}, w.Lines(2))
}
