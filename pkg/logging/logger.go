package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"dubstudio/pkg/config"
)

// eventLog is the rotating writer behind LogEvent.
var (
	eventLog   io.WriteCloser
	eventLogMu sync.Mutex
)

// Init initializes the logging system based on configuration.
// It returns a cleanup function to close log files.
func Init(cfg *config.LogConfig) (func(), error) {
	// The synthesis history starts fresh each run; the previous one is kept as .old.
	rotatePaths(cfg.Synthesis.Path)

	EnableTrace = cfg.Trace

	serverHandler, serverFile, err := setupHandler(cfg.Server, true)
	if err != nil {
		return nil, fmt.Errorf("failed to setup server logger: %w", err)
	}
	slog.SetDefault(slog.New(serverHandler))

	SetEventLog(cfg.Events)

	return func() {
		if serverFile != nil {
			serverFile.Close()
		}
		SetEventLog(config.LogSettings{})
	}, nil
}

// ParseLevel maps a config level name to a slog level, defaulting to INFO.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG", "TRACE":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func rotatingWriter(s config.LogSettings) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   s.Path,
		MaxSize:    s.MaxSizeMB,
		MaxBackups: s.MaxBackups,
		MaxAge:     s.MaxAgeDays,
		Compress:   s.Compress,
	}, nil
}

func setupHandler(s config.LogSettings, stdout bool) (handler slog.Handler, file io.WriteCloser, err error) {
	level := ParseLevel(s.Level)

	writer, err := rotatingWriter(s)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}
	fileHandler := slog.NewTextHandler(writer, opts)

	if !stdout {
		return fileHandler, writer, nil
	}

	// Console stays at INFO or quieter.
	consoleHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: mathMaxLevel(level, slog.LevelInfo),
	})

	// Capture feeds /api/log/latest.
	captureHandler := slog.NewTextHandler(GlobalLogCapture, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	handlers := []slog.Handler{fileHandler, consoleHandler, captureHandler}
	return &multiHandler{handlers: handlers}, writer, nil
}

func mathMaxLevel(a, b slog.Level) slog.Level {
	if a > b {
		return a
	}
	return b
}

type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler
// nolint:gocritic // r must be passed by value to implement slog.Handler
func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: newHandlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: newHandlers}
}

// rotatePaths renames existing files to .old so each run starts a fresh file.
func rotatePaths(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			oldPath := p + ".old"
			_ = os.Remove(oldPath)
			_ = os.Rename(p, oldPath)
		}
	}
}

// Event is one out-of-band job record.
type Event struct {
	Time    time.Time `json:"time"`
	JobID   string    `json:"jobId,omitempty"`
	TraceID string    `json:"traceId,omitempty"`
	Type    string    `json:"type"`
	Outcome string    `json:"outcome,omitempty"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// SetEventLog configures the rotating JSON-lines event log. An empty path disables it.
func SetEventLog(s config.LogSettings) {
	eventLogMu.Lock()
	defer eventLogMu.Unlock()

	if eventLog != nil {
		eventLog.Close()
		eventLog = nil
	}
	if s.Path == "" {
		return
	}
	w, err := rotatingWriter(s)
	if err != nil {
		slog.Error("failed to create event log directory", "error", err)
		return
	}
	eventLog = w
}

// LogEvent appends one JSON line to the event log.
func LogEvent(event *Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode event", "type", event.Type, "error", err)
		return
	}

	eventLogMu.Lock()
	defer eventLogMu.Unlock()

	_, _ = GlobalEventCapture.Write(data)

	if eventLog == nil {
		return
	}
	if _, err := eventLog.Write(append(data, '\n')); err != nil {
		slog.Error("failed to write event log", "error", err)
	}
}

// EnableTrace turns on high-volume debug logs (per window, per segment).
var EnableTrace bool

// Trace logs at DEBUG when tracing is enabled. A nil logger means the default one.
func Trace(logger *slog.Logger, msg string, args ...any) {
	if !EnableTrace {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug(msg, args...)
}
