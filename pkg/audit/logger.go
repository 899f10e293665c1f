package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Logger writes one JSON line per event, prefixed with "AUDIT: " for easy
// filtering in mixed log streams.
type Logger struct {
	mu     sync.Mutex
	writer io.Writer
	log    *slog.Logger
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() *Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
func NewLoggerWithWriter(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{writer: w, log: slog.Default().With("component", "audit")}
}

func (l *Logger) Record(ctx context.Context, e Event) {
	line, err := json.Marshal(e)
	if err != nil {
		l.log.WarnContext(ctx, "audit event not serializable", "id", e.ID, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(append(append([]byte("AUDIT: "), line...), '\n')); err != nil {
		l.log.WarnContext(ctx, "audit write failed", "id", e.ID, "error", err)
	}
}
