package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// TraceLogger records MCP traffic as JSON lines in a temp file
type TraceLogger struct {
	mu       sync.Mutex
	file     *os.File
	logger   zerolog.Logger
	enabled  bool
	filename string
}

// NewTraceLogger creates a new trace logger. A disabled logger accepts and
// drops every entry.
func NewTraceLogger(enabled bool) (*TraceLogger, error) {
	if !enabled {
		return &TraceLogger{logger: zerolog.Nop()}, nil
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(os.TempDir(), fmt.Sprintf("bc_mcp_trace_%s.log", timestamp))
	return NewTraceLoggerAt(filename)
}

// NewTraceLoggerAt creates a trace logger writing to the given file
func NewTraceLoggerAt(filename string) (*TraceLogger, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create trace file")
	}

	t := &TraceLogger{
		file:     file,
		logger:   zerolog.New(file).With().Timestamp().Logger(),
		enabled:  true,
		filename: filename,
	}
	t.Log("TRACE", "Trace logging started", map[string]interface{}{
		"filename": filename,
		"pid":      os.Getpid(),
	})
	return t, nil
}

// Log writes a trace entry
func (t *TraceLogger) Log(category, message string, data interface{}) {
	if t == nil || !t.enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	event := t.logger.Log().Str("category", category)
	if data != nil {
		event = event.Interface("data", data)
	}
	event.Msg(message)
}

// LogError logs an error with context
func (t *TraceLogger) LogError(context string, err error, data interface{}) {
	t.Log("ERROR", context, map[string]interface{}{
		"error": err.Error(),
		"data":  data,
	})
}

// GetFilename returns the trace filename
func (t *TraceLogger) GetFilename() string {
	if t == nil {
		return ""
	}
	return t.filename
}

// Close closes the trace file
func (t *TraceLogger) Close() error {
	if t == nil || t.file == nil {
		return nil
	}
	t.Log("TRACE", "Trace logging stopped", nil)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
	return t.file.Close()
}
