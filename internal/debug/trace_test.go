package debug

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")
	tracer, err := NewTraceLoggerAt(path)
	require.NoError(t, err)

	tracer.Log("TRANSPORT_IN", "Raw message received", map[string]interface{}{"size": 42})
	tracer.LogError("Failed to unmarshal message", errors.New("bad json"), nil)
	require.NoError(t, tracer.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var categories []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		categories = append(categories, entry["category"].(string))
		assert.Contains(t, entry, "time")
	}
	assert.Equal(t, []string{"TRACE", "TRANSPORT_IN", "ERROR", "TRACE"}, categories)
}

func TestDisabledTraceLogger(t *testing.T) {
	tracer, err := NewTraceLogger(false)
	require.NoError(t, err)

	tracer.Log("TRACE", "dropped", nil)
	assert.Empty(t, tracer.GetFilename())
	assert.NoError(t, tracer.Close())

	var nilTracer *TraceLogger
	nilTracer.Log("TRACE", "dropped", nil)
	assert.NoError(t, nilTracer.Close())
}
