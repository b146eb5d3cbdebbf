package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/zmcp/bc-mcp/internal/debug"
	"github.com/zmcp/bc-mcp/internal/transport"
)

// maxLineSize bounds a single JSON-RPC line
const maxLineSize = 16 * 1024 * 1024

// StdioTransport implements the Transport interface for line-delimited JSON
// over stdin and stdout. Requests are handled concurrently and responses are
// written whole, one per line.
type StdioTransport struct {
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex
	handler transport.Handler
	tracer  *debug.TraceLogger
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

// New creates a transport on the process stdin and stdout
func New(handler transport.Handler) *StdioTransport {
	return NewWithIO(handler, os.Stdin, os.Stdout)
}

// NewWithIO creates a transport on the given reader and writer
func NewWithIO(handler transport.Handler, r io.Reader, w io.Writer) *StdioTransport {
	return &StdioTransport{
		reader:  bufio.NewReaderSize(r, 64*1024),
		writer:  w,
		handler: handler,
		logger:  zerolog.Nop(),
	}
}

// SetTracer sets the trace logger
func (t *StdioTransport) SetTracer(tracer *debug.TraceLogger) {
	t.tracer = tracer
}

// SetLogger sets the diagnostic logger. It must not write to stdout.
func (t *StdioTransport) SetLogger(logger zerolog.Logger) {
	t.logger = logger
}

// Start reads messages until EOF or ctx is done, then waits for in-flight
// requests to finish
func (t *StdioTransport) Start(ctx context.Context) error {
	defer t.wg.Wait()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for {
			line, err := t.readLine()
			if len(line) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					readErr <- ctx.Err()
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				err := <-readErr
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				if err != nil && !errors.Is(err, io.EOF) {
					return errors.Wrap(err, "failed to read from stdin")
				}
				return nil
			}
			t.dispatch(ctx, line)
		}
	}
}

func (t *StdioTransport) dispatch(ctx context.Context, line []byte) {
	msg, err := t.parse(line)
	if err != nil {
		t.logger.Debug().Err(err).Msg("Dropping malformed message")
		t.write(&transport.Message{
			JSONRPC: "2.0",
			ID:      transport.ResponseID(nil),
			Error:   &transport.Error{Code: transport.CodeParseError, Message: "Parse error"},
		})
		return
	}

	if msg.Method == "" || t.handler == nil {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		response, err := t.handler(ctx, msg)
		if err != nil {
			t.write(&transport.Message{
				JSONRPC: "2.0",
				ID:      transport.ResponseID(msg.ID),
				Error: &transport.Error{
					Code:    transport.CodeInternalError,
					Message: err.Error(),
				},
			})
			return
		}
		if response != nil {
			t.write(response)
		}
	}()
}

func (t *StdioTransport) write(msg *transport.Message) {
	if err := t.WriteMessage(msg); err != nil {
		t.logger.Error().Err(err).Msg("Failed to write response")
	}
}

func (t *StdioTransport) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := t.reader.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxLineSize {
			return nil, errors.Newf("message exceeds %d bytes", maxLineSize)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimSpace(buf), err
	}
}

func (t *StdioTransport) parse(line []byte) (*transport.Message, error) {
	t.tracer.Log("TRANSPORT_IN", "Raw message received", map[string]interface{}{
		"raw":  string(line),
		"size": len(line),
	})

	var msg transport.Message
	if err := json.Unmarshal(line, &msg); err != nil {
		t.tracer.LogError("Failed to unmarshal message", err, map[string]interface{}{
			"raw": string(line),
		})
		return nil, errors.Wrap(err, "failed to unmarshal message")
	}

	t.tracer.Log("TRANSPORT_PARSED", "Message parsed", map[string]interface{}{
		"method":     msg.Method,
		"id":         msg.ID,
		"jsonrpc":    msg.JSONRPC,
		"has_params": len(msg.Params) > 0,
	})
	return &msg, nil
}

// WriteMessage writes a JSON message followed by a newline
func (t *StdioTransport) WriteMessage(msg *transport.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		t.tracer.LogError("Failed to marshal message", err, msg)
		return errors.Wrap(err, "failed to marshal message")
	}

	t.tracer.Log("TRANSPORT_OUT", "Sending message", map[string]interface{}{
		"id":         msg.ID,
		"has_result": msg.Result != nil,
		"has_error":  msg.Error != nil,
		"method":     msg.Method,
		"size":       len(data),
	})

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

// Close closes the transport (no-op for stdio)
func (t *StdioTransport) Close() error {
	return nil
}
