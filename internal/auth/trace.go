package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/zmcp/bc-mcp/internal/constants"
	"github.com/zmcp/bc-mcp/internal/debug"
)

// maxTraceBody caps how much of a token endpoint response is logged
const maxTraceBody = 1000

// TraceTransport logs token endpoint traffic at debug level with secrets
// masked
type TraceTransport struct {
	Transport http.RoundTripper
	Logger    zerolog.Logger
}

// NewTraceTransport wraps base, or http.DefaultTransport when base is nil
func NewTraceTransport(base http.RoundTripper, logger zerolog.Logger) *TraceTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &TraceTransport{Transport: base, Logger: logger}
}

// RoundTrip implements http.RoundTripper
func (t *TraceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Logger.GetLevel() > zerolog.DebugLevel {
		return t.Transport.RoundTrip(req)
	}

	event := t.Logger.Debug().
		Str("method", req.Method).
		Str("url", debug.MaskURL(req.URL.String()))
	if auth := req.Header.Get(constants.Authorization); auth != "" {
		event = event.Str("authorization", debug.MaskHeader(constants.Authorization, auth))
	}
	if req.Body != nil && req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			raw, _ := io.ReadAll(body)
			body.Close()
			if form, err := url.ParseQuery(string(raw)); err == nil {
				event = event.Str("form", debug.MaskForm(form).Encode())
			}
		}
	}
	event.Msg("Token endpoint request")

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		t.Logger.Debug().Err(err).Msg("Token endpoint request failed")
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	t.Logger.Debug().
		Int("status", resp.StatusCode).
		Str("body", redactTokenBody(body)).
		Msg("Token endpoint response")
	return resp, nil
}

// redactTokenBody masks token fields in a JSON token response
func redactTokenBody(body []byte) string {
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return truncate(string(body))
	}
	for key, value := range data {
		if s, ok := value.(string); ok && debug.IsSensitiveKey(key) {
			data[key] = debug.MaskToken(s)
		}
	}
	redacted, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return truncate(string(redacted))
}

func truncate(s string) string {
	if len(s) > maxTraceBody {
		return s[:maxTraceBody] + "... (truncated)"
	}
	return s
}
