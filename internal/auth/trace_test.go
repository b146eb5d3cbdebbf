package auth

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceTransportMasksSecrets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"eyJhbGciOiJSUzI1NiJ9.payload.signature","expires_in":3600}`)
	}))
	defer server.Close()

	var logs bytes.Buffer
	logger := zerolog.New(&logs).Level(zerolog.DebugLevel)
	client := &http.Client{Transport: NewTraceTransport(nil, logger)}

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"super-secret-refresh-value"}}
	resp, err := client.PostForm(server.URL, form)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Contains(t, string(body), "eyJhbGciOiJSUzI1NiJ9", "caller still sees the full response")

	out := logs.String()
	assert.Contains(t, out, "Token endpoint request")
	assert.Contains(t, out, "Token endpoint response")
	assert.Contains(t, out, "grant_type=refresh_token")
	assert.NotContains(t, out, "super-secret-refresh-value")
	assert.NotContains(t, out, "eyJhbGciOiJSUzI1NiJ9")
}

func TestTraceTransportSilentAboveDebug(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{}")
	}))
	defer server.Close()

	var logs bytes.Buffer
	logger := zerolog.New(&logs).Level(zerolog.InfoLevel)
	client := &http.Client{Transport: NewTraceTransport(nil, logger)}

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, logs.String())
}

func TestRedactTokenBodyTruncates(t *testing.T) {
	long := strings.Repeat("x", 2*maxTraceBody)
	out := redactTokenBody([]byte(long))
	assert.True(t, strings.HasSuffix(out, "... (truncated)"))
	assert.Len(t, out, maxTraceBody+len("... (truncated)"))
}
