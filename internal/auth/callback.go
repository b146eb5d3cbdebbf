package auth

import (
	"context"
	"fmt"
	"html"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/zmcp/bc-mcp/internal/constants"
)

var (
	// ErrStateMismatch is returned when the callback state does not match the
	// value sent in the authorization request
	ErrStateMismatch = errors.New("OAuth state mismatch")

	// ErrAuthTimeout is returned when no callback arrives in time
	ErrAuthTimeout = errors.New("OAuth callback timed out")
)

// AuthorizationError carries an error reported by the authorization server
// on the redirect
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("OAuth error: %s - %s", e.Code, e.Description)
	}
	return fmt.Sprintf("OAuth error: %s", e.Code)
}

// CallbackState is the lifecycle state of a CallbackServer
type CallbackState int

const (
	CallbackListening CallbackState = iota
	CallbackSucceeded
	CallbackFailed
	CallbackTimedOut
)

func (s CallbackState) String() string {
	switch s {
	case CallbackListening:
		return "listening"
	case CallbackSucceeded:
		return "succeeded"
	case CallbackFailed:
		return "failed"
	case CallbackTimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// CallbackServer receives a single authorization redirect on the loopback
// interface. It settles exactly once: on success, on an authorization
// error, on a state mismatch, or when the timeout fires. Requests missing
// code or state get a 400 and the server keeps listening.
type CallbackServer struct {
	expectedState string
	listener      net.Listener
	server        *http.Server
	timer         *time.Timer
	logger        zerolog.Logger

	mu    sync.Mutex
	state CallbackState
	code  string
	err   error

	done chan struct{}
	once sync.Once
}

// StartCallbackServer binds addr and starts serving the callback path
func StartCallbackServer(addr, expectedState string, timeout time.Duration, logger zerolog.Logger) (*CallbackServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start callback listener on %s", addr)
	}

	s := &CallbackServer{
		expectedState: expectedState,
		listener:      listener,
		logger:        logger,
		done:          make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(constants.CallbackPath, s.handleCallback)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.settle(CallbackFailed, "", errors.Wrap(err, "callback server failed"))
		}
	}()

	s.timer = time.AfterFunc(timeout, func() {
		s.settle(CallbackTimedOut, "", errors.Wrapf(ErrAuthTimeout, "no callback after %s", timeout))
	})

	return s, nil
}

// Addr returns the bound listener address
func (s *CallbackServer) Addr() string {
	return s.listener.Addr().String()
}

// State returns the current lifecycle state
func (s *CallbackServer) State() CallbackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Wait blocks until the server settles and returns the authorization code.
// Cancelling ctx settles the server as failed.
func (s *CallbackServer) Wait(ctx context.Context) (string, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		s.settle(CallbackFailed, "", ctx.Err())
		<-s.done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == CallbackSucceeded {
		return s.code, nil
	}
	return "", s.err
}

func (s *CallbackServer) settle(state CallbackState, code string, err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = state
		s.code = code
		s.err = err
		s.mu.Unlock()

		if s.timer != nil {
			s.timer.Stop()
		}
		close(s.done)

		// Shutdown waits for in-flight responses, so the browser still gets
		// its page when settling from inside the handler
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.server.Shutdown(ctx); err != nil {
				s.logger.Debug().Err(err).Msg("Callback server shutdown")
			}
		}()
	})
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.State() != CallbackListening {
		w.WriteHeader(http.StatusGone)
		fmt.Fprint(w, "Authentication already completed.")
		return
	}

	query := r.URL.Query()
	s.logger.Debug().Str("state", s.State().String()).Msg("Received OAuth callback")

	if oauthErr := query.Get("error"); oauthErr != "" {
		authErr := &AuthorizationError{Code: oauthErr, Description: query.Get("error_description")}
		s.settle(CallbackFailed, "", authErr)
		writePage(w, http.StatusBadRequest, fmt.Sprintf(htmlErrorPage, html.EscapeString(authErr.Error())))
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		writePage(w, http.StatusBadRequest, fmt.Sprintf(htmlErrorPage, "Missing code or state parameter."))
		return
	}

	if state != s.expectedState {
		s.settle(CallbackFailed, "", ErrStateMismatch)
		writePage(w, http.StatusBadRequest, fmt.Sprintf(htmlErrorPage, "State mismatch. Possible CSRF attack."))
		return
	}

	s.settle(CallbackSucceeded, code, nil)
	writePage(w, http.StatusOK, htmlSuccessPage)
}

func writePage(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

const htmlSuccessPage = `<!DOCTYPE html>
<html>
<head>
    <title>Authentication Successful</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f0f2f5; }
        .message { text-align: center; padding: 2em; background: white; border-radius: 8px;
                   box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #0078d4; }
        p { color: #323130; }
    </style>
</head>
<body>
    <div class="message">
        <h1>&#10003; Signed in to Business Central</h1>
        <p>You can close this window and return to your MCP client.</p>
        <script>setTimeout(function() { window.close(); }, 2000);</script>
    </div>
</body>
</html>`

const htmlErrorPage = `<!DOCTYPE html>
<html>
<head>
    <title>Authentication Failed</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f0f2f5; }
        .message { text-align: center; padding: 2em; background: white; border-radius: 8px;
                   box-shadow: 0 2px 4px rgba(0,0,0,0.1); max-width: 500px; }
        h1 { color: #d13438; }
        p { color: #323130; }
        .error { background: #fde7e9; padding: 1em; border-radius: 4px; margin-top: 1em; }
    </style>
</head>
<body>
    <div class="message">
        <h1>&#10007; Authentication Failed</h1>
        <p>There was an error during authentication.</p>
        <div class="error">%s</div>
    </div>
</body>
</html>`
