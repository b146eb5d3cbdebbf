package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTokenEndpoint answers refresh_token and authorization_code grants
type fakeTokenEndpoint struct {
	mu            sync.Mutex
	refreshStatus int
	refreshBody   string
	exchangeBody  string
	challenge     string
	forms         []url.Values
	refreshCalls  int32
	exchangeCalls int32
}

func (f *fakeTokenEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.forms = append(f.forms, r.PostForm)
	challenge := f.challenge
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.PostForm.Get("grant_type") {
	case "refresh_token":
		atomic.AddInt32(&f.refreshCalls, 1)
		status := f.refreshStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		io.WriteString(w, f.refreshBody)
	case "authorization_code":
		atomic.AddInt32(&f.exchangeCalls, 1)
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"invalid_grant","error_description":"PKCE verification failed"}`)
			return
		}
		io.WriteString(w, f.exchangeBody)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeTokenEndpoint) lastForm() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.forms) == 0 {
		return nil
	}
	return f.forms[len(f.forms)-1]
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func testOAuthConfig(t *testing.T, tokenURL string) OAuthConfig {
	return OAuthConfig{
		TenantID:        "contoso.onmicrosoft.com",
		ClientID:        "11111111-2222-3333-4444-555555555555",
		AuthURL:         "https://login.example/authorize",
		TokenURL:        tokenURL,
		RedirectPort:    freePort(t),
		Scopes:          []string{"https://api.businesscentral.dynamics.com/.default", "offline_access"},
		RefreshBuffer:   5 * time.Minute,
		CallbackTimeout: 5 * time.Second,
	}
}

// redirectingBrowser simulates the user approving sign-in: it records the
// PKCE challenge and calls the loopback redirect with the given state
func redirectingBrowser(t *testing.T, endpoint *fakeTokenEndpoint, stateOverride string) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		endpoint.mu.Lock()
		endpoint.challenge = q.Get("code_challenge")
		endpoint.mu.Unlock()

		assert.Equal(t, "S256", q.Get("code_challenge_method"))
		assert.Equal(t, "code", q.Get("response_type"))
		assert.Len(t, q.Get("state"), 32)

		state := q.Get("state")
		if stateOverride != "" {
			state = stateOverride
		}
		redirect := q.Get("redirect_uri") + "?" + url.Values{"code": {"the-code"}, "state": {state}}.Encode()
		go func() {
			resp, err := http.Get(redirect)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

func failingBrowser(t *testing.T) func(string) error {
	return func(string) error {
		t.Error("interactive sign-in should not start")
		return nil
	}
}

func newTestOAuthClient(cfg OAuthConfig, store TokenStore, now time.Time, open func(string) error) *OAuthClient {
	return NewOAuthClient(cfg, store,
		WithClock(func() time.Time { return now }),
		WithBrowserOpener(open),
		WithNotifier(io.Discard),
	)
}

func TestGetAccessTokenReturnsValidStoredToken(t *testing.T) {
	endpoint := &fakeTokenEndpoint{}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	now := time.Now()
	store := NewMemoryTokenStore()
	require.NoError(t, store.Save(context.Background(), &TokenData{
		AccessToken: "stored", RefreshToken: "r", ExpiresAt: now.Add(time.Hour).UnixMilli(),
	}))

	c := newTestOAuthClient(testOAuthConfig(t, server.URL), store, now, failingBrowser(t))
	token, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored", token)
	assert.Zero(t, atomic.LoadInt32(&endpoint.refreshCalls))
}

func TestGetAccessTokenRefreshFailureKeepsValidToken(t *testing.T) {
	endpoint := &fakeTokenEndpoint{
		refreshStatus: http.StatusBadRequest,
		refreshBody:   `{"error":"invalid_grant","error_description":"refresh token revoked"}`,
	}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	now := time.Now()
	store := NewMemoryTokenStore()
	require.NoError(t, store.Save(context.Background(), &TokenData{
		AccessToken: "almost-expired", RefreshToken: "r", ExpiresAt: now.Add(60 * time.Second).UnixMilli(),
	}))

	c := newTestOAuthClient(testOAuthConfig(t, server.URL), store, now, failingBrowser(t))
	token, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "almost-expired", token)
	assert.EqualValues(t, 1, atomic.LoadInt32(&endpoint.refreshCalls))
}

func TestGetAccessTokenProactiveRefresh(t *testing.T) {
	endpoint := &fakeTokenEndpoint{refreshBody: `{"access_token":"new-access","expires_in":3600}`}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	now := time.Now()
	store := NewMemoryTokenStore()
	require.NoError(t, store.Save(context.Background(), &TokenData{
		AccessToken: "old", RefreshToken: "keep-me", ExpiresAt: now.Add(time.Minute).UnixMilli(),
	}))

	cfg := testOAuthConfig(t, server.URL)
	c := newTestOAuthClient(cfg, store, now, failingBrowser(t))
	token, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)

	form := endpoint.lastForm()
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "keep-me", form.Get("refresh_token"))
	assert.Equal(t, cfg.ClientID, form.Get("client_id"))
	assert.Equal(t, "https://api.businesscentral.dynamics.com/.default offline_access", form.Get("scope"))

	stored, _ := store.Load(context.Background())
	require.NotNil(t, stored)
	assert.Equal(t, "new-access", stored.AccessToken)
	assert.Equal(t, "keep-me", stored.RefreshToken, "old refresh token is retained")
	assert.Equal(t, now.Add(time.Hour).UnixMilli(), stored.ExpiresAt)
}

func TestGetAccessTokenExpiredUsesRefresh(t *testing.T) {
	endpoint := &fakeTokenEndpoint{
		refreshBody: `{"access_token":"refreshed","refresh_token":"rotated","expires_in":600}`,
	}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	now := time.Now()
	store := NewMemoryTokenStore()
	require.NoError(t, store.Save(context.Background(), &TokenData{
		AccessToken: "expired", RefreshToken: "r", ExpiresAt: now.Add(-time.Minute).UnixMilli(),
	}))

	c := newTestOAuthClient(testOAuthConfig(t, server.URL), store, now, failingBrowser(t))
	token, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed", token)

	stored, _ := store.Load(context.Background())
	assert.Equal(t, "rotated", stored.RefreshToken)
}

func TestGetAccessTokenFallsBackToInteractive(t *testing.T) {
	endpoint := &fakeTokenEndpoint{
		refreshStatus: http.StatusBadRequest,
		refreshBody:   `{"error":"invalid_grant"}`,
		exchangeBody:  `{"access_token":"interactive","refresh_token":"fresh-refresh","token_type":"Bearer","expires_in":3600}`,
	}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	now := time.Now()
	store := NewMemoryTokenStore()
	require.NoError(t, store.Save(context.Background(), &TokenData{
		AccessToken: "expired", RefreshToken: "dead", ExpiresAt: now.Add(-time.Hour).UnixMilli(),
	}))

	cfg := testOAuthConfig(t, server.URL)
	c := newTestOAuthClient(cfg, store, now, redirectingBrowser(t, endpoint, ""))

	token, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "interactive", token)
	assert.EqualValues(t, 1, atomic.LoadInt32(&endpoint.refreshCalls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&endpoint.exchangeCalls))

	form := endpoint.lastForm()
	assert.Equal(t, "the-code", form.Get("code"))
	assert.Equal(t, cfg.RedirectURI(), form.Get("redirect_uri"))
	assert.Equal(t, cfg.ClientID, form.Get("client_id"))
	assert.Empty(t, form.Get("client_secret"))

	stored, _ := store.Load(context.Background())
	require.NotNil(t, stored)
	assert.Equal(t, "fresh-refresh", stored.RefreshToken)
}

func TestAuthenticateWithoutStoredToken(t *testing.T) {
	endpoint := &fakeTokenEndpoint{
		exchangeBody: `{"access_token":"first-login","token_type":"Bearer","expires_in":3600}`,
	}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	store := NewMemoryTokenStore()
	c := newTestOAuthClient(testOAuthConfig(t, server.URL), store, time.Now(), redirectingBrowser(t, endpoint, ""))

	token, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first-login", token)
	assert.Zero(t, atomic.LoadInt32(&endpoint.refreshCalls), "no refresh without a stored token")
}

func TestAuthenticateStateMismatch(t *testing.T) {
	endpoint := &fakeTokenEndpoint{exchangeBody: `{"access_token":"x","token_type":"Bearer"}`}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	store := NewMemoryTokenStore()
	c := newTestOAuthClient(testOAuthConfig(t, server.URL), store, time.Now(), redirectingBrowser(t, endpoint, "forged"))

	_, err := c.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Zero(t, atomic.LoadInt32(&endpoint.exchangeCalls))

	stored, _ := store.Load(context.Background())
	assert.Nil(t, stored)
}

func TestRefreshAccessTokenError(t *testing.T) {
	endpoint := &fakeTokenEndpoint{
		refreshStatus: http.StatusUnauthorized,
		refreshBody:   `{"error":"invalid_client","error_description":"unknown client"}`,
	}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	c := newTestOAuthClient(testOAuthConfig(t, server.URL), NewMemoryTokenStore(), time.Now(), failingBrowser(t))
	_, err := c.RefreshAccessToken(context.Background(), "r")

	var tokenErr *TokenEndpointError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, http.StatusUnauthorized, tokenErr.StatusCode)
	assert.Equal(t, "invalid_client", tokenErr.Code)
	assert.Contains(t, err.Error(), "unknown client")
}

func TestLogoutClearsStore(t *testing.T) {
	store := NewMemoryTokenStore()
	require.NoError(t, store.Save(context.Background(), &TokenData{AccessToken: "a", ExpiresAt: 1}))

	c := NewOAuthClient(OAuthConfig{}, store)
	require.NoError(t, c.Logout(context.Background()))

	stored, _ := store.Load(context.Background())
	assert.Nil(t, stored)
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	endpoint := &fakeTokenEndpoint{refreshBody: `{"access_token":"shared","expires_in":3600}`}
	server := httptest.NewServer(endpoint)
	defer server.Close()

	now := time.Now()
	store := NewMemoryTokenStore()
	require.NoError(t, store.Save(context.Background(), &TokenData{
		AccessToken: "expired", RefreshToken: "r", ExpiresAt: now.Add(-time.Second).UnixMilli(),
	}))

	c := newTestOAuthClient(testOAuthConfig(t, server.URL), store, now, failingBrowser(t))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := c.GetAccessToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "shared", token)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&endpoint.refreshCalls))
}
