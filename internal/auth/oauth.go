package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/zmcp/bc-mcp/internal/constants"
	"github.com/zmcp/bc-mcp/internal/debug"
)

// defaultTokenLifetime is assumed when the token endpoint omits expires_in
const defaultTokenLifetime = time.Hour

// TokenEndpointError is a non-2xx response from the token endpoint
type TokenEndpointError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *TokenEndpointError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token endpoint returned %d: %s - %s", e.StatusCode, e.Code, e.Description)
	}
	if e.Code != "" {
		return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("token endpoint returned %d", e.StatusCode)
}

// OAuthClient obtains and maintains delegated access tokens for Business
// Central. Token acquisition is serialized, so concurrent callers share a
// single refresh or browser sign-in.
type OAuthClient struct {
	cfg         OAuthConfig
	store       TokenStore
	httpClient  *http.Client
	logger      zerolog.Logger
	openBrowser func(string) error
	notify      io.Writer
	now         func() time.Time

	mu sync.Mutex
}

// Option configures an OAuthClient
type Option func(*OAuthClient)

// WithHTTPClient sets the client used for token endpoint calls
func WithHTTPClient(hc *http.Client) Option {
	return func(c *OAuthClient) { c.httpClient = hc }
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *OAuthClient) { c.logger = logger }
}

// WithBrowserOpener replaces the system browser launcher
func WithBrowserOpener(open func(string) error) Option {
	return func(c *OAuthClient) { c.openBrowser = open }
}

// WithNotifier sets where sign-in instructions are printed
func WithNotifier(w io.Writer) Option {
	return func(c *OAuthClient) { c.notify = w }
}

// WithClock overrides the time source used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(c *OAuthClient) { c.now = now }
}

// NewOAuthClient creates a client backed by store
func NewOAuthClient(cfg OAuthConfig, store TokenStore, opts ...Option) *OAuthClient {
	c := &OAuthClient{
		cfg:         cfg,
		store:       store,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      zerolog.Nop(),
		openBrowser: openSystemBrowser,
		notify:      os.Stderr,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// openSystemBrowser launches the default browser. stdout carries the MCP
// stream, so the launcher output goes to stderr.
func openSystemBrowser(u string) error {
	browser.Stdout = os.Stderr
	return browser.OpenURL(u)
}

// GetAccessToken returns a usable access token. A stored token is returned
// as is unless it is within the refresh buffer of expiry, in which case a
// refresh is attempted and the still-valid token is kept if refresh fails.
// An expired token is refreshed, and interactive sign-in is the last resort.
func (c *OAuthClient) GetAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to load stored token, ignoring it")
		token = nil
	}

	now := c.now()
	if token != nil && !token.IsExpired(now) {
		if token.RefreshToken == "" || !token.IsExpiringSoon(now, c.cfg.refreshBuffer()) {
			return token.AccessToken, nil
		}
		refreshed, err := c.refreshLocked(ctx, token.RefreshToken)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Token refresh failed, using current token until it expires")
			return token.AccessToken, nil
		}
		return refreshed.AccessToken, nil
	}

	if token != nil && token.RefreshToken != "" {
		refreshed, err := c.refreshLocked(ctx, token.RefreshToken)
		if err == nil {
			return refreshed.AccessToken, nil
		}
		c.logger.Warn().Err(err).Msg("Token refresh failed, starting interactive sign-in")
	}

	fresh, err := c.authenticateLocked(ctx)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// Authenticate runs the interactive authorization code flow with PKCE and
// stores the resulting tokens
func (c *OAuthClient) Authenticate(ctx context.Context) (*TokenData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

// RefreshAccessToken exchanges refreshToken for a new token set and stores it
func (c *OAuthClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx, refreshToken)
}

// Logout deletes the stored tokens
func (c *OAuthClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Clear(ctx)
}

func (c *OAuthClient) authenticateLocked(ctx context.Context) (*TokenData, error) {
	state, err := randomState()
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()
	oc := c.cfg.oauth2Config()
	authURL := oc.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	server, err := StartCallbackServer(c.cfg.ListenAddr(), state, c.cfg.callbackTimeout(), c.logger)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Str("url", debug.MaskURL(authURL)).Msg("Starting interactive sign-in")
	fmt.Fprintf(c.notify, "\n=== Business Central sign-in ===\nOpening your browser for authentication...\nIf the browser doesn't open, visit:\n%s\n\n", authURL)

	if err := c.openBrowser(authURL); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to open browser")
	}

	code, err := server.Wait(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "authorization failed")
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := oc.Exchange(exchangeCtx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, errors.Wrap(tokenExchangeError(err), "failed to exchange authorization code")
	}

	data := &TokenData{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    c.expiresAt(tok.ExpiresIn, tok.Expiry),
	}
	if err := c.store.Save(context.WithoutCancel(ctx), data); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist tokens")
	}
	c.logger.Info().Msg("Signed in to Business Central")
	return data, nil
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// refreshLocked posts a refresh_token grant. The scope is sent explicitly
// and the previous refresh token is kept when none is returned.
func (c *OAuthClient) refreshLocked(ctx context.Context, refreshToken string) (*TokenData, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"scope":         {c.cfg.scopeString()},
	}

	req, err := http.NewRequestWithContext(ctx, constants.POST, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create refresh request")
	}
	req.Header.Set(constants.ContentType, constants.ContentTypeFormURL)
	req.Header.Set(constants.Accept, constants.ContentTypeJSON)

	c.logger.Debug().Interface("form", debug.MaskForm(form)).Msg("Refreshing access token")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "refresh request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read refresh response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseTokenEndpointError(resp.StatusCode, body)
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "failed to parse refresh response")
	}
	if parsed.AccessToken == "" {
		return nil, errors.New("refresh response did not contain an access token")
	}

	data := &TokenData{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresAt:    c.expiresAt(parsed.ExpiresIn, time.Time{}),
	}
	if data.RefreshToken == "" {
		data.RefreshToken = refreshToken
	}
	if err := c.store.Save(context.WithoutCancel(ctx), data); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist refreshed tokens")
	}
	c.logger.Debug().Msg("Access token refreshed")
	return data, nil
}

func (c *OAuthClient) expiresAt(expiresIn int64, expiry time.Time) int64 {
	now := c.now()
	switch {
	case expiresIn > 0:
		return now.Add(time.Duration(expiresIn) * time.Second).UnixMilli()
	case !expiry.IsZero():
		return expiry.UnixMilli()
	default:
		return now.Add(defaultTokenLifetime).UnixMilli()
	}
}

func parseTokenEndpointError(status int, body []byte) error {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &payload)
	return &TokenEndpointError{StatusCode: status, Code: payload.Error, Description: payload.ErrorDescription}
}

// tokenExchangeError converts oauth2's RetrieveError into a TokenEndpointError
func tokenExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &TokenEndpointError{StatusCode: re.Response.StatusCode, Code: re.ErrorCode, Description: re.ErrorDescription}
	}
	return err
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "failed to generate state")
	}
	return hex.EncodeToString(b), nil
}
