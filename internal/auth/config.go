package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/zmcp/bc-mcp/internal/constants"
)

// OAuthConfig holds the public-client settings for the authorization code
// flow with PKCE
type OAuthConfig struct {
	// TenantID is the Entra ID tenant (GUID or domain such as "contoso.onmicrosoft.com")
	TenantID string

	// ClientID is the application (client) ID of the app registration
	ClientID string

	AuthURL  string
	TokenURL string

	// RedirectPort is the loopback port registered as http://localhost:{port}/callback
	RedirectPort int

	Scopes []string

	// RefreshBuffer is how long before expiry a token is refreshed proactively
	RefreshBuffer time.Duration

	// CallbackTimeout bounds the wait for the browser redirect
	CallbackTimeout time.Duration
}

// Validate checks if the OAuth configuration is usable
func (c *OAuthConfig) Validate() error {
	if c.TenantID == "" {
		return errors.New("tenant ID is required")
	}
	if c.ClientID == "" {
		return errors.New("client ID is required")
	}
	if _, err := uuid.Parse(c.ClientID); err != nil {
		return errors.Wrapf(err, "client ID %q must be a GUID", c.ClientID)
	}
	if c.AuthURL == "" || c.TokenURL == "" {
		return errors.New("authorization and token endpoints are required")
	}
	if c.RedirectPort <= 0 || c.RedirectPort > 65535 {
		return errors.Newf("invalid redirect port %d", c.RedirectPort)
	}
	if len(c.Scopes) == 0 {
		return errors.New("at least one scope is required")
	}
	return nil
}

// RedirectURI returns the loopback redirect URI
func (c *OAuthConfig) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d%s", c.RedirectPort, constants.CallbackPath)
}

// ListenAddr returns the address the callback listener binds to
func (c *OAuthConfig) ListenAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.RedirectPort)
}

func (c *OAuthConfig) refreshBuffer() time.Duration {
	if c.RefreshBuffer > 0 {
		return c.RefreshBuffer
	}
	return constants.DefaultRefreshBuffer
}

func (c *OAuthConfig) callbackTimeout() time.Duration {
	if c.CallbackTimeout > 0 {
		return c.CallbackTimeout
	}
	return constants.DefaultCallbackWait
}

// scopeString joins the scopes the way the token endpoint expects them
func (c *OAuthConfig) scopeString() string {
	return strings.Join(c.Scopes, " ")
}

// oauth2Config maps the settings onto a public client: no secret, client ID
// in the form body
func (c *OAuthConfig) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID: c.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: c.RedirectURI(),
		Scopes:      c.Scopes,
	}
}
