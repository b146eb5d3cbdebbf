package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/zmcp/bc-mcp/internal/constants"
)

// Config holds all configuration options for the Business Central MCP bridge
type Config struct {
	// Tenant and environment
	TenantID    string `mapstructure:"tenant_id"`
	Environment string `mapstructure:"environment"`
	APIVersion  string `mapstructure:"api_version"`

	// OAuth public client
	ClientID     string   `mapstructure:"client_id"`
	RedirectPort int      `mapstructure:"redirect_port"`
	Scopes       []string `mapstructure:"scopes"`
	TokenFile    string   `mapstructure:"token_file"`
	NoTokenCache bool     `mapstructure:"no_token_cache"`

	// Request behavior
	MaxPageSize    int           `mapstructure:"max_page_size"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// Rate limiting
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	MaxPerWindow  int           `mapstructure:"max_per_window"`
	Window        time.Duration `mapstructure:"window"`

	// Entity catalog
	EntitiesFile string `mapstructure:"entities_file"`
	CompanyID    string `mapstructure:"company_id"`

	// Output and debugging
	Verbose  bool `mapstructure:"verbose"`
	TraceMCP bool `mapstructure:"trace_mcp"`

	// Overrides for tests and sovereign clouds
	APIHostOverride   string `mapstructure:"api_host"`
	LoginHostOverride string `mapstructure:"login_host"`
}

// Default returns a Config populated with the standard defaults
func Default() *Config {
	return &Config{
		APIVersion:     constants.DefaultAPIVersion,
		RedirectPort:   constants.DefaultRedirectPort,
		Scopes:         DefaultScopes(),
		MaxPageSize:    constants.DefaultMaxPageSize,
		MaxRetries:     constants.DefaultMaxRetries,
		RequestTimeout: constants.DefaultRequestTimeout,
		MaxConcurrent:  constants.DefaultMaxConcurrent,
		MaxPerWindow:   constants.DefaultMaxPerWindow,
		Window:         constants.DefaultWindow,
	}
}

// DefaultScopes returns the scopes needed for API access plus a refresh token
func DefaultScopes() []string {
	return []string{constants.APIScope, constants.OfflineAccessScope}
}

// Validate checks that the required settings are present and sane
func (c *Config) Validate() error {
	var missing []string
	if c.TenantID == "" {
		missing = append(missing, "tenant-id")
	}
	if c.Environment == "" {
		missing = append(missing, "environment")
	}
	if c.ClientID == "" {
		missing = append(missing, "client-id")
	}
	if len(missing) > 0 {
		return errors.Newf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.RedirectPort <= 0 || c.RedirectPort > 65535 {
		return errors.Newf("invalid redirect port %d", c.RedirectPort)
	}
	if c.MaxRetries < 0 {
		return errors.Newf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.MaxPageSize <= 0 {
		return errors.Newf("max page size must be positive, got %d", c.MaxPageSize)
	}
	return nil
}

func (c *Config) apiHost() string {
	if c.APIHostOverride != "" {
		return strings.TrimRight(c.APIHostOverride, "/")
	}
	return constants.APIHost
}

func (c *Config) loginHost() string {
	if c.LoginHostOverride != "" {
		return strings.TrimRight(c.LoginHostOverride, "/")
	}
	return constants.LoginHost
}

// BaseURL returns the API root for the configured tenant and environment
func (c *Config) BaseURL() string {
	return fmt.Sprintf("%s/v2.0/%s/%s/api/%s", c.apiHost(), c.TenantID, c.Environment, c.APIVersion)
}

// AuthURL returns the OAuth authorization endpoint for the tenant
func (c *Config) AuthURL() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/authorize", c.loginHost(), c.TenantID)
}

// TokenURL returns the OAuth token endpoint for the tenant
func (c *Config) TokenURL() string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.loginHost(), c.TenantID)
}

// RedirectURI returns the loopback redirect registered with the app
func (c *Config) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d%s", c.RedirectPort, constants.CallbackPath)
}

// ParseScopes splits a comma or space separated scope list
func ParseScopes(raw string) []string {
	var scopes []string
	for _, scope := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		scope = strings.TrimSpace(scope)
		if scope != "" {
			scopes = append(scopes, scope)
		}
	}
	return scopes
}
