package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zmcp/bc-mcp/internal/auth"
	"github.com/zmcp/bc-mcp/internal/bridge"
	"github.com/zmcp/bc-mcp/internal/client"
	"github.com/zmcp/bc-mcp/internal/config"
	"github.com/zmcp/bc-mcp/internal/constants"
	"github.com/zmcp/bc-mcp/internal/debug"
	"github.com/zmcp/bc-mcp/internal/entities"
	"github.com/zmcp/bc-mcp/internal/logging"
	"github.com/zmcp/bc-mcp/internal/mcp"
	"github.com/zmcp/bc-mcp/internal/transport"
	"github.com/zmcp/bc-mcp/internal/transport/stdio"
)

const authHTTPTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:   "bc-mcp",
	Short: "Business Central MCP Bridge - expose the Business Central API as MCP tools",
	Long: `Business Central MCP Bridge - expose the Dynamics 365 Business Central API v2.0
to Model Context Protocol hosts over stdio.

Every standard entity (customers, vendors, items, sales invoices, journals, ...)
becomes a set of bc_* tools. Custom API pages can be added at runtime with
bc_discover_custom_apis. Sign-in uses the OAuth authorization code flow with
PKCE in the system browser; tokens are cached in the user config directory.

Every flag can also be set as an environment variable with the BC_ prefix,
for example BC_TENANT_ID or BC_CLIENT_ID. A .env file in the working
directory is loaded first.

Examples:
  bc-mcp --tenant-id contoso.onmicrosoft.com --environment production --client-id <app-id>
  bc-mcp --login
  bc-mcp --print-tools`,
	Args:          cobra.NoArgs,
	RunE:          runBridge,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()

	flags := rootCmd.Flags()

	// Tenant and environment
	flags.String("tenant-id", "", "Entra ID tenant (GUID or domain)")
	flags.String("environment", "", "Business Central environment name, e.g. production or sandbox")
	flags.String("api-version", constants.DefaultAPIVersion, "Business Central API version")
	flags.String("company-id", "", "Company to select at startup (otherwise use bc_select_company)")

	// OAuth
	flags.String("client-id", "", "Application (client) ID of the app registration")
	flags.Int("redirect-port", constants.DefaultRedirectPort, "Loopback port of the registered redirect URI http://localhost:{port}/callback")
	flags.String("scopes", strings.Join(config.DefaultScopes(), " "), "OAuth scopes, space or comma separated")
	flags.String("token-file", "", "Token cache file (default: <user config dir>/bc-mcp/tokens.json)")
	flags.Bool("no-token-cache", false, "Keep tokens in memory only")

	// Request behavior
	flags.Int("max-page-size", constants.DefaultMaxPageSize, "Rows returned per page for medium-sized result sets")
	flags.Int("max-retries", constants.DefaultMaxRetries, "Retries for throttled or failed requests")
	flags.Duration("request-timeout", constants.DefaultRequestTimeout, "Timeout of a single API request")
	flags.Int("max-concurrent", constants.DefaultMaxConcurrent, "Maximum simultaneous API requests")
	flags.Int("max-per-window", constants.DefaultMaxPerWindow, "Maximum API requests started per window")
	flags.Duration("window", constants.DefaultWindow, "Rate limit window length")

	// Entity catalog
	flags.String("entities-file", "", "YAML entity catalog that extends or overrides the built-in entities")

	// Output and debugging
	flags.BoolP("verbose", "v", false, "Enable debug logging to stderr")
	flags.Bool("trace-mcp", false, "Write a JSON trace of MCP traffic to a temp file")
	flags.Bool("print-tools", false, "Print all tools with their input schemas as JSON and exit")

	// One-shot commands
	flags.Bool("login", false, "Sign in interactively, store the tokens and exit")
	flags.Bool("logout", false, "Remove stored tokens and exit")

	// Bind flags to viper for environment variable support
	_ = viper.BindPFlags(flags)
	viper.SetEnvPrefix("BC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads flags and BC_* environment variables
func loadConfig() *config.Config {
	cfg := config.Default()
	cfg.TenantID = viper.GetString("tenant-id")
	cfg.Environment = viper.GetString("environment")
	cfg.APIVersion = viper.GetString("api-version")
	cfg.CompanyID = viper.GetString("company-id")
	cfg.ClientID = viper.GetString("client-id")
	cfg.RedirectPort = viper.GetInt("redirect-port")
	if scopes := config.ParseScopes(viper.GetString("scopes")); len(scopes) > 0 {
		cfg.Scopes = scopes
	}
	cfg.TokenFile = viper.GetString("token-file")
	cfg.NoTokenCache = viper.GetBool("no-token-cache")
	cfg.MaxPageSize = viper.GetInt("max-page-size")
	cfg.MaxRetries = viper.GetInt("max-retries")
	cfg.RequestTimeout = viper.GetDuration("request-timeout")
	cfg.MaxConcurrent = viper.GetInt("max-concurrent")
	cfg.MaxPerWindow = viper.GetInt("max-per-window")
	cfg.Window = viper.GetDuration("window")
	cfg.EntitiesFile = viper.GetString("entities-file")
	cfg.Verbose = viper.GetBool("verbose")
	cfg.TraceMCP = viper.GetBool("trace-mcp")

	// Not exposed as flags
	cfg.APIHostOverride = viper.GetString("api_host")
	cfg.LoginHostOverride = viper.GetString("login_host")
	return cfg
}

func newTokenStore(cfg *config.Config) (auth.TokenStore, error) {
	if cfg.NoTokenCache {
		return auth.NewMemoryTokenStore(), nil
	}
	path := cfg.TokenFile
	if path == "" {
		var err error
		if path, err = auth.DefaultTokenPath(); err != nil {
			return nil, err
		}
	}
	return auth.NewFileTokenStore(path), nil
}

func newOAuthClient(cfg *config.Config, logger zerolog.Logger) (*auth.OAuthClient, error) {
	store, err := newTokenStore(cfg)
	if err != nil {
		return nil, err
	}

	oauthCfg := auth.OAuthConfig{
		TenantID:     cfg.TenantID,
		ClientID:     cfg.ClientID,
		AuthURL:      cfg.AuthURL(),
		TokenURL:     cfg.TokenURL(),
		RedirectPort: cfg.RedirectPort,
		Scopes:       cfg.Scopes,
	}
	if err := oauthCfg.Validate(); err != nil {
		return nil, err
	}

	hc := &http.Client{Timeout: authHTTPTimeout}
	if cfg.Verbose {
		hc.Transport = auth.NewTraceTransport(http.DefaultTransport, logger)
	}
	return auth.NewOAuthClient(oauthCfg, store, auth.WithHTTPClient(hc), auth.WithLogger(logger)), nil
}

func loadRegistry(cfg *config.Config) (*entities.Registry, error) {
	registry := entities.NewRegistry()

	standard, err := entities.StandardEntities()
	if err != nil {
		return nil, err
	}
	entities.RegisterAll(registry, standard)

	if cfg.EntitiesFile != "" {
		extra, err := entities.LoadCatalogFile(cfg.EntitiesFile)
		if err != nil {
			return nil, err
		}
		entities.RegisterAll(registry, extra)
	}
	return registry, nil
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(cfg.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	oauth, err := newOAuthClient(cfg, logger)
	if err != nil {
		return errors.Wrap(err, "invalid OAuth configuration")
	}

	if viper.GetBool("logout") {
		if err := oauth.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Signed out. Stored tokens were removed.")
		return nil
	}
	if viper.GetBool("login") {
		if _, err := oauth.Authenticate(ctx); err != nil {
			return errors.Wrap(err, "sign-in failed")
		}
		fmt.Fprintln(os.Stderr, "Signed in to Business Central. Tokens were stored.")
		return nil
	}

	bcClient := client.New(client.Config{
		BaseURL:        cfg.BaseURL(),
		MaxRetries:     cfg.MaxRetries,
		RequestTimeout: cfg.RequestTimeout,
		RateLimit: client.RateLimiterOptions{
			MaxConcurrent: cfg.MaxConcurrent,
			MaxPerWindow:  cfg.MaxPerWindow,
			Window:        cfg.Window,
		},
	}, oauth, client.WithLogger(logger))

	if cfg.CompanyID != "" {
		id, err := uuid.Parse(cfg.CompanyID)
		if err != nil {
			return errors.Newf("invalid company id %q: expected a GUID", cfg.CompanyID)
		}
		bcClient.SetCompany(id.String())
	}

	registry, err := loadRegistry(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to load entity catalog")
	}

	server := mcp.NewServer(constants.MCPServerName, constants.MCPServerVersion)
	server.SetLogger(logger)

	b := bridge.New(bcClient, registry, server,
		bridge.WithLogger(logger),
		bridge.WithSession(oauth),
		bridge.WithMaxPageSize(cfg.MaxPageSize),
	)

	if viper.GetBool("print-tools") {
		return printTools(b)
	}

	tracer, err := debug.NewTraceLogger(cfg.TraceMCP)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create trace logger")
	} else {
		defer tracer.Close()
		if cfg.TraceMCP {
			logger.Info().Str("file", tracer.GetFilename()).Msg("Trace logging enabled")
		}
	}
	server.SetTracer(tracer)

	stdioTrans := stdio.New(func(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
		return server.HandleMessage(ctx, msg)
	})
	stdioTrans.SetTracer(tracer)
	stdioTrans.SetLogger(logger)
	server.SetTransport(stdioTrans)

	logger.Info().
		Int("entities", registry.Len()).
		Int("tools", len(server.GetTools())).
		Str("api", cfg.BaseURL()).
		Msg("Business Central MCP bridge ready on stdio")

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("Shutting down")
	return nil
}

// printTools writes the tool list as the host would receive it
func printTools(b *bridge.Bridge) error {
	data, err := json.MarshalIndent(map[string]interface{}{"tools": b.Server().GetTools()}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal tools")
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\n--- FATAL ERROR ---\n")
		fmt.Fprintf(os.Stderr, "%v\n", err)
		fmt.Fprintf(os.Stderr, "-------------------\n")
		os.Exit(1)
	}
}
