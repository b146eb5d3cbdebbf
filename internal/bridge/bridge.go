// Package bridge exposes the Business Central API to an MCP host: it turns
// registered entities into tools and runs each tool call against the API.
package bridge

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/zmcp/bc-mcp/internal/client"
	"github.com/zmcp/bc-mcp/internal/constants"
	"github.com/zmcp/bc-mcp/internal/entities"
	"github.com/zmcp/bc-mcp/internal/mcp"
	"github.com/zmcp/bc-mcp/internal/metadata"
	"github.com/zmcp/bc-mcp/internal/models"
	"github.com/zmcp/bc-mcp/internal/tools"
)

// Session signs the user out. It is satisfied by *auth.OAuthClient.
type Session interface {
	Logout(ctx context.Context) error
}

// Option customizes a Bridge
type Option func(*Bridge)

// WithLogger sets the diagnostic logger
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// WithSession enables bc_logout
func WithSession(s Session) Option {
	return func(b *Bridge) { b.session = s }
}

// WithMaxPageSize sets how many rows a paginated list returns
func WithMaxPageSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.maxPageSize = n
		}
	}
}

// Bridge connects the entity registry and API client to an MCP server
type Bridge struct {
	client      *client.Client
	registry    *entities.Registry
	catalog     *tools.Catalog
	server      *mcp.Server
	session     Session
	logger      zerolog.Logger
	maxPageSize int
}

// New registers the global tools and one tool set per registered entity on
// server. Entities whose tool names collide with existing tools are skipped.
func New(c *client.Client, registry *entities.Registry, server *mcp.Server, opts ...Option) *Bridge {
	b := &Bridge{
		client:      c,
		registry:    registry,
		catalog:     tools.NewCatalog(),
		server:      server,
		logger:      zerolog.Nop(),
		maxPageSize: constants.DefaultMaxPageSize,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.registerGlobalTools()
	for _, entity := range registry.ListAll() {
		if err := b.addEntityTools(entity); err != nil {
			b.logger.Warn().Err(err).Str("entity", entity.Name).Msg("Skipping entity")
		}
	}
	return b
}

// Server returns the MCP server the bridge registers tools on
func (b *Bridge) Server() *mcp.Server {
	return b.server
}

// Catalog returns the generated entity tools
func (b *Bridge) Catalog() *tools.Catalog {
	return b.catalog
}

// Registry returns the entity registry
func (b *Bridge) Registry() *entities.Registry {
	return b.registry
}

// addEntityTools generates tools for entity and registers them with the
// catalog and the server
func (b *Bridge) addEntityTools(entity *models.EntityDefinition) error {
	generated := tools.GenerateForEntity(entity)
	if err := b.catalog.Add(generated); err != nil {
		return err
	}
	for i := range generated {
		t := generated[i]
		b.server.AddTool(&mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema(),
		}, b.entityHandler(&t))
	}
	return nil
}

// DiscoverEntities reads $metadata and registers every entity the registry
// does not know yet. It returns how many entities the document described
// and how many were added.
func (b *Bridge) DiscoverEntities(ctx context.Context) (discovered, added int, err error) {
	raw, err := b.client.GetMetadata(ctx)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to fetch metadata")
	}

	defs, err := metadata.ParseEntities(raw)
	if err != nil {
		return 0, 0, err
	}

	for _, def := range defs {
		if _, exists := b.registry.Get(def.Name); exists {
			continue
		}
		if err := def.Validate(); err != nil {
			b.logger.Warn().Err(err).Str("entity", def.Name).Msg("Skipping invalid discovered entity")
			continue
		}
		if err := b.addEntityTools(def); err != nil {
			b.logger.Warn().Err(err).Str("entity", def.Name).Msg("Skipping discovered entity")
			continue
		}
		b.registry.Register(def)
		added++
	}

	b.logger.Info().Int("discovered", len(defs)).Int("added", added).Msg("Metadata discovery finished")
	if added > 0 {
		if err := b.server.NotifyToolsChanged(); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to send tools/list_changed")
		}
	}
	return len(defs), added, nil
}

// errorResult renders err the way every tool reports failures
func errorResult(err error) *mcp.ToolResult {
	return mcp.ErrorResult(constants.ErrorResponsePrefix + client.UserMessage(err))
}

func invalidArgs(err error) *mcp.ToolResult {
	return mcp.ErrorResult(fmt.Sprintf("%sInvalid arguments: %v", constants.ErrorResponsePrefix, err))
}
