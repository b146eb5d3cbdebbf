package bridge

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/zmcp/bc-mcp/internal/constants"
	"github.com/zmcp/bc-mcp/internal/mcp"
	"github.com/zmcp/bc-mcp/internal/shaping"
	"github.com/zmcp/bc-mcp/internal/tools"
)

type globalTool struct {
	name        string
	description string
	params      []tools.ParamSchema
	run         func(ctx context.Context, args map[string]interface{}) (string, error)
}

func (b *Bridge) globalTools() []globalTool {
	return []globalTool{
		{
			name:        constants.ToolListCompanies,
			description: "List all available companies in Business Central. You must select a company before accessing any other data.",
			run:         b.listCompanies,
		},
		{
			name:        constants.ToolSelectCompany,
			description: "Select the active company to work with. Required before using any entity tools. Use bc_list_companies first to see available companies.",
			params: []tools.ParamSchema{
				{Name: "companyId", Kind: tools.ParamText, Required: true, Description: "The GUID of the company to select."},
			},
			run: b.selectCompany,
		},
		{
			name:        constants.ToolDiscoverAPIs,
			description: "Discover custom API pages in Business Central by reading the OData $metadata. Registers any new entities found as additional tools.",
			run:         b.discoverCustomAPIs,
		},
		{
			name:        constants.ToolListNextPage,
			description: "Fetch the next page of a list result. Pass the nextLink returned by a previous list call.",
			params: []tools.ParamSchema{
				{Name: "nextLink", Kind: tools.ParamText, Required: true, Description: "The continuation link from a previous list result."},
			},
			run: b.listNextPage,
		},
		{
			name:        constants.ToolLogout,
			description: "Sign out of Business Central by removing the stored tokens. The next request opens the browser to sign in again.",
			run:         b.logout,
		},
	}
}

func (b *Bridge) registerGlobalTools() {
	for _, g := range b.globalTools() {
		g := g
		b.catalog.Reserve(g.name)
		b.server.AddTool(&mcp.Tool{
			Name:        g.name,
			Description: g.description,
			InputSchema: tools.InputSchema(g.params),
		}, func(ctx context.Context, raw map[string]interface{}) (*mcp.ToolResult, error) {
			args, err := tools.ValidateArgs(g.params, raw)
			if err != nil {
				return invalidArgs(err), nil
			}
			text, err := g.run(ctx, args)
			if err != nil {
				b.logger.Debug().Err(err).Str("tool", g.name).Msg("Tool call failed")
				return errorResult(err), nil
			}
			return mcp.TextResult(text), nil
		})
	}
}

func (b *Bridge) listCompanies(ctx context.Context, _ map[string]interface{}) (string, error) {
	companies, err := b.client.ListCompanies(ctx)
	if err != nil {
		return "", err
	}
	return shaping.FormatList(&shaping.Result{Mode: shaping.ModeFull, Rows: companies}), nil
}

func (b *Bridge) selectCompany(_ context.Context, args map[string]interface{}) (string, error) {
	raw := stringArg(args, "companyId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", errors.Newf("invalid company ID %q: expected a GUID", raw)
	}
	b.client.SetCompany(id.String())
	b.logger.Info().Str("company", id.String()).Msg("Company selected")
	return "Company selected: " + id.String(), nil
}

func (b *Bridge) discoverCustomAPIs(ctx context.Context, _ map[string]interface{}) (string, error) {
	discovered, added, err := b.DiscoverEntities(ctx)
	if err != nil {
		return "", errors.Wrap(err, "metadata discovery failed")
	}
	return fmt.Sprintf("Discovered %d entities. Registered %d new custom entities.", discovered, added), nil
}

func (b *Bridge) listNextPage(ctx context.Context, args map[string]interface{}) (string, error) {
	result, err := b.client.ListNextPage(ctx, stringArg(args, "nextLink"))
	if err != nil {
		return "", err
	}
	return b.formatPage(result), nil
}

func (b *Bridge) logout(ctx context.Context, _ map[string]interface{}) (string, error) {
	if b.session == nil {
		return "", errors.New("sign-in is not managed by this server")
	}
	if err := b.session.Logout(ctx); err != nil {
		return "", err
	}
	return "Signed out of Business Central.", nil
}
