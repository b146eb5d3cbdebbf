package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/zmcp/bc-mcp/internal/client"
	"github.com/zmcp/bc-mcp/internal/constants"
	"github.com/zmcp/bc-mcp/internal/mcp"
	"github.com/zmcp/bc-mcp/internal/models"
	"github.com/zmcp/bc-mcp/internal/shaping"
	"github.com/zmcp/bc-mcp/internal/tools"
)

// matchAny is sent as If-Match so updates and deletes apply to the current
// version of the record
const matchAny = "*"

// entityHandler returns the MCP handler for a generated tool
func (b *Bridge) entityHandler(t *tools.GeneratedTool) mcp.ToolHandler {
	return func(ctx context.Context, raw map[string]interface{}) (*mcp.ToolResult, error) {
		args, err := tools.ValidateArgs(t.Params, raw)
		if err != nil {
			return invalidArgs(err), nil
		}

		entity, ok := b.registry.Get(t.EntityName)
		if !ok {
			return mcp.ErrorResult(fmt.Sprintf("%sEntity '%s' not found in registry.", constants.ErrorResponsePrefix, t.EntityName)), nil
		}

		text, err := b.runEntityTool(ctx, t, entity, args)
		if err != nil {
			b.logger.Debug().Err(err).Str("tool", t.Name).Msg("Tool call failed")
			return errorResult(err), nil
		}
		return mcp.TextResult(text), nil
	}
}

func (b *Bridge) runEntityTool(ctx context.Context, t *tools.GeneratedTool, entity *models.EntityDefinition, args map[string]interface{}) (string, error) {
	collection, err := b.collectionPath(entity, args)
	if err != nil {
		return "", err
	}

	switch t.Handler {
	case tools.HandlerList:
		return b.handleList(ctx, collection, args)

	case tools.HandlerGet:
		path, err := recordPath(collection, args)
		if err != nil {
			return "", err
		}
		query := client.NewQuery()
		if expand := stringArg(args, "expand"); expand != "" {
			query.Expand(splitList(expand)...)
		}
		record, err := b.client.Get(ctx, path, query)
		if err != nil {
			return "", err
		}
		return shaping.FormatEntity(record, entity.Name), nil

	case tools.HandlerCount:
		filter := stringArg(args, "filter")
		count, err := b.client.Count(ctx, collection, filter)
		if err != nil {
			return "", err
		}
		text := fmt.Sprintf("Count: %d %s", count, entity.PluralName)
		if filter != "" {
			text += " matching filter: " + filter
		}
		return text, nil

	case tools.HandlerCreate:
		created, err := b.client.Create(ctx, collection, recordBody(entity, args, false))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Created %s:\n%s", entity.Name, shaping.FormatEntity(created, entity.Name)), nil

	case tools.HandlerUpdate:
		path, err := recordPath(collection, args)
		if err != nil {
			return "", err
		}
		body := recordBody(entity, args, true)
		if len(body) == 0 {
			return "", errors.New("no fields to update were given")
		}
		updated, err := b.client.Update(ctx, path, body, matchAny)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Updated %s:\n%s", entity.Name, shaping.FormatEntity(updated, entity.Name)), nil

	case tools.HandlerDelete:
		path, err := recordPath(collection, args)
		if err != nil {
			return "", err
		}
		if err := b.client.Delete(ctx, path, matchAny); err != nil {
			return "", err
		}
		return fmt.Sprintf("Deleted %s with ID %s.", entity.Name, stringArg(args, "id")), nil

	case tools.HandlerAction:
		path, err := recordPath(collection, args)
		if err != nil {
			return "", err
		}
		if _, err := b.client.Action(ctx, path+"/"+t.ActionNavPath, nil); err != nil {
			return "", err
		}
		return fmt.Sprintf("Action '%s' executed successfully on %s %s.", t.ActionNavPath, entity.Name, stringArg(args, "id")), nil
	}

	return "", errors.Newf("unknown handler type: %s", t.Handler)
}

func (b *Bridge) handleList(ctx context.Context, collection string, args map[string]interface{}) (string, error) {
	query := client.NewQuery()
	if filter := stringArg(args, "filter"); filter != "" {
		query.Filter(filter)
	}
	if sel := stringArg(args, "select"); sel != "" {
		query.Select(splitList(sel)...)
	}
	if expand := stringArg(args, "expand"); expand != "" {
		query.Expand(splitList(expand)...)
	}
	if top, ok := args["top"].(int); ok && top > 0 {
		query.Top(top)
	}
	if skip, ok := args["skip"].(int); ok && skip > 0 {
		query.Skip(skip)
	}
	if orderBy := stringArg(args, "orderBy"); orderBy != "" {
		query.OrderBy(orderBy)
	}
	query.Count()

	result, err := b.client.List(ctx, collection, query)
	if err != nil {
		return "", err
	}
	return b.formatPage(result), nil
}

// formatPage shapes one page of results and points at the continuation
// link when the server has more
func (b *Bridge) formatPage(result *client.ListResult) string {
	shaped := shaping.SmartTruncate(result.Value, shaping.Options{
		TotalCount: result.TotalCount(),
		PageSize:   b.maxPageSize,
	})
	text := shaping.FormatList(shaped)
	if result.NextLink != "" {
		text += fmt.Sprintf("\n\nMore records are available. Call %s with nextLink: %s", constants.ToolListNextPage, result.NextLink)
	}
	return text
}

// collectionPath returns the company-scoped collection for entity. Nested
// entities live under their parent record.
func (b *Bridge) collectionPath(entity *models.EntityDefinition, args map[string]interface{}) (string, error) {
	if entity.ParentEntity == "" {
		return b.client.EntityPath(entity.APIPath)
	}

	parentID, err := keySegment(stringArg(args, tools.ParentIDParam))
	if err != nil {
		return "", errors.Wrap(err, tools.ParentIDParam)
	}

	parentPath := entity.ParentEntity + "s"
	if parent, ok := b.registry.Get(entity.ParentEntity); ok {
		parentPath = parent.APIPath
	}
	nav := entity.ParentNavigationProperty
	if nav == "" {
		nav = entity.APIPath
	}
	return b.client.EntityPath(fmt.Sprintf("%s(%s)", parentPath, parentID), nav)
}

func recordPath(collection string, args map[string]interface{}) (string, error) {
	id, err := keySegment(stringArg(args, "id"))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s(%s)", collection, id), nil
}

// keySegment checks a record id before it is placed in a URL path. GUIDs
// are normalized; other keys are accepted unless they would change the path.
func keySegment(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("id must not be empty")
	}
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String(), nil
	}
	if strings.ContainsAny(id, "/?#()%\\ ") {
		return "", errors.Newf("invalid id %q", id)
	}
	return id, nil
}

// recordBody copies writable fields present in args. The key is left out of
// update bodies.
func recordBody(entity *models.EntityDefinition, args map[string]interface{}, update bool) map[string]interface{} {
	body := make(map[string]interface{})
	for _, f := range entity.Fields {
		if f.ReadOnly || (update && models.IsKeyField(f.Name)) {
			continue
		}
		if v, ok := args[f.Name]; ok {
			body[f.Name] = v
		}
	}
	return body
}

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

// splitList splits a comma separated list and trims each item
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
