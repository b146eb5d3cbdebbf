package tools

import (
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/zmcp/bc-mcp/internal/constants"
	"github.com/zmcp/bc-mcp/internal/models"
)

// HandlerKind selects the operation a generated tool performs
type HandlerKind int

const (
	HandlerList HandlerKind = iota
	HandlerGet
	HandlerCount
	HandlerCreate
	HandlerUpdate
	HandlerDelete
	HandlerAction
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerList:
		return "list"
	case HandlerGet:
		return "get"
	case HandlerCount:
		return "count"
	case HandlerCreate:
		return "create"
	case HandlerUpdate:
		return "update"
	case HandlerDelete:
		return "delete"
	case HandlerAction:
		return "action"
	default:
		return fmt.Sprintf("HandlerKind(%d)", int(k))
	}
}

// ParentIDParam is added to every tool of a nested entity
const ParentIDParam = "parentId"

// GeneratedTool is one callable operation derived from an entity definition
type GeneratedTool struct {
	Name          string
	Description   string
	Params        []ParamSchema
	Handler       HandlerKind
	EntityName    string
	ActionNavPath string
}

// InputSchema renders the tool parameters as JSON Schema
func (t *GeneratedTool) InputSchema() *jsonschema.Schema {
	return InputSchema(t.Params)
}

// Param looks up a parameter by name
func (t *GeneratedTool) Param(name string) (ParamSchema, bool) {
	for _, p := range t.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSchema{}, false
}

func listParams() []ParamSchema {
	return []ParamSchema{
		{Name: "filter", Kind: ParamText, Description: "OData $filter expression to filter results"},
		{Name: "select", Kind: ParamText, Description: "Comma-separated list of fields to include in the response"},
		{Name: "expand", Kind: ParamText, Description: "Comma-separated list of navigation properties to expand"},
		{Name: "top", Kind: ParamInteger, Description: "Maximum number of records to return"},
		{Name: "skip", Kind: ParamInteger, Description: "Number of records to skip"},
		{Name: "orderBy", Kind: ParamText, Description: "OData $orderby expression to sort results"},
	}
}

func idParam(description string) ParamSchema {
	return ParamSchema{Name: "id", Kind: ParamText, Required: true, Description: description}
}

// GenerateForEntity builds the tools for e. Read-only entities get list, get
// and count; writable ones also get create, update, delete and one tool per
// bound action.
func GenerateForEntity(e *models.EntityDefinition) []GeneratedTool {
	desc := strings.TrimSuffix(strings.TrimSpace(e.Description), ".")

	var prefix []ParamSchema
	if e.ParentEntity != "" {
		prefix = []ParamSchema{{
			Name:        ParentIDParam,
			Kind:        ParamText,
			Required:    true,
			Description: fmt.Sprintf("The unique identifier (GUID) of the parent %s", e.ParentEntity),
		}}
	}
	withParent := func(params ...ParamSchema) []ParamSchema {
		return append(append([]ParamSchema(nil), prefix...), params...)
	}

	tools := []GeneratedTool{
		{
			Name:        constants.ToolPrefix + "list_" + e.PluralName,
			Description: fmt.Sprintf("List %s from Business Central. %s. Supports OData filtering, sorting, pagination, and field selection.", e.PluralName, desc),
			Params:      withParent(listParams()...),
			Handler:     HandlerList,
			EntityName:  e.Name,
		},
		{
			Name:        constants.ToolPrefix + "get_" + e.Name,
			Description: fmt.Sprintf("Get a single %s by ID from Business Central. %s.", e.Name, desc),
			Params: withParent(
				idParam("The unique identifier (GUID) of the record"),
				ParamSchema{Name: "expand", Kind: ParamText, Description: "Comma-separated list of navigation properties to expand"},
			),
			Handler:    HandlerGet,
			EntityName: e.Name,
		},
		{
			Name:        constants.ToolPrefix + "count_" + e.PluralName,
			Description: fmt.Sprintf("Count the number of %s in Business Central. Supports OData filtering to count a subset of records.", e.PluralName),
			Params: withParent(
				ParamSchema{Name: "filter", Kind: ParamText, Description: "OData $filter expression to filter records before counting"},
			),
			Handler:    HandlerCount,
			EntityName: e.Name,
		},
	}

	if e.IsReadOnly {
		return tools
	}

	var createParams, updateParams []ParamSchema
	for _, f := range e.Fields {
		if f.ReadOnly {
			continue
		}
		p := ParamFromField(f)
		p.Required = f.Required
		createParams = append(createParams, p)

		if f.Name != "id" {
			p.Required = false
			updateParams = append(updateParams, p)
		}
	}

	tools = append(tools,
		GeneratedTool{
			Name:        constants.ToolPrefix + "create_" + e.Name,
			Description: fmt.Sprintf("Create a new %s in Business Central. %s.", e.Name, desc),
			Params:      withParent(createParams...),
			Handler:     HandlerCreate,
			EntityName:  e.Name,
		},
		GeneratedTool{
			Name:        constants.ToolPrefix + "update_" + e.Name,
			Description: fmt.Sprintf("Update an existing %s in Business Central by ID. Only specified fields will be updated.", e.Name),
			Params:      withParent(append([]ParamSchema{idParam("The unique identifier (GUID) of the record to update")}, updateParams...)...),
			Handler:     HandlerUpdate,
			EntityName:  e.Name,
		},
		GeneratedTool{
			Name:        constants.ToolPrefix + "delete_" + e.Name,
			Description: fmt.Sprintf("Delete a %s from Business Central by ID.", e.Name),
			Params:      withParent(idParam("The unique identifier (GUID) of the record to delete")),
			Handler:     HandlerDelete,
			EntityName:  e.Name,
		},
	)

	for _, action := range e.BoundActions {
		tools = append(tools, GeneratedTool{
			Name:          constants.ToolPrefix + action.Name + "_" + e.Name,
			Description:   fmt.Sprintf("%s for a %s in Business Central.", strings.TrimSuffix(action.Description, "."), e.Name),
			Params:        withParent(idParam("The unique identifier (GUID) of the record to perform the action on")),
			Handler:       HandlerAction,
			EntityName:    e.Name,
			ActionNavPath: action.NavPath,
		})
	}

	return tools
}
