package metadata

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/zmcp/bc-mcp/internal/models"
)

// EDMX represents the root EDMX document for OData v4
type EDMX struct {
	XMLName      xml.Name     `xml:"Edmx"`
	Version      string       `xml:"Version,attr"`
	DataServices DataServices `xml:"DataServices"`
}

// DataServices contains the schemas
type DataServices struct {
	XMLName xml.Name `xml:"DataServices"`
	Schemas []Schema `xml:"Schema"`
}

// Schema contains entity types, bound actions and entity containers
type Schema struct {
	XMLName          xml.Name          `xml:"Schema"`
	Namespace        string            `xml:"Namespace,attr"`
	EntityTypes      []EntityType      `xml:"EntityType"`
	Actions          []Action          `xml:"Action"`
	EntityContainers []EntityContainer `xml:"EntityContainer"`
}

// EntityType represents an OData entity type
type EntityType struct {
	XMLName              xml.Name             `xml:"EntityType"`
	Name                 string               `xml:"Name,attr"`
	Key                  Key                  `xml:"Key"`
	Properties           []Property           `xml:"Property"`
	NavigationProperties []NavigationProperty `xml:"NavigationProperty"`
}

// Key contains key properties
type Key struct {
	XMLName      xml.Name      `xml:"Key"`
	PropertyRefs []PropertyRef `xml:"PropertyRef"`
}

// PropertyRef references a key property
type PropertyRef struct {
	XMLName xml.Name `xml:"PropertyRef"`
	Name    string   `xml:"Name,attr"`
}

// Property represents an entity property
type Property struct {
	XMLName   xml.Name `xml:"Property"`
	Name      string   `xml:"Name,attr"`
	Type      string   `xml:"Type,attr"`
	Nullable  string   `xml:"Nullable,attr"`
	MaxLength string   `xml:"MaxLength,attr"`
}

// NavigationProperty represents a navigation property
type NavigationProperty struct {
	XMLName xml.Name `xml:"NavigationProperty"`
	Name    string   `xml:"Name,attr"`
	Type    string   `xml:"Type,attr"`
}

// Action represents an OData v4 action. Business Central declares document
// operations such as Microsoft.NAV.post as actions bound to an entity type.
type Action struct {
	XMLName    xml.Name    `xml:"Action"`
	Name       string      `xml:"Name,attr"`
	IsBound    string      `xml:"IsBound,attr"`
	Parameters []Parameter `xml:"Parameter"`
}

// Parameter represents an action parameter
type Parameter struct {
	XMLName xml.Name `xml:"Parameter"`
	Name    string   `xml:"Name,attr"`
	Type    string   `xml:"Type,attr"`
}

// EntityContainer contains entity sets
type EntityContainer struct {
	XMLName    xml.Name    `xml:"EntityContainer"`
	Name       string      `xml:"Name,attr"`
	EntitySets []EntitySet `xml:"EntitySet"`
}

// EntitySet represents an OData entity set
type EntitySet struct {
	XMLName    xml.Name `xml:"EntitySet"`
	Name       string   `xml:"Name,attr"`
	EntityType string   `xml:"EntityType,attr"`
}

// edmTypes maps EDM primitive types onto field types. Anything missing,
// including enum and complex types, falls back to string.
var edmTypes = map[string]models.FieldType{
	"Edm.String":         models.FieldString,
	"Edm.Int16":          models.FieldNumber,
	"Edm.Int32":          models.FieldNumber,
	"Edm.Int64":          models.FieldNumber,
	"Edm.Byte":           models.FieldNumber,
	"Edm.SByte":          models.FieldNumber,
	"Edm.Decimal":        models.FieldDecimal,
	"Edm.Double":         models.FieldDecimal,
	"Edm.Single":         models.FieldDecimal,
	"Edm.Boolean":        models.FieldBoolean,
	"Edm.Guid":           models.FieldGUID,
	"Edm.Date":           models.FieldDate,
	"Edm.DateTimeOffset": models.FieldDateTime,
	"Edm.TimeOfDay":      models.FieldString,
	"Edm.Binary":         models.FieldString,
	"Edm.Stream":         models.FieldString,
}

// MapEdmType returns the field type for an EDM type name
func MapEdmType(edmType string) models.FieldType {
	if t, ok := edmTypes[edmType]; ok {
		return t
	}
	return models.FieldString
}

// ParseEntities parses a $metadata document into entity definitions, in
// document order
func ParseEntities(data []byte) ([]*models.EntityDefinition, error) {
	var edmx EDMX
	if err := xml.Unmarshal(data, &edmx); err != nil {
		return nil, errors.Wrap(err, "failed to parse metadata XML")
	}
	if len(edmx.DataServices.Schemas) == 0 {
		return nil, errors.New("no schemas found in metadata")
	}

	// EntityType local name -> EntitySet name
	setNames := make(map[string]string)
	for _, schema := range edmx.DataServices.Schemas {
		for _, container := range schema.EntityContainers {
			for _, es := range container.EntitySets {
				setNames[localName(es.EntityType)] = es.Name
			}
		}
	}

	actions := boundActions(edmx.DataServices.Schemas)

	var out []*models.EntityDefinition
	for _, schema := range edmx.DataServices.Schemas {
		for _, et := range schema.EntityTypes {
			out = append(out, parseEntityType(et, setNames, actions[et.Name]))
		}
	}
	return out, nil
}

func parseEntityType(et EntityType, setNames map[string]string, actions []models.BoundAction) *models.EntityDefinition {
	plural := setNames[et.Name]
	if plural == "" {
		plural = et.Name + "s"
	}

	keys := make(map[string]bool, len(et.Key.PropertyRefs))
	for _, ref := range et.Key.PropertyRefs {
		keys[ref.Name] = true
	}

	fields := make([]models.FieldDefinition, 0, len(et.Properties))
	for _, prop := range et.Properties {
		field := models.FieldDefinition{
			Name:        prop.Name,
			Type:        MapEdmType(prop.Type),
			ReadOnly:    keys[prop.Name],
			Description: fmt.Sprintf("%s field (%s).", prop.Name, prop.Type),
		}
		if n, err := strconv.Atoi(prop.MaxLength); err == nil && n > 0 {
			field.MaxLength = n
		}
		fields = append(fields, field)
	}

	navs := make([]models.NavigationProperty, 0, len(et.NavigationProperties))
	for _, np := range et.NavigationProperties {
		target, isCollection := unwrapCollection(np.Type)
		target = localName(target)
		navs = append(navs, models.NavigationProperty{
			Name:         np.Name,
			TargetEntity: target,
			IsCollection: isCollection,
			Description:  fmt.Sprintf("Navigation to %s.", target),
		})
	}

	def := &models.EntityDefinition{
		Name:                 et.Name,
		PluralName:           plural,
		APIPath:              plural,
		Description:          fmt.Sprintf("%s entity discovered from API metadata.", et.Name),
		Fields:               fields,
		NavigationProperties: navs,
		BoundActions:         actions,
	}
	def.Normalize()
	return def
}

// boundActions collects parameterless actions bound to a single entity,
// keyed by the entity's local type name
func boundActions(schemas []Schema) map[string][]models.BoundAction {
	out := make(map[string][]models.BoundAction)
	for _, schema := range schemas {
		for _, action := range schema.Actions {
			if action.IsBound != "true" || len(action.Parameters) != 1 {
				continue
			}
			bindingType, isCollection := unwrapCollection(action.Parameters[0].Type)
			if isCollection {
				continue
			}
			entity := localName(bindingType)
			out[entity] = append(out[entity], models.BoundAction{
				Name:        action.Name,
				Description: fmt.Sprintf("Runs the %s action", action.Name),
				HTTPMethod:  "POST",
				NavPath:     qualifiedName(schema.Namespace, action.Name),
			})
		}
	}
	return out
}

// unwrapCollection strips a Collection(...) wrapper
func unwrapCollection(typeName string) (string, bool) {
	if strings.HasPrefix(typeName, "Collection(") && strings.HasSuffix(typeName, ")") {
		return typeName[len("Collection(") : len(typeName)-1], true
	}
	return typeName, false
}

// localName removes the namespace prefix from a qualified type name
func localName(typeName string) string {
	if i := strings.LastIndex(typeName, "."); i >= 0 {
		return typeName[i+1:]
	}
	return typeName
}

func qualifiedName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}
