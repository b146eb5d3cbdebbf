package models

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// FieldType is the semantic type of an entity field
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldNumber   FieldType = "number"
	FieldBoolean  FieldType = "boolean"
	FieldDate     FieldType = "date"
	FieldDateTime FieldType = "datetime"
	FieldGUID     FieldType = "guid"
	FieldDecimal  FieldType = "decimal"
	FieldEnum     FieldType = "enum"
)

// Valid reports whether t is one of the known field types
func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldNumber, FieldBoolean, FieldDate, FieldDateTime, FieldGUID, FieldDecimal, FieldEnum:
		return true
	}
	return false
}

// FieldDefinition describes one property of an entity
type FieldDefinition struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	ReadOnly    bool      `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	EnumValues  []string  `json:"enumValues,omitempty" yaml:"enumValues,omitempty"`
	MaxLength   int       `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
}

// NavigationProperty links an entity to another. TargetEntity is resolved
// lazily and may name an entity that is not registered yet.
type NavigationProperty struct {
	Name         string `json:"name" yaml:"name"`
	TargetEntity string `json:"targetEntity" yaml:"targetEntity"`
	IsCollection bool   `json:"isCollection,omitempty" yaml:"isCollection,omitempty"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
}

// BoundAction is a server-side operation invoked by POST on an entity
// instance path, e.g. salesInvoices({id})/Microsoft.NAV.post
type BoundAction struct {
	Name           string `json:"name" yaml:"name"`
	Description    string `json:"description,omitempty" yaml:"description,omitempty"`
	HTTPMethod     string `json:"httpMethod,omitempty" yaml:"httpMethod,omitempty"`
	NavPath        string `json:"navPath" yaml:"navPath"`
	HasRequestBody bool   `json:"hasRequestBody,omitempty" yaml:"hasRequestBody,omitempty"`
}

// EntityDefinition describes one API entity and is immutable once registered
type EntityDefinition struct {
	Name                     string               `json:"name" yaml:"name"`
	PluralName               string               `json:"pluralName" yaml:"pluralName"`
	APIPath                  string               `json:"apiPath" yaml:"apiPath"`
	Description              string               `json:"description,omitempty" yaml:"description,omitempty"`
	Fields                   []FieldDefinition    `json:"fields" yaml:"fields"`
	NavigationProperties     []NavigationProperty `json:"navigationProperties,omitempty" yaml:"navigationProperties,omitempty"`
	BoundActions             []BoundAction        `json:"boundActions,omitempty" yaml:"boundActions,omitempty"`
	IsReadOnly               bool                 `json:"isReadOnly,omitempty" yaml:"isReadOnly,omitempty"`
	ParentEntity             string               `json:"parentEntity,omitempty" yaml:"parentEntity,omitempty"`
	ParentNavigationProperty string               `json:"parentNavigationProperty,omitempty" yaml:"parentNavigationProperty,omitempty"`
}

// IsKeyField reports whether name identifies the entity key
func IsKeyField(name string) bool {
	return strings.EqualFold(name, "id")
}

// Field returns the named field, or nil
func (e *EntityDefinition) Field(name string) *FieldDefinition {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// Normalize fills defaults: plural name, API path, action method, and
// forces key fields read-only
func (e *EntityDefinition) Normalize() {
	if e.PluralName == "" && e.Name != "" {
		e.PluralName = e.Name + "s"
	}
	if e.APIPath == "" {
		e.APIPath = e.PluralName
	}
	for i := range e.Fields {
		if IsKeyField(e.Fields[i].Name) {
			e.Fields[i].ReadOnly = true
			e.Fields[i].Required = false
		}
	}
	for i := range e.BoundActions {
		if e.BoundActions[i].HTTPMethod == "" {
			e.BoundActions[i].HTTPMethod = "POST"
		}
	}
}

// Validate checks the structural invariants of a definition
func (e *EntityDefinition) Validate() error {
	if e.Name == "" {
		return errors.New("entity name is required")
	}
	if e.PluralName == "" {
		return errors.Newf("entity %s: plural name is required", e.Name)
	}
	if e.APIPath == "" {
		return errors.Newf("entity %s: API path is required", e.Name)
	}
	if e.ParentNavigationProperty != "" && e.ParentEntity == "" {
		return errors.Newf("entity %s: parent navigation property without parent entity", e.Name)
	}

	seen := make(map[string]bool, len(e.Fields))
	for _, f := range e.Fields {
		if f.Name == "" {
			return errors.Newf("entity %s: field with empty name", e.Name)
		}
		if seen[f.Name] {
			return errors.Newf("entity %s: duplicate field %s", e.Name, f.Name)
		}
		seen[f.Name] = true
		if !f.Type.Valid() {
			return errors.Newf("entity %s: field %s has unknown type %q", e.Name, f.Name, f.Type)
		}
		if f.Type == FieldEnum && len(f.EnumValues) == 0 {
			return errors.Newf("entity %s: enum field %s has no values", e.Name, f.Name)
		}
		if IsKeyField(f.Name) && !f.ReadOnly {
			return errors.Newf("entity %s: key field %s must be read-only", e.Name, f.Name)
		}
	}

	for _, a := range e.BoundActions {
		if a.Name == "" || a.NavPath == "" {
			return errors.Newf("entity %s: bound action needs a name and navPath", e.Name)
		}
		if a.HTTPMethod != "" && a.HTTPMethod != "POST" {
			return errors.Newf("entity %s: bound action %s must use POST", e.Name, a.Name)
		}
	}
	return nil
}
