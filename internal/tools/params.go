package tools

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/zmcp/bc-mcp/internal/models"
)

// ParamKind is the input type of a tool parameter
type ParamKind int

const (
	ParamText ParamKind = iota
	ParamNumeric
	ParamInteger
	ParamBoolean
	ParamEnum
)

func (k ParamKind) String() string {
	switch k {
	case ParamText:
		return "string"
	case ParamNumeric:
		return "number"
	case ParamInteger:
		return "integer"
	case ParamBoolean:
		return "boolean"
	case ParamEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// ParamSchema describes one tool input
type ParamSchema struct {
	Name        string
	Kind        ParamKind
	EnumValues  []string
	Required    bool
	Description string
	MaxLength   int
}

// ParamFromField maps an entity field to an optional parameter.
// string/date/datetime/guid become text, number/decimal numeric, and enum
// a closed set unless the field lists no values.
func ParamFromField(f models.FieldDefinition) ParamSchema {
	p := ParamSchema{
		Name:        f.Name,
		Description: f.Description,
	}

	switch f.Type {
	case models.FieldNumber, models.FieldDecimal:
		p.Kind = ParamNumeric
	case models.FieldBoolean:
		p.Kind = ParamBoolean
	case models.FieldEnum:
		if len(f.EnumValues) > 0 {
			p.Kind = ParamEnum
			p.EnumValues = append([]string(nil), f.EnumValues...)
		} else {
			p.Kind = ParamText
		}
	default:
		p.Kind = ParamText
	}

	if p.Kind == ParamText {
		p.MaxLength = f.MaxLength
	}
	return p
}

// JSONSchema renders a single parameter
func (p ParamSchema) JSONSchema() *jsonschema.Schema {
	s := &jsonschema.Schema{Description: p.Description}
	switch p.Kind {
	case ParamNumeric:
		s.Type = "number"
	case ParamInteger:
		s.Type = "integer"
		s.Minimum = json.Number("0")
	case ParamBoolean:
		s.Type = "boolean"
	case ParamEnum:
		s.Type = "string"
		s.Enum = make([]any, 0, len(p.EnumValues))
		for _, v := range p.EnumValues {
			s.Enum = append(s.Enum, v)
		}
	default:
		s.Type = "string"
		if p.MaxLength > 0 {
			maxLen := uint64(p.MaxLength)
			s.MaxLength = &maxLen
		}
	}
	return s
}

// InputSchema renders params as a JSON Schema object with properties in
// parameter order
func InputSchema(params []ParamSchema) *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	var required []string
	for _, p := range params {
		props.Set(p.Name, p.JSONSchema())
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

// ValidateArgs checks host-supplied arguments against params and returns a
// normalized copy: numbers become float64, integers int. Null values count
// as absent.
func ValidateArgs(params []ParamSchema, args map[string]interface{}) (map[string]interface{}, error) {
	known := make(map[string]ParamSchema, len(params))
	for _, p := range params {
		known[p.Name] = p
	}

	var unknown []string
	for name, value := range args {
		if _, ok := known[name]; !ok && value != nil {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errors.Newf("unknown parameter(s): %s", strings.Join(unknown, ", "))
	}

	out := make(map[string]interface{}, len(args))
	for _, p := range params {
		value, present := args[p.Name]
		if !present || value == nil {
			if p.Required {
				return nil, errors.Newf("missing required parameter %q", p.Name)
			}
			continue
		}

		normalized, err := coerce(p, value)
		if err != nil {
			return nil, err
		}
		out[p.Name] = normalized
	}
	return out, nil
}

func coerce(p ParamSchema, value interface{}) (interface{}, error) {
	switch p.Kind {
	case ParamText:
		s, ok := value.(string)
		if !ok {
			return nil, errors.Newf("parameter %q must be a string", p.Name)
		}
		if p.MaxLength > 0 && utf8.RuneCountInString(s) > p.MaxLength {
			return nil, errors.Newf("parameter %q exceeds maximum length of %d", p.Name, p.MaxLength)
		}
		return s, nil

	case ParamEnum:
		s, ok := value.(string)
		if !ok {
			return nil, errors.Newf("parameter %q must be a string", p.Name)
		}
		for _, allowed := range p.EnumValues {
			if s == allowed {
				return s, nil
			}
		}
		return nil, errors.Newf("parameter %q must be one of: %s", p.Name, quoteAll(p.EnumValues))

	case ParamBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, errors.Newf("parameter %q must be a boolean", p.Name)
		}
		return b, nil

	case ParamNumeric:
		f, ok := toFloat(value)
		if !ok {
			return nil, errors.Newf("parameter %q must be a number", p.Name)
		}
		return f, nil

	case ParamInteger:
		f, ok := toFloat(value)
		if !ok || f != math.Trunc(f) || f < 0 {
			return nil, errors.Newf("parameter %q must be a non-negative integer", p.Name)
		}
		return int(f), nil
	}
	return nil, errors.Newf("parameter %q has unsupported kind %s", p.Name, p.Kind)
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func quoteAll(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + v + `"`
	}
	return strings.Join(quoted, ", ")
}
