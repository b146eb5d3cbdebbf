package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = []ParamSchema{
	{Name: "id", Kind: ParamText, Required: true},
	{Name: "code", Kind: ParamText, MaxLength: 5},
	{Name: "amount", Kind: ParamNumeric},
	{Name: "top", Kind: ParamInteger},
	{Name: "active", Kind: ParamBoolean},
	{Name: "status", Kind: ParamEnum, EnumValues: []string{"Open", "Closed"}},
}

func TestValidateArgsNormalizes(t *testing.T) {
	out, err := ValidateArgs(testParams, map[string]interface{}{
		"id":     "abc",
		"code":   "ABCDE",
		"amount": json.Number("12.5"),
		"top":    float64(10),
		"active": true,
		"status": "Open",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"id":     "abc",
		"code":   "ABCDE",
		"amount": 12.5,
		"top":    10,
		"active": true,
		"status": "Open",
	}, out)
}

func TestValidateArgsOmitsAbsentAndNull(t *testing.T) {
	out, err := ValidateArgs(testParams, map[string]interface{}{"id": "x", "code": nil})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"id": "x"}, out)
}

func TestValidateArgsErrors(t *testing.T) {
	tests := []struct {
		name   string
		args   map[string]interface{}
		errMsg string
	}{
		{"missing required", map[string]interface{}{}, `missing required parameter "id"`},
		{"unknown key", map[string]interface{}{"id": "x", "colour": "red"}, "unknown parameter(s): colour"},
		{"wrong string type", map[string]interface{}{"id": 42.0}, `"id" must be a string`},
		{"too long", map[string]interface{}{"id": "x", "code": "ABCDEF"}, "exceeds maximum length of 5"},
		{"not a number", map[string]interface{}{"id": "x", "amount": "12"}, `"amount" must be a number`},
		{"fractional integer", map[string]interface{}{"id": "x", "top": 1.5}, "non-negative integer"},
		{"negative integer", map[string]interface{}{"id": "x", "top": -1.0}, "non-negative integer"},
		{"not a boolean", map[string]interface{}{"id": "x", "active": "yes"}, `"active" must be a boolean`},
		{"enum miss", map[string]interface{}{"id": "x", "status": "Pending"}, `must be one of: "Open", "Closed"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateArgs(testParams, tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParamJSONSchema(t *testing.T) {
	raw, err := json.Marshal(ParamSchema{Name: "top", Kind: ParamInteger, Description: "Max rows"}.JSONSchema())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"integer","minimum":0,"description":"Max rows"}`, string(raw))

	raw, err = json.Marshal(InputSchema(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","properties":{},"additionalProperties":false}`, string(raw))
}
