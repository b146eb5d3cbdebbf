package client

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/zmcp/bc-mcp/internal/constants"
)

// ListResult is one page of an entity collection
type ListResult struct {
	Value    []map[string]interface{}
	NextLink string
	Count    *int
}

// TotalCount returns @odata.count when the server sent it, else the page length
func (r *ListResult) TotalCount() int {
	if r.Count != nil {
		return *r.Count
	}
	return len(r.Value)
}

// parseListResponse extracts value, @odata.nextLink and @odata.count
func parseListResponse(data []byte) (*ListResult, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return nil, err
	}

	result := &ListResult{Value: []map[string]interface{}{}}
	if items, ok := raw[constants.ODataValue].([]interface{}); ok {
		result.Value = make([]map[string]interface{}, 0, len(items))
		for _, item := range items {
			if row, ok := item.(map[string]interface{}); ok {
				result.Value = append(result.Value, row)
			}
		}
	}
	if next, ok := raw[constants.ODataNextLink].(string); ok {
		result.NextLink = next
	}
	if count, ok := parseCount(raw[constants.ODataCount]); ok {
		result.Count = &count
	}
	return result, nil
}

// parseEntityResponse decodes a single-entity body. An empty body yields an
// empty map, which is what a 204 on an action looks like.
func parseEntityResponse(data []byte) (map[string]interface{}, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]interface{}{}, nil
	}
	return decodeObject(data)
}

func decodeObject(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse JSON response")
	}
	return normalizeNumbers(raw).(map[string]interface{}), nil
}

// normalizeNumbers turns json.Number into int64 when integral, float64 otherwise
func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	return v
}

func parseCount(v interface{}) (int, bool) {
	switch c := v.(type) {
	case int64:
		return int(c), true
	case float64:
		return int(c), true
	case string:
		n, err := strconv.Atoi(c)
		return n, err == nil
	}
	return 0, false
}

// decodeErrorBody parses an error response, falling back to
// {"error":{"message": statusText}} when the body is not JSON
func decodeErrorBody(data []byte, statusText string) interface{} {
	var body interface{}
	if err := json.Unmarshal(data, &body); err != nil || body == nil {
		return map[string]interface{}{
			"error": map[string]interface{}{"message": statusText},
		}
	}
	return body
}
