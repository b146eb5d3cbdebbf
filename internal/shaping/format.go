package shaping

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// NoRecords is the text for an empty list
const NoRecords = "No records found."

// rowKeys returns the keys of row in sorted order, without OData annotations
func rowKeys(row map[string]interface{}) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		if strings.HasPrefix(k, "@odata.") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatEntity renders one record as "key: value" lines under a type banner.
// Null and empty-string values are left out.
func FormatEntity(entity map[string]interface{}, entityType string) string {
	lines := []string{fmt.Sprintf("--- %s ---", entityType)}
	for _, k := range rowKeys(entity) {
		v := entity[k]
		if v == nil || v == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", k, formatValue(v)))
	}
	return strings.Join(lines, "\n")
}

// FormatList renders rows as a pipe-separated table. Columns come from the
// first row. When res carries metadata a "Showing N of M" banner and the
// summary precede the table.
func FormatList(res *Result) string {
	if res == nil || len(res.Rows) == 0 {
		return NoRecords
	}

	var lines []string
	if res.Metadata != nil {
		lines = append(lines, fmt.Sprintf("Showing %d of %d records.", res.Metadata.ReturnedCount, res.Metadata.TotalCount))
		if res.Metadata.HasMore {
			hint := "Use $filter, $top, or $skip to navigate more data."
			if res.Metadata.NextPageHint != "" {
				hint += " " + res.Metadata.NextPageHint
			}
			lines = append(lines, hint+"\n")
		}
		if res.Summary != "" {
			lines = append(lines, res.Summary+"\n")
		}
	}

	keys := rowKeys(res.Rows[0])
	sep := make([]string, len(keys))
	for i := range sep {
		sep[i] = "---"
	}
	lines = append(lines, strings.Join(keys, " | "), strings.Join(sep, " | "))

	for _, row := range res.Rows {
		cells := make([]string, len(keys))
		for i, k := range keys {
			cells[i] = formatValue(row[k])
		}
		lines = append(lines, strings.Join(cells, " | "))
	}
	return strings.Join(lines, "\n")
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
