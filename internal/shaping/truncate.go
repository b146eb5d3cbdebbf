// Package shaping reduces list results to something a model can read: small
// result sets pass through, medium ones are paged, large ones summarized.
package shaping

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Mode is the shaping strategy applied to a result set
type Mode string

const (
	ModeFull       Mode = "full"
	ModePaginated  Mode = "paginated"
	ModeSummarized Mode = "summarized"
)

// Defaults for Options fields left at zero
const (
	DefaultThreshold       = 50
	DefaultLargeThreshold  = 500
	DefaultMaxStringLength = 200
	previewRows            = 20
	maxDistinctValues      = 20
	ellipsis               = "..."
)

// Options controls SmartTruncate. TotalCount is the server-side total, which
// can exceed len(rows).
type Options struct {
	TotalCount      int
	PageSize        int
	Threshold       int
	LargeThreshold  int
	MaxStringLength int
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.LargeThreshold <= 0 {
		o.LargeThreshold = DefaultLargeThreshold
	}
	if o.MaxStringLength <= 0 {
		o.MaxStringLength = DefaultMaxStringLength
	}
	return o
}

// Metadata describes what part of the total was returned
type Metadata struct {
	TotalCount    int    `json:"totalCount"`
	ReturnedCount int    `json:"returnedCount"`
	HasMore       bool   `json:"hasMore"`
	NextPageHint  string `json:"nextPageHint,omitempty"`
}

// Result is the shaped output. Metadata is nil in full mode.
type Result struct {
	Mode     Mode                     `json:"mode"`
	Rows     []map[string]interface{} `json:"rows"`
	Metadata *Metadata                `json:"metadata,omitempty"`
	Summary  string                   `json:"summary,omitempty"`
}

// SmartTruncate shortens long strings in every row, then picks a mode from
// opts.TotalCount:
//
//	<= Threshold       full, all rows
//	<= LargeThreshold  paginated, first PageSize rows
//	otherwise          summarized, 20 preview rows plus a summary
func SmartTruncate(rows []map[string]interface{}, opts Options) *Result {
	opts = opts.withDefaults()

	truncated := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		truncated[i] = truncateStrings(row, opts.MaxStringLength)
	}

	if opts.TotalCount <= opts.Threshold {
		return &Result{Mode: ModeFull, Rows: truncated}
	}

	if opts.TotalCount <= opts.LargeThreshold {
		paged := truncated[:min(max(opts.PageSize, 0), len(truncated))]
		return &Result{
			Mode: ModePaginated,
			Rows: paged,
			Metadata: &Metadata{
				TotalCount:    opts.TotalCount,
				ReturnedCount: len(paged),
				HasMore:       opts.TotalCount > len(paged),
				NextPageHint:  fmt.Sprintf("Use $skip=%d to get the next page.", len(paged)),
			},
		}
	}

	preview := truncated[:min(previewRows, len(truncated))]
	return &Result{
		Mode: ModeSummarized,
		Rows: preview,
		Metadata: &Metadata{
			TotalCount:    opts.TotalCount,
			ReturnedCount: len(preview),
			HasMore:       true,
			NextPageHint:  "Use $filter to narrow results before fetching more data.",
		},
		Summary: summarize(truncated, opts.TotalCount),
	}
}

// TruncateString cuts s to maxLen runes and appends "..." when it was longer
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + ellipsis
}

func truncateStrings(row map[string]interface{}, maxLen int) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		if s, ok := v.(string); ok {
			out[k] = TruncateString(s, maxLen)
		} else {
			out[k] = v
		}
	}
	return out
}

type valueCount struct {
	value string
	count int
}

func summarize(rows []map[string]interface{}, totalCount int) string {
	var fields []string
	if len(rows) > 0 {
		fields = rowKeys(rows[0])
	}

	lines := []string{
		fmt.Sprintf("Total records: %d", totalCount),
		"Fields: " + strings.Join(fields, ", "),
	}

	for _, field := range fields {
		counts := make(map[string]int)
		var order []string
		for _, row := range rows {
			s, ok := row[field].(string)
			if !ok {
				continue
			}
			if counts[s] == 0 {
				order = append(order, s)
			}
			counts[s]++
		}
		if len(counts) <= 1 || len(counts) > maxDistinctValues {
			continue
		}

		dist := make([]valueCount, 0, len(order))
		for _, v := range order {
			dist = append(dist, valueCount{v, counts[v]})
		}
		// Ties keep first-seen order
		sort.SliceStable(dist, func(i, j int) bool { return dist[i].count > dist[j].count })

		parts := make([]string, len(dist))
		for i, d := range dist {
			parts[i] = fmt.Sprintf("%s(%d)", d.value, d.count)
		}
		lines = append(lines, fmt.Sprintf("%s distribution (sample): %s", field, strings.Join(parts, ", ")))
	}

	return strings.Join(lines, "\n")
}
