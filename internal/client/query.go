package client

import (
	"strconv"
	"strings"

	"github.com/zmcp/bc-mcp/internal/constants"
)

// QueryBuilder assembles OData system query options. Values are passed
// through verbatim; callers supply already-safe filter and orderby syntax.
// Keys keep the order in which they were first set.
type QueryBuilder struct {
	keys   []string
	values map[string]string
}

// NewQuery returns an empty query builder
func NewQuery() *QueryBuilder {
	return &QueryBuilder{values: make(map[string]string)}
}

func (q *QueryBuilder) set(key, value string) *QueryBuilder {
	if q.values == nil {
		q.values = make(map[string]string)
	}
	if _, exists := q.values[key]; !exists {
		q.keys = append(q.keys, key)
	}
	q.values[key] = value
	return q
}

// Filter sets $filter
func (q *QueryBuilder) Filter(expr string) *QueryBuilder {
	return q.set(constants.QueryFilter, expr)
}

// Select sets $select to the comma-joined field list
func (q *QueryBuilder) Select(fields ...string) *QueryBuilder {
	return q.set(constants.QuerySelect, strings.Join(fields, ","))
}

// Expand sets $expand to the comma-joined navigation list. Entries may carry
// nested options such as "salesInvoiceLines($top=5)".
func (q *QueryBuilder) Expand(navs ...string) *QueryBuilder {
	return q.set(constants.QueryExpand, strings.Join(navs, ","))
}

// Top sets $top
func (q *QueryBuilder) Top(n int) *QueryBuilder {
	return q.set(constants.QueryTop, strconv.Itoa(n))
}

// Skip sets $skip
func (q *QueryBuilder) Skip(n int) *QueryBuilder {
	return q.set(constants.QuerySkip, strconv.Itoa(n))
}

// OrderBy sets $orderby
func (q *QueryBuilder) OrderBy(expr string) *QueryBuilder {
	return q.set(constants.QueryOrderBy, expr)
}

// Count sets $count=true
func (q *QueryBuilder) Count() *QueryBuilder {
	return q.set(constants.QueryCount, "true")
}

// IsEmpty reports whether no option has been set
func (q *QueryBuilder) IsEmpty() bool {
	return q == nil || len(q.keys) == 0
}

// Build returns "?$k=v&$k2=v2", or "" when nothing was set
func (q *QueryBuilder) Build() string {
	if q.IsEmpty() {
		return ""
	}

	var sb strings.Builder
	for i, key := range q.keys {
		if i == 0 {
			sb.WriteByte('?')
		} else {
			sb.WriteByte('&')
		}
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(q.values[key])
	}
	return sb.String()
}

// String implements fmt.Stringer
func (q *QueryBuilder) String() string {
	return q.Build()
}

// wireSafeQuery percent-encodes the bytes an HTTP request line cannot carry
// raw (controls, space, quote, '#', '<', '>', non-ASCII). Everything else,
// including existing %XX escapes, is left as written.
func wireSafeQuery(raw string) string {
	const hex = "0123456789ABCDEF"

	needs := false
	for i := 0; i < len(raw); i++ {
		if mustEscapeQueryByte(raw[i]) {
			needs = true
			break
		}
	}
	if !needs {
		return raw
	}

	var sb strings.Builder
	sb.Grow(len(raw) + 16)
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if mustEscapeQueryByte(b) {
			sb.WriteByte('%')
			sb.WriteByte(hex[b>>4])
			sb.WriteByte(hex[b&0x0f])
			continue
		}
		sb.WriteByte(b)
	}
	return sb.String()
}

func mustEscapeQueryByte(b byte) bool {
	switch {
	case b <= 0x20, b >= 0x7f:
		return true
	case b == '"', b == '#', b == '<', b == '>':
		return true
	}
	return false
}
