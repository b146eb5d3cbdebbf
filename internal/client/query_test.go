package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryBuilderEmpty(t *testing.T) {
	assert.Equal(t, "", NewQuery().Build())

	var q *QueryBuilder
	assert.Equal(t, "", q.Build())
	assert.True(t, q.IsEmpty())
}

func TestQueryBuilderOrder(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *QueryBuilder
		expected string
	}{
		{
			name:     "single filter",
			build:    func() *QueryBuilder { return NewQuery().Filter("displayName eq 'Contoso'") },
			expected: "?$filter=displayName eq 'Contoso'",
		},
		{
			name: "insertion order preserved",
			build: func() *QueryBuilder {
				return NewQuery().Top(10).Filter("balance gt 0").Select("id", "number", "displayName")
			},
			expected: "?$top=10&$filter=balance gt 0&$select=id,number,displayName",
		},
		{
			name: "all options",
			build: func() *QueryBuilder {
				return NewQuery().
					Filter("blocked eq ' '").
					Select("id", "number").
					Expand("salesInvoiceLines($top=5)", "customer").
					Top(50).
					Skip(100).
					OrderBy("number desc").
					Count()
			},
			expected: "?$filter=blocked eq ' '&$select=id,number&$expand=salesInvoiceLines($top=5),customer" +
				"&$top=50&$skip=100&$orderby=number desc&$count=true",
		},
		{
			name:     "reset keeps first position",
			build:    func() *QueryBuilder { return NewQuery().Top(5).Skip(0).Top(20) },
			expected: "?$top=20&$skip=0",
		},
		{
			name:     "count only",
			build:    func() *QueryBuilder { return NewQuery().Top(0).Count() },
			expected: "?$top=0&$count=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.build().Build())
		})
	}
}

func TestQueryBuilderIdempotent(t *testing.T) {
	q := NewQuery().Filter("number eq '10000'").OrderBy("number").Top(3)
	first := q.Build()
	assert.Equal(t, first, q.Build())
	assert.Equal(t, first, q.String())
}

func TestWireSafeQuery(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"?$top=10", "?$top=10"},
		{"?$filter=displayName eq 'A'", "?$filter=displayName%20eq%20'A'"},
		{"?$filter=city eq \"Köln\"", "?$filter=city%20eq%20%22K%C3%B6ln%22"},
		{"?$filter=note eq '#1'", "?$filter=note%20eq%20'%231'"},
		{"?$filter=name eq 'a%20b'", "?$filter=name%20eq%20'a%20b'"},
		{"?$skiptoken=abc<def>", "?$skiptoken=abc%3Cdef%3E"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, wireSafeQuery(tt.input))
		})
	}
}
