package entities

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/bc-mcp/internal/models"
)

func testEntity(name, plural string) *models.EntityDefinition {
	return &models.EntityDefinition{
		Name:       name,
		PluralName: plural,
		APIPath:    plural,
		Fields: []models.FieldDefinition{
			{Name: "id", Type: models.FieldGUID, ReadOnly: true},
			{Name: "number", Type: models.FieldString, Required: true},
			{Name: "currencyId", Type: models.FieldGUID},
			{Name: "balance", Type: models.FieldDecimal, ReadOnly: true},
			{Name: "blocked", Type: models.FieldBoolean},
		},
	}
}

func fieldNames(fields []models.FieldDefinition) []string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	return names
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(testEntity("customer", "customers"))
	r.Register(testEntity("vendor", "vendors"))

	e, ok := r.Get("customer")
	require.True(t, ok)
	assert.Equal(t, "customers", e.PluralName)

	e, ok = r.GetByPluralName("vendors")
	require.True(t, ok)
	assert.Equal(t, "vendor", e.Name)

	_, ok = r.Get("customers")
	assert.False(t, ok, "singular lookup must not match plural names")
	_, ok = r.GetByPluralName("missing")
	assert.False(t, ok)

	assert.Equal(t, 2, r.Len())
}

func TestRegistryOverwriteKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(testEntity("a", "as"))
	r.Register(testEntity("b", "bs"))

	replacement := testEntity("a", "alphas")
	r.Register(replacement)

	all := r.ListAll()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.Same(t, replacement, all[0], "last write wins")
	assert.Equal(t, "b", all[1].Name)
}

func TestRegistryRegisterIfAbsent(t *testing.T) {
	r := NewRegistry()
	original := testEntity("customer", "customers")
	assert.True(t, r.RegisterIfAbsent(original))
	assert.False(t, r.RegisterIfAbsent(testEntity("customer", "clients")))

	e, _ := r.Get("customer")
	assert.Same(t, original, e)
}

func TestRegistryFieldViews(t *testing.T) {
	r := NewRegistry()
	r.Register(testEntity("customer", "customers"))

	assert.Equal(t, []string{"number", "currencyId", "blocked"}, fieldNames(r.WritableFields("customer")))
	assert.Equal(t, []string{"number"}, fieldNames(r.RequiredFields("customer")))
	assert.Equal(t, []string{"id", "number", "balance", "blocked"}, fieldNames(r.FilterableFields("customer")))

	assert.Empty(t, r.WritableFields("unknown"))
}

func TestStandardEntities(t *testing.T) {
	defs, err := StandardEntities()
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	r := NewRegistry()
	RegisterAll(r, defs)
	assert.Equal(t, len(defs), r.Len(), "standard entity names are unique")

	gl, ok := r.Get("generalLedgerEntry")
	require.True(t, ok)
	assert.True(t, gl.IsReadOnly)
	assert.Equal(t, "generalLedgerEntries", gl.PluralName)

	invoice, ok := r.Get("salesInvoice")
	require.True(t, ok)
	require.NotEmpty(t, invoice.BoundActions)
	assert.Equal(t, "post", invoice.BoundActions[0].Name)
	assert.Equal(t, "Microsoft.NAV.post", invoice.BoundActions[0].NavPath)
	assert.Equal(t, "POST", invoice.BoundActions[0].HTTPMethod)

	lines, ok := r.Get("journalLine")
	require.True(t, ok)
	assert.Equal(t, "journal", lines.ParentEntity)

	customer, ok := r.Get("customer")
	require.True(t, ok)
	blocked := customer.Field("blocked")
	require.NotNil(t, blocked)
	assert.Equal(t, []string{" ", "Ship", "Invoice", "All"}, blocked.EnumValues)

	for _, def := range defs {
		id := def.Field("id")
		if id != nil {
			assert.True(t, id.ReadOnly, "%s.id must be read-only", def.Name)
		}
	}
}

func TestStandardEntitiesReturnsFreshCopies(t *testing.T) {
	first, err := StandardEntities()
	require.NoError(t, err)
	first[0].Description = "mutated"

	second, err := StandardEntities()
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", second[0].Description)
}

func TestParseCatalog(t *testing.T) {
	data := []byte(`
entities:
  - name: project
    description: Custom project API
    fields:
      - name: id
        type: guid
      - name: code
        type: string
        required: true
    boundActions:
      - name: close
        navPath: Microsoft.NAV.close
`)
	defs, err := ParseCatalog(data)
	require.NoError(t, err)
	require.Len(t, defs, 1)

	p := defs[0]
	assert.Equal(t, "projects", p.PluralName)
	assert.Equal(t, "projects", p.APIPath)
	assert.True(t, p.Fields[0].ReadOnly)
	assert.Equal(t, "POST", p.BoundActions[0].HTTPMethod)
}

func TestParseCatalogErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", "entities:\n  - name: x\n    colour: red\n"},
		{"enum without values", "entities:\n  - name: x\n    fields:\n      - name: status\n        type: enum\n"},
		{"bad type", "entities:\n  - name: x\n    fields:\n      - name: status\n        type: money\n"},
		{"not yaml", "entities: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entities:\n  - name: project\n"), 0600))

	defs, err := LoadCatalogFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "project", defs[0].Name)

	_, err = LoadCatalogFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
