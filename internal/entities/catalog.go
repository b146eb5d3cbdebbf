package entities

import (
	"bytes"
	_ "embed"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/zmcp/bc-mcp/internal/models"
)

//go:embed catalog.yaml
var standardCatalog []byte

type catalogFile struct {
	Entities []*models.EntityDefinition `yaml:"entities"`
}

// StandardEntities returns fresh copies of the built-in Business Central
// entity definitions
func StandardEntities() ([]*models.EntityDefinition, error) {
	defs, err := ParseCatalog(standardCatalog)
	if err != nil {
		return nil, errors.Wrap(err, "built-in catalog")
	}
	return defs, nil
}

// LoadCatalogFile reads a user-supplied YAML catalog
func LoadCatalogFile(path string) ([]*models.EntityDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read entity catalog %s", path)
	}
	defs, err := ParseCatalog(data)
	if err != nil {
		return nil, errors.Wrapf(err, "entity catalog %s", path)
	}
	return defs, nil
}

// ParseCatalog decodes a YAML catalog with an `entities` list. Unknown keys
// are rejected and every definition is normalized and validated.
func ParseCatalog(data []byte) ([]*models.EntityDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "failed to parse entity catalog")
	}

	for i, def := range file.Entities {
		if def == nil {
			return nil, errors.Newf("entity #%d is empty", i+1)
		}
		def.Normalize()
		if err := def.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Entities, nil
}

// RegisterAll registers defs in order, later definitions replacing earlier
// ones with the same name
func RegisterAll(r *Registry, defs []*models.EntityDefinition) {
	for _, def := range defs {
		r.Register(def)
	}
}
