package entities

import (
	"sync"

	"github.com/zmcp/bc-mcp/internal/models"
)

// Registry holds entity definitions keyed by singular name. Listing follows
// first-registration order; registering an existing name replaces the
// definition in place.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]*models.EntityDefinition
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*models.EntityDefinition)}
}

// Register adds or replaces a definition
func (r *Registry) Register(entity *models.EntityDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerLocked(entity)
}

// RegisterIfAbsent adds entity only when its name is unknown and reports
// whether it was added
func (r *Registry) RegisterIfAbsent(entity *models.EntityDefinition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[entity.Name]; exists {
		return false
	}
	r.registerLocked(entity)
	return true
}

func (r *Registry) registerLocked(entity *models.EntityDefinition) {
	if _, exists := r.byName[entity.Name]; !exists {
		r.order = append(r.order, entity.Name)
	}
	r.byName[entity.Name] = entity
}

// Get looks up an entity by singular name
func (r *Registry) Get(name string) (*models.EntityDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

// GetByPluralName scans for an entity with the given plural name
func (r *Registry) GetByPluralName(pluralName string) (*models.EntityDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if e := r.byName[name]; e.PluralName == pluralName {
			return e, true
		}
	}
	return nil, false
}

// ListAll returns all entities in registration order
func (r *Registry) ListAll() []*models.EntityDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.EntityDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Len returns the number of registered entities
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// WritableFields returns the fields that are not read-only
func (r *Registry) WritableFields(name string) []models.FieldDefinition {
	return r.filterFields(name, func(f models.FieldDefinition) bool { return !f.ReadOnly })
}

// RequiredFields returns the fields marked required
func (r *Registry) RequiredFields(name string) []models.FieldDefinition {
	return r.filterFields(name, func(f models.FieldDefinition) bool { return f.Required })
}

// FilterableFields excludes guid fields other than the key itself
func (r *Registry) FilterableFields(name string) []models.FieldDefinition {
	return r.filterFields(name, func(f models.FieldDefinition) bool {
		return f.Type != models.FieldGUID || f.Name == "id"
	})
}

func (r *Registry) filterFields(name string, keep func(models.FieldDefinition) bool) []models.FieldDefinition {
	e, ok := r.Get(name)
	if !ok {
		return nil
	}
	var out []models.FieldDefinition
	for _, f := range e.Fields {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}
