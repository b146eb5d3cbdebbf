package tools

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrNameCollision is returned when a tool name is already taken by a
// different entity or by a global tool
var ErrNameCollision = errors.New("tool name collision")

// Catalog tracks generated tools by name and rejects names claimed by more
// than one entity
type Catalog struct {
	mu       sync.RWMutex
	tools    map[string]*GeneratedTool
	order    []string
	reserved map[string]bool
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		tools:    make(map[string]*GeneratedTool),
		reserved: make(map[string]bool),
	}
}

// Reserve marks names owned by non-entity tools
func (c *Catalog) Reserve(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		c.reserved[n] = true
	}
}

// Add registers all tools or none. Re-adding tools for the same entity
// replaces them.
func (c *Catalog) Add(tools []GeneratedTool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := make(map[string]string, len(tools))
	for _, t := range tools {
		if c.reserved[t.Name] {
			return errors.Wrapf(ErrNameCollision, "%s is reserved", t.Name)
		}
		if owner, ok := batch[t.Name]; ok {
			return errors.Wrapf(ErrNameCollision, "%s generated twice for entity %s", t.Name, owner)
		}
		if existing, ok := c.tools[t.Name]; ok && existing.EntityName != t.EntityName {
			return errors.Wrapf(ErrNameCollision, "%s already belongs to entity %s", t.Name, existing.EntityName)
		}
		batch[t.Name] = t.EntityName
	}

	for i := range tools {
		t := tools[i]
		if _, exists := c.tools[t.Name]; !exists {
			c.order = append(c.order, t.Name)
		}
		c.tools[t.Name] = &t
	}
	return nil
}

// Get returns the tool with the given name
func (c *Catalog) Get(name string) (*GeneratedTool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	return t, ok
}

// List returns tools in registration order
func (c *Catalog) List() []*GeneratedTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*GeneratedTool, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tools[name])
	}
	return out
}

// Len returns the number of entity tools
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}
