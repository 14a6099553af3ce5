// Package catalog implements the schema catalog (component G): schema
// creation/drop with cascading, object registration, rename, and
// dependent-object recompilation, backed by internal/name's registry and
// implementing internal/rights.SchemaObjectLister so the rights manager
// can expand schema-level grants without importing the catalog package.
//
// The exclusive-lock-guarded map-of-maps structure follows the same
// pattern as the rest of the kernel's storage layer: one mutex
// protecting a small set of maps, no per-object locks.
package catalog

import (
	"fmt"
	"sync"

	"github.com/beads-db/kernel/internal/kernelerr"
	"github.com/beads-db/kernel/internal/name"
)

// Object is one schema member: a table, view, routine, sequence,
// trigger, or constraint tracked by the catalog.
type Object struct {
	Name       *name.Name
	Schema     *name.Name
	DependsOn  []*name.Name // objects this one references, for recompilation
}

// Catalog owns the set of schemas and their member objects.
type Catalog struct {
	mu sync.RWMutex

	registry *name.Registry

	schemas map[*name.Name]struct{}
	owners  map[*name.Name]*name.Name // schema -> owning grantee
	members map[*name.Name]map[*name.Name]*Object // schema -> local name -> object

	systemSchemas map[*name.Name]struct{}

	recompileFn func(obj *Object) error
}

// New constructs an empty catalog sharing registry with the rest of the
// engine (names must be interned through the same registry the rights
// manager and row stores use).
func New(registry *name.Registry) *Catalog {
	return &Catalog{
		registry:      registry,
		schemas:       make(map[*name.Name]struct{}),
		owners:        make(map[*name.Name]*name.Name),
		members:       make(map[*name.Name]map[*name.Name]*Object),
		systemSchemas: make(map[*name.Name]struct{}),
	}
}

// SetRecompileFunc installs the callback invoked on every transitive
// dependent of a renamed object, or of the object passed to
// RecompileDependentObjects; drops do not invoke it (spec.md §4.G
// "recompileDependentObjects"). Left nil, recompilation is skipped.
func (c *Catalog) SetRecompileFunc(fn func(obj *Object) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recompileFn = fn
}

// CreateSchema registers a new schema owned by owner. System schemas
// (created with system=true) reject later DropSchema calls with
// SCHEMA_NOT_MODIFIABLE, matching spec.md §4.G.
func (c *Catalog) CreateSchema(local string, owner *name.Name, system bool) *name.Name {
	c.mu.Lock()
	defer c.mu.Unlock()
	schema := c.registry.NewName(local, name.TypeSchema, nil)
	c.schemas[schema] = struct{}{}
	c.owners[schema] = owner
	c.members[schema] = make(map[*name.Name]*Object)
	if system {
		c.systemSchemas[schema] = struct{}{}
	}
	return schema
}

// DropSchema removes schema and, if cascade is true, every object it
// contains along with anything that references them transitively
// (spec.md §4.G, scenario S5). Without cascade, a non-empty schema
// returns SCHEMA_NOT_EMPTY and nothing is modified.
func (c *Catalog) DropSchema(schema *name.Name, cascade bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.schemas[schema]; !ok {
		return kernelerr.New(kernelerr.ObjectNotFound, schema.String())
	}
	if _, ok := c.systemSchemas[schema]; ok {
		return kernelerr.New(kernelerr.SchemaNotModifiable, schema.String())
	}

	members := c.members[schema]
	if len(members) > 0 && !cascade {
		return kernelerr.New(kernelerr.SchemaNotEmpty, schema.String())
	}

	for _, obj := range members {
		c.dropObjectLocked(obj, true)
	}

	delete(c.schemas, schema)
	delete(c.owners, schema)
	delete(c.members, schema)
	return nil
}

// AddSchemaObject registers obj under schema and records its dependency
// edges in the shared reference graph.
func (c *Catalog) AddSchemaObject(obj *Object) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.members[obj.Schema]
	if !ok {
		return kernelerr.New(kernelerr.ObjectNotFound, obj.Schema.String())
	}
	set[obj.Name] = obj
	c.registry.AddReferences(objectReferencer{obj})
	return nil
}

// RemoveSchemaObject drops obj. Without cascade, if anything still
// references obj, the drop is refused with OBJECT_REFERENCED (spec.md
// §4.G). With cascade, every transitive referrer is dropped too.
func (c *Catalog) RemoveSchemaObject(obj *Object, cascade bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !cascade {
		if refs := c.registry.ReferrersOf(obj.Name); len(refs) > 0 {
			return kernelerr.New(kernelerr.ObjectReferenced, obj.Name.String())
		}
	}
	c.dropObjectLocked(obj, cascade)
	return nil
}

func (c *Catalog) dropObjectLocked(obj *Object, cascade bool) {
	if cascade {
		for _, refName := range c.registry.CascadingReferrersOf(obj.Name) {
			if dep, ok := c.findObjectLocked(refName); ok {
				c.registry.RemoveReferences(objectReferencer{dep})
				delete(c.members[dep.Schema], dep.Name)
			}
		}
	}
	c.registry.RemoveReferences(objectReferencer{obj})
	if set, ok := c.members[obj.Schema]; ok {
		delete(set, obj.Name)
	}
}

func (c *Catalog) findObjectLocked(n *name.Name) (*Object, bool) {
	set, ok := c.members[n.Schema]
	if !ok {
		return nil, false
	}
	obj, ok := set[n]
	return obj, ok
}

// RenameSchemaObject renames obj's local identity to newLocal and
// recompiles every direct and transitive referrer (spec.md §4.G
// "renameSchemaObject"/"recompileDependentObjects").
func (c *Catalog) RenameSchemaObject(obj *Object, newLocal string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.members[obj.Schema]
	if !ok {
		return kernelerr.New(kernelerr.ObjectNotFound, obj.Name.String())
	}
	old := obj.Name
	delete(set, old)
	renamed := c.registry.NewName(newLocal, old.Type, old.Parent)
	obj.Name = renamed
	set[renamed] = obj

	return c.recompileDependentsLocked(old)
}

// RecompileDependentObjects re-runs the recompile callback over every
// transitive referrer of obj. Exported so DDL that changes an object's
// definition in place (without renaming it) can trigger the same
// invalidation sweep.
func (c *Catalog) RecompileDependentObjects(obj *Object) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recompileDependentsLocked(obj.Name)
}

func (c *Catalog) recompileDependentsLocked(n *name.Name) error {
	if c.recompileFn == nil {
		return nil
	}
	for _, refName := range c.registry.CascadingReferrersOf(n) {
		dep, ok := c.findObjectLocked(refName)
		if !ok {
			continue
		}
		if err := c.recompileFn(dep); err != nil {
			return fmt.Errorf("recompile %s: %w", dep.Name, err)
		}
	}
	return nil
}

// ChildrenOf and OwnerOf implement rights.SchemaObjectLister.
func (c *Catalog) ChildrenOf(schema *name.Name) []*name.Name {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.members[schema]
	out := make([]*name.Name, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	return out
}

func (c *Catalog) OwnerOf(schema *name.Name) *name.Name {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owners[schema]
}

// objectReferencer adapts *Object to name.Referencer.
type objectReferencer struct{ obj *Object }

func (r objectReferencer) ObjectName() *name.Name   { return r.obj.Name }
func (r objectReferencer) References() []*name.Name { return r.obj.DependsOn }
