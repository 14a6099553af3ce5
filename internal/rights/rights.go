// Package rights implements the grantee/rights model (component B):
// role inheritance, effective-rights computation, and grant/revoke with
// grant-option, grounded on the mutex-guarded, context-threaded style
// used throughout the kernel's storage layer, even though this
// component holds no SQL connection of its own.
package rights

import (
	"sync"

	"github.com/beads-db/kernel/internal/name"
)

// Privilege is a single bit in a Right's privilege bitset.
type Privilege uint16

const (
	Select Privilege = 1 << iota
	Insert
	Update
	Delete
	References
	Trigger
	Usage
	Execute
)

const columnScoped = Select | Insert | Update | References | Trigger

// Right is a grantee's privileges over one database object, granted by
// one grantor. Per spec.md §3, a grantee holds at most one Right per
// (object, grantor) pair; re-grants union into the same Right.
type Right struct {
	Object  *name.Name
	Privs   Privilege
	Grantor *name.Name

	// Column sets for the column-scoped subset of privileges. nil means
	// "all columns" (the privilege was granted table-wide).
	SelectCols     map[string]struct{}
	InsertCols     map[string]struct{}
	UpdateCols     map[string]struct{}
	ReferencesCols map[string]struct{}
	TriggerCols    map[string]struct{}

	// Grantable is the WITH GRANT OPTION projection: the sub-right this
	// grantee can pass on to others. nil if no privilege is grantable.
	Grantable *Right
}

func newRight(obj, grantor *name.Name) *Right {
	return &Right{Object: obj, Grantor: grantor}
}

// NewPrivilegeRight builds a table-wide (all-columns) Right requesting
// privs, for passing to GranteeManager.Grant. Pass 0 to request "every
// privilege the grantor can pass on" (spec.md §4.B's "full" grant
// substitution).
func NewPrivilegeRight(privs Privilege) *Right {
	return &Right{Privs: privs}
}

func (r *Right) clone() *Right {
	if r == nil {
		return nil
	}
	cp := *r
	cp.SelectCols = cloneSet(r.SelectCols)
	cp.InsertCols = cloneSet(r.InsertCols)
	cp.UpdateCols = cloneSet(r.UpdateCols)
	cp.ReferencesCols = cloneSet(r.ReferencesCols)
	cp.TriggerCols = cloneSet(r.TriggerCols)
	cp.Grantable = r.Grantable.clone()
	return &cp
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	if s == nil {
		return nil
	}
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// union merges other's privileges (and column sets) into r.
func (r *Right) union(other *Right) {
	r.Privs |= other.Privs
	r.SelectCols = unionSet(r.SelectCols, other.SelectCols, r.Privs&Select != 0)
	r.InsertCols = unionSet(r.InsertCols, other.InsertCols, r.Privs&Insert != 0)
	r.UpdateCols = unionSet(r.UpdateCols, other.UpdateCols, r.Privs&Update != 0)
	r.ReferencesCols = unionSet(r.ReferencesCols, other.ReferencesCols, r.Privs&References != 0)
	r.TriggerCols = unionSet(r.TriggerCols, other.TriggerCols, r.Privs&Trigger != 0)
}

// unionSet merges two column sets; a nil set on either side means
// "all columns" and collapses the union to nil (all columns), as long
// as the privilege bit in question is actually held table-wide.
func unionSet(a, b map[string]struct{}, privHeld bool) map[string]struct{} {
	if !privHeld {
		return nil
	}
	if a == nil || b == nil {
		return nil
	}
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

// subtract removes other's privileges from r. Returns true if r is now empty.
func (r *Right) subtract(other *Right) bool {
	r.Privs &^= other.Privs
	if r.Privs&Select == 0 {
		r.SelectCols = nil
	}
	if r.Privs&Insert == 0 {
		r.InsertCols = nil
	}
	if r.Privs&Update == 0 {
		r.UpdateCols = nil
	}
	if r.Privs&References == 0 {
		r.ReferencesCols = nil
	}
	if r.Privs&Trigger == 0 {
		r.TriggerCols = nil
	}
	return r.Privs == 0
}

// canColumns reports whether priv is held for every column in cols
// (nil/empty cols means "no column check needed").
func (r *Right) canColumns(priv Privilege, colSet map[string]struct{}, cols []string) bool {
	if r.Privs&priv == 0 {
		return false
	}
	if colSet == nil {
		return true // table-wide grant
	}
	for _, c := range cols {
		if _, ok := colSet[c]; !ok {
			return false
		}
	}
	return true
}

// CanSelect reports column-scoped SELECT access.
func (r *Right) CanSelect(cols ...string) bool { return r.canColumns(Select, r.SelectCols, cols) }

// CanInsert reports column-scoped INSERT access.
func (r *Right) CanInsert(cols ...string) bool { return r.canColumns(Insert, r.InsertCols, cols) }

// CanUpdate reports column-scoped UPDATE access.
func (r *Right) CanUpdate(cols ...string) bool { return r.canColumns(Update, r.UpdateCols, cols) }

// CanReference reports column-scoped REFERENCES access. Per spec.md §9,
// Grantee.checkTrigger is preserved as deliberately delegating to this
// check rather than a trigger-specific one (see Right.CheckTrigger).
func (r *Right) CanReference(cols ...string) bool {
	return r.canColumns(References, r.ReferencesCols, cols)
}

// Grantee is either a user or a role. PUBLIC is the singleton role
// merged into every non-role, non-PUBLIC, non-system grantee's
// effective rights (spec.md §3 invariant 2).
type Grantee struct {
	mu sync.RWMutex

	Object *name.Name
	IsRole bool
	IsPublic bool
	IsSystem bool

	directRights map[*name.Name][]*Right // one *Right per grantor per object
	directRoles  []*Grantee
	fullRights   map[*name.Name][]*Right

	// grantedRightsMap mirrors rights this grantee has handed out as
	// grantor, so a revoke-cascade can find what it granted.
	grantedRightsMap map[*name.Name][]*Right

	directAdmin   bool
	effectiveAdmin bool
}

func newGrantee(obj *name.Name, isRole bool) *Grantee {
	return &Grantee{
		Object:           obj,
		IsRole:           isRole,
		directRights:     make(map[*name.Name][]*Right),
		fullRights:       make(map[*name.Name][]*Right),
		grantedRightsMap: make(map[*name.Name][]*Right),
	}
}

// allRoles returns the full transitive closure of directRoles.
func (g *Grantee) allRoles() []*Grantee {
	seen := map[*Grantee]struct{}{}
	var order []*Grantee
	var walk func(*Grantee)
	walk = func(r *Grantee) {
		for _, role := range r.directRoles {
			if _, ok := seen[role]; ok {
				continue
			}
			seen[role] = struct{}{}
			order = append(order, role)
			walk(role)
		}
	}
	walk(g)
	return order
}

// findDirectRight finds the direct-right entry for (obj, grantor), if any.
func (g *Grantee) findDirectRight(obj, grantor *name.Name) *Right {
	for _, r := range g.directRights[obj] {
		if r.Grantor == grantor {
			return r
		}
	}
	return nil
}

// allGrantableRightsOn returns the union of this grantee's grantable
// (WITH GRANT OPTION) rights on obj, across every grantor.
func (g *Grantee) allGrantableRightsOn(obj *name.Name) *Right {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := newRight(obj, nil)
	if g.effectiveAdmin {
		out.Privs = Select | Insert | Update | Delete | References | Trigger | Usage | Execute
		return out
	}
	for _, r := range g.fullRights[obj] {
		if r.Grantable != nil {
			out.union(r.Grantable)
		}
	}
	return out
}

// isAccessible implements spec.md §4.B's access check.
func (g *Grantee) isAccessible(obj *name.Name, priv Privilege, schemaOwner func(schema *name.Name) *name.Name, public *Grantee) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.effectiveAdmin {
		return true
	}
	if owner := schemaOwner(obj.Schema); owner != nil && owner == g.Object {
		return true
	}
	for _, r := range g.fullRights[obj] {
		if r.Privs&priv != 0 {
			return true
		}
	}
	if public != nil && g != public && !g.IsPublic {
		return public.isAccessible(obj, priv, schemaOwner, nil)
	}
	return false
}
