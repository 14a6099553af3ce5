// Package name interns database object identities and tracks the
// reference graph between them (component A of the transactional
// storage kernel). Two Names compare by pointer identity, never by
// string value, matching the catalog's invariant that equal names are
// always the same object.
package name

import "fmt"

// Type tags the kind of database object a Name identifies.
type Type int

const (
	TypeSchema Type = iota
	TypeTable
	TypeColumn
	TypeIndex
	TypeConstraint
	TypeSequence
	TypeRoutine
	TypeTrigger
	TypeGrantee
	TypeView
	TypeType
	TypeCharset
	TypeCollation
	TypeAssertion
)

func (t Type) String() string {
	switch t {
	case TypeSchema:
		return "SCHEMA"
	case TypeTable:
		return "TABLE"
	case TypeColumn:
		return "COLUMN"
	case TypeIndex:
		return "INDEX"
	case TypeConstraint:
		return "CONSTRAINT"
	case TypeSequence:
		return "SEQUENCE"
	case TypeRoutine:
		return "ROUTINE"
	case TypeTrigger:
		return "TRIGGER"
	case TypeGrantee:
		return "GRANTEE"
	case TypeView:
		return "VIEW"
	case TypeType:
		return "TYPE"
	case TypeCharset:
		return "CHARSET"
	case TypeCollation:
		return "COLLATION"
	case TypeAssertion:
		return "ASSERTION"
	default:
		return "UNKNOWN"
	}
}

// Name is an interned, immutable object identity. Values are only ever
// handed out by Registry.NewName; never construct one directly, or identity
// comparison (==) loses its meaning.
type Name struct {
	Local   string // unquoted local name as written by the user
	Quoted  string // statement-quoted form, e.g. "MyTable"
	Type    Type
	Schema  *Name // owning schema, nil for schema names themselves
	Parent  *Name // owning table/routine for columns, indexes, constraints
	Owner   *Name // owning grantee
}

func (n *Name) String() string {
	if n == nil {
		return "<nil>"
	}
	if n.Schema != nil {
		return fmt.Sprintf("%s.%s", n.Schema.Local, n.Local)
	}
	return n.Local
}

// Referencer is anything that can name other objects it depends on.
// SchemaObject implementations (tables via foreign keys, views via their
// compiled query, routines via calls, triggers via their body) supply
// this so the registry can maintain the reference graph.
type Referencer interface {
	ObjectName() *Name
	References() []*Name
}

// Registry interns Names and maintains the referent -> {referrers}
// reference-graph multimap described in spec.md §3/§4.A. All mutation
// happens under the owning catalog's exclusive lock; Registry itself
// does no locking.
type Registry struct {
	referrers map[*Name]map[*Name]struct{}
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{referrers: make(map[*Name]map[*Name]struct{})}
}

// NewName interns a new Name. Uniqueness within a schema is enforced by
// the schema's object sets, not here.
func (r *Registry) NewName(local string, typ Type, parent *Name) *Name {
	n := &Name{Local: local, Quoted: quote(local), Type: typ, Parent: parent}
	if parent != nil {
		if parent.Type == TypeSchema {
			n.Schema = parent
		} else {
			n.Schema = parent.Schema
		}
	}
	return n
}

func quote(s string) string {
	return `"` + s + `"`
}

// AddReferences inserts an edge referent -> from for every name that
// from references.
func (r *Registry) AddReferences(from Referencer) {
	for _, referent := range from.References() {
		set, ok := r.referrers[referent]
		if !ok {
			set = make(map[*Name]struct{})
			r.referrers[referent] = set
		}
		set[from.ObjectName()] = struct{}{}
	}
}

// RemoveReferences removes the edges added by AddReferences for from.
func (r *Registry) RemoveReferences(from Referencer) {
	self := from.ObjectName()
	for _, referent := range from.References() {
		if set, ok := r.referrers[referent]; ok {
			delete(set, self)
			if len(set) == 0 {
				delete(r.referrers, referent)
			}
		}
	}
}

// ReferrersOf returns the direct referrers of name, in no particular order.
func (r *Registry) ReferrersOf(n *Name) []*Name {
	set, ok := r.referrers[n]
	if !ok {
		return nil
	}
	out := make([]*Name, 0, len(set))
	for ref := range set {
		out = append(out, ref)
	}
	return out
}

// CascadingReferrersOf computes the transitive closure of referrers of
// name: the referrers of name, the referrers of those, and so on, until
// no new referrer is added. The returned slice never includes name
// itself, even when a cycle routes back to it.
func (r *Registry) CascadingReferrersOf(n *Name) []*Name {
	seen := map[*Name]struct{}{n: {}}
	var order []*Name
	queue := []*Name{n}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ref := range r.ReferrersOf(cur) {
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			order = append(order, ref)
			queue = append(queue, ref)
		}
	}
	return order
}

// ReferrersInSchema filters ReferrersOf(n) to those names owned by schema.
func (r *Registry) ReferrersInSchema(n *Name, schema *Name) []*Name {
	var out []*Name
	for _, ref := range r.ReferrersOf(n) {
		if ref.Schema == schema {
			out = append(out, ref)
		}
	}
	return out
}
