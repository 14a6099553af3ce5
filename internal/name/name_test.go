package name_test

import (
	"sort"
	"testing"

	"github.com/beads-db/kernel/internal/name"
	"github.com/stretchr/testify/assert"
)

// refObject is a minimal name.Referencer for exercising the registry
// without pulling in the catalog package.
type refObject struct {
	self *name.Name
	refs []*name.Name
}

func (r *refObject) ObjectName() *name.Name  { return r.self }
func (r *refObject) References() []*name.Name { return r.refs }

func localNames(ns []*name.Name) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Local
	}
	sort.Strings(out)
	return out
}

func TestNamesCompareByIdentityNotValue(t *testing.T) {
	reg := name.NewRegistry()
	schema := reg.NewName("PUBLIC", name.TypeSchema, nil)
	a := reg.NewName("T", name.TypeTable, schema)
	b := reg.NewName("T", name.TypeTable, schema)
	assert.NotSame(t, a, b)
	assert.Equal(t, a.Local, b.Local)
}

func TestDirectReferrers(t *testing.T) {
	reg := name.NewRegistry()
	schema := reg.NewName("PUBLIC", name.TypeSchema, nil)
	t1 := reg.NewName("ACCOUNTS", name.TypeTable, schema)
	t2 := reg.NewName("TRANSFERS", name.TypeTable, schema)

	fk := &refObject{self: t2, refs: []*name.Name{t1}}
	reg.AddReferences(fk)

	assert.Equal(t, []string{"TRANSFERS"}, localNames(reg.ReferrersOf(t1)))
	assert.Empty(t, reg.ReferrersOf(t2))
}

func TestRemoveReferences(t *testing.T) {
	reg := name.NewRegistry()
	schema := reg.NewName("PUBLIC", name.TypeSchema, nil)
	t1 := reg.NewName("ACCOUNTS", name.TypeTable, schema)
	t2 := reg.NewName("TRANSFERS", name.TypeTable, schema)

	fk := &refObject{self: t2, refs: []*name.Name{t1}}
	reg.AddReferences(fk)
	reg.RemoveReferences(fk)

	assert.Empty(t, reg.ReferrersOf(t1))
}

func TestCascadingReferrersOfTransitiveClosure(t *testing.T) {
	reg := name.NewRegistry()
	schema := reg.NewName("PUBLIC", name.TypeSchema, nil)
	t1 := reg.NewName("T1", name.TypeTable, schema)
	t2 := reg.NewName("T2", name.TypeTable, schema)
	t3 := reg.NewName("T3", name.TypeTable, schema)

	// t2 references t1, t3 references t2: dropping t1 must cascade to both.
	reg.AddReferences(&refObject{self: t2, refs: []*name.Name{t1}})
	reg.AddReferences(&refObject{self: t3, refs: []*name.Name{t2}})

	got := localNames(reg.CascadingReferrersOf(t1))
	assert.Equal(t, []string{"T2", "T3"}, got)
}

func TestCascadingReferrersOfHandlesCycle(t *testing.T) {
	reg := name.NewRegistry()
	schema := reg.NewName("PUBLIC", name.TypeSchema, nil)
	t1 := reg.NewName("T1", name.TypeTable, schema)
	t2 := reg.NewName("T2", name.TypeTable, schema)

	// a cycle: t1 references t2 and t2 references t1.
	reg.AddReferences(&refObject{self: t1, refs: []*name.Name{t2}})
	reg.AddReferences(&refObject{self: t2, refs: []*name.Name{t1}})

	// must terminate and must not include t1 itself as a "new" addition
	// beyond the cycle route-back.
	got := reg.CascadingReferrersOf(t1)
	assert.Len(t, got, 1)
	assert.Equal(t, "T2", got[0].Local)
}

func TestReferrersInSchemaFiltersByOwner(t *testing.T) {
	reg := name.NewRegistry()
	pub := reg.NewName("PUBLIC", name.TypeSchema, nil)
	other := reg.NewName("OTHER", name.TypeSchema, nil)
	t1 := reg.NewName("T1", name.TypeTable, pub)
	v1 := reg.NewName("V1", name.TypeView, pub)
	v2 := reg.NewName("V2", name.TypeView, other)

	reg.AddReferences(&refObject{self: v1, refs: []*name.Name{t1}})
	reg.AddReferences(&refObject{self: v2, refs: []*name.Name{t1}})

	got := localNames(reg.ReferrersInSchema(t1, pub))
	assert.Equal(t, []string{"V1"}, got)
}
