package beamsh

import (
	"reflect"
	"testing"
)

type fakeDevice struct {
	name string
	cats []Category
}

func (d fakeDevice) Name() string           { return d.name }
func (d fakeDevice) Categories() []Category { return d.cats }
func (d fakeDevice) Describe() string       { return "fake " + d.name }

func TestSetPreservesOrderAndReportsReplacement(t *testing.T) {
	ns := NewNamespace()
	if replaced := ns.Set("b", 1); replaced {
		t.Fatal("first Set reported replacement")
	}
	ns.Set("a", 2)
	if replaced := ns.Set("b", 3); !replaced {
		t.Fatal("second Set of b not reported as replacement")
	}

	if got := ns.Names(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("Names = %v", got)
	}
	if got := ns.SortedNames(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("SortedNames = %v", got)
	}
	if obj, _ := ns.Get("b"); obj != 3 {
		t.Fatalf("Get(b) = %v, want last write", obj)
	}
	if ns.Len() != 2 {
		t.Fatalf("Len = %d", ns.Len())
	}
}

func TestByCategoryScansNestedNamespaces(t *testing.T) {
	inner := NewNamespace()
	inner.Set("nested_motor", fakeDevice{name: "nested_motor", cats: []Category{CategoryMotor}})

	ns := NewNamespace()
	ns.Set("mot1", fakeDevice{name: "mot1", cats: []Category{CategoryMotor}})
	ns.Set("det1", fakeDevice{name: "det1", cats: []Category{CategoryDetector}})
	ns.Set("not_a_device", 42)
	ns.Set("group", inner)

	motors := ns.ByCategory(CategoryMotor)
	if got := motors.SortedNames(); !reflect.DeepEqual(got, []string{"mot1", "nested_motor"}) {
		t.Fatalf("motors = %v", got)
	}
	if motors.Doc("mot1") == "" {
		t.Fatal("doc not carried over")
	}

	if got := ns.ByCategory(CategorySlit).Len(); got != 0 {
		t.Fatalf("slits = %d", got)
	}
}

func TestMergeLastWriteWins(t *testing.T) {
	a := NewNamespace()
	a.Set("x", 1)
	a.Set("y", 1)

	b := NewNamespace()
	b.Set("y", 2)
	b.SetDoc("y", "from b")
	b.Set("z", 2)

	a.Merge(b)
	if obj, _ := a.Get("y"); obj != 2 {
		t.Fatalf("Get(y) = %v", obj)
	}
	if a.Doc("y") != "from b" {
		t.Fatalf("Doc(y) = %q", a.Doc("y"))
	}
	if a.Len() != 3 {
		t.Fatalf("Len = %d", a.Len())
	}
}

func TestLeavesCountsNested(t *testing.T) {
	inner := NewNamespace()
	inner.Set("a", 1)
	inner.Set("b", 2)

	ns := NewNamespace()
	ns.Set("top", 0)
	ns.Set("group", inner)

	if got := ns.Leaves(); got != 3 {
		t.Fatalf("Leaves = %d", got)
	}
}

func TestHasCategory(t *testing.T) {
	d := fakeDevice{name: "d", cats: []Category{CategoryMotor, CategorySlit}}
	if !HasCategory(d, CategorySlit) {
		t.Fatal("missing declared category")
	}
	if HasCategory(d, CategoryDetector) {
		t.Fatal("undeclared category reported")
	}
}
