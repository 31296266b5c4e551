package beamsh

import "sort"

// Namespace is an ordered name→object mapping with an optional parallel
// name→description mapping. Values may themselves be Namespaces to
// represent groupings ("all motors"). Names are unique within one level;
// insertion order is preserved for display, not lookup.
type Namespace struct {
	names []string
	objs  map[string]any
	docs  map[string]string
}

// NewNamespace returns an empty namespace.
func NewNamespace() *Namespace {
	return &Namespace{
		objs: make(map[string]any),
		docs: make(map[string]string),
	}
}

// Set stores obj under name, reporting whether an existing entry was
// replaced. Replacement is last-write-wins; callers that care about
// shadowing inspect the return value.
func (n *Namespace) Set(name string, obj any) (replaced bool) {
	if _, ok := n.objs[name]; ok {
		n.objs[name] = obj
		return true
	}
	n.names = append(n.names, name)
	n.objs[name] = obj
	return false
}

// SetDoc attaches a one-line description to name. The entry need not
// exist yet; descriptions for absent names are simply never shown.
func (n *Namespace) SetDoc(name, doc string) {
	n.docs[name] = doc
}

// Remove drops an entry and its doc, reporting whether it existed.
func (n *Namespace) Remove(name string) bool {
	if _, ok := n.objs[name]; !ok {
		return false
	}
	delete(n.objs, name)
	delete(n.docs, name)
	for i, existing := range n.names {
		if existing == name {
			n.names = append(n.names[:i], n.names[i+1:]...)
			break
		}
	}
	return true
}

// Rename moves an entry to a new name, keeping its doc. Renaming onto
// an existing name replaces it.
func (n *Namespace) Rename(oldName, newName string) bool {
	obj, ok := n.objs[oldName]
	if !ok || oldName == newName {
		return ok && oldName == newName
	}
	doc := n.docs[oldName]
	n.Remove(oldName)
	n.Set(newName, obj)
	if doc != "" {
		n.SetDoc(newName, doc)
	}
	return true
}

// Get returns the object stored under name.
func (n *Namespace) Get(name string) (any, bool) {
	obj, ok := n.objs[name]
	return obj, ok
}

// Doc returns the description for name, or "".
func (n *Namespace) Doc(name string) string {
	return n.docs[name]
}

// Names returns all names in insertion order.
func (n *Namespace) Names() []string {
	out := make([]string, len(n.names))
	copy(out, n.names)
	return out
}

// SortedNames returns all names in lexical order, for stable display.
func (n *Namespace) SortedNames() []string {
	out := n.Names()
	sort.Strings(out)
	return out
}

// Len returns the number of entries at this level.
func (n *Namespace) Len() int {
	return len(n.names)
}

// Walk visits every entry at this level in insertion order.
func (n *Namespace) Walk(fn func(name string, obj any)) {
	for _, name := range n.names {
		fn(name, n.objs[name])
	}
}

// ByCategory returns a new namespace holding every Device at this level
// that declares cat. Nested namespaces are scanned one level deep so
// grouped devices (sim hardware, cameras) are found too.
func (n *Namespace) ByCategory(cat Category) *Namespace {
	out := NewNamespace()
	n.Walk(func(name string, obj any) {
		switch v := obj.(type) {
		case Device:
			if HasCategory(v, cat) {
				out.Set(name, v)
				out.SetDoc(name, v.Describe())
			}
		case *Namespace:
			v.Walk(func(inner string, innerObj any) {
				if d, ok := innerObj.(Device); ok && HasCategory(d, cat) {
					out.Set(inner, d)
					out.SetDoc(inner, d.Describe())
				}
			})
		}
	})
	return out
}

// Merge copies every entry (and doc) of other into n, last write wins.
func (n *Namespace) Merge(other *Namespace) {
	other.Walk(func(name string, obj any) {
		n.Set(name, obj)
		if doc := other.Doc(name); doc != "" {
			n.SetDoc(name, doc)
		}
	})
}

// Leaves counts the non-namespace objects in the tree rooted at n.
func (n *Namespace) Leaves() int {
	count := 0
	n.Walk(func(_ string, obj any) {
		if sub, ok := obj.(*Namespace); ok {
			count += sub.Leaves()
		} else {
			count++
		}
	})
	return count
}
