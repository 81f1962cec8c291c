package routes

import (
	cserrors "github.com/theory-cloud/cleanserverless/pkg/errors"
	"github.com/theory-cloud/cleanserverless/pkg/naming"
)

// Table is an ordered, immutable set of route definitions.
//
// The zero value is an empty, unvalidated table; use NewTable.
type Table struct {
	defs   []Definition
	byName map[string]int
}

// NewTable validates defs and freezes them in the given order.
func NewTable(defs ...Definition) (Table, error) {
	byName := make(map[string]int, len(defs))
	byKey := make(map[string]string, len(defs))
	byLogicalID := make(map[string]string, len(defs))
	out := make([]Definition, 0, len(defs))

	for i, def := range defs {
		if err := def.Validate(); err != nil {
			return Table{}, err
		}
		if _, dup := byName[def.Name]; dup {
			return Table{}, cserrors.Configuration("duplicate route name %q", def.Name)
		}
		if other, dup := byKey[def.Key()]; dup {
			return Table{}, cserrors.Configuration("routes %q and %q both bind %s", other, def.Name, def.Key())
		}
		id := naming.LogicalID(def.Name)
		if id == "" {
			return Table{}, cserrors.Configuration("route name %q yields an empty construct id", def.Name)
		}
		if other, dup := byLogicalID[id]; dup {
			return Table{}, cserrors.Configuration("routes %q and %q share construct id %q", other, def.Name, id)
		}
		byName[def.Name] = i
		byKey[def.Key()] = def.Name
		byLogicalID[id] = def.Name
		out = append(out, def)
	}

	return Table{defs: out, byName: byName}, nil
}

// MustTable is NewTable for package-level fixtures; it panics on error.
func MustTable(defs ...Definition) Table {
	t, err := NewTable(defs...)
	if err != nil {
		panic(err)
	}
	return t
}

// Validated reports whether the table came from NewTable.
func (t Table) Validated() bool { return t.byName != nil }

func (t Table) Len() int { return len(t.defs) }

// All returns a copy of the definitions in table order.
func (t Table) All() []Definition {
	return append([]Definition(nil), t.defs...)
}

// Each calls fn for every definition in order, stopping at the first error.
func (t Table) Each(fn func(Definition) error) error {
	for _, def := range t.defs {
		if err := fn(def); err != nil {
			return err
		}
	}
	return nil
}

func (t Table) Lookup(name string) (Definition, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Definition{}, false
	}
	return t.defs[i], true
}
