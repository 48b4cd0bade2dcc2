package config

import "sort"

// Block is `{filter, entries: map<name,Entries>}` from spec.md §3
// "ConfigBlock". The loaded-module list a real ConfigBlock also carries
// lives one layer up, in package module, keyed by the block's
// StructuralHash — keeping modules out of this package avoids a
// config<->module import cycle (module.ModuleLoader.load_module takes a
// *Block as input).
type Block struct {
	Filter  Filter
	Entries map[string]Entries
}

// NewBlock returns an empty Block for the given filter.
func NewBlock(f Filter) *Block {
	return &Block{Filter: f, Entries: map[string]Entries{}}
}

// Get returns the Entries for a property name, or nil if absent.
func (b *Block) Get(name string) Entries {
	return b.Entries[name]
}

// GetOne returns the first Entry for a property name.
func (b *Block) GetOne(name string) (Entry, bool) {
	es := b.Entries[name]
	return es.First()
}

// Has reports whether name is present with at least one truthy value,
// per spec.md §4.1 load_modules "presence (as a non-null, non-false
// value)".
func (b *Block) Has(name string) bool {
	es, ok := b.Entries[name]
	if !ok || len(es) == 0 {
		return false
	}
	for _, e := range es {
		for _, a := range e.Args {
			if a.IsTruthy() {
				return true
			}
		}
		if len(e.Args) == 0 {
			// a bare directive with no args (e.g. `auto_tls`) counts as
			// present/true.
			return true
		}
	}
	return false
}

// Append adds an Entry under name, preserving declaration order
// (spec.md §3 "ConfigEntries ... preserving declaration order").
func (b *Block) Append(name string, e Entry) {
	b.Entries[name] = append(b.Entries[name], e)
}

// SetScalar replaces all entries for name with a single entry — used by
// premerge's "scalar overrides replace" rule.
func (b *Block) SetScalar(name string, e Entry) {
	b.Entries[name] = Entries{e}
}

// PropertyNames returns all property names present on the block, sorted,
// for deterministic structural hashing and "unused property" warnings.
func (b *Block) PropertyNames() []string {
	names := make([]string, 0, len(b.Entries))
	for n := range b.Entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsEmpty reports whether the block carries no properties at all,
// per spec.md §4.1 ensure_global's "drop blocks whose entry map is
// empty".
func (b *Block) IsEmpty() bool {
	return len(b.Entries) == 0
}

// Clone returns a deep-enough copy of b suitable for premerge's
// "inherit its entries" step without aliasing the parent's slices.
func (b *Block) Clone() *Block {
	out := NewBlock(b.Filter)
	for name, es := range b.Entries {
		cp := make(Entries, len(es))
		copy(cp, es)
		out.Entries[name] = cp
	}
	return out
}
