package config

import "sort"

// MergeDuplicates combines blocks with byte-identical filters by
// list-appending each matching Entries, per spec.md §4.1
// "merge_duplicates", ported from
// original_source/ferron/src/config/processing.rs `merge_duplicates`.
func MergeDuplicates(blocks []*Block) []*Block {
	var out []*Block
	for len(blocks) > 0 {
		cur := blocks[0]
		blocks = blocks[1:]

		rest := blocks[:0:0]
		for _, b := range blocks {
			if b.Filter.Equal(cur.Filter) {
				for name, es := range b.Entries {
					cur.Entries[name] = append(cur.Entries[name], es...)
				}
			} else {
				rest = append(rest, b)
			}
		}
		blocks = rest
		out = append(out, cur)
	}
	return out
}

// EnsureGlobal drops empty blocks and guarantees exactly one
// global-non-host block exists, per spec.md §4.1 "ensure_global", ported
// from `remove_and_add_global_configuration`.
func EnsureGlobal(blocks []*Block) []*Block {
	var out []*Block
	hasGlobal := false
	for _, b := range blocks {
		if b.IsEmpty() {
			continue
		}
		if b.Filter.IsGlobalNonHost() {
			hasGlobal = true
		}
		out = append(out, b)
	}
	if !hasGlobal {
		out = append([]*Block{NewBlock(Filter{})}, out...)
	}
	return out
}

// Premerge sorts blocks by ascending specificity and, for each block
// from most to least specific, inherits the entries of every strictly
// dominating ancestor still in the working set — spec.md §4.1
// "premerge": "for each block, locate every strictly-dominating
// ancestor ... and inherit its entries. Rule per property inside a given
// layer: the first time a property is seen in the layer it replaces the
// child's values; subsequent appearances in the same layer append."
//
// Ported from `premerge_configuration`, generalized from that function's
// six hand-written single-axis inheritance cases to a direct use of
// Filter.Dominates so the conditional axis — absent from the original's
// six cases — inherits correctly too (see DESIGN.md).
func Premerge(blocks []*Block) []*Block {
	sorted := make([]*Block, len(blocks))
	copy(sorted, blocks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Filter.Less(sorted[j].Filter)
	})

	var result []*Block
	remaining := sorted
	for len(remaining) > 0 {
		cur := remaining[len(remaining)-1]
		remaining = remaining[:len(remaining)-1]

		var layers []*Block
		for i := len(remaining) - 1; i >= 0; i-- {
			if remaining[i].Filter.Dominates(cur.Filter) {
				layers = append(layers, remaining[i])
			}
		}

		merged := cur.Entries
		for _, parent := range layers {
			inLayer := map[string]bool{}
			next := cloneEntries(parent.Entries)
			for name, es := range merged {
				if existing, ok := next[name]; ok {
					if inLayer[name] {
						next[name] = append(existing, es...)
					} else {
						next[name] = append(Entries{}, es...)
					}
				} else {
					next[name] = append(Entries{}, es...)
				}
				inLayer[name] = true
			}
			merged = next
		}
		cur.Entries = merged
		result = append(result, cur)
	}

	// Restore ascending-specificity order (the pop loop above consumed
	// most-specific-first).
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

func cloneEntries(m map[string]Entries) map[string]Entries {
	out := make(map[string]Entries, len(m))
	for k, v := range m {
		cp := make(Entries, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// FindGlobal returns the single global-non-host block, per spec.md §3
// invariant. Callers should only invoke this after EnsureGlobal.
func FindGlobal(blocks []*Block) *Block {
	for _, b := range blocks {
		if b.Filter.IsGlobalNonHost() {
			return b
		}
	}
	return nil
}
