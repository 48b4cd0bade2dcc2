package config

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// StructuralHash computes the 64-bit structural identity of a block
// (spec.md §3 NEW in SPEC_FULL.md): a hash of its filter plus a sorted
// snapshot of its entries. Two blocks that would behave identically at
// request time hash identically, which is what lets a reload reuse a
// loaded module instance across a block whose filter and properties
// didn't change (spec.md §3 "module-cache ... reuses entries whose
// block identity is unchanged").
func (b *Block) StructuralHash() uint64 {
	h := xxhash.New()
	writeFilter(h, b.Filter)
	for _, name := range b.PropertyNames() {
		_, _ = h.WriteString("\x00prop:")
		_, _ = h.WriteString(name)
		for _, e := range b.Entries[name] {
			_, _ = h.WriteString("\x00entry")
			for _, a := range e.Args {
				_, _ = h.WriteString("\x00")
				_, _ = h.WriteString(strconv.Itoa(int(a.Kind)))
				_, _ = h.WriteString(":")
				_, _ = h.WriteString(a.String())
			}
			if len(e.Named) > 0 {
				keys := make([]string, 0, len(e.Named))
				for k := range e.Named {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					_, _ = h.WriteString("\x00n:")
					_, _ = h.WriteString(k)
					_, _ = h.WriteString("=")
					_, _ = h.WriteString(e.Named[k].String())
				}
			}
		}
	}
	return h.Sum64()
}

func writeFilter(h *xxhash.Digest, f Filter) {
	_, _ = h.WriteString("host:")
	if f.IsHost {
		_, _ = h.WriteString("1")
	} else {
		_, _ = h.WriteString("0")
	}
	_, _ = h.WriteString("\x00hostname:")
	if f.Hostname != nil {
		_, _ = h.WriteString(*f.Hostname)
	}
	_, _ = h.WriteString("\x00ip:")
	if f.IP != nil {
		_, _ = h.WriteString(f.IP.String())
	}
	_, _ = h.WriteString("\x00port:")
	if f.Port != nil {
		_, _ = h.WriteString(strconv.Itoa(int(*f.Port)))
	}
	_, _ = h.WriteString("\x00loc:")
	if f.LocationPrefix != nil {
		_, _ = h.WriteString(*f.LocationPrefix)
	}
	_, _ = h.WriteString("\x00cond:")
	for _, c := range f.Conditional {
		_, _ = h.WriteString(c.String())
		_, _ = h.WriteString(",")
	}
	_, _ = h.WriteString("\x00err:")
	if f.ErrorHandlerStatus.IsSet() {
		_, _ = h.WriteString(strconv.Itoa(int(f.ErrorHandlerStatus.Kind)))
		_, _ = h.WriteString(":")
		_, _ = h.WriteString(strconv.Itoa(int(f.ErrorHandlerStatus.Status)))
	}
}
