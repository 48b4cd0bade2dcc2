package config

import (
	"net"
	"sync/atomic"

	"ferron/internal/condition"
)

// Graph is the immutable, post-normalization configuration snapshot
// described in spec.md §3 "ConfigGraph": a Filter Tree over host-scoped
// blocks for per-request lookup, plus a table of error-handler blocks
// kept out of the main tree (spec.md §4.1 "Error-handler entries are not
// part of the tree; they are stored in a separate per-endpoint table
// keyed by status").
type Graph struct {
	Blocks []*Block
	Global *Block

	tree          *Tree[*Block]
	errorByStatus map[uint16]*Tree[*Block]
	errorAny      *Tree[*Block]
}

// Build runs the full normalization pipeline (spec.md §4.1) over raw
// blocks produced by Load and returns the resulting Graph.
func Build(raw []*Block) *Graph {
	merged := MergeDuplicates(raw)
	withGlobal := EnsureGlobal(merged)
	premerged := Premerge(withGlobal)
	return newGraph(premerged)
}

func newGraph(blocks []*Block) *Graph {
	g := &Graph{
		Blocks:        blocks,
		Global:        FindGlobal(blocks),
		tree:          NewTree[*Block](),
		errorByStatus: map[uint16]*Tree[*Block]{},
		errorAny:      NewTree[*Block](),
	}
	for _, b := range blocks {
		if !b.Filter.IsHost {
			continue
		}
		key := KeyForFilter(b.Filter)
		if !b.Filter.ErrorHandlerStatus.IsSet() {
			g.tree.Insert(key, b)
			continue
		}
		if b.Filter.ErrorHandlerStatus.Kind == SpecificErrorStatus {
			status := b.Filter.ErrorHandlerStatus.Status
			t, ok := g.errorByStatus[status]
			if !ok {
				t = NewTree[*Block]()
				g.errorByStatus[status] = t
			}
			t.Insert(key, b)
		} else {
			g.errorAny.Insert(key, b)
		}
	}
	return g
}

// RequestKey bundles the coordinates a request is matched against, per
// spec.md §4.3's MatchData plus the axes the Filter Tree indexes on.
type RequestKey struct {
	IP       net.IP
	Port     uint16
	Host     string
	Location string
	Match    condition.MatchData
}

// Resolve returns the most specific host-scoped, non-error ConfigBlock
// applicable to a request.
func (g *Graph) Resolve(rk RequestKey) (*Block, bool) {
	key := KeyForRequest(true, rk.IP, rk.Port, rk.Host, rk.Location)
	return g.tree.Get(key, rk.Match)
}

// ResolveErrorHandler picks the error-handler block for status, per
// spec.md §4.2's pipeline step 2: "select the error-handler config block
// for that status (most-specific first: Status(n) before Any)".
func (g *Graph) ResolveErrorHandler(status uint16, rk RequestKey) (*Block, bool) {
	key := KeyForRequest(true, rk.IP, rk.Port, rk.Host, rk.Location)
	if t, ok := g.errorByStatus[status]; ok {
		if b, ok := t.Get(key, rk.Match); ok {
			return b, true
		}
	}
	return g.errorAny.Get(key, rk.Match)
}

// AtomicGraph holds the currently active Graph behind an atomic pointer,
// so a config reload can swap it in without handler goroutines observing
// a torn read — spec.md §3 "Lifecycle": "the configuration graph ...
// is immutable for the lifetime of the handler threads that reference
// it; a reload swaps the shared pointer atomically".
type AtomicGraph struct {
	ptr atomic.Pointer[Graph]
}

// NewAtomicGraph wraps an initial Graph for atomic access.
func NewAtomicGraph(g *Graph) *AtomicGraph {
	a := &AtomicGraph{}
	a.ptr.Store(g)
	return a
}

// Load returns the currently active Graph.
func (a *AtomicGraph) Load() *Graph { return a.ptr.Load() }

// Swap atomically installs g as the active Graph and returns the
// previous one, so callers can let in-flight requests finish draining
// against it before releasing any module-cache state tied to it.
func (a *AtomicGraph) Swap(g *Graph) *Graph { return a.ptr.Swap(g) }
