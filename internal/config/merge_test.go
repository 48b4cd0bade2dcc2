package config

import (
	"testing"
)

func strp(s string) *string { return &s }
func u16p(u uint16) *uint16 { return &u }

func TestMergeDuplicates_AppendsEntries(t *testing.T) {
	f := Filter{IsHost: true, Hostname: strp("a.com")}
	b1 := NewBlock(f)
	b1.Append("root", Entry{Args: []Value{String("/var/www")}})
	b2 := NewBlock(f)
	b2.Append("root", Entry{Args: []Value{String("/srv")}})

	out := MergeDuplicates([]*Block{b1, b2})
	if len(out) != 1 {
		t.Fatalf("expected 1 merged block, got %d", len(out))
	}
	if len(out[0].Entries["root"]) != 2 {
		t.Fatalf("expected 2 root entries after merge, got %d", len(out[0].Entries["root"]))
	}
}

func TestEnsureGlobal_AddsMissingGlobalBlock(t *testing.T) {
	host := NewBlock(Filter{IsHost: true, Hostname: strp("a.com")})
	host.Append("root", Entry{Args: []Value{String("/var/www")}})

	out := EnsureGlobal([]*Block{host})
	found := false
	for _, b := range out {
		if b.Filter.IsGlobalNonHost() {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a synthesized global block")
	}
}

func TestEnsureGlobal_DropsEmptyBlocks(t *testing.T) {
	empty := NewBlock(Filter{IsHost: true, Hostname: strp("empty.com")})
	out := EnsureGlobal([]*Block{empty})
	for _, b := range out {
		if b == empty {
			t.Fatal("expected empty block to be dropped")
		}
	}
}

func TestPremerge_HostInheritsGlobalProperty(t *testing.T) {
	global := NewBlock(Filter{})
	global.Append("log", Entry{Args: []Value{String("/var/log/ferron.log")}})

	host := NewBlock(Filter{IsHost: true, Hostname: strp("a.com")})
	host.Append("root", Entry{Args: []Value{String("/var/www/a")}})

	out := Premerge([]*Block{global, host})

	var hostOut *Block
	for _, b := range out {
		if b.Filter.IsHost {
			hostOut = b
		}
	}
	if hostOut == nil {
		t.Fatal("expected host block in output")
	}
	if len(hostOut.Entries["log"]) != 1 {
		t.Fatalf("expected inherited log entry, got %d", len(hostOut.Entries["log"]))
	}
	if len(hostOut.Entries["root"]) != 1 {
		t.Fatalf("expected own root entry preserved, got %d", len(hostOut.Entries["root"]))
	}
}

func TestPremerge_ChildPropertyOverridesParent(t *testing.T) {
	parent := NewBlock(Filter{IsHost: true, Hostname: strp("a.com")})
	parent.Append("root", Entry{Args: []Value{String("/parent")}})

	child := NewBlock(Filter{IsHost: true, Hostname: strp("a.com"), LocationPrefix: strp("/api")})
	child.Append("root", Entry{Args: []Value{String("/child")}})

	out := Premerge([]*Block{parent, child})

	var childOut *Block
	for _, b := range out {
		if b.Filter.LocationPrefix != nil {
			childOut = b
		}
	}
	if childOut == nil {
		t.Fatal("expected location block in output")
	}
	if len(childOut.Entries["root"]) != 1 || childOut.Entries["root"][0].ArgString(0) != "/child" {
		t.Fatalf("expected child root entry to win, got %#v", childOut.Entries["root"])
	}
}

func TestPremerge_UnrelatedHostDoesNotInherit(t *testing.T) {
	hostA := NewBlock(Filter{IsHost: true, Hostname: strp("a.com")})
	hostA.Append("root", Entry{Args: []Value{String("/a")}})

	hostB := NewBlock(Filter{IsHost: true, Hostname: strp("b.com")})

	out := Premerge([]*Block{hostA, hostB})

	var bOut *Block
	for _, b := range out {
		if b.Filter.Hostname != nil && *b.Filter.Hostname == "b.com" {
			bOut = b
		}
	}
	if bOut == nil {
		t.Fatal("expected b.com block in output")
	}
	if len(bOut.Entries["root"]) != 0 {
		t.Fatalf("expected no cross-host inheritance, got %#v", bOut.Entries["root"])
	}
}

func TestFindGlobal(t *testing.T) {
	global := NewBlock(Filter{})
	host := NewBlock(Filter{IsHost: true, Hostname: strp("a.com")})
	got := FindGlobal([]*Block{host, global})
	if got != global {
		t.Fatal("expected FindGlobal to return the global block")
	}
}

var _ = u16p
