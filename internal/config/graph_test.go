package config

import (
	"testing"
)

func TestBuild_HostResolvesWithInheritedGlobalProperty(t *testing.T) {
	global := NewBlock(Filter{})
	global.Append("log", Entry{Args: []Value{String("/var/log/ferron.log")}})

	host := NewBlock(Filter{IsHost: true, Hostname: strp("example.com")})
	host.Append("root", Entry{Args: []Value{String("/var/www")}})

	g := Build([]*Block{global, host})

	b, ok := g.Resolve(RequestKey{Port: 80, Host: "example.com"})
	if !ok {
		t.Fatal("expected a resolved block for example.com")
	}
	if len(b.Entries["root"]) != 1 {
		t.Fatalf("expected root entry, got %#v", b.Entries)
	}
	if len(b.Entries["log"]) != 1 {
		t.Fatalf("expected inherited log entry, got %#v", b.Entries)
	}
}

func TestBuild_LocationMoreSpecificThanHost(t *testing.T) {
	host := NewBlock(Filter{IsHost: true, Hostname: strp("example.com")})
	host.Append("root", Entry{Args: []Value{String("/var/www")}})

	loc := NewBlock(Filter{IsHost: true, Hostname: strp("example.com"), LocationPrefix: strp("/api")})
	loc.Append("proxy", Entry{Args: []Value{String("http://localhost:9000")}})

	g := Build([]*Block{host, loc})

	b, ok := g.Resolve(RequestKey{Port: 80, Host: "example.com", Location: "/api/users"})
	if !ok {
		t.Fatal("expected a resolved block")
	}
	if len(b.Entries["proxy"]) != 1 {
		t.Fatalf("expected the /api block to match, got %#v", b.Entries)
	}

	b2, ok := g.Resolve(RequestKey{Port: 80, Host: "example.com", Location: "/other"})
	if !ok {
		t.Fatal("expected a resolved block for /other")
	}
	if len(b2.Entries["proxy"]) != 0 {
		t.Fatalf("expected the plain host block to match /other, got %#v", b2.Entries)
	}
}

func TestGraph_ResolveErrorHandlerPrefersSpecificStatus(t *testing.T) {
	host := NewBlock(Filter{IsHost: true, Hostname: strp("example.com")})

	any := NewBlock(Filter{IsHost: true, Hostname: strp("example.com"), ErrorHandlerStatus: ErrorStatus{Kind: AnyErrorStatus}})
	any.Append("error_page", Entry{Args: []Value{String("/any.html")}})

	specific := NewBlock(Filter{IsHost: true, Hostname: strp("example.com"), ErrorHandlerStatus: ErrorStatus{Kind: SpecificErrorStatus, Status: 404}})
	specific.Append("error_page", Entry{Args: []Value{String("/404.html")}})

	g := Build([]*Block{host, any, specific})

	rk := RequestKey{Port: 80, Host: "example.com"}
	b, ok := g.ResolveErrorHandler(404, rk)
	if !ok || b.Entries["error_page"][0].ArgString(0) != "/404.html" {
		t.Fatalf("expected the 404-specific handler, got %#v ok=%v", b, ok)
	}

	b, ok = g.ResolveErrorHandler(500, rk)
	if !ok || b.Entries["error_page"][0].ArgString(0) != "/any.html" {
		t.Fatalf("expected the any-status handler as fallback, got %#v ok=%v", b, ok)
	}
}

func TestAtomicGraph_SwapReplacesActiveGraph(t *testing.T) {
	g1 := Build([]*Block{NewBlock(Filter{})})
	ag := NewAtomicGraph(g1)
	if ag.Load() != g1 {
		t.Fatal("expected initial load to return g1")
	}

	host := NewBlock(Filter{IsHost: true, Hostname: strp("new.example.com")})
	g2 := Build([]*Block{host})
	prev := ag.Swap(g2)
	if prev != g1 {
		t.Fatal("expected swap to return the previous graph")
	}
	if ag.Load() != g2 {
		t.Fatal("expected load to now return g2")
	}
}
