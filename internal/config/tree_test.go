package config

import (
	"net"
	"testing"

	"ferron/internal/condition"
)

func TestTree_BasicWildcardAndOverlap(t *testing.T) {
	tree := NewTree[string]()
	tree.Insert([]SingleKey{
		{Kind: KeyPort, Num: 80},
		{Kind: KeyHostDomainLevel, Str: "com"},
		{Kind: KeyHostDomainLevel, Str: "example"},
		{Kind: KeyHostDomainLevelWildcard},
	}, "Example")
	tree.Insert([]SingleKey{
		{Kind: KeyPort, Num: 80},
		{Kind: KeyHostDomainLevel, Str: "com"},
		{Kind: KeyHostDomainLevel, Str: "example2"},
		{Kind: KeyHostDomainLevel, Str: "www"},
	}, "Example 2")

	cases := []struct {
		host string
		want string
		ok   bool
	}{
		{"www.example.com", "Example", true},
		{"subsite.example.com", "Example", true},
		{"www.example2.com", "Example 2", true},
		{"www.example3.com", "", false},
	}
	for _, c := range cases {
		key := KeyForRequest(false, nil, 80, c.host, "")
		got, ok := tree.Get(key, condition.MatchData{})
		if ok != c.ok || got != c.want {
			t.Errorf("host=%s: got (%q,%v), want (%q,%v)", c.host, got, ok, c.want, c.ok)
		}
	}
}

func TestTree_EmptyTree(t *testing.T) {
	tree := NewTree[string]()
	_, ok := tree.Get(nil, condition.MatchData{})
	if ok {
		t.Fatal("expected no match on empty tree")
	}
}

func TestTree_SingleKey(t *testing.T) {
	tree := NewTree[string]()
	tree.Insert([]SingleKey{{Kind: KeyPort, Num: 80}}, "Port 80")
	got, ok := tree.Get([]SingleKey{{Kind: KeyPort, Num: 80}}, condition.MatchData{})
	if !ok || got != "Port 80" {
		t.Fatalf("got (%q,%v)", got, ok)
	}
}

func TestTree_PartialKeyDoesNotMatchDeeperOnlyValue(t *testing.T) {
	tree := NewTree[string]()
	tree.Insert([]SingleKey{
		{Kind: KeyPort, Num: 80},
		{Kind: KeyHostDomainLevel, Str: "com"},
		{Kind: KeyHostDomainLevel, Str: "example"},
	}, "Partial")

	_, ok := tree.Get([]SingleKey{
		{Kind: KeyPort, Num: 80},
		{Kind: KeyHostDomainLevel, Str: "com"},
	}, condition.MatchData{})
	if ok {
		t.Fatal("expected no match for a prefix shorter than the inserted key")
	}
}

func TestTree_OverlappingKeysPreferMostSpecific(t *testing.T) {
	tree := NewTree[string]()
	tree.Insert([]SingleKey{
		{Kind: KeyPort, Num: 80},
		{Kind: KeyHostDomainLevel, Str: "com"},
	}, "First")
	tree.Insert([]SingleKey{
		{Kind: KeyPort, Num: 80},
		{Kind: KeyHostDomainLevel, Str: "com"},
		{Kind: KeyHostDomainLevel, Str: "example"},
	}, "Second")

	got, ok := tree.Get([]SingleKey{
		{Kind: KeyPort, Num: 80},
		{Kind: KeyHostDomainLevel, Str: "com"},
	}, condition.MatchData{})
	if !ok || got != "First" {
		t.Fatalf("got (%q,%v), want First", got, ok)
	}

	got, ok = tree.Get([]SingleKey{
		{Kind: KeyPort, Num: 80},
		{Kind: KeyHostDomainLevel, Str: "com"},
		{Kind: KeyHostDomainLevel, Str: "example"},
	}, condition.MatchData{})
	if !ok || got != "Second" {
		t.Fatalf("got (%q,%v), want Second", got, ok)
	}
}

func TestTree_RedundantKeysInBetweenAreSkipped(t *testing.T) {
	tree := NewTree[string]()
	tree.Insert([]SingleKey{
		{Kind: KeyPort, Num: 80},
		{Kind: KeyHostDomainLevel, Str: "com"},
		{Kind: KeyHostDomainLevel, Str: "example"},
	}, "Value")

	key := []SingleKey{
		{Kind: KeyPort, Num: 80},
		{Kind: KeyIPOctet, Num: 127},
		{Kind: KeyIPOctet, Num: 0},
		{Kind: KeyIPOctet, Num: 0},
		{Kind: KeyIPOctet, Num: 1},
		{Kind: KeyHostDomainLevel, Str: "com"},
		{Kind: KeyHostDomainLevel, Str: "example"},
	}
	got, ok := tree.Get(key, condition.MatchData{})
	if !ok || got != "Value" {
		t.Fatalf("got (%q,%v), want Value", got, ok)
	}
}

func TestTree_ConditionalPredicateChild(t *testing.T) {
	p, err := condition.Compile("method-is", []string{"POST"})
	if err != nil {
		t.Fatal(err)
	}
	cond := &condition.Conditional{Name: "is-post", Predicates: []condition.Predicate{p}}
	ref := condition.Ref{Conditional: cond, Polarity: condition.If}

	tree := NewTree[string]()
	tree.Insert([]SingleKey{
		{Kind: KeyPort, Num: 80},
		{Kind: KeyConditional, Cond: &ref},
	}, "PostOnly")

	got, ok := tree.Get([]SingleKey{
		{Kind: KeyPort, Num: 80},
		{Kind: KeyConditional, Cond: &ref},
	}, condition.MatchData{Method: "POST"})
	if !ok || got != "PostOnly" {
		t.Fatalf("got (%q,%v), want PostOnly for matching POST request", got, ok)
	}

	_, ok = tree.Get([]SingleKey{
		{Kind: KeyPort, Num: 80},
		{Kind: KeyConditional, Cond: &ref},
	}, condition.MatchData{Method: "GET"})
	if ok {
		t.Fatal("expected no match for a GET request against a method-is POST conditional")
	}
}

func TestKeyForFilter_HostIPAndLocation(t *testing.T) {
	host := "example.com"
	ip := net.ParseIP("10.0.0.1")
	port := uint16(443)
	loc := "/api/v1"
	f := Filter{
		IsHost:         true,
		Hostname:       &host,
		IP:             &ip,
		Port:           &port,
		LocationPrefix: &loc,
	}
	key := KeyForFilter(f)
	if key[0].Kind != KeyIsHost {
		t.Fatalf("expected first key to be KeyIsHost, got %v", key[0].Kind)
	}
}
