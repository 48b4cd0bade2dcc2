package acme

import "testing"

func TestCertificateCacheKey_OrderIndependent(t *testing.T) {
	a := CertificateCacheKey([]string{"b.example", "a.example"}, "")
	b := CertificateCacheKey([]string{"a.example", "b.example"}, "")
	if a != b {
		t.Fatalf("expected domain order to not affect the key, got %q vs %q", a, b)
	}
}

func TestCertificateCacheKey_ProfileChangesKey(t *testing.T) {
	a := CertificateCacheKey([]string{"a.example"}, "")
	b := CertificateCacheKey([]string{"a.example"}, "classic")
	if a == b {
		t.Fatal("expected a profile to change the cache key")
	}
}

func TestAccountCacheKey_HasPrefix(t *testing.T) {
	k := AccountCacheKey([]string{"mailto:admin@example.com"}, "https://acme.example/directory")
	if len(k) < len("account_") || k[:8] != "account_" {
		t.Fatalf("got %q", k)
	}
}

func TestHostnameCacheKey_DistinguishesHosts(t *testing.T) {
	a := HostnameCacheKey(443, "a.example")
	b := HostnameCacheKey(443, "b.example")
	if a == b {
		t.Fatal("expected different SNI hostnames to produce different keys")
	}
}
