package acme

import (
	"crypto/tls"
	"testing"
)

func TestSNIResolver_PublishThenGetCertificate(t *testing.T) {
	r := NewSNIResolver()
	cert := &tls.Certificate{}
	r.Publish("example.com", cert)

	got, ok := r.GetCertificate(&tls.ClientHelloInfo{ServerName: "example.com"}, nil)
	if !ok || got != cert {
		t.Fatalf("got %v ok=%v", got, ok)
	}
}

func TestSNIResolver_GetCertificateMissReportsFalse(t *testing.T) {
	r := NewSNIResolver()
	_, ok := r.GetCertificate(&tls.ClientHelloInfo{ServerName: "unknown.example"}, nil)
	if ok {
		t.Fatal("expected miss for unpublished hostname")
	}
}

func TestSNIResolver_AlpnStoreTakesPrecedenceForAcmeProtocol(t *testing.T) {
	r := NewSNIResolver()
	published := &tls.Certificate{}
	r.Publish("host.example", published)

	store := NewTLSALPN01Store()
	validation := &tls.Certificate{}
	store.set("host.example", validation)

	hello := &tls.ClientHelloInfo{ServerName: "host.example", SupportedProtos: []string{"acme-tls/1"}}
	got, ok := r.GetCertificate(hello, store)
	if !ok || got != validation {
		t.Fatalf("expected validation certificate to win, got %v ok=%v", got, ok)
	}
}

func TestSNIResolver_NonAcmeProtocolIgnoresAlpnStore(t *testing.T) {
	r := NewSNIResolver()
	published := &tls.Certificate{}
	r.Publish("host.example", published)

	store := NewTLSALPN01Store()
	store.set("host.example", &tls.Certificate{})

	hello := &tls.ClientHelloInfo{ServerName: "host.example", SupportedProtos: []string{"h2"}}
	got, ok := r.GetCertificate(hello, store)
	if !ok || got != published {
		t.Fatalf("expected published certificate, got %v ok=%v", got, ok)
	}
}
