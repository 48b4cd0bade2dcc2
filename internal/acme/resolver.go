package acme

import (
	"crypto/tls"
	"sync"
)

// SNIResolver is the Go-idiomatic counterpart to spec.md §4.7's
// "atomically publish the new CertifiedKey to the SNI resolver": a
// hostname-keyed certificate table a `tls.Config.GetCertificate`
// callback consults on every handshake.
type SNIResolver struct {
	mu    sync.RWMutex
	certs map[string]*tls.Certificate
}

func NewSNIResolver() *SNIResolver {
	return &SNIResolver{certs: make(map[string]*tls.Certificate)}
}

// Publish installs cert for hostname, replacing whatever was previously
// published for it.
func (r *SNIResolver) Publish(hostname string, cert *tls.Certificate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.certs[hostname] = cert
}

// GetCertificate implements the tls.Config.GetCertificate signature,
// falling back to ALPN-01 validation certificates (served only for the
// "acme-tls/1" protocol) before reporting no match.
func (r *SNIResolver) GetCertificate(hello *tls.ClientHelloInfo, alpnStore *TLSALPN01Store) (*tls.Certificate, bool) {
	for _, proto := range hello.SupportedProtos {
		if proto == "acme-tls/1" && alpnStore != nil {
			if cert, ok := alpnStore.CertificateFor(hello.ServerName); ok {
				return cert, true
			}
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	cert, ok := r.certs[hello.ServerName]
	return cert, ok
}
