package acme

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"sync"
	"time"

	"github.com/mholt/acmez/v3/acme"
)

// acmeIdentifierOID is id-pe-acmeIdentifier (RFC 8737 §3), the
// certificate extension TLS-ALPN-01 validation checks for.
var acmeIdentifierOID = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 31}

// TLSALPN01Store holds the self-signed certificate, keyed by SNI
// hostname, that a TLS handshake offering the "acme-tls/1" ALPN
// protocol must present, per spec.md §4.7.
type TLSALPN01Store struct {
	mu    sync.RWMutex
	certs map[string]*tls.Certificate
}

func NewTLSALPN01Store() *TLSALPN01Store {
	return &TLSALPN01Store{certs: make(map[string]*tls.Certificate)}
}

func (s *TLSALPN01Store) set(sni string, cert *tls.Certificate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[sni] = cert
}

func (s *TLSALPN01Store) remove(sni string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.certs, sni)
}

// CertificateFor returns the ALPN-01 validation certificate for sni, if
// a challenge is currently in flight for it. The TLS acceptor consults
// this before falling back to the SNI resolver whenever the client
// offered "acme-tls/1".
func (s *TLSALPN01Store) CertificateFor(sni string) (*tls.Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.certs[sni]
	return c, ok
}

type tlsALPN01Solver struct {
	store *TLSALPN01Store
}

func (s *tlsALPN01Solver) Present(_ context.Context, chal acme.Challenge) error {
	identifier := chal.Identifier.Value
	digest := sha256.Sum256([]byte(chal.KeyAuthorization()))

	extensionValue, err := asn1.Marshal(digest[:])
	if err != nil {
		return err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: identifier},
		DNSNames:     []string{identifier},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		ExtraExtensions: []pkix.Extension{
			{Id: acmeIdentifierOID, Critical: true, Value: extensionValue},
		},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return err
	}

	s.store.set(identifier, &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	})
	return nil
}

func (s *tlsALPN01Solver) CleanUp(_ context.Context, chal acme.Challenge) error {
	s.store.remove(chal.Identifier.Value)
	return nil
}
