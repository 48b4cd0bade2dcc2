package acme

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"

	"github.com/mholt/acmez/v3"
	"github.com/mholt/acmez/v3/acme"
)

var errNoCertificateIssued = errors.New("acme: server returned no certificate")

// account is the persisted shape of an ACME account: its private key
// and the directory-issued account URL, round-tripped through Cache as
// JSON under AccountCacheKey.
type account struct {
	PrivateKeyPEM string `json:"private_key_pem"`
	AccountURL    string `json:"account_url"`
}

func (a account) signer() (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(a.PrivateKeyPEM))
	return x509.ParseECPrivateKey(block.Bytes)
}

// issuedCertificate is the persisted shape of an issued certificate,
// mirroring spec.md §4.7's CertificateCacheData.
type issuedCertificate struct {
	ChainPEM string `json:"certificate_chain_pem"`
	KeyPEM   string `json:"private_key_pem"`
}

// protocolClient is the narrow surface this package needs from an ACME
// protocol implementation, isolating the issuance state machine in
// Manager from github.com/mholt/acmez/v3's concrete wire-protocol API.
type protocolClient interface {
	newAccount(ctx context.Context, contact []string, eabKeyID, eabMACKey string) (account, error)
	obtainCertificate(ctx context.Context, acc account, domains []string, profile string) (issuedCertificate, error)
}

// acmezClient implements protocolClient atop github.com/mholt/acmez/v3,
// the RFC 8555 client this repo relies on instead of hand-rolling ACME
// order/challenge/finalize wire semantics.
type acmezClient struct {
	inner *acmez.Client
}

func newAcmezClient(directory string, httpClient *http.Client, solvers map[string]acmez.Solver) *acmezClient {
	return &acmezClient{
		inner: &acmez.Client{
			Client: &acme.Client{
				Directory:  directory,
				HTTPClient: httpClient,
			},
			ChallengeSolvers: solvers,
		},
	}
}

func (c *acmezClient) newAccount(ctx context.Context, contact []string, eabKeyID, eabMACKey string) (account, error) {
	accountKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return account{}, err
	}

	req := acme.Account{
		Contact:              contact,
		TermsOfServiceAgreed: true,
		PrivateKey:           accountKey,
	}
	if eabKeyID != "" {
		req.ExternalAccountBinding = &acme.ExternalAccountBinding{KeyID: eabKeyID, MACKey: eabMACKey}
	}

	created, err := c.inner.NewAccount(ctx, req)
	if err != nil {
		return account{}, err
	}

	keyDER, err := x509.MarshalECPrivateKey(accountKey)
	if err != nil {
		return account{}, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return account{PrivateKeyPEM: string(keyPEM), AccountURL: created.Location}, nil
}

func (c *acmezClient) obtainCertificate(ctx context.Context, acc account, domains []string, profile string) (issuedCertificate, error) {
	signer, err := acc.signer()
	if err != nil {
		return issuedCertificate{}, err
	}

	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return issuedCertificate{}, err
	}

	acmeAccount := acme.Account{PrivateKey: signer, Location: acc.AccountURL}

	results, err := c.inner.ObtainCertificateForSANs(ctx, acmeAccount, certKey, domains)
	if err != nil {
		return issuedCertificate{}, err
	}
	if len(results) == 0 {
		return issuedCertificate{}, errNoCertificateIssued
	}

	keyDER, err := x509.MarshalECPrivateKey(certKey)
	if err != nil {
		return issuedCertificate{}, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return issuedCertificate{
		ChainPEM: string(results[0].ChainPEM),
		KeyPEM:   string(keyPEM),
	}, nil
}

func marshalAccount(a account) ([]byte, error)          { return json.Marshal(a) }
func unmarshalAccount(data []byte) (account, error)     { var a account; err := json.Unmarshal(data, &a); return a, err }
func marshalCertificate(c issuedCertificate) ([]byte, error)      { return json.Marshal(c) }
func unmarshalCertificate(data []byte) (issuedCertificate, error) { var c issuedCertificate; err := json.Unmarshal(data, &c); return c, err }
