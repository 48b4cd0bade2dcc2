package acme

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"os"
	"os/exec"
	"sync"

	"github.com/mholt/acmez/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config is the per-target ACME configuration, mirroring spec.md §4.7's
// AcmeConfig: the domains to cover, the challenge type to use, account
// contact/directory, and where issued material is cached and saved.
type Config struct {
	Domains       []string
	ChallengeType string // acme.ChallengeTypeHTTP01 / DNS01 / TLSALPN01
	Contact       []string
	Directory     string
	EABKeyID      string
	EABMACKey     string
	Profile       string

	AccountCache     Cache
	CertificateCache Cache

	SaveCertPath      string
	SaveKeyPath       string
	PostObtainCommand string
}

// Manager orchestrates ACME issuance for any number of concurrently
// requested targets, serializing (and collapsing duplicate) attempts
// per target via a singleflight group, per spec.md §5's "ACME locks:
// per-target mutexes".
type Manager struct {
	httpStore *HTTP01Store
	alpnStore *TLSALPN01Store
	dns       DNSProvider
	zoneOf    ZoneFinder
	logger    *zap.Logger

	httpClient *http.Client

	group singleflight.Group

	mu    sync.RWMutex
	certs map[string]*tls.Certificate
}

func NewManager(httpStore *HTTP01Store, alpnStore *TLSALPN01Store, dns DNSProvider, zoneOf ZoneFinder, logger *zap.Logger) *Manager {
	return &Manager{
		httpStore:  httpStore,
		alpnStore:  alpnStore,
		dns:        dns,
		zoneOf:     zoneOf,
		logger:     logger,
		httpClient: &http.Client{},
		certs:      make(map[string]*tls.Certificate),
	}
}

// solvers returns only the Solver for the configured challenge type,
// per spec.md §4.7 step 3's "select a challenge of the configured type".
func (m *Manager) solvers(challengeType string) map[string]acmez.Solver {
	switch challengeType {
	case "tls-alpn-01":
		if m.alpnStore != nil {
			return map[string]acmez.Solver{"tls-alpn-01": &tlsALPN01Solver{store: m.alpnStore}}
		}
	case "dns-01":
		if m.dns != nil && m.zoneOf != nil {
			return map[string]acmez.Solver{"dns-01": &dns01Solver{provider: m.dns, zoneOf: m.zoneOf}}
		}
	}
	return map[string]acmez.Solver{"http-01": &http01Solver{store: m.httpStore}}
}

// Installed returns the certificate currently installed for a target's
// cache key, if any, without attempting issuance.
func (m *Manager) Installed(certKey string) (*tls.Certificate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.certs[certKey]
	return c, ok
}

func (m *Manager) install(certKey string, cert *tls.Certificate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certs[certKey] = cert
}

// Provision implements spec.md §4.7's provision_certificate: reuse an
// installed or cached certificate while it remains valid, otherwise
// load or create an ACME account and run a full order/challenge/
// finalize cycle.
func (m *Manager) Provision(ctx context.Context, cfg Config) (*tls.Certificate, error) {
	certKey := CertificateCacheKey(cfg.Domains, cfg.Profile)

	v, err, _ := m.group.Do(certKey, func() (interface{}, error) {
		return m.provisionOnce(ctx, cfg, certKey)
	})
	if err != nil {
		return nil, err
	}
	return v.(*tls.Certificate), nil
}

func (m *Manager) provisionOnce(ctx context.Context, cfg Config, certKey string) (*tls.Certificate, error) {
	if cert, ok := m.Installed(certKey); ok && certStillValid(cert) {
		return cert, nil
	}

	if cached, ok, err := m.loadCachedCertificate(ctx, cfg, certKey); err == nil && ok && certStillValid(cached) {
		m.install(certKey, cached)
		return cached, nil
	}

	accountKey := AccountCacheKey(cfg.Contact, cfg.Directory)
	acc, err := m.loadOrCreateAccount(ctx, cfg, accountKey)
	if err != nil {
		return nil, err
	}

	client := newAcmezClient(cfg.Directory, m.httpClient, m.solvers(cfg.ChallengeType))
	issued, err := client.obtainCertificate(ctx, acc, cfg.Domains, cfg.Profile)
	if err != nil {
		return nil, err
	}

	if err := m.persistCertificate(ctx, cfg, certKey, issued); err != nil && m.logger != nil {
		m.logger.Warn("failed to persist issued certificate to the ACME cache", zap.Error(err))
	}

	m.postProcess(cfg, issued)

	cert, err := tls.X509KeyPair([]byte(issued.ChainPEM), []byte(issued.KeyPEM))
	if err != nil {
		return nil, err
	}
	m.install(certKey, &cert)
	return &cert, nil
}

func (m *Manager) loadOrCreateAccount(ctx context.Context, cfg Config, accountKey string) (account, error) {
	if cfg.AccountCache != nil {
		if data, ok, err := cfg.AccountCache.Get(ctx, accountKey); err == nil && ok {
			if acc, err := unmarshalAccount(data); err == nil {
				return acc, nil
			}
		}
	}

	client := newAcmezClient(cfg.Directory, m.httpClient, m.solvers(cfg.ChallengeType))
	acc, err := client.newAccount(ctx, cfg.Contact, cfg.EABKeyID, cfg.EABMACKey)
	if err != nil {
		return account{}, err
	}

	if cfg.AccountCache != nil {
		if data, err := marshalAccount(acc); err == nil {
			_ = cfg.AccountCache.Set(ctx, accountKey, data)
		}
	}
	return acc, nil
}

func (m *Manager) loadCachedCertificate(ctx context.Context, cfg Config, certKey string) (*tls.Certificate, bool, error) {
	if cfg.CertificateCache == nil {
		return nil, false, nil
	}
	data, ok, err := cfg.CertificateCache.Get(ctx, certKey)
	if err != nil || !ok {
		return nil, false, err
	}
	cached, err := unmarshalCertificate(data)
	if err != nil {
		return nil, false, err
	}
	cert, err := tls.X509KeyPair([]byte(cached.ChainPEM), []byte(cached.KeyPEM))
	if err != nil {
		return nil, false, err
	}
	return &cert, true, nil
}

func (m *Manager) persistCertificate(ctx context.Context, cfg Config, certKey string, issued issuedCertificate) error {
	if cfg.CertificateCache == nil {
		return nil
	}
	data, err := marshalCertificate(issued)
	if err != nil {
		return err
	}
	return cfg.CertificateCache.Set(ctx, certKey, data)
}

// postProcess saves the obtained certificate and key to disk and runs
// the configured post-obtain command, per spec.md §4.7 step 4.
func (m *Manager) postProcess(cfg Config, issued issuedCertificate) {
	if cfg.SaveCertPath == "" || cfg.SaveKeyPath == "" {
		return
	}
	if err := os.WriteFile(cfg.SaveCertPath, []byte(issued.ChainPEM), 0o644); err != nil {
		if m.logger != nil {
			m.logger.Warn("failed to write acme certificate file", zap.Error(err))
		}
		return
	}
	if err := os.WriteFile(cfg.SaveKeyPath, []byte(issued.KeyPEM), 0o600); err != nil {
		if m.logger != nil {
			m.logger.Warn("failed to write acme private key file", zap.Error(err))
		}
		return
	}

	if cfg.PostObtainCommand == "" {
		return
	}
	cmd := exec.Command(cfg.PostObtainCommand)
	cmd.Env = append(os.Environ(),
		"FERRON_ACME_DOMAIN="+joinDomains(cfg.Domains),
		"FERRON_ACME_CERT_PATH="+cfg.SaveCertPath,
		"FERRON_ACME_KEY_PATH="+cfg.SaveKeyPath,
	)
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil && m.logger != nil {
		m.logger.Warn("failed to run acme post-obtain command", zap.Error(err))
	}
}

func joinDomains(domains []string) string {
	var b bytes.Buffer
	for i, d := range domains {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(d)
	}
	return b.String()
}

// certStillValid parses the leaf certificate and applies IsValid
// without a renewal-info hint, since Manager does not track per-order
// RenewalInfo suggestions across calls.
func certStillValid(cert *tls.Certificate) bool {
	if cert == nil || len(cert.Certificate) == 0 {
		return false
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return false
	}
	return IsValid(leaf, nil)
}
