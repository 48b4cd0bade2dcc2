package server

import (
	"context"
	"crypto/tls"
	"time"

	"go.uber.org/zap"

	"ferron/internal/acme"
	"ferron/internal/config"
)

// CertSource answers a tls.Config's GetCertificate callback, per
// spec.md §4.8 step 2-3: SNI picks a per-host CertifiedKey, falling
// back to on-demand issuance for hostnames an AcmeOnDemandConfig
// covers. It owns no network state of its own beyond what acme.Manager
// and the resolvers already track.
type CertSource struct {
	resolver  *acme.SNIResolver
	alpnStore *acme.TLSALPN01Store
	manager   *acme.Manager
	onDemand  map[string]acme.OnDemandConfig
	logger    *zap.Logger
}

// NewCertSource builds a CertSource, indexing onDemand by hostname for
// O(1) lookup on an unrecognized SNI.
func NewCertSource(resolver *acme.SNIResolver, alpnStore *acme.TLSALPN01Store, manager *acme.Manager, onDemand map[string]acme.OnDemandConfig, logger *zap.Logger) *CertSource {
	return &CertSource{resolver: resolver, alpnStore: alpnStore, manager: manager, onDemand: onDemand, logger: logger}
}

const onDemandProvisionTimeout = 60 * time.Second

// GetCertificate implements tls.Config.GetCertificate. A hostname the
// resolver already knows about (statically loaded or previously
// provisioned) returns immediately; an unknown hostname covered by an
// on-demand template blocks the handshake for one synchronous issuance
// attempt, matching spec.md §4.7's "until complete, the handshake falls
// back to a self-signed placeholder (or fails, implementation choice)"
// — this implementation chooses to fail the handshake on issuance
// error rather than serve a placeholder.
func (s *CertSource) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if cert, ok := s.resolver.GetCertificate(hello, s.alpnStore); ok {
		return cert, nil
	}

	cfg, ok := s.onDemand[hello.ServerName]
	if !ok {
		return nil, errNoCertificate{hello.ServerName}
	}

	ctx, cancel := context.WithTimeout(context.Background(), onDemandProvisionTimeout)
	defer cancel()

	authorized, err := cfg.Authorized(ctx, hello.ServerName)
	if err != nil || !authorized {
		return nil, errNoCertificate{hello.ServerName}
	}

	target := cfg.ToConfig(hello.ServerName)
	cert, err := s.manager.Provision(ctx, target)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("on-demand certificate issuance failed",
				zap.String("hostname", hello.ServerName), zap.Error(err))
		}
		return nil, err
	}

	s.resolver.Publish(hello.ServerName, cert)
	_ = cfg.AddDomain(ctx, hello.ServerName)
	return cert, nil
}

type errNoCertificate struct{ hostname string }

func (e errNoCertificate) Error() string { return "no certificate available for " + e.hostname }

// ProvisionStatic loads every host block's manual `tls <cert> <key>`
// pair and runs a synchronous ACME issuance for every `auto_tls` block
// that isn't on-demand, publishing results into resolver before the
// acceptor starts listening. It returns the renewal targets the caller
// should hand to acme.Manager.RunRenewalLoop.
func ProvisionStatic(ctx context.Context, graph *config.Graph, manager *acme.Manager, resolver *acme.SNIResolver, logger *zap.Logger) ([]acme.Target, error) {
	var targets []acme.Target

	for _, b := range graph.Blocks {
		if !b.Filter.IsHost || b.Filter.ErrorHandlerStatus.IsSet() || b.Filter.Hostname == nil {
			continue
		}

		if e, ok := b.GetOne("tls"); ok && len(e.Args) == 2 {
			cert, err := tls.LoadX509KeyPair(e.Args[0].String(), e.Args[1].String())
			if err != nil {
				return nil, err
			}
			resolver.Publish(*b.Filter.Hostname, &cert)
			continue
		}

		if !enablesTLS(b) || boolProp(b, "auto_tls_on_demand") {
			continue
		}

		cfg := autoTLSConfig(b, *b.Filter.Hostname)
		if logger != nil {
			logger.Info("provisioning certificate", zap.String("hostname", *b.Filter.Hostname))
		}
		cert, err := manager.Provision(ctx, cfg)
		if err != nil {
			return nil, err
		}
		resolver.Publish(*b.Filter.Hostname, cert)
		targets = append(targets, acme.Target{Config: cfg})
	}

	return targets, nil
}

// DiscoverOnDemand collects every `auto_tls_on_demand` host block's
// AcmeOnDemandConfig, keyed by hostname, for CertSource's fallback path.
func DiscoverOnDemand(graph *config.Graph) map[string]acme.OnDemandConfig {
	out := map[string]acme.OnDemandConfig{}
	for _, b := range graph.Blocks {
		if !b.Filter.IsHost || b.Filter.ErrorHandlerStatus.IsSet() || b.Filter.Hostname == nil {
			continue
		}
		if !enablesTLS(b) || !boolProp(b, "auto_tls_on_demand") {
			continue
		}
		port := uint16(443)
		if b.Filter.Port != nil {
			port = *b.Filter.Port
		}
		kid, hmacKey := eabCredentials(b)
		out[*b.Filter.Hostname] = acme.OnDemandConfig{
			ChallengeType: challengeType(b),
			Contact:       stringListProp(b, "auto_tls_contact"),
			Directory:     stringProp(b, "auto_tls_directory"),
			Profile:       stringProp(b, "auto_tls_profile"),
			EABKeyID:      kid,
			EABMACKey:     hmacKey,
			Port:          port,
		}
	}
	return out
}

func autoTLSConfig(b *config.Block, hostname string) acme.Config {
	kid, hmacKey := eabCredentials(b)
	return acme.Config{
		Domains:       []string{hostname},
		ChallengeType: challengeType(b),
		Contact:       stringListProp(b, "auto_tls_contact"),
		Directory:     stringProp(b, "auto_tls_directory"),
		Profile:       stringProp(b, "auto_tls_profile"),
		EABKeyID:      kid,
		EABMACKey:     hmacKey,

		AccountCache:     acme.NewMemoryCache(),
		CertificateCache: cacheFor(b, "auto_tls_cache"),
	}
}

// eabCredentials reads `auto_tls_eab <kid> <hmac_key>` per spec.md §6.
// Both values must be present and non-empty; this replaces the
// original's inverted byte-length range check (see DESIGN.md's Open
// Question decisions) with the sane invariant it was trying to express.
func eabCredentials(b *config.Block) (kid, hmacKey string) {
	e, ok := b.GetOne("auto_tls_eab")
	if !ok || len(e.Args) != 2 {
		return "", ""
	}
	kid, hmacKey = e.Args[0].String(), e.Args[1].String()
	if kid == "" || hmacKey == "" {
		return "", ""
	}
	return kid, hmacKey
}

func cacheFor(b *config.Block, name string) acme.Cache {
	if dir := stringProp(b, name); dir != "" {
		return acme.NewFileCache(dir)
	}
	return acme.NewMemoryCache()
}

func challengeType(b *config.Block) string {
	if v := stringProp(b, "auto_tls_challenge"); v != "" {
		return v
	}
	return "http-01"
}

func stringProp(b *config.Block, name string) string {
	e, ok := b.GetOne(name)
	if !ok || len(e.Args) != 1 {
		return ""
	}
	return e.Args[0].String()
}

func stringListProp(b *config.Block, name string) []string {
	e, ok := b.GetOne(name)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.Args))
	for _, a := range e.Args {
		out = append(out, a.String())
	}
	return out
}
