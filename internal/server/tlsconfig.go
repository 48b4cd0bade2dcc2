package server

import (
	"crypto/tls"

	"ferron/internal/config"
)

// buildTLSConfig assembles the tls.Config a TLS-terminating listener
// hands its net/http server, per spec.md §4.8 step 2-3: SNI selects the
// certificate via src, and NextProtos advertises h2 and acme-tls/1
// alongside http/1.1 so ALPN can dispatch among them. The HTTP/3
// listener builds its own derived config (http3.ConfigureTLSConfig adds
// "h3" to NextProtos itself).
func buildTLSConfig(src *CertSource, graph *config.Graph) *tls.Config {
	return &tls.Config{
		GetCertificate: src.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1", "acme-tls/1"},
		MinVersion:     minTLSVersion(graph.Global),
	}
}

func minTLSVersion(global *config.Block) uint16 {
	if global == nil {
		return tls.VersionTLS12
	}
	e, ok := global.GetOne("tls_min_version")
	if !ok || len(e.Args) != 1 {
		return tls.VersionTLS12
	}
	switch e.Args[0].String() {
	case "1.3", "tls1.3", "TLSv1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
