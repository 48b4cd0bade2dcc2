package server

import (
	"crypto/tls"
	"net/http"

	"github.com/quic-go/quic-go/http3"
)

// h3ForbiddenHeaders are stripped from every HTTP/3 response, per
// spec.md §4.8's "H3-forbidden headers ... are stripped from the
// outbound response": HTTP/3 has no notion of a hop-by-hop Connection
// upgrade, so these framing headers from the HTTP/1.1-shaped
// module pipeline would otherwise leak through verbatim.
var h3ForbiddenHeaders = []string{"Keep-Alive", "Proxy-Connection", "Transfer-Encoding", "TE", "Upgrade"}

// stripH3ForbiddenHeaders wraps handler so every response it writes has
// the H3-forbidden header set removed before the http3 server frames it.
func stripH3ForbiddenHeaders(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(&h3ResponseWriter{ResponseWriter: w}, r)
	})
}

type h3ResponseWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *h3ResponseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		for _, h := range h3ForbiddenHeaders {
			w.Header().Del(h)
		}
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *h3ResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// newHTTP3Server builds an http3.Server bound to addr, serving handler
// over QUIC with tlsConfig, per spec.md §4.8's "parallel QUIC path for
// HTTP/3". http3.ConfigureTLSConfig adds "h3" to NextProtos without
// disturbing the TCP listener's own ALPN set.
func newHTTP3Server(addr string, tlsConfig *tls.Config, handler http.Handler) *http3.Server {
	return &http3.Server{
		Addr:      addr,
		Handler:   stripH3ForbiddenHeaders(handler),
		TLSConfig: http3.ConfigureTLSConfig(tlsConfig),
	}
}
