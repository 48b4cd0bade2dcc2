package server

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"

	"ferron/internal/acme"
	"ferron/internal/handler"
	"ferron/internal/module"
)

type connInfoKey struct{}

// connInfo is stashed on the request context by http.Server.ConnContext
// so the handler can recover the connection-level addresses a PROXY-
// protocol wrapper may have rewritten, per spec.md §3's SocketData.
type connInfo struct {
	local     net.Addr
	remote    net.Addr
	encrypted bool
}

// ConnContext returns the http.Server.ConnContext hook that records a
// connection's addresses for socketDataFrom to recover per request.
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	_, encrypted := c.(*tls.Conn)
	return context.WithValue(ctx, connInfoKey{}, &connInfo{
		local:     c.LocalAddr(),
		remote:    c.RemoteAddr(),
		encrypted: encrypted,
	})
}

func socketDataFrom(r *http.Request) module.SocketData {
	ci, _ := r.Context().Value(connInfoKey{}).(*connInfo)
	if ci == nil {
		return module.SocketData{RemoteAddr: tcpAddrFromString(r.RemoteAddr)}
	}
	return module.SocketData{LocalAddr: ci.local, RemoteAddr: ci.remote, Encrypted: ci.encrypted}
}

func tcpAddrFromString(s string) net.Addr {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return nil
	}
	return &net.TCPAddr{IP: net.ParseIP(host), Port: atoiOrZero(port)}
}

func atoiOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// NewHTTPHandler returns the http.Handler every listener (HTTP/1.1,
// HTTP/2, and HTTP/3) serves: the ACME HTTP-01 well-known endpoint takes
// priority over the module pipeline, per spec.md §4.7's "a request to
// /.well-known/acme-challenge/<token> returns key_authorization"; every
// other request goes to the Driver.
func NewHTTPHandler(driver *handler.Driver, http01 *acme.HTTP01Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if http01 != nil && acme.IsChallengePath(r.URL.Path) {
			http01.ServeHTTP(w, r)
			return
		}

		resp := driver.Serve(r, socketDataFrom(r))
		writeResponse(w, resp)
	})
}

// writeResponse copies an *http.Response onto w, the mirror image of
// what http.Client does on the way in.
func writeResponse(w http.ResponseWriter, resp *http.Response) {
	header := w.Header()
	for k, vs := range resp.Header {
		header[k] = vs
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusInternalServerError
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body == nil {
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(w, resp.Body)
}
