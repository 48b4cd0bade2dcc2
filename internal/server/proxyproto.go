package server

import (
	"net"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
)

// proxyProtoReadTimeout bounds how long a newly accepted connection may
// take to present its PROXY-protocol preamble before the accept loop
// gives up on it, a Slowloris-style guard on an otherwise unauthenticated
// connection preamble.
const proxyProtoReadTimeout = 5 * time.Second

// wrapProxyProto wraps l so that every accepted connection's
// LocalAddr/RemoteAddr reflect a parsed PROXY protocol v1/v2 header
// when the peer sends one, per spec.md §4.8 step 1. Peers that don't
// speak the protocol are passed through unchanged.
func wrapProxyProto(l net.Listener) net.Listener {
	return &proxyproto.Listener{
		Listener:          l,
		ReadHeaderTimeout: proxyProtoReadTimeout,
		Policy: func(net.Addr) (proxyproto.Policy, error) {
			return proxyproto.USE, nil
		},
	}
}
