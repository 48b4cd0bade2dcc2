// Package server implements the connection acceptor and protocol
// dispatcher described in spec.md §4.8: one listener per bound
// (ip,port), PROXY-protocol unwrapping, TLS/ALPN dispatch to HTTP/1.1,
// HTTP/2, and a parallel HTTP/3 path.
package server

import (
	"net"
	"sort"
	"strconv"

	"ferron/internal/config"
)

// bindAddr is one physical listener this process must open: an IP (the
// zero value means "all interfaces") and a port, plus whether any host
// block bound to it wants TLS termination or PROXY-protocol unwrapping.
//
// A single listener answers every host sharing its (ip,port); per-host
// dispatch happens afterwards via SNI/Host header, not via one listener
// per hostname.
type bindAddr struct {
	IP         net.IP
	Port       uint16
	TLS        bool
	ProxyProto bool
}

func (b bindAddr) addr() string {
	ip := b.IP
	if ip == nil {
		ip = net.IPv4zero
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(b.Port)))
}

// discoverBindAddresses walks every non-error-handler host block in
// graph and derives the set of physical listeners needed to serve it,
// per spec.md §4.8 "Per bound (ip,port) ... open a TCP listener". A
// block with an explicit Filter.Port binds exactly that port; a block
// with no explicit port falls back to the global default_http_port /
// default_https_port, chosen by enablesTLS; unlike the core module's
// enablesHTTPS, a hostname or IP block without a port does not by
// itself select the HTTPS port. Two blocks that land on the
// same (ip,port) merge into one listener; it is TLS-terminating if any
// contributing block wants TLS, since a bind address answers with one
// protocol stack, not a per-host mix.
func discoverBindAddresses(graph *config.Graph) []bindAddr {
	httpPort := portSetting(graph.Global, "default_http_port", 80)
	httpsPort := portSetting(graph.Global, "default_https_port", 443)
	listenIP := ipSetting(graph.Global, "listen_ip")

	byKey := map[string]*bindAddr{}
	var order []string

	for _, b := range graph.Blocks {
		if !b.Filter.IsHost || b.Filter.ErrorHandlerStatus.IsSet() {
			continue
		}

		tls := enablesTLS(b)
		proxyProto := boolProp(b, "protocol_proxy")

		ip := listenIP
		if b.Filter.IP != nil {
			ip = *b.Filter.IP
		}

		var port uint16
		switch {
		case b.Filter.Port != nil:
			port = *b.Filter.Port
		case tls:
			port = httpsPort
		default:
			port = httpPort
		}

		key := ip.String() + "/" + strconv.Itoa(int(port))
		existing, ok := byKey[key]
		if !ok {
			existing = &bindAddr{IP: ip, Port: port}
			byKey[key] = existing
			order = append(order, key)
		}
		existing.TLS = existing.TLS || tls
		existing.ProxyProto = existing.ProxyProto || proxyProto
	}

	sort.Strings(order)
	out := make([]bindAddr, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	return out
}

// enablesTLS reports whether a block wants TLS: it carries a `tls`
// property, or an `auto_tls` property that is truthy or has no
// arguments. Unlike corehandlers.enablesHTTPS, it does not count a
// hostname or IP block without an explicit port as HTTPS.
func enablesTLS(b *config.Block) bool {
	if b.Has("tls") {
		return true
	}
	if e, ok := b.GetOne("auto_tls"); ok {
		if len(e.Args) == 0 {
			return true
		}
		return e.Args[0].IsTruthy()
	}
	return false
}

func boolProp(b *config.Block, name string) bool {
	e, ok := b.GetOne(name)
	if !ok || len(e.Args) != 1 {
		return false
	}
	return e.Args[0].IsTruthy()
}

func portSetting(global *config.Block, name string, fallback uint16) uint16 {
	if global == nil {
		return fallback
	}
	e, ok := global.GetOne(name)
	if !ok || len(e.Args) != 1 || e.Args[0].Kind != config.KindInt {
		return fallback
	}
	return uint16(e.Args[0].Int)
}

func ipSetting(global *config.Block, name string) net.IP {
	if global == nil {
		return nil
	}
	e, ok := global.GetOne(name)
	if !ok || len(e.Args) != 1 || e.Args[0].Kind != config.KindString {
		return nil
	}
	return net.ParseIP(e.Args[0].Str)
}
