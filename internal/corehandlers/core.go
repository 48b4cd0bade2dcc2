// Package corehandlers implements the built-in core module described in
// spec.md §4.4: the handler every block gets regardless of which other
// modules activate, covering location-prefix stripping,
// trust_x_forwarded_for rewriting, the HTTP→HTTPS redirect, and the
// "www." redirect.
package corehandlers

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/net/idna"

	"ferron/internal/config"
	"ferron/internal/module"
)

const Name = "core"

// Loader builds Module instances. A single Loader is shared across
// every block in the config graph, so it tracks whether any block in
// the whole graph enables HTTPS (explicit `tls`, `auto_tls`, or the
// default-on heuristic) — the HTTP→HTTPS redirect step needs that
// global fact, not just the current block's.
type Loader struct {
	hasHTTPS atomic.Bool
}

func NewLoader() *Loader { return &Loader{} }

func (l *Loader) Requirements() []string { return nil }

func (l *Loader) ValidateConfiguration(block *config.Block, used map[string]bool) error {
	for _, name := range []string{
		"tls", "error_log", "log", "tls_cipher_suite", "tls_ecdh_curve",
		"tls_min_version", "tls_max_version", "auto_tls", "default_http_port",
		"default_https_port", "h2_initial_window_size", "h2_max_frame_size",
		"h2_max_concurrent_streams", "h2_max_header_list_size",
		"h2_enable_connect_protocol", "protocols", "header", "timeout",
		"allow_double_slashes", "server_administrator_email", "error_page",
		"ocsp_stapling", "trust_x_forwarded_for", "no_redirect_to_https",
		"wwwredirect", "listen_ip", "io_uring", "header_remove", "header_replace",
		"protocol_proxy", "UNDOCUMENTED_REMOVE_PATH_PREFIX",
	} {
		if block.Has(name) {
			used[name] = true
		}
	}

	if e, ok := block.GetOne("default_http_port"); ok && len(e.Args) == 1 && e.Args[0].Kind == config.KindInt {
		if e.Args[0].Int < 0 || e.Args[0].Int > 65535 {
			return &portError{"default_http_port"}
		}
	}
	if e, ok := block.GetOne("default_https_port"); ok && len(e.Args) == 1 && e.Args[0].Kind == config.KindInt {
		if e.Args[0].Int < 0 || e.Args[0].Int > 65535 {
			return &portError{"default_https_port"}
		}
	}
	return nil
}

type portError struct{ property string }

func (e *portError) Error() string { return "invalid port for " + e.property }

func (l *Loader) LoadModule(block, global *config.Block) (module.Module, error) {
	if enablesHTTPS(block) {
		l.hasHTTPS.Store(true)
	}

	return &Module{
		defaultHTTPPort:  portSetting(global, "default_http_port", 80),
		defaultHTTPSPort: portSetting(global, "default_https_port", 443),
		hasHTTPS:         &l.hasHTTPS,
	}, nil
}

// portSetting reads a *uint16 default-port property from the global
// block: absent means the library default, explicit null means "no
// default port" (disables the corresponding redirect), an integer is
// the configured port.
func portSetting(global *config.Block, name string, fallback uint16) *uint16 {
	if global == nil {
		return &fallback
	}
	e, ok := global.GetOne(name)
	if !ok || len(e.Args) != 1 {
		return &fallback
	}
	v := e.Args[0]
	if v.Kind == config.KindNull {
		return nil
	}
	if v.Kind == config.KindInt {
		p := uint16(v.Int)
		return &p
	}
	return &fallback
}

// enablesHTTPS mirrors the original's inference: a block enables HTTPS
// if it carries an explicit `tls` property, or `auto_tls` is true, or
// the block addresses a concrete host/IP with no explicit port and
// isn't localhost (the implicit default-on case).
func enablesHTTPS(block *config.Block) bool {
	if block.Filter.IsGlobalNonHost() {
		return false
	}
	if block.Has("tls") {
		return true
	}
	if e, ok := block.GetOne("auto_tls"); ok && len(e.Args) == 1 {
		return e.Args[0].IsTruthy()
	}
	hasTarget := block.Filter.Hostname != nil || block.Filter.IP != nil
	return hasTarget && block.Filter.Port == nil && !isLocalhost(block.Filter.IP, block.Filter.Hostname)
}

func isLocalhost(ip *net.IP, hostname *string) bool {
	if ip != nil && ip.IsLoopback() {
		return true
	}
	if hostname != nil && strings.EqualFold(*hostname, "localhost") {
		return true
	}
	return false
}

// Module is the long-lived block-scoped core module instance.
type Module struct {
	defaultHTTPPort  *uint16
	defaultHTTPSPort *uint16
	hasHTTPS         *atomic.Bool
}

func (m *Module) Name() string { return Name }

func (m *Module) NewHandlers() module.Handlers {
	return &handlers{
		defaultHTTPPort:  m.defaultHTTPPort,
		defaultHTTPSPort: m.defaultHTTPSPort,
		hasHTTPS:         m.hasHTTPS.Load(),
	}
}

func (m *Module) Close() error { return nil }

type handlers struct {
	defaultHTTPPort  *uint16
	defaultHTTPSPort *uint16
	hasHTTPS         bool
}

// RequestHandler runs the core pipeline's five steps in order: forward-
// proxy bypass, location-prefix stripping, trust_x_forwarded_for
// rewriting, the HTTP→HTTPS redirect, and the "www." redirect.
func (h *handlers) RequestHandler(req *http.Request, block *config.Block, socket module.SocketData, logger *zap.Logger) (module.ResponseData, error) {
	if isProxyRequest(req) {
		return module.ResponseData{Request: req}, nil
	}

	req = stripPathPrefix(req, block)

	var newRemote net.Addr
	if e, ok := block.GetOne("trust_x_forwarded_for"); ok && len(e.Args) == 1 && e.Args[0].IsTruthy() {
		addr, rd, ok := rewriteRemoteFromXFF(req, socket)
		if !ok {
			return rd, nil
		}
		newRemote = addr
	}

	if rd, redirected := h.maybeRedirectToHTTPS(req, block, socket); redirected {
		rd.NewRemoteAddress = newRemote
		return rd, nil
	}

	if rd, redirected := h.maybeRedirectToWWW(req, block, socket); redirected {
		rd.NewRemoteAddress = newRemote
		return rd, nil
	}

	return module.ResponseData{Request: req, NewRemoteAddress: newRemote}, nil
}

func (h *handlers) ResponseModifyingHandler(resp *http.Response) (*http.Response, error) {
	return resp, nil
}

func isProxyRequest(req *http.Request) bool {
	if req.Method == http.MethodConnect {
		return req.URL.Host != ""
	}
	return req.URL.Host != ""
}

// stripPathPrefix implements the UNDOCUMENTED_REMOVE_PATH_PREFIX escape
// hatch: a trailing-slash-trimmed, double-slash-collapsed prefix is
// stripped from the request path if present.
func stripPathPrefix(req *http.Request, block *config.Block) *http.Request {
	e, ok := block.GetOne("UNDOCUMENTED_REMOVE_PATH_PREFIX")
	if !ok || len(e.Args) != 1 || e.Args[0].Kind != config.KindString {
		return req
	}
	prefix := strings.TrimRight(e.Args[0].Str, "/")
	for strings.Contains(prefix, "//") {
		prefix = strings.ReplaceAll(prefix, "//", "/")
	}

	path := req.URL.Path
	var newPath string
	switch {
	case path == prefix:
		newPath = "/"
	case strings.HasPrefix(path, prefix+"/"):
		newPath = strings.TrimPrefix(path, prefix)
	default:
		return req
	}

	clone := req.Clone(req.Context())
	clone.URL.Path = newPath
	return clone
}

func rewriteRemoteFromXFF(req *http.Request, socket module.SocketData) (net.Addr, module.ResponseData, bool) {
	xff := req.Header.Get("X-Forwarded-For")
	if xff == "" {
		return nil, module.ResponseData{}, true
	}
	first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
	ip := net.ParseIP(first)
	if ip == nil {
		return nil, module.ResponseData{Status: http.StatusBadRequest}, false
	}
	_, port, err := net.SplitHostPort(socket.RemoteAddr.String())
	if err != nil {
		return nil, module.ResponseData{Status: http.StatusBadRequest}, false
	}
	return &net.TCPAddr{IP: ip, Port: atoiOrZero(port)}, module.ResponseData{}, true
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// maybeRedirectToHTTPS implements the HTTP→HTTPS redirect step: fires
// only for plain-HTTP connections on the default HTTP port, when some
// block in the graph enables HTTPS and this block's filter doesn't
// pin an explicit port (a pinned port means this block already answers
// a specific, presumably non-default, endpoint).
func (h *handlers) maybeRedirectToHTTPS(req *http.Request, block *config.Block, socket module.SocketData) (module.ResponseData, bool) {
	if e, ok := block.GetOne("no_redirect_to_https"); ok && len(e.Args) == 1 && e.Args[0].IsTruthy() {
		return module.ResponseData{}, false
	}
	if !h.hasHTTPS || block.Filter.Port != nil || h.defaultHTTPPort == nil || h.defaultHTTPSPort == nil {
		return module.ResponseData{}, false
	}
	if socket.Encrypted {
		return module.ResponseData{}, false
	}
	if addrPort(socket.LocalAddr) != *h.defaultHTTPPort {
		return module.ResponseData{}, false
	}

	host := req.Host
	if host == "" {
		return module.ResponseData{Status: http.StatusBadRequest}, true
	}
	hostName, _ := splitHostPort(host)

	authority := hostName
	if *h.defaultHTTPSPort != 443 {
		authority = hostName + ":" + strconv.Itoa(int(*h.defaultHTTPSPort))
	}

	target := (&url.URL{Scheme: "https", Host: authority, Path: req.URL.Path, RawQuery: req.URL.RawQuery}).String()
	resp := &http.Response{
		StatusCode: http.StatusMovedPermanently,
		Header:     http.Header{"Location": []string{target}},
	}
	return module.ResponseData{Response: resp}, true
}

// maybeRedirectToWWW implements the bare-domain → "www." redirect, only
// for a block whose filter names an exact hostname and sets
// `wwwredirect`.
func (h *handlers) maybeRedirectToWWW(req *http.Request, block *config.Block, socket module.SocketData) (module.ResponseData, bool) {
	if block.Filter.Hostname == nil {
		return module.ResponseData{}, false
	}
	e, ok := block.GetOne("wwwredirect")
	if !ok || len(e.Args) != 1 || !e.Args[0].IsTruthy() {
		return module.ResponseData{}, false
	}

	host := req.Host
	if host == "" {
		return module.ResponseData{}, false
	}
	hostName, hostPort := splitHostPort(host)

	domain, err := idna.Lookup.ToASCII(*block.Filter.Hostname)
	if err != nil {
		domain = *block.Filter.Hostname
	}
	asciiHost, err := idna.Lookup.ToASCII(hostName)
	if err != nil {
		asciiHost = hostName
	}
	if asciiHost != domain || strings.HasPrefix(asciiHost, "www.") {
		return module.ResponseData{}, false
	}

	if hostPort != "" {
		wantPort := h.defaultHTTPPort
		if socket.Encrypted {
			wantPort = h.defaultHTTPSPort
		}
		if block.Filter.Port != nil {
			wantPort = block.Filter.Port
		}
		if wantPort == nil || hostPort != strconv.Itoa(int(*wantPort)) {
			return module.ResponseData{}, false
		}
	}

	scheme := "http"
	if socket.Encrypted {
		scheme = "https"
	}
	target := (&url.URL{Scheme: scheme, Host: "www." + host, Path: req.URL.Path, RawQuery: req.URL.RawQuery}).String()
	resp := &http.Response{
		StatusCode: http.StatusMovedPermanently,
		Header:     http.Header{"Location": []string{target}},
	}
	return module.ResponseData{Response: resp}, true
}

func splitHostPort(hostHeader string) (host, port string) {
	if strings.HasPrefix(hostHeader, "[") {
		if idx := strings.LastIndex(hostHeader, "]"); idx != -1 {
			if idx+1 < len(hostHeader) && hostHeader[idx+1] == ':' {
				return hostHeader[:idx+1], hostHeader[idx+2:]
			}
			return hostHeader, ""
		}
	}
	if idx := strings.LastIndex(hostHeader, ":"); idx != -1 {
		return hostHeader[:idx], hostHeader[idx+1:]
	}
	return hostHeader, ""
}

func addrPort(addr net.Addr) uint16 {
	if addr == nil {
		return 0
	}
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return uint16(p)
}
