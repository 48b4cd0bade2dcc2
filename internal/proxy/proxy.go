// Package proxy implements the reverse proxy module described in
// spec.md §4.6: backend selection, request rewriting, and upstream
// round-tripping over a bounded keep-alive pool.
package proxy

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ferron/internal/config"
	"ferron/internal/errs"
	"ferron/internal/metrics"
	"ferron/internal/module"
)

const Name = "reverse_proxy"

var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

const (
	defaultPoolCapacity  = 16384
	defaultIdleTimeout   = 90 * time.Second
	defaultDialTimeout   = 10 * time.Second
	defaultHealthWindow  = 5 * time.Second
	defaultHealthMaxFail = 3
)

// Loader builds reverse proxy Modules for blocks declaring proxy_to or
// proxy_srv.
type Loader struct {
	metrics *metrics.ProxyMetrics
}

func NewLoader(m *metrics.ProxyMetrics) *Loader {
	return &Loader{metrics: m}
}

func (l *Loader) Requirements() []string {
	return []string{"proxy_to", "proxy_srv"}
}

func (l *Loader) ValidateConfiguration(block *config.Block, used map[string]bool) error {
	hasTo := block.Has("proxy_to")
	hasSRV := block.Has("proxy_srv")
	if hasTo {
		used["proxy_to"] = true
	}
	if hasSRV {
		used["proxy_srv"] = true
	}
	if !hasTo && !hasSRV {
		return nil
	}
	for _, name := range []string{
		"proxy_concurrent_conns", "lb_algorithm", "lb_health_check",
		"lb_health_check_max_fails", "lb_health_check_window",
		"proxy_request_header", "proxy_request_header_replace", "proxy_request_header_remove",
		"proxy_no_verification", "proxy_http2", "proxy_http2_only",
		"lb_retry_connection", "proxy_intercept_errors", "dns_servers",
	} {
		if block.Has(name) {
			used[name] = true
		}
	}
	return nil
}

func (l *Loader) LoadModule(block, global *config.Block) (module.Module, error) {
	backends, err := resolveBackends(block)
	if err != nil {
		return nil, errs.New(errs.KindConfig, err)
	}

	healthCheck := boolSetting(block, "lb_health_check", true)
	maxFails := intSetting(block, "lb_health_check_max_fails", defaultHealthMaxFail)
	window := durationSetting(block, "lb_health_check_window", defaultHealthWindow)

	algorithm := ParseAlgorithm(stringSetting(block, "lb_algorithm"))
	balancer := NewBalancer(backends, healthCheck, maxFails, window).WithAlgorithm(algorithm)
	pool := NewPool(
		intSetting(block, "proxy_concurrent_conns", defaultPoolCapacity),
		defaultIdleTimeout,
		defaultDialTimeout,
		boolSetting(block, "proxy_no_verification", false),
	)

	m := &Module{
		balancer:          balancer,
		pool:              pool,
		retryOnFailure:    boolSetting(block, "lb_retry_connection", true),
		interceptErrors:   boolSetting(block, "proxy_intercept_errors", false),
		requestHeaders:    block.Get("proxy_request_header"),
		replaceHeaders:    block.Get("proxy_request_header_replace"),
		removeHeaders:     stringListSetting(block, "proxy_request_header_remove"),
		metrics:           l.metrics,
	}
	return m, nil
}

func resolveBackends(block *config.Block) ([]Backend, error) {
	var backends []Backend
	for _, e := range block.Get("proxy_to") {
		if v, ok := e.Arg(0); ok {
			backends = append(backends, Backend{URL: v.String(), Weight: 1})
		}
	}
	for _, e := range block.Get("proxy_srv") {
		v, ok := e.Arg(0)
		if !ok {
			continue
		}
		scheme := "http"
		if sv, ok := e.Arg(1); ok {
			scheme = sv.String()
		}
		servers := dnsServersFrom(block)
		resolved, err := ResolveSRV(servers, v.String(), scheme)
		if err != nil {
			return nil, err
		}
		backends = append(backends, resolved...)
	}
	if len(backends) == 0 {
		return nil, errs.Newf(errs.KindConfig, "reverse proxy block declares no usable backend")
	}
	return backends, nil
}

func dnsServersFrom(block *config.Block) []string {
	servers := stringListSetting(block, "dns_servers")
	if len(servers) == 0 {
		return []string{"8.8.8.8:53"}
	}
	return servers
}

func stringSetting(block *config.Block, name string) string {
	e, ok := block.GetOne(name)
	if !ok || len(e.Args) != 1 {
		return ""
	}
	return e.Args[0].String()
}

func boolSetting(block *config.Block, name string, fallback bool) bool {
	e, ok := block.GetOne(name)
	if !ok || len(e.Args) != 1 {
		return fallback
	}
	return e.Args[0].IsTruthy()
}

func intSetting(block *config.Block, name string, fallback int) int {
	e, ok := block.GetOne(name)
	if !ok || len(e.Args) != 1 || e.Args[0].Kind != config.KindInt {
		return fallback
	}
	return int(e.Args[0].Int)
}

func durationSetting(block *config.Block, name string, fallback time.Duration) time.Duration {
	e, ok := block.GetOne(name)
	if !ok || len(e.Args) != 1 || e.Args[0].Kind != config.KindInt {
		return fallback
	}
	return time.Duration(e.Args[0].Int) * time.Second
}

func stringListSetting(block *config.Block, name string) []string {
	es := block.Get(name)
	var out []string
	for _, e := range es {
		for _, a := range e.Args {
			if a.Kind == config.KindString {
				out = append(out, a.Str)
			}
		}
	}
	return out
}

// Module is the long-lived reverse proxy state for one block.
type Module struct {
	balancer *Balancer
	pool     *Pool

	retryOnFailure  bool
	interceptErrors bool

	requestHeaders config.Entries
	replaceHeaders config.Entries
	removeHeaders  []string

	metrics *metrics.ProxyMetrics
}

func (m *Module) Name() string              { return Name }
func (m *Module) NewHandlers() module.Handlers { return &handlers{module: m} }
func (m *Module) Close() error              { return nil }

type handlers struct {
	module *Module
}

func (h *handlers) RequestHandler(req *http.Request, block *config.Block, socket module.SocketData, logger *zap.Logger) (module.ResponseData, error) {
	m := h.module

	tried := map[string]bool{}
	maxAttempts := len(m.balancer.backends)
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		backend, ok := m.balancer.Pick()
		if !ok {
			return module.ResponseData{}, errs.Newf(errs.KindConfig, "no reverse proxy backend available")
		}
		if tried[backend] {
			continue
		}
		tried[backend] = true

		outReq, err := m.buildUpstreamRequest(req, backend, socket)
		if err != nil {
			return module.ResponseData{}, errs.New(errs.KindClient, err).WithStatus(http.StatusBadGateway)
		}

		if req.Header.Get("Upgrade") != "" {
			return module.ResponseData{Request: outReq}, nil
		}

		client := m.pool.Get(backend)
		m.balancer.StartRequest(backend)
		if m.metrics != nil {
			m.metrics.PoolActiveConnections.WithLabelValues(backend).Inc()
		}
		start := time.Now()
		resp, err := client.Do(outReq)
		m.balancer.EndRequest(backend)
		if m.metrics != nil {
			m.metrics.PoolActiveConnections.WithLabelValues(backend).Dec()
		}
		if err != nil {
			m.balancer.RecordFailure(backend)
			if m.metrics != nil {
				m.metrics.BackendFailuresTotal.WithLabelValues(backend).Inc()
				m.metrics.BackendHealthyGauge.WithLabelValues(backend).Set(0)
			}
			lastErr = err
			if m.retryOnFailure && attempt+1 < maxAttempts {
				continue
			}
			return module.ResponseData{}, mapUpstreamError(err)
		}
		m.balancer.RecordSuccess(backend)
		m.pool.Put(backend, client)
		if m.metrics != nil {
			m.metrics.BackendHealthyGauge.WithLabelValues(backend).Set(1)
		}

		if m.metrics != nil {
			m.metrics.UpstreamRequestsTotal.WithLabelValues(backend, strconv.Itoa(resp.StatusCode)).Inc()
			m.metrics.UpstreamDurationSecs.WithLabelValues(backend).Observe(time.Since(start).Seconds())
		}

		if m.interceptErrors && resp.StatusCode >= 400 {
			return module.ResponseData{Request: outReq, Status: resp.StatusCode}, nil
		}

		return module.ResponseData{Request: outReq, Response: resp, Status: resp.StatusCode}, nil
	}

	if lastErr == nil {
		return module.ResponseData{}, errs.Newf(errs.KindConfig, "no reverse proxy backend could be reached")
	}
	return module.ResponseData{}, mapUpstreamError(lastErr)
}

func (h *handlers) ResponseModifyingHandler(resp *http.Response) (*http.Response, error) {
	return resp, nil
}

// buildUpstreamRequest rewrites req into one directed at backend, per
// spec.md §4.6's request rewriting rules.
func (m *Module) buildUpstreamRequest(req *http.Request, backend string, socket module.SocketData) (*http.Request, error) {
	upstreamURL, err := url.Parse(backend)
	if err != nil {
		return nil, err
	}

	target := *upstreamURL
	target.Path = joinPath(upstreamURL.Path, req.URL.Path)
	target.RawQuery = req.URL.RawQuery

	outReq := req.Clone(req.Context())
	outReq.URL = &target
	outReq.Host = upstreamURL.Host
	outReq.RequestURI = ""

	for _, name := range hopByHopHeaders {
		outReq.Header.Del(name)
	}

	clientIP := req.RemoteAddr
	if host, _, err := splitHostPort(req.RemoteAddr); err == nil {
		clientIP = host
	}
	if prior := outReq.Header.Get("X-Forwarded-For"); prior != "" {
		outReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}
	proto := "http"
	if socket.Encrypted {
		proto = "https"
	}
	outReq.Header.Set("X-Forwarded-Proto", proto)
	outReq.Header.Set("X-Forwarded-Host", req.Host)

	for _, e := range m.requestHeaders {
		if len(e.Args) == 2 {
			outReq.Header.Add(e.ArgString(0), e.ArgString(1))
		}
	}
	for _, e := range m.replaceHeaders {
		if len(e.Args) == 2 {
			outReq.Header.Set(e.ArgString(0), e.ArgString(1))
		}
	}
	for _, name := range m.removeHeaders {
		outReq.Header.Del(name)
	}

	return outReq, nil
}

func joinPath(prefix, suffix string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}
	return prefix + suffix
}

func splitHostPort(hostport string) (string, string, error) {
	if idx := strings.LastIndex(hostport, ":"); idx != -1 {
		return hostport[:idx], hostport[idx+1:], nil
	}
	return hostport, "", nil
}

// mapUpstreamError implements spec.md §4.6's failure mapping: connect
// failures become 503, timeouts 504, anything else 502.
func mapUpstreamError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "host unreachable"),
		strings.Contains(msg, "network unreachable"):
		return errs.New(errs.KindNetworkTransient, err).WithStatus(http.StatusServiceUnavailable)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return errs.New(errs.KindNetworkTransient, err).WithStatus(http.StatusGatewayTimeout)
	default:
		return errs.New(errs.KindUpstream, err).WithStatus(http.StatusBadGateway)
	}
}
