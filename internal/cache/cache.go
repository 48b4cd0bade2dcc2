// Package cache implements the response cache module described in
// spec.md §4.5: a vary-aware, size-bounded, evicting map from
// (method, scheme, host, path, query) to a previously observed
// response.
package cache

import (
	"bytes"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"ferron/internal/config"
	"ferron/internal/lockutil"
	"ferron/internal/metrics"
	"ferron/internal/module"
)

const Name = "cache"

const (
	cacheHeaderName        = "X-Ferron-Cache"
	defaultMaxAge          = 300 * time.Second
	defaultMaxEntries      = 1024
	defaultMaxResponseSize = 2 * 1024 * 1024
)

// Loader builds Module instances for blocks that declare caching
// properties.
type Loader struct {
	metrics *metrics.CacheMetrics
}

func NewLoader(m *metrics.CacheMetrics) *Loader {
	return &Loader{metrics: m}
}

// Requirements lists the properties whose presence activates caching
// for a block: either an explicit `cache` toggle or any of its tuning
// knobs.
func (l *Loader) Requirements() []string {
	return []string{"cache", "cache_max_entries", "cache_max_response_size", "cache_vary", "cache_ignore"}
}

func (l *Loader) ValidateConfiguration(block *config.Block, used map[string]bool) error {
	for _, name := range l.Requirements() {
		if block.Has(name) {
			used[name] = true
		}
	}
	return nil
}

func (l *Loader) LoadModule(block, global *config.Block) (module.Module, error) {
	maxEntries := intSetting(block, "cache_max_entries", defaultMaxEntries)
	maxResponseSize := int64(intSetting(block, "cache_max_response_size", defaultMaxResponseSize))
	varyConfigured := stringListSetting(block, "cache_vary")
	ignoreHeaders := stringListSetting(block, "cache_ignore")

	m := &Module{
		maxResponseSize: maxResponseSize,
		varyConfigured:  varyConfigured,
		ignoreHeaders:   ignoreHeaders,
		vary:            make(map[string][]string),
		metrics:         l.metrics,
	}

	primary, err := lru.NewWithEvict[string, *entry](maxEntries, m.onEvict)
	if err != nil {
		return nil, err
	}
	m.primary = primary
	return m, nil
}

func intSetting(block *config.Block, name string, fallback int) int {
	e, ok := block.GetOne(name)
	if !ok || len(e.Args) != 1 || e.Args[0].Kind != config.KindInt {
		return fallback
	}
	return int(e.Args[0].Int)
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

type entry struct {
	status     int
	header     http.Header
	body       []byte
	inserted   time.Time
	maxAge     time.Duration
}

// Module is the long-lived cache state for one block: its entries
// survive config reloads that leave the block's structural hash
// unchanged, per spec.md §3's module-cache.
type Module struct {
	mu lockutil.Mutex

	primary *lru.Cache[string, *entry]
	vary    map[string][]string // base key -> sorted, deduped Vary header names

	maxResponseSize int64
	varyConfigured  []string
	ignoreHeaders   []string

	metrics *metrics.CacheMetrics

	// sweeping distinguishes onEvict's eviction reason: set while
	// sweepExpired is removing stale entries so its evictions count
	// under reason="expired" rather than the LRU's usual "size".
	sweeping bool
}

func (m *Module) Name() string { return Name }

func (m *Module) onEvict(key string, e *entry) {
	if m.metrics == nil {
		return
	}
	reason := "size"
	if m.sweeping {
		reason = "expired"
	}
	m.metrics.EvictionsTotal.WithLabelValues(reason).Inc()
}

// sweepExpired runs on every insert, just before the new entry is added
// (caller holds mu), removing entries whose computed max_age has already
// elapsed. The LRU's own eviction
// only fires on size pressure, so a rarely-hit key with a short
// max-age would otherwise sit stale in the cache indefinitely between
// size-driven sweeps.
func (m *Module) sweepExpired() {
	now := time.Now()
	m.sweeping = true
	defer func() { m.sweeping = false }()
	for _, key := range m.primary.Keys() {
		e, ok := m.primary.Peek(key)
		if !ok || now.Sub(e.inserted) <= e.maxAge {
			continue
		}
		m.primary.Remove(key)
	}
}

func (m *Module) NewHandlers() module.Handlers {
	return &handlers{module: m}
}

func (m *Module) Close() error { return nil }

type handlers struct {
	module *Module

	noStore           bool
	cached            bool
	cacheKey          string
	requestHeaders    http.Header
	hasAuthorization  bool
}

func (h *handlers) RequestHandler(req *http.Request, block *config.Block, socket module.SocketData, logger *zap.Logger) (module.ResponseData, error) {
	if !cacheableMethod(req.Method) || req.Header.Get("Upgrade") != "" {
		h.noStore = true
		return module.ResponseData{Request: req}, nil
	}

	cc := parseCacheControl(req.Header.Get("Cache-Control"))
	if cc.noStore {
		h.noStore = true
		return module.ResponseData{Request: req}, nil
	}

	scheme := "http"
	if socket.Encrypted {
		scheme = "https"
	}
	baseKey := buildBaseKey(req.Method, scheme, req.Host, req.URL.Path, req.URL.RawQuery)

	if !cc.noCache {
		m := h.module
		m.mu.Lock()
		varyHeaders, ok := m.vary[baseKey]
		m.mu.Unlock()

		if ok {
			fullKey := buildVaryKey(baseKey, varyHeaders, req.Header)
			m.mu.Lock()
			e, found := m.primary.Get(fullKey)
			m.mu.Unlock()

			if found && time.Since(e.inserted) <= e.maxAge {
				h.cached = true
				if m.metrics != nil {
					m.metrics.HitsTotal.Inc()
				}
				resp := &http.Response{
					StatusCode: e.status,
					Header:     e.header.Clone(),
					Body:       io.NopCloser(bytes.NewReader(e.body)),
				}
				return module.ResponseData{Request: req, Response: resp}, nil
			}
		}
		if m.metrics != nil {
			m.metrics.MissesTotal.Inc()
		}
	}

	h.requestHeaders = req.Header.Clone()
	h.cacheKey = baseKey
	h.hasAuthorization = req.Header.Get("Authorization") != ""
	return module.ResponseData{Request: req}, nil
}

func (h *handlers) ResponseModifyingHandler(resp *http.Response) (*http.Response, error) {
	if h.noStore {
		resp.Header.Set(cacheHeaderName, "BYPASS")
		return resp, nil
	}
	if h.cached {
		resp.Header.Set(cacheHeaderName, "HIT")
		return resp, nil
	}
	if h.cacheKey == "" {
		return resp, nil
	}

	cc := parseCacheControl(resp.Header.Get("Cache-Control"))
	if !shouldCacheResponse(cc, h.hasAuthorization) {
		resp.Header.Set(cacheHeaderName, "MISS")
		return resp, nil
	}

	body, truncated, err := readLimited(resp.Body, h.module.maxResponseSize)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if truncated {
		resp.Header.Set(cacheHeaderName, "MISS")
		return resp, nil
	}

	varySet := append([]string{}, h.module.varyConfigured...)
	for _, v := range resp.Header.Values("Vary") {
		for _, tok := range strings.Split(v, ",") {
			varySet = append(varySet, strings.TrimSpace(tok))
		}
	}
	sort.Strings(varySet)
	varySet = dedup(varySet)

	if contains(varySet, "*") {
		resp.Header.Set(cacheHeaderName, "MISS")
		return resp, nil
	}

	fullKey := buildVaryKey(h.cacheKey, varySet, h.requestHeaders)

	stored := resp.Header.Clone()
	for _, ignored := range h.module.ignoreHeaders {
		stored.Del(ignored)
	}

	maxAge := cc.effectiveMaxAge()

	h.module.mu.Lock()
	h.module.sweepExpired()
	h.module.vary[h.cacheKey] = varySet
	h.module.primary.Add(fullKey, &entry{
		status:   resp.StatusCode,
		header:   stored,
		body:     body,
		inserted: time.Now(),
		maxAge:   maxAge,
	})
	if h.module.metrics != nil {
		h.module.metrics.EntriesCount.Set(float64(h.module.primary.Len()))
	}
	h.module.mu.Unlock()

	resp.Header.Set(cacheHeaderName, "MISS")
	return resp, nil
}

func cacheableMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func buildBaseKey(method, scheme, host, path, query string) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String()
}

func buildVaryKey(baseKey string, varyHeaders []string, headers http.Header) string {
	var b strings.Builder
	b.WriteString(baseKey)
	b.WriteByte('\n')
	for i, name := range varyHeaders {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(headers.Get(name))
	}
	b.WriteByte('\n')
	return b.String()
}

func dedup(sorted []string) []string {
	out := sorted[:0]
	var prev string
	first := true
	for _, s := range sorted {
		if first || s != prev {
			out = append(out, s)
			prev = s
			first = false
		}
	}
	return out
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// cacheControl is the subset of RFC 9111 Cache-Control directives the
// cache module consults.
type cacheControl struct {
	noStore   bool
	noCache   bool
	private   bool
	public    bool
	maxAge    *time.Duration
	sMaxAge   *time.Duration
}

func (cc cacheControl) effectiveMaxAge() time.Duration {
	if cc.sMaxAge != nil {
		return *cc.sMaxAge
	}
	if cc.maxAge != nil {
		return *cc.maxAge
	}
	return defaultMaxAge
}

func parseCacheControl(header string) cacheControl {
	var cc cacheControl
	if header == "" {
		return cc
	}
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(directive)
		name, value, hasValue := strings.Cut(directive, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch name {
		case "no-store":
			cc.noStore = true
		case "no-cache":
			cc.noCache = true
		case "private":
			cc.private = true
		case "public":
			cc.public = true
		case "max-age":
			if hasValue {
				if secs, err := strconv.Atoi(value); err == nil {
					d := time.Duration(secs) * time.Second
					cc.maxAge = &d
				}
			}
		case "s-maxage":
			if hasValue {
				if secs, err := strconv.Atoi(value); err == nil {
					d := time.Duration(secs) * time.Second
					cc.sMaxAge = &d
				}
			}
		}
	}
	return cc
}

// shouldCacheResponse implements spec.md §4.5's storability decision:
// no-store never stores, public always stores, private never stores,
// and anything else stores only if unauthenticated and a finite
// max-age/s-maxage was given.
func shouldCacheResponse(cc cacheControl, hasAuthorization bool) bool {
	switch {
	case cc.noStore:
		return false
	case cc.public:
		return true
	case cc.private:
		return false
	default:
		return !hasAuthorization && (cc.maxAge != nil || cc.sMaxAge != nil)
	}
}

// readLimited reads up to limit+1 bytes from r, reporting truncated if
// more than limit bytes were available.
func readLimited(r io.ReadCloser, limit int64) ([]byte, bool, error) {
	defer r.Close()
	lr := io.LimitReader(r, limit+1)
	buf, err := io.ReadAll(lr)
	if err != nil {
		return nil, false, err
	}
	if int64(len(buf)) > limit {
		return buf[:limit], true, nil
	}
	return buf, false, nil
}
