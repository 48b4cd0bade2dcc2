package cache

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ferron/internal/config"
	"ferron/internal/metrics"
	"ferron/internal/module"
)

func newTestModule(t *testing.T) *Module {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	l := NewLoader(m.Cache)
	block := config.NewBlock(config.Filter{})
	block.Append("cache_max_entries", config.Entry{Args: []config.Value{config.Int(8)}})

	mod, err := l.LoadModule(block, block)
	if err != nil {
		t.Fatal(err)
	}
	return mod.(*Module)
}

func doRequest(h module.Handlers, method, url string, withAuth bool) (*http.Request, module.ResponseData) {
	req := httptest.NewRequest(method, url, nil)
	if withAuth {
		req.Header.Set("Authorization", "Bearer token")
	}
	rd, _ := h.RequestHandler(req, nil, module.SocketData{}, nil)
	return req, rd
}

func respondWith(h module.Handlers, body string, cacheControl string) *http.Response {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
	if cacheControl != "" {
		resp.Header.Set("Cache-Control", cacheControl)
	}
	out, _ := h.ResponseModifyingHandler(resp)
	return out
}

func TestCache_MissThenHitForPublicResponse(t *testing.T) {
	mod := newTestModule(t)

	h1 := mod.NewHandlers()
	_, rd := doRequest(h1, http.MethodGet, "http://example.com/page", false)
	if rd.Response != nil {
		t.Fatal("expected a miss on first request")
	}
	out := respondWith(h1, "hello", "public, max-age=60")
	if out.Header.Get(cacheHeaderName) != "MISS" {
		t.Fatalf("got %q", out.Header.Get(cacheHeaderName))
	}

	h2 := mod.NewHandlers()
	_, rd2 := doRequest(h2, http.MethodGet, "http://example.com/page", false)
	if rd2.Response == nil {
		t.Fatal("expected a cache hit on second request")
	}
	body, _ := io.ReadAll(rd2.Response.Body)
	if string(body) != "hello" {
		t.Fatalf("got body %q", body)
	}
}

func TestCache_NoStoreBypassesCache(t *testing.T) {
	mod := newTestModule(t)
	h := mod.NewHandlers()

	req := httptest.NewRequest(http.MethodGet, "http://example.com/x", nil)
	req.Header.Set("Cache-Control", "no-store")
	rd, _ := h.RequestHandler(req, nil, module.SocketData{}, nil)
	if rd.Response != nil {
		t.Fatal("expected no cached response for a no-store request")
	}

	out := respondWith(h, "body", "public, max-age=60")
	if out.Header.Get(cacheHeaderName) != "BYPASS" {
		t.Fatalf("got %q", out.Header.Get(cacheHeaderName))
	}
}

func TestCache_AuthorizationHeaderBlocksDefaultStorage(t *testing.T) {
	mod := newTestModule(t)
	h := mod.NewHandlers()

	_, _ = doRequest(h, http.MethodGet, "http://example.com/secure", true)
	out := respondWith(h, "secret", "")
	if out.Header.Get(cacheHeaderName) != "MISS" {
		t.Fatalf("got %q", out.Header.Get(cacheHeaderName))
	}

	h2 := mod.NewHandlers()
	_, rd2 := doRequest(h2, http.MethodGet, "http://example.com/secure", true)
	if rd2.Response != nil {
		t.Fatal("expected no stored entry for an authorized response without explicit max-age")
	}
}

func TestCache_PrivateResponseNeverStored(t *testing.T) {
	mod := newTestModule(t)
	h := mod.NewHandlers()

	doRequest(h, http.MethodGet, "http://example.com/priv", false)
	respondWith(h, "x", "private")

	h2 := mod.NewHandlers()
	_, rd2 := doRequest(h2, http.MethodGet, "http://example.com/priv", false)
	if rd2.Response != nil {
		t.Fatal("expected a private response to never be cached")
	}
}

func TestCache_ExpiredEntryIsNotServed(t *testing.T) {
	mod := newTestModule(t)
	h := mod.NewHandlers()

	doRequest(h, http.MethodGet, "http://example.com/ttl", false)
	respondWith(h, "stale", "public, max-age=0")

	time.Sleep(2 * time.Millisecond)

	h2 := mod.NewHandlers()
	_, rd2 := doRequest(h2, http.MethodGet, "http://example.com/ttl", false)
	if rd2.Response != nil {
		t.Fatal("expected an expired entry to not be served as a hit")
	}
}

func TestCache_InsertSweepsExpiredEntries(t *testing.T) {
	mod := newTestModule(t)

	h1 := mod.NewHandlers()
	doRequest(h1, http.MethodGet, "http://example.com/ttl", false)
	respondWith(h1, "stale", "public, max-age=0")

	time.Sleep(2 * time.Millisecond)

	if mod.primary.Len() != 1 {
		t.Fatalf("expected the stale entry to still be present before the next insert, got %d entries", mod.primary.Len())
	}

	h2 := mod.NewHandlers()
	doRequest(h2, http.MethodGet, "http://example.com/other", false)
	respondWith(h2, "fresh", "public, max-age=60")

	if mod.primary.Len() != 1 {
		t.Fatalf("expected the expired entry to be swept on the next insert, got %d entries", mod.primary.Len())
	}

	count := testutil.ToFloat64(mod.metrics.EvictionsTotal.WithLabelValues("expired"))
	if count != 1 {
		t.Fatalf("expected one expired eviction recorded, got %v", count)
	}
}

func TestCache_VaryStarNeverStores(t *testing.T) {
	mod := newTestModule(t)
	h := mod.NewHandlers()

	doRequest(h, http.MethodGet, "http://example.com/vary", false)
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Cache-Control": {"public, max-age=60"}, "Vary": {"*"}},
		Body:       io.NopCloser(bytes.NewBufferString("v")),
	}
	out, _ := h.ResponseModifyingHandler(resp)
	if out.Header.Get(cacheHeaderName) != "MISS" {
		t.Fatalf("got %q", out.Header.Get(cacheHeaderName))
	}

	h2 := mod.NewHandlers()
	_, rd2 := doRequest(h2, http.MethodGet, "http://example.com/vary", false)
	if rd2.Response != nil {
		t.Fatal("expected Vary: * to prevent storage")
	}
}
