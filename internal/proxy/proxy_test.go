package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"ferron/internal/config"
	"ferron/internal/errs"
	"ferron/internal/metrics"
	"ferron/internal/module"

	"github.com/prometheus/client_golang/prometheus"
)

func TestJoinPath_StripsTrailingSlashFromPrefix(t *testing.T) {
	got := joinPath("/api/", "/v1/users")
	if got != "/api/v1/users" {
		t.Fatalf("got %q", got)
	}
}

func TestJoinPath_AddsLeadingSlashToSuffix(t *testing.T) {
	got := joinPath("/api", "v1")
	if got != "/api/v1" {
		t.Fatalf("got %q", got)
	}
}

func TestBuildUpstreamRequest_RewritesHostAndForwardedHeaders(t *testing.T) {
	m := &Module{}
	req := httptest.NewRequest(http.MethodGet, "http://client.example/page?x=1", nil)
	req.RemoteAddr = "203.0.113.5:54321"

	out, err := m.buildUpstreamRequest(req, "http://backend.internal:9000", module.SocketData{Encrypted: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.Host != "backend.internal:9000" {
		t.Fatalf("got host %q", out.Host)
	}
	if out.URL.Path != "/page" || out.URL.RawQuery != "x=1" {
		t.Fatalf("got path %q query %q", out.URL.Path, out.URL.RawQuery)
	}
	if out.Header.Get("X-Forwarded-For") != "203.0.113.5" {
		t.Fatalf("got XFF %q", out.Header.Get("X-Forwarded-For"))
	}
	if out.Header.Get("X-Forwarded-Proto") != "https" {
		t.Fatalf("got proto %q", out.Header.Get("X-Forwarded-Proto"))
	}
	if out.Header.Get("X-Forwarded-Host") != "client.example" {
		t.Fatalf("got forwarded host %q", out.Header.Get("X-Forwarded-Host"))
	}
}

func TestBuildUpstreamRequest_StripsHopByHopHeaders(t *testing.T) {
	m := &Module{}
	req := httptest.NewRequest(http.MethodGet, "http://client.example/", nil)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade", "websocket")

	out, err := m.buildUpstreamRequest(req, "http://backend.internal", module.SocketData{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Header.Get("Connection") != "" || out.Header.Get("Upgrade") != "" {
		t.Fatal("expected hop-by-hop headers to be stripped")
	}
}

func TestMapUpstreamError_ClassifiesByMessage(t *testing.T) {
	cases := map[string]int{
		"dial tcp: connection refused": http.StatusServiceUnavailable,
		"context deadline exceeded":    http.StatusGatewayTimeout,
		"unexpected EOF":               http.StatusBadGateway,
	}
	for msg, wantStatus := range cases {
		mapped, ok := mapUpstreamError(&testErr{msg}).(*errs.Error)
		if !ok {
			t.Fatalf("%q: expected *errs.Error", msg)
		}
		if mapped.Status != wantStatus {
			t.Errorf("%q: got status %d, want %d", msg, mapped.Status, wantStatus)
		}
	}
}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }

func TestLoader_ValidateConfigurationMarksUsedProperties(t *testing.T) {
	l := NewLoader(nil)
	block := config.NewBlock(config.Filter{})
	block.Append("proxy_to", config.Entry{Args: []config.Value{config.String("http://127.0.0.1:8080")}})
	block.Append("proxy_no_verification", config.Entry{Args: []config.Value{config.Bool(true)}})

	used := map[string]bool{}
	if err := l.ValidateConfiguration(block, used); err != nil {
		t.Fatal(err)
	}
	if !used["proxy_to"] || !used["proxy_no_verification"] {
		t.Fatalf("got used=%v", used)
	}
}

func TestLoader_LoadModuleBuildsSingleBackendBalancer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	l := NewLoader(m.Proxy)

	block := config.NewBlock(config.Filter{})
	block.Append("proxy_to", config.Entry{Args: []config.Value{config.String("http://127.0.0.1:9999")}})

	mod, err := l.LoadModule(block, block)
	if err != nil {
		t.Fatal(err)
	}
	pm := mod.(*Module)
	backend, ok := pm.balancer.Pick()
	if !ok || backend != "http://127.0.0.1:9999" {
		t.Fatalf("got backend %q ok=%v", backend, ok)
	}
}
