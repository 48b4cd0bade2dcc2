package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"ferron/internal/config"
	"ferron/internal/module"
)

type stubLoader struct {
	name string
	reqs []string
	fn   func(req *http.Request, block *config.Block, socket module.SocketData) (module.ResponseData, error)
}

func (s *stubLoader) Requirements() []string { return s.reqs }
func (s *stubLoader) ValidateConfiguration(block *config.Block, used map[string]bool) error {
	return nil
}
func (s *stubLoader) LoadModule(block, global *config.Block) (module.Module, error) {
	return &stubModule{name: s.name, fn: s.fn}, nil
}

type stubModule struct {
	name string
	fn   func(req *http.Request, block *config.Block, socket module.SocketData) (module.ResponseData, error)
}

func (m *stubModule) Name() string { return m.name }
func (m *stubModule) NewHandlers() module.Handlers {
	return &stubHandlers{fn: m.fn}
}
func (m *stubModule) Close() error { return nil }

type stubHandlers struct {
	fn func(req *http.Request, block *config.Block, socket module.SocketData) (module.ResponseData, error)
}

func (h *stubHandlers) RequestHandler(req *http.Request, block *config.Block, socket module.SocketData, logger *zap.Logger) (module.ResponseData, error) {
	if h.fn == nil {
		return module.ResponseData{}, nil
	}
	return h.fn(req, block, socket)
}
func (h *stubHandlers) ResponseModifyingHandler(resp *http.Response) (*http.Response, error) {
	resp.Header.Set("X-Modified", "1")
	return resp, nil
}

func TestPipeline_ShortCircuitsOnResponse(t *testing.T) {
	registry := module.NewRegistry()
	registry.Register("stub", &stubLoader{
		name: "stub",
		reqs: []string{"stub_enable"},
		fn: func(req *http.Request, block *config.Block, socket module.SocketData) (module.ResponseData, error) {
			return module.ResponseData{Response: &http.Response{StatusCode: 200, Header: http.Header{}}}, nil
		},
	})

	block := config.NewBlock(config.Filter{})
	block.Append("stub_enable", config.Entry{Args: []config.Value{config.Bool(true)}})

	p := New(registry, module.NewCache())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	result, err := p.Serve(req, block, block, module.SocketData{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if result.Response == nil || result.Response.StatusCode != 200 {
		t.Fatalf("expected a 200 response, got %#v", result)
	}
	if result.Response.Header.Get("X-Modified") != "1" {
		t.Fatal("expected response_modifying_handler to run over the short-circuiting module")
	}
}

func TestPipeline_StatusShortCircuits(t *testing.T) {
	registry := module.NewRegistry()
	registry.Register("stub", &stubLoader{
		name: "stub",
		reqs: []string{"stub_enable"},
		fn: func(req *http.Request, block *config.Block, socket module.SocketData) (module.ResponseData, error) {
			return module.ResponseData{Status: 403}, nil
		},
	})

	block := config.NewBlock(config.Filter{})
	block.Append("stub_enable", config.Entry{Args: []config.Value{config.Bool(true)}})

	p := New(registry, module.NewCache())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	result, err := p.Serve(req, block, block, module.SocketData{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != 403 {
		t.Fatalf("expected status 403, got %#v", result)
	}
}

func TestPipeline_NoModuleProducesResponseYields404(t *testing.T) {
	registry := module.NewRegistry()
	block := config.NewBlock(config.Filter{})

	p := New(registry, module.NewCache())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	result, err := p.Serve(req, block, block, module.SocketData{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %#v", result)
	}
}

func TestPipeline_EmptyRequirementsAlwaysActivates(t *testing.T) {
	called := false
	registry := module.NewRegistry()
	registry.Register("core", &stubLoader{
		name: "core",
		reqs: nil,
		fn: func(req *http.Request, block *config.Block, socket module.SocketData) (module.ResponseData, error) {
			called = true
			return module.ResponseData{Request: req}, nil
		},
	})

	block := config.NewBlock(config.Filter{})
	p := New(registry, module.NewCache())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := p.Serve(req, block, block, module.SocketData{}, zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("expected the always-active core-like module to run even with no matching properties")
	}
}
