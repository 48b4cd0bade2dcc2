package module

import (
	"net/http"
	"testing"

	"go.uber.org/zap"

	"ferron/internal/config"
)

type stubLoader struct {
	name    string
	reqs    []string
	loadErr error
	loads   int
}

func (s *stubLoader) Requirements() []string { return s.reqs }

func (s *stubLoader) ValidateConfiguration(block *config.Block, used map[string]bool) error {
	for _, r := range s.reqs {
		used[r] = true
	}
	return nil
}

func (s *stubLoader) LoadModule(block, global *config.Block) (Module, error) {
	s.loads++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return &stubModule{name: s.name}, nil
}

type stubModule struct {
	name   string
	closed bool
}

func (m *stubModule) Name() string        { return m.name }
func (m *stubModule) NewHandlers() Handlers { return &stubHandlers{} }
func (m *stubModule) Close() error         { m.closed = true; return nil }

type stubHandlers struct{}

func (h *stubHandlers) RequestHandler(req *http.Request, block *config.Block, socket SocketData, logger *zap.Logger) (ResponseData, error) {
	return ResponseData{}, nil
}
func (h *stubHandlers) ResponseModifyingHandler(resp *http.Response) (*http.Response, error) {
	return resp, nil
}

func TestRegistry_ActiveLoadersMatchesOnRequirement(t *testing.T) {
	r := NewRegistry()
	r.Register("cache", &stubLoader{name: "cache", reqs: []string{"cache_max_entries"}})
	r.Register("reverse_proxy", &stubLoader{name: "reverse_proxy", reqs: []string{"proxy"}})

	block := config.NewBlock(config.Filter{})
	block.Append("cache_max_entries", config.Entry{Args: []config.Value{config.Int(100)}})

	active := r.ActiveLoaders(block)
	if len(active) != 1 {
		t.Fatalf("expected exactly one active loader, got %d", len(active))
	}
}

func TestRegistry_GetReturnsRegisteredLoader(t *testing.T) {
	r := NewRegistry()
	loader := &stubLoader{name: "core"}
	r.Register("core", loader)

	got, ok := r.Get("core")
	if !ok || got != loader {
		t.Fatal("expected to retrieve the registered loader")
	}

	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected no loader for an unregistered name")
	}
}

func TestCache_GetOrLoadReusesInstanceForSameBlock(t *testing.T) {
	c := NewCache()
	loader := &stubLoader{name: "cache"}
	block := config.NewBlock(config.Filter{})
	block.Append("cache_max_entries", config.Entry{Args: []config.Value{config.Int(100)}})

	m1, err := c.GetOrLoad("cache", block, block, loader)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := c.GetOrLoad("cache", block, block, loader)
	if err != nil {
		t.Fatal(err)
	}
	if m1 != m2 {
		t.Fatal("expected the same module instance to be reused")
	}
	if loader.loads != 1 {
		t.Fatalf("expected LoadModule to be called once, got %d", loader.loads)
	}
}

func TestCache_PruneClosesEvictedModules(t *testing.T) {
	c := NewCache()
	loader := &stubLoader{name: "cache"}
	block := config.NewBlock(config.Filter{})
	block.Append("cache_max_entries", config.Entry{Args: []config.Value{config.Int(100)}})

	m, err := c.GetOrLoad("cache", block, block, loader)
	if err != nil {
		t.Fatal(err)
	}

	errs := c.Prune(func(loaderName string, structHash uint64) bool { return false })
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !m.(*stubModule).closed {
		t.Fatal("expected the evicted module to be closed")
	}
	if c.Len() != 0 {
		t.Fatalf("expected cache to be empty after pruning everything, got %d", c.Len())
	}
}
