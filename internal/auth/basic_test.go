package auth

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"ferron/internal/config"
	"ferron/internal/module"
)

func basicAuthHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestBasicAuth_RejectsWithoutCredentials(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	m := &Module{
		rules:      []rule{{statusCode: 401, url: "/admin"}},
		users:      []userCredential{{name: "alice", hash: string(hash)}},
		bruteForce: newBruteForceTracker(),
	}
	h := &handlers{module: m}

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	rd, err := h.RequestHandler(req, config.NewBlock(config.Filter{}), module.SocketData{RemoteAddr: &fakeAddr{"1.2.3.4:1234"}}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if rd.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %#v", rd)
	}
	if rd.ExtraHeaders.Get("WWW-Authenticate") == "" {
		t.Fatal("expected a WWW-Authenticate challenge")
	}
}

func TestBasicAuth_AcceptsCorrectCredentials(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	m := &Module{
		rules:      []rule{{statusCode: 401, url: "/admin"}},
		users:      []userCredential{{name: "alice", hash: string(hash)}},
		bruteForce: newBruteForceTracker(),
	}
	h := &handlers{module: m}

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", basicAuthHeader("alice", "secret"))
	rd, err := h.RequestHandler(req, config.NewBlock(config.Filter{}), module.SocketData{RemoteAddr: &fakeAddr{"1.2.3.4:1234"}}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if rd.Status != 0 || rd.Request == nil {
		t.Fatalf("expected the request to pass through, got %#v", rd)
	}
}

func TestBasicAuth_RecordsFailureOnWrongPassword(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	m := &Module{
		rules:      []rule{{statusCode: 401, url: "/admin"}},
		users:      []userCredential{{name: "alice", hash: string(hash)}},
		bruteForce: newBruteForceTracker(),
	}
	h := &handlers{module: m}

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", basicAuthHeader("alice", "wrong"))
	socket := module.SocketData{RemoteAddr: &fakeAddr{"5.6.7.8:80"}}
	rd, err := h.RequestHandler(req, config.NewBlock(config.Filter{}), socket, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if rd.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %#v", rd)
	}
	if !m.bruteForce.Blocked("5.6.7.8") && m.bruteForce.limiterFor("5.6.7.8").Tokens() >= bruteForceMaxAttempts {
		t.Fatal("expected a failure to be recorded against the client IP")
	}
}

func TestBasicAuth_BruteForceBlocksAfterMaxAttempts(t *testing.T) {
	tracker := newBruteForceTracker()
	for i := 0; i < bruteForceMaxAttempts; i++ {
		tracker.RecordFailure("9.9.9.9")
	}
	if !tracker.Blocked("9.9.9.9") {
		t.Fatal("expected the client to be blocked after exhausting attempts")
	}
}

func TestBasicAuth_RedirectRuleRewritesLocation(t *testing.T) {
	m := &Module{rules: []rule{{statusCode: 302, url: "/old", location: "/new"}}, bruteForce: newBruteForceTracker()}
	h := &handlers{module: m}

	req := httptest.NewRequest(http.MethodGet, "/old", nil)
	rd, err := h.RequestHandler(req, config.NewBlock(config.Filter{}), module.SocketData{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if rd.Response == nil || rd.Response.StatusCode != 302 || rd.Response.Header.Get("Location") != "/new" {
		t.Fatalf("expected a 302 to /new, got %#v", rd)
	}
}

type fakeAddr struct{ s string }

func (a *fakeAddr) Network() string { return "tcp" }
func (a *fakeAddr) String() string  { return a.s }
