package acme

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/mholt/acmez/v3/acme"
)

const http01Prefix = "/.well-known/acme-challenge/"

// HTTP01Store is the resolver lock spec.md §4.7 describes for HTTP-01:
// the single in-flight (token, key authorization) pair a handshake-time
// HTTP handler consults to answer the ACME server's validation request.
type HTTP01Store struct {
	mu      sync.RWMutex
	token   string
	keyAuth string
}

func (s *HTTP01Store) set(token, keyAuth string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.keyAuth = token, keyAuth
}

func (s *HTTP01Store) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.keyAuth = "", ""
}

func (s *HTTP01Store) keyAuthorizationFor(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if token == "" || token != s.token {
		return "", false
	}
	return s.keyAuth, true
}

// IsChallengePath reports whether path targets the ACME HTTP-01
// well-known endpoint, letting the server's HTTP handler route it to
// the HTTP-01 store ahead of the module pipeline.
func IsChallengePath(path string) bool {
	return strings.HasPrefix(path, http01Prefix)
}

// ServeHTTP answers a `/.well-known/acme-challenge/<token>` request with
// the matching key authorization, or 404 if no challenge is in flight
// for that token.
func (s *HTTP01Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, http01Prefix)
	keyAuth, ok := s.keyAuthorizationFor(token)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(keyAuth))
}

// http01Solver adapts HTTP01Store to acmez's Solver contract.
type http01Solver struct {
	store *HTTP01Store
}

func (s *http01Solver) Present(_ context.Context, chal acme.Challenge) error {
	s.store.set(chal.Token, chal.KeyAuthorization())
	return nil
}

func (s *http01Solver) CleanUp(_ context.Context, _ acme.Challenge) error {
	s.store.clear()
	return nil
}
