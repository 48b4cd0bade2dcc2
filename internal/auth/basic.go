// Package auth implements the `status`-block HTTP Basic authentication
// and forwarded-authentication modules described in spec.md §6: custom
// non-standard status codes (optionally gated behind Basic auth with
// brute-force protection) and delegating authorization decisions to an
// external HTTP endpoint.
package auth

import (
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"ferron/internal/config"
	"ferron/internal/module"
)

const StatusName = "status_codes"

const bruteForceMaxAttempts = 10
const bruteForceWindow = 5 * time.Minute

// Loader builds the status-codes Module.
type Loader struct{}

func NewLoader() *Loader { return &Loader{} }

func (l *Loader) Requirements() []string { return []string{"status"} }

func (l *Loader) ValidateConfiguration(block *config.Block, used map[string]bool) error {
	for _, e := range block.Get("status") {
		if len(e.Args) != 1 || e.Args[0].Kind != config.KindInt {
			return errInvalidStatus{"status code must be a single integer"}
		}
		if _, hasURL := e.Named["url"]; !hasURL {
			if _, hasRegex := e.Named["regex"]; !hasRegex {
				return errInvalidStatus{"non-standard codes must include url or regex"}
			}
		}
	}
	used["status"] = true
	used["user"] = true
	for _, e := range block.Get("user") {
		if len(e.Args) != 2 {
			return errInvalidStatus{"user entries require exactly a username and a password hash"}
		}
	}
	return nil
}

type errInvalidStatus struct{ msg string }

func (e errInvalidStatus) Error() string { return e.msg }

// rule is one parsed `status <code> { ... }` entry.
type rule struct {
	statusCode         uint16
	url                string
	regex              *regexp.Regexp
	location           string
	realm              string
	bruteForceDisabled bool
	userList           []string
	body               string
}

func (l *Loader) LoadModule(block, global *config.Block) (module.Module, error) {
	var rules []rule
	for _, e := range block.Get("status") {
		code := uint16(e.Args[0].Int)
		r := rule{statusCode: code}
		if v, ok := e.Named["url"]; ok {
			r.url = v.String()
		}
		if v, ok := e.Named["regex"]; ok {
			re, err := regexp.Compile(v.String())
			if err != nil {
				return nil, err
			}
			r.regex = re
		}
		if v, ok := e.Named["location"]; ok {
			r.location = v.String()
		}
		if v, ok := e.Named["realm"]; ok {
			r.realm = v.String()
		}
		if v, ok := e.Named["brute_protection"]; ok {
			r.bruteForceDisabled = !v.IsTruthy()
		}
		if v, ok := e.Named["users"]; ok {
			r.userList = strings.Split(v.String(), ",")
		}
		if v, ok := e.Named["body"]; ok {
			r.body = v.String()
		}
		rules = append(rules, r)
	}

	var users []userCredential
	for _, e := range block.Get("user") {
		users = append(users, userCredential{name: e.Args[0].String(), hash: e.Args[1].String()})
	}

	return &Module{rules: rules, users: users, bruteForce: newBruteForceTracker()}, nil
}

type userCredential struct {
	name string
	hash string
}

type Module struct {
	rules      []rule
	users      []userCredential
	bruteForce *bruteForceTracker
}

func (m *Module) Name() string                 { return StatusName }
func (m *Module) NewHandlers() module.Handlers { return &handlers{module: m} }
func (m *Module) Close() error                 { return nil }

type handlers struct{ module *Module }

func (h *handlers) RequestHandler(req *http.Request, block *config.Block, socket module.SocketData, logger *zap.Logger) (module.ResponseData, error) {
	requestURL := req.URL.Path
	if req.URL.RawQuery != "" {
		requestURL += "?" + req.URL.RawQuery
	}

	for _, r := range h.module.rules {
		redirectTarget, matched := matchRule(r, req, requestURL)
		if !matched {
			continue
		}

		switch r.statusCode {
		case 301, 302, 307, 308:
			target := redirectTarget
			if target == "" {
				target = requestURL
			}
			return module.ResponseData{
				Request:  req,
				Response: bodyResponse(int(r.statusCode), http.Header{"Location": []string{target}}, r.body),
			}, nil
		case 401:
			return h.handleBasicAuth(req, socket, r)
		default:
			if r.body != "" {
				return module.ResponseData{Request: req, Response: bodyResponse(int(r.statusCode), nil, r.body)}, nil
			}
			return module.ResponseData{Status: int(r.statusCode)}, nil
		}
	}

	return module.ResponseData{Request: req}, nil
}

func (h *handlers) ResponseModifyingHandler(resp *http.Response) (*http.Response, error) {
	return resp, nil
}

func matchRule(r rule, req *http.Request, requestURL string) (redirectTarget string, matched bool) {
	if r.regex != nil {
		loc := r.regex.FindStringIndex(requestURL)
		if loc != nil {
			matched = true
			if isRedirectStatus(r.statusCode) && r.location != "" {
				redirectTarget = r.regex.ReplaceAllString(requestURL[loc[0]:loc[1]], r.location)
			}
			return
		}
	}
	if r.url != "" && r.url == req.URL.Path {
		matched = true
		if isRedirectStatus(r.statusCode) && r.location != "" {
			redirectTarget = r.location
			if req.URL.RawQuery != "" {
				redirectTarget += "?" + req.URL.RawQuery
			}
		}
	}
	return
}

func isRedirectStatus(code uint16) bool {
	return code == 301 || code == 302 || code == 307 || code == 308
}

func (h *handlers) handleBasicAuth(req *http.Request, socket module.SocketData, r rule) (module.ResponseData, error) {
	clientKey := clientIP(socket)

	if !r.bruteForceDisabled && h.module.bruteForce.Blocked(clientKey) {
		return module.ResponseData{Status: http.StatusTooManyRequests}, nil
	}

	realm := r.realm
	if realm == "" {
		realm = "Ferron HTTP Basic Authorization"
	}
	challenge := http.Header{"WWW-Authenticate": []string{
		`Basic realm="` + escapeRealm(realm) + `", charset="UTF-8"`,
	}}

	authHeader := req.Header.Get("Authorization")
	if authHeader != "" {
		username, password, ok := parseBasicAuth(authHeader)
		if ok && h.module.authorize(r, username, password) {
			clone := req.Clone(req.Context())
			return module.ResponseData{Request: clone}, nil
		}
		if !r.bruteForceDisabled {
			h.module.bruteForce.RecordFailure(clientKey)
		}
	}

	if r.body != "" {
		return module.ResponseData{Response: bodyResponse(http.StatusUnauthorized, challenge, r.body)}, nil
	}
	return module.ResponseData{Status: http.StatusUnauthorized, ExtraHeaders: challenge}, nil
}

// authorize reports whether username/password matches a configured
// user, honoring an optional per-rule user allowlist.
func (m *Module) authorize(r rule, username, password string) bool {
	if len(r.userList) > 0 && !contains(r.userList, username) {
		return false
	}
	for _, u := range m.users {
		if u.name != username {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(u.hash), []byte(password)) == nil {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func parseBasicAuth(header string) (username, password string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func escapeRealm(realm string) string {
	r := strings.ReplaceAll(realm, `\`, `\\`)
	return strings.ReplaceAll(r, `"`, `\"`)
}

func clientIP(socket module.SocketData) string {
	if socket.RemoteAddr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(socket.RemoteAddr.String())
	if err != nil {
		return socket.RemoteAddr.String()
	}
	return host
}

func bodyResponse(status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	resp := &http.Response{StatusCode: status, Header: header, Body: http.NoBody}
	if body != "" {
		resp.Body = io.NopCloser(strings.NewReader(body))
		header.Set("Content-Length", strconv.Itoa(len(body)))
	}
	return resp
}

// bruteForceTracker replaces the original's TtlCache<String,u8> failed-
// attempt counter with a golang.org/x/time/rate token bucket per client
// IP: bruteForceMaxAttempts tokens that refill over bruteForceWindow, so
// a burst of failures exhausts the bucket and Blocked reports true until
// it has partially refilled — equivalent to the original's windowed
// counter without a separate cleanup sweep.
type bruteForceTracker struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newBruteForceTracker() *bruteForceTracker {
	return &bruteForceTracker{limiters: map[string]*rate.Limiter{}}
}

func (t *bruteForceTracker) limiterFor(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(bruteForceWindow/bruteForceMaxAttempts), bruteForceMaxAttempts)
		t.limiters[key] = l
	}
	return l
}

func (t *bruteForceTracker) Blocked(key string) bool {
	return t.limiterFor(key).Tokens() < 1
}

func (t *bruteForceTracker) RecordFailure(key string) {
	t.limiterFor(key).Allow()
}
