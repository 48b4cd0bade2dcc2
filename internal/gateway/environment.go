// Package gateway implements the CGI, FastCGI, and SCGI gateway
// modules described in spec.md §6: each frames the same CGI/1.1
// environment-variable set differently on the wire (FastCGI records,
// SCGI netstrings, process environment + pipes), and each parses a
// stdout/STDOUT header block for Status/Location overrides.
package gateway

import (
	"bytes"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ferron/internal/module"
)

// EnvPair is one CGI environment variable in declaration order.
type EnvPair struct {
	Key   string
	Value string
}

// Env is an insertion-ordered, dedup-on-write map of CGI environment
// variables: declaration order matters for SCGI (CONTENT_LENGTH must
// come first) and is preserved for FastCGI/CGI for determinism.
type Env struct {
	pairs []EnvPair
	index map[string]int
}

func NewEnv() *Env {
	return &Env{index: map[string]int{}}
}

// Set assigns key, overwriting any prior value for the same key.
func (e *Env) Set(key, value string) {
	if i, ok := e.index[key]; ok {
		e.pairs[i].Value = value
		return
	}
	e.index[key] = len(e.pairs)
	e.pairs = append(e.pairs, EnvPair{Key: key, Value: value})
}

// Append joins value onto any existing value for key using sep,
// matching the original's HTTP_* header-folding behavior for repeated
// headers (e.g. multiple Cookie lines joined with "; ").
func (e *Env) Append(key, value, sep string) {
	if i, ok := e.index[key]; ok {
		e.pairs[i].Value += sep + value
		return
	}
	e.Set(key, value)
}

// Has reports whether key has been set.
func (e *Env) Has(key string) bool {
	_, ok := e.index[key]
	return ok
}

// MoveToFront relocates key to the start of the pair list if present,
// used by SCGI to place CONTENT_LENGTH first per the SCGI protocol.
func (e *Env) MoveToFront(key string) {
	i, ok := e.index[key]
	if !ok || i == 0 {
		return
	}
	p := e.pairs[i]
	e.pairs = append(e.pairs[:i], e.pairs[i+1:]...)
	e.pairs = append([]EnvPair{p}, e.pairs...)
	for k, pair := range e.pairs {
		e.index[pair.Key] = k
	}
}

// Pairs returns the variables in their current order.
func (e *Env) Pairs() []EnvPair { return e.pairs }

// ScriptContext carries the resolved script location a gateway module
// needs to assemble DOCUMENT_ROOT/SCRIPT_NAME/SCRIPT_FILENAME/PATH_INFO.
type ScriptContext struct {
	WWWRoot      string
	ScriptPath   string
	PathInfo     string
	AdminEmail   string
	ExtraHeaders map[string]string
}

// BuildEnv assembles the CGI/1.1 environment-variable set shared by
// CGI, FastCGI, and SCGI, per spec.md §6's env var list and
// original_source's {fcgi,cgi}.rs / modules/optional/scgi.rs. HTTPS=ON
// is set here for encrypted connections; protocol-specific variables
// (SCGI passes SCGI=1) come in through ctx.ExtraHeaders and are added
// only where not already set.
func BuildEnv(req *http.Request, socket module.SocketData, originalURL *url.URL, authUser string, ctx ScriptContext) *Env {
	env := NewEnv()

	if authUser != "" {
		if authz := req.Header.Get("Authorization"); authz != "" {
			if authType := strings.SplitN(authz, " ", 2)[0]; authType != "" {
				env.Set("AUTH_TYPE", authType)
			}
		}
		env.Set("REMOTE_USER", authUser)
	}

	env.Set("QUERY_STRING", req.URL.RawQuery)
	env.Set("SERVER_SOFTWARE", "Ferron")
	env.Set("SERVER_PROTOCOL", req.Proto)
	env.Set("SERVER_PORT", strconv.Itoa(localPort(socket.LocalAddr)))
	env.Set("SERVER_ADDR", localIP(socket.LocalAddr))
	if ctx.AdminEmail != "" {
		env.Set("SERVER_ADMIN", ctx.AdminEmail)
	}
	if host := req.Header.Get("Host"); host != "" {
		env.Set("SERVER_NAME", host)
	} else if req.Host != "" {
		env.Set("SERVER_NAME", req.Host)
	}

	env.Set("DOCUMENT_ROOT", ctx.WWWRoot)
	if ctx.PathInfo != "" {
		env.Set("PATH_INFO", "/"+ctx.PathInfo)
		env.Set("PATH_TRANSLATED", joinPath(ctx.ScriptPath, ctx.PathInfo))
	} else {
		env.Set("PATH_INFO", "")
		env.Set("PATH_TRANSLATED", "")
	}
	env.Set("REQUEST_METHOD", req.Method)
	env.Set("GATEWAY_INTERFACE", "CGI/1.1")

	requestURI := originalURL.Path
	if originalURL.RawQuery != "" {
		requestURI += "?" + originalURL.RawQuery
	}
	env.Set("REQUEST_URI", requestURI)

	env.Set("REMOTE_PORT", strconv.Itoa(remotePort(socket.RemoteAddr)))
	env.Set("REMOTE_ADDR", remoteIP(socket.RemoteAddr))

	env.Set("SCRIPT_FILENAME", ctx.ScriptPath)
	if name, ok := scriptName(ctx.ScriptPath, ctx.WWWRoot); ok {
		env.Set("SCRIPT_NAME", name)
	}

	if socket.Encrypted {
		env.Set("HTTPS", "ON")
	}

	contentLengthSet := false
	for name, values := range req.Header {
		envName := headerEnvName(name)
		switch envName {
		case "CONTENT_LENGTH":
			contentLengthSet = true
		}
		sep := ", "
		if envName == "HTTP_COOKIE" {
			sep = "; "
		}
		for i, v := range values {
			if i == 0 && !env.Has(envName) {
				env.Set(envName, v)
			} else {
				env.Append(envName, v, sep)
			}
		}
	}
	if !contentLengthSet {
		env.Set("CONTENT_LENGTH", "0")
	}

	for k, v := range ctx.ExtraHeaders {
		if !env.Has(k) {
			env.Set(k, v)
		}
	}

	return env
}

func headerEnvName(name string) string {
	switch http.CanonicalHeaderKey(name) {
	case "Content-Length":
		return "CONTENT_LENGTH"
	case "Content-Type":
		return "CONTENT_TYPE"
	}
	var b strings.Builder
	b.WriteString("HTTP_")
	for _, c := range strings.ToUpper(name) {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func joinPath(scriptPath, pathInfo string) string {
	if scriptPath == "" {
		return ""
	}
	return strings.TrimRight(scriptPath, "/") + "/" + strings.TrimLeft(pathInfo, "/")
}

func scriptName(scriptPath, wwwroot string) (string, bool) {
	if wwwroot == "" || !strings.HasPrefix(scriptPath, wwwroot) {
		return "", false
	}
	rel := strings.TrimPrefix(scriptPath, wwwroot)
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return rel, true
}

func localPort(addr net.Addr) int  { return portOf(addr) }
func remotePort(addr net.Addr) int { return portOf(addr) }

func portOf(addr net.Addr) int {
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
	return p
}

func localIP(addr net.Addr) string  { return ipOf(addr) }
func remoteIP(addr net.Addr) string { return ipOf(addr) }

func ipOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// ParseCGIHeaders splits a CGI-style response (a header block, a blank
// line, then a body) and interprets the Status/Location overrides per
// spec.md §6: a bare "Status: 200" or "Status: HTTP/1.1 200" line sets
// the response status, and a Location header implies a 302 unless a
// 3xx status has already been set explicitly.
func ParseCGIHeaders(data []byte) (status int, header http.Header, body []byte) {
	status = http.StatusOK
	header = http.Header{}

	sep := []byte("\r\n\r\n")
	sepLen := 4
	idx := bytes.Index(data, sep)
	if idx == -1 {
		sep = []byte("\n\n")
		sepLen = 2
		idx = bytes.Index(data, sep)
	}
	if idx == -1 {
		return status, header, data
	}

	head := data[:idx]
	body = data[idx+sepLen:]

	for _, line := range bytes.Split(head, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		parts := bytes.SplitN(line, []byte(":"), 2)
		if len(parts) != 2 {
			continue
		}
		name := string(bytes.TrimSpace(parts[0]))
		value := string(bytes.TrimSpace(parts[1]))

		switch strings.ToLower(name) {
		case "status":
			fields := strings.Fields(value)
			if len(fields) == 0 {
				continue
			}
			if strings.HasPrefix(fields[0], "HTTP/") && len(fields) > 1 {
				if code, err := strconv.Atoi(fields[1]); err == nil {
					status = code
				}
			} else if code, err := strconv.Atoi(fields[0]); err == nil {
				status = code
			}
		case "location":
			if status < 300 || status > 399 {
				status = http.StatusFound
			}
			header.Add(name, value)
		default:
			header.Add(name, value)
		}
	}
	return status, header, body
}
