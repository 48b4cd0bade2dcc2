package gateway

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"ferron/internal/config"
	"ferron/internal/module"
)

const CgiName = "cgi"

// defaultInterpreters mirrors the original's extension-to-interpreter
// table (cgi.rs `cgi_interpreters`), overridable per extension via
// `cgi_interpreter`.
func defaultInterpreters() map[string][]string {
	return map[string][]string{
		".pl":  {"perl"},
		".py":  {"python"},
		".sh":  {"bash"},
		".ksh": {"ksh"},
		".csh": {"csh"},
		".rb":  {"ruby"},
		".php": {"php-cgi"},
	}
}

// CgiLoader builds the subprocess CGI gateway Module for blocks
// declaring `cgi_extension`.
type CgiLoader struct{}

func NewCgiLoader() *CgiLoader { return &CgiLoader{} }

func (l *CgiLoader) Requirements() []string { return []string{"cgi_extension"} }

func (l *CgiLoader) ValidateConfiguration(block *config.Block, used map[string]bool) error {
	for _, name := range []string{"cgi_extension", "cgi_interpreter"} {
		if block.Has(name) {
			used[name] = true
		}
	}
	for _, e := range block.Get("cgi_interpreter") {
		if len(e.Args) < 1 {
			return errGatewayConfig{"cgi_interpreter requires an extension argument"}
		}
	}
	return nil
}

func (l *CgiLoader) LoadModule(block, global *config.Block) (module.Module, error) {
	var extensions []string
	for _, e := range block.Get("cgi_extension") {
		if len(e.Args) == 1 {
			extensions = append(extensions, e.Args[0].String())
		}
	}

	interpreters := defaultInterpreters()
	for _, e := range block.Get("cgi_interpreter") {
		if len(e.Args) < 1 {
			continue
		}
		ext := e.Args[0].String()
		var argv []string
		for _, a := range e.Args[1:] {
			argv = append(argv, a.String())
		}
		interpreters[ext] = argv
	}

	wwwroot := "/nonexistent"
	if e, ok := block.GetOne("root"); ok && len(e.Args) == 1 {
		wwwroot = e.Args[0].String()
	}

	adminEmail := ""
	if e, ok := global.GetOne("server_administrator_email"); ok && len(e.Args) == 1 {
		adminEmail = e.Args[0].String()
	}

	return &CgiModule{
		extensions:   extensions,
		interpreters: interpreters,
		wwwroot:      wwwroot,
		adminEmail:   adminEmail,
	}, nil
}

type CgiModule struct {
	extensions   []string
	interpreters map[string][]string
	wwwroot      string
	adminEmail   string
}

func (m *CgiModule) Name() string                 { return CgiName }
func (m *CgiModule) NewHandlers() module.Handlers { return &cgiHandlers{module: m} }
func (m *CgiModule) Close() error                 { return nil }

type cgiHandlers struct{ module *CgiModule }

func (h *cgiHandlers) RequestHandler(req *http.Request, block *config.Block, socket module.SocketData, logger *zap.Logger) (module.ResponseData, error) {
	if !strings.HasPrefix(req.URL.Path, "/") {
		return module.ResponseData{Status: http.StatusBadRequest}, nil
	}

	scriptPath, pathInfo, ok := resolveScript(h.module.wwwroot, req.URL.Path, h.module.extensions, nil)
	if !ok {
		return module.ResponseData{Request: req}, nil
	}

	argv, ok := interpreterFor(scriptPath, h.module.interpreters)
	if !ok {
		return module.ResponseData{Request: req}, nil
	}

	env := BuildEnv(req, socket, req.URL, "", ScriptContext{
		WWWRoot:    h.module.wwwroot,
		ScriptPath: scriptPath,
		PathInfo:   pathInfo,
		AdminEmail: h.module.adminEmail,
	})

	cmd := buildCommand(argv, scriptPath)
	cmd.Dir = filepath.Dir(scriptPath)
	cmd.Env = append(os.Environ(), envToOSForm(env)...)
	cmd.Stdin = req.Body

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		logger.Warn("cgi process failed", zap.Error(err), zap.ByteString("stderr", stderr.Bytes()))
		return module.ResponseData{Status: http.StatusInternalServerError}, nil
	}
	if stderr.Len() > 0 {
		logger.Warn("cgi stderr", zap.ByteString("output", stderr.Bytes()))
	}

	status, header, body := ParseCGIHeaders(stdout.Bytes())
	resp := &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
	return module.ResponseData{Response: resp}, nil
}

func (h *cgiHandlers) ResponseModifyingHandler(resp *http.Response) (*http.Response, error) {
	return resp, nil
}

// interpreterFor resolves the argv to execute scriptPath, per the
// original's cgi_interpreters table: an empty argv for an extension
// means the script is directly executable, a non-empty one means the
// script path is appended as the interpreter's last argument.
func interpreterFor(scriptPath string, interpreters map[string][]string) ([]string, bool) {
	ext := filepath.Ext(scriptPath)
	argv, ok := interpreters[ext]
	if !ok {
		return nil, false
	}
	if len(argv) == 0 {
		return []string{scriptPath}, true
	}
	return append(append([]string{}, argv...), scriptPath), true
}

func buildCommand(argv []string, scriptPath string) *exec.Cmd {
	if len(argv) == 1 && argv[0] == scriptPath {
		return exec.Command(scriptPath)
	}
	return exec.Command(argv[0], argv[1:]...)
}

func envToOSForm(env *Env) []string {
	out := make([]string, 0, len(env.Pairs()))
	for _, p := range env.Pairs() {
		out = append(out, p.Key+"="+p.Value)
	}
	return out
}
