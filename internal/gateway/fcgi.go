package gateway

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ferron/internal/config"
	"ferron/internal/errs"
	"ferron/internal/module"
)

const FcgiName = "fcgi"

const fcgiDialTimeout = 10 * time.Second

// FcgiLoader builds the FastCGI gateway Module for blocks declaring
// `fcgi`.
type FcgiLoader struct{}

func NewFcgiLoader() *FcgiLoader { return &FcgiLoader{} }

func (l *FcgiLoader) Requirements() []string { return []string{"fcgi"} }

func (l *FcgiLoader) ValidateConfiguration(block *config.Block, used map[string]bool) error {
	for _, name := range []string{"fcgi", "fcgi_extension", "fcgi_environment", "fcgi_path"} {
		if block.Has(name) {
			used[name] = true
		}
	}
	for _, e := range block.Get("fcgi") {
		if len(e.Args) != 1 {
			return errGatewayConfig{"fcgi requires exactly one backend URL argument"}
		}
	}
	for _, e := range block.Get("fcgi_environment") {
		if len(e.Args) != 2 {
			return errGatewayConfig{"fcgi_environment requires exactly a name and a value"}
		}
	}
	return nil
}

type errGatewayConfig struct{ msg string }

func (e errGatewayConfig) Error() string { return e.msg }

func (l *FcgiLoader) LoadModule(block, global *config.Block) (module.Module, error) {
	target, ok := block.GetOne("fcgi")
	if !ok || len(target.Args) != 1 {
		return nil, errGatewayConfig{"fcgi requires a backend URL"}
	}

	var extensions []string
	for _, e := range block.Get("fcgi_extension") {
		if len(e.Args) == 1 {
			extensions = append(extensions, e.Args[0].String())
		}
	}

	environment := map[string]string{}
	for _, e := range block.Get("fcgi_environment") {
		environment[e.Args[0].String()] = e.Args[1].String()
	}

	path := ""
	if e, ok := block.GetOne("fcgi_path"); ok && len(e.Args) == 1 {
		path = e.Args[0].String()
	}

	wwwroot := "/nonexistent"
	if e, ok := block.GetOne("root"); ok && len(e.Args) == 1 {
		wwwroot = e.Args[0].String()
	}

	adminEmail := ""
	if e, ok := global.GetOne("server_administrator_email"); ok && len(e.Args) == 1 {
		adminEmail = e.Args[0].String()
	}

	return &FcgiModule{
		target:      target.Args[0].String(),
		extensions:  extensions,
		environment: environment,
		path:        path,
		wwwroot:     wwwroot,
		adminEmail:  adminEmail,
	}, nil
}

type FcgiModule struct {
	target      string
	extensions  []string
	environment map[string]string
	path        string
	wwwroot     string
	adminEmail  string
}

func (m *FcgiModule) Name() string                 { return FcgiName }
func (m *FcgiModule) NewHandlers() module.Handlers { return &fcgiHandlers{module: m} }
func (m *FcgiModule) Close() error                 { return nil }

type fcgiHandlers struct{ module *FcgiModule }

func (h *fcgiHandlers) RequestHandler(req *http.Request, block *config.Block, socket module.SocketData, logger *zap.Logger) (module.ResponseData, error) {
	if !strings.HasPrefix(req.URL.Path, "/") {
		return module.ResponseData{Status: http.StatusBadRequest}, nil
	}

	scriptPath, pathInfo, ok := resolveScript(h.module.wwwroot, req.URL.Path, h.module.extensions, nil)
	if !ok && h.module.path != "" {
		scriptPath = h.module.path
		pathInfo = strings.TrimPrefix(req.URL.Path, "/")
		ok = true
	}
	if !ok {
		return module.ResponseData{Request: req}, nil
	}

	env := BuildEnv(req, socket, req.URL, "", ScriptContext{
		WWWRoot:    h.module.wwwroot,
		ScriptPath: scriptPath,
		PathInfo:   pathInfo,
		AdminEmail: h.module.adminEmail,
	})
	for k, v := range h.module.environment {
		env.Set(k, v)
	}

	conn, err := dialGateway(h.module.target)
	if err != nil {
		logger.Warn("fcgi backend unavailable", zap.Error(err))
		return module.ResponseData{Status: http.StatusServiceUnavailable}, nil
	}
	defer conn.Close()

	const requestID = 1
	if err := writeFcgiBeginRequest(conn, requestID); err != nil {
		return module.ResponseData{}, errs.New(errs.KindUpstream, err)
	}
	if err := writeFcgiParams(conn, requestID, env); err != nil {
		return module.ResponseData{}, errs.New(errs.KindUpstream, err)
	}
	if err := writeFcgiStdin(conn, requestID, req.Body); err != nil {
		return module.ResponseData{}, errs.New(errs.KindUpstream, err)
	}

	stdout, stderr, err := readFcgiResponse(conn)
	if err != nil {
		return module.ResponseData{}, errs.New(errs.KindUpstream, err)
	}
	if len(stderr) > 0 {
		logger.Warn("fcgi stderr", zap.ByteString("output", stderr))
	}

	status, header, body := ParseCGIHeaders(stdout)
	resp := &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
	return module.ResponseData{Response: resp}, nil
}

func (h *fcgiHandlers) ResponseModifyingHandler(resp *http.Response) (*http.Response, error) {
	return resp, nil
}

// dialGateway opens a connection to a `tcp://host:port/` or
// `unix:///path` gateway backend URL, matching the scheme convention
// original_source's execute_fastcgi/execute_scgi use for fcgi_to/scgi_to.
func dialGateway(target string) (net.Conn, error) {
	switch {
	case strings.HasPrefix(target, "tcp://"):
		addr := strings.TrimPrefix(target, "tcp://")
		addr = strings.TrimSuffix(addr, "/")
		return net.DialTimeout("tcp", addr, fcgiDialTimeout)
	case strings.HasPrefix(target, "unix://"):
		path := strings.TrimPrefix(target, "unix://")
		return net.DialTimeout("unix", path, fcgiDialTimeout)
	default:
		return nil, errGatewayConfig{"unsupported gateway URL scheme: " + target}
	}
}
