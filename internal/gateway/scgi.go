package gateway

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"ferron/internal/config"
	"ferron/internal/errs"
	"ferron/internal/module"
)

const ScgiName = "scgi"

// ScgiLoader builds the SCGI gateway Module for blocks declaring
// `scgi`.
type ScgiLoader struct{}

func NewScgiLoader() *ScgiLoader { return &ScgiLoader{} }

func (l *ScgiLoader) Requirements() []string { return []string{"scgi"} }

func (l *ScgiLoader) ValidateConfiguration(block *config.Block, used map[string]bool) error {
	for _, name := range []string{"scgi", "scgi_environment"} {
		if block.Has(name) {
			used[name] = true
		}
	}
	for _, e := range block.Get("scgi") {
		if len(e.Args) != 1 {
			return errGatewayConfig{"scgi requires exactly one backend URL argument"}
		}
	}
	for _, e := range block.Get("scgi_environment") {
		if len(e.Args) != 2 {
			return errGatewayConfig{"scgi_environment requires exactly a name and a value"}
		}
	}
	return nil
}

func (l *ScgiLoader) LoadModule(block, global *config.Block) (module.Module, error) {
	target, ok := block.GetOne("scgi")
	if !ok || len(target.Args) != 1 {
		return nil, errGatewayConfig{"scgi requires a backend URL"}
	}

	environment := map[string]string{}
	for _, e := range block.Get("scgi_environment") {
		environment[e.Args[0].String()] = e.Args[1].String()
	}

	wwwroot := "/nonexistent"
	if e, ok := block.GetOne("root"); ok && len(e.Args) == 1 {
		wwwroot = e.Args[0].String()
	}

	adminEmail := ""
	if e, ok := global.GetOne("server_administrator_email"); ok && len(e.Args) == 1 {
		adminEmail = e.Args[0].String()
	}

	return &ScgiModule{
		target:      target.Args[0].String(),
		environment: environment,
		wwwroot:     wwwroot,
		adminEmail:  adminEmail,
	}, nil
}

type ScgiModule struct {
	target      string
	environment map[string]string
	wwwroot     string
	adminEmail  string
}

func (m *ScgiModule) Name() string                 { return ScgiName }
func (m *ScgiModule) NewHandlers() module.Handlers { return &scgiHandlers{module: m} }
func (m *ScgiModule) Close() error                 { return nil }

type scgiHandlers struct{ module *ScgiModule }

// RequestHandler always treats the request path as PATH_INFO relative
// to wwwroot: unlike FastCGI/CGI, SCGI has no script-extension concept
// of its own — the whole block exists to forward to one backend,
// per original_source/ferron/src/modules/optional/scgi.rs.
func (h *scgiHandlers) RequestHandler(req *http.Request, block *config.Block, socket module.SocketData, logger *zap.Logger) (module.ResponseData, error) {
	if !strings.HasPrefix(req.URL.Path, "/") {
		return module.ResponseData{Status: http.StatusBadRequest}, nil
	}

	scriptPath := joinWWWRoot(h.module.wwwroot, req.URL.Path)
	pathInfo := strings.TrimPrefix(req.URL.Path, "/")

	env := BuildEnv(req, socket, req.URL, "", ScriptContext{
		WWWRoot:    h.module.wwwroot,
		ScriptPath: scriptPath,
		PathInfo:   pathInfo,
		AdminEmail: h.module.adminEmail,
		ExtraHeaders: map[string]string{
			"SCGI": "1",
		},
	})
	for k, v := range h.module.environment {
		env.Set(k, v)
	}
	env.MoveToFront("CONTENT_LENGTH")

	conn, err := dialGateway(h.module.target)
	if err != nil {
		logger.Warn("scgi backend unavailable", zap.Error(err))
		return module.ResponseData{Status: http.StatusServiceUnavailable}, nil
	}
	defer conn.Close()

	if err := writeScgiNetstring(conn, env); err != nil {
		return module.ResponseData{}, errs.New(errs.KindUpstream, err)
	}
	if _, err := io.Copy(conn, req.Body); err != nil {
		return module.ResponseData{}, errs.New(errs.KindUpstream, err)
	}
	if closer, ok := conn.(interface{ CloseWrite() error }); ok {
		closer.CloseWrite()
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return module.ResponseData{}, errs.New(errs.KindUpstream, err)
	}

	status, header, body := ParseCGIHeaders(raw)
	resp := &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
	return module.ResponseData{Response: resp}, nil
}

func (h *scgiHandlers) ResponseModifyingHandler(resp *http.Response) (*http.Response, error) {
	return resp, nil
}

func joinWWWRoot(wwwroot, requestPath string) string {
	return strings.TrimRight(wwwroot, "/") + requestPath
}

// writeScgiNetstring encodes env as a netstring of NUL-separated
// name/value pairs, per spec.md §6: "netstring-encoded name/value
// pairs (CONTENT_LENGTH first), then request body."
func writeScgiNetstring(w io.Writer, env *Env) error {
	var buf bytes.Buffer
	for _, pair := range env.Pairs() {
		buf.WriteString(pair.Key)
		buf.WriteByte(0)
		buf.WriteString(pair.Value)
		buf.WriteByte(0)
	}

	var framed bytes.Buffer
	framed.WriteString(strconv.Itoa(buf.Len()))
	framed.WriteByte(':')
	framed.Write(buf.Bytes())
	framed.WriteByte(',')

	_, err := w.Write(framed.Bytes())
	return err
}
