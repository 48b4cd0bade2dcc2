package auth

import (
	"crypto/tls"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ferron/internal/config"
	"ferron/internal/errs"
	"ferron/internal/module"
)

const ForwardedName = "forward_auth"

const forwardedAuthTimeout = 10 * time.Second

// ForwardedLoader builds the forward-auth Module for blocks declaring
// `auth_to`: every request is first authorized against an external
// endpoint before the rest of the pipeline runs.
type ForwardedLoader struct{}

func NewForwardedLoader() *ForwardedLoader { return &ForwardedLoader{} }

func (l *ForwardedLoader) Requirements() []string { return []string{"auth_to"} }

func (l *ForwardedLoader) ValidateConfiguration(block *config.Block, used map[string]bool) error {
	for _, name := range []string{"auth_to", "auth_to_no_verification", "auth_to_copy"} {
		if block.Has(name) {
			used[name] = true
		}
	}
	return nil
}

func (l *ForwardedLoader) LoadModule(block, global *config.Block) (module.Module, error) {
	target, ok := block.GetOne("auth_to")
	if !ok || len(target.Args) != 1 {
		return nil, errInvalidStatus{"auth_to requires exactly one URL argument"}
	}

	skipVerify := false
	if e, ok := block.GetOne("auth_to_no_verification"); ok && len(e.Args) == 1 {
		skipVerify = e.Args[0].IsTruthy()
	}

	var copyHeaders []string
	for _, e := range block.Get("auth_to_copy") {
		if len(e.Args) == 1 {
			copyHeaders = append(copyHeaders, e.Args[0].String())
		}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if skipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &ForwardedModule{
		authURL:     target.Args[0].String(),
		copyHeaders: copyHeaders,
		client:      &http.Client{Transport: transport, Timeout: forwardedAuthTimeout},
	}, nil
}

type ForwardedModule struct {
	authURL     string
	copyHeaders []string
	client      *http.Client
}

func (m *ForwardedModule) Name() string                 { return ForwardedName }
func (m *ForwardedModule) NewHandlers() module.Handlers { return &forwardedHandlers{module: m} }
func (m *ForwardedModule) Close() error                 { return nil }

type forwardedHandlers struct{ module *ForwardedModule }

// RequestHandler mirrors a Traefik/Caddy-style forward-auth check: issue
// a GET to auth_to carrying the original request's method/URI/headers
// via X-Forwarded-* headers, and gate the request on the subrequest's
// status, copying back any headers named by auth_to_copy on success.
func (h *forwardedHandlers) RequestHandler(req *http.Request, block *config.Block, socket module.SocketData, logger *zap.Logger) (module.ResponseData, error) {
	authReq, err := http.NewRequestWithContext(req.Context(), http.MethodGet, h.module.authURL, nil)
	if err != nil {
		return module.ResponseData{}, errs.New(errs.KindConfig, err)
	}
	authReq.Header.Set("X-Forwarded-Method", req.Method)
	authReq.Header.Set("X-Forwarded-Uri", req.URL.RequestURI())
	authReq.Header.Set("X-Forwarded-Host", req.Host)
	if cookie := req.Header.Get("Cookie"); cookie != "" {
		authReq.Header.Set("Cookie", cookie)
	}
	if authz := req.Header.Get("Authorization"); authz != "" {
		authReq.Header.Set("Authorization", authz)
	}

	resp, err := h.module.client.Do(authReq)
	if err != nil {
		return module.ResponseData{}, errs.New(errs.KindNetworkTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return module.ResponseData{Status: resp.StatusCode}, nil
	}

	clone := req.Clone(req.Context())
	for _, name := range h.module.copyHeaders {
		if v := resp.Header.Get(name); v != "" {
			clone.Header.Set(name, v)
		}
	}
	return module.ResponseData{Request: clone}, nil
}

func (h *forwardedHandlers) ResponseModifyingHandler(resp *http.Response) (*http.Response, error) {
	return resp, nil
}
