// Package handler implements the per-request driver described in
// spec.md §4.2/§4.9: resolve the matching ConfigBlock, run its active
// modules' request_handler in order, short-circuit on a response or a
// status, then unwind through response_modifying_handler in reverse
// order.
package handler

import (
	"net/http"

	"go.uber.org/zap"

	"ferron/internal/config"
	"ferron/internal/errs"
	"ferron/internal/module"
)

// Pipeline drives one request through a ConfigGraph's active modules.
// It holds no per-request state; Serve is safe to call concurrently
// from multiple connections, provided the module.Handlers returned by
// each Module are only ever used by the single in-flight request that
// created them (spec.md §5 "Handlers are not required to be sendable
// across threads").
type Pipeline struct {
	Registry *module.Registry
	Cache    *module.Cache
}

// New returns a Pipeline bound to registry and cache.
func New(registry *module.Registry, cache *module.Cache) *Pipeline {
	return &Pipeline{Registry: registry, Cache: cache}
}

// Result is what Serve produces: either a response to write back, or a
// status to format via the configured error page, plus the extra
// headers and request mutations the pipeline accumulated.
type Result struct {
	Response *http.Response
	Status   int
}

// Serve resolves block's active modules against req and runs the
// pipeline contract. socket is the connection-level address pair,
// possibly already rewritten by PROXY-protocol unwrapping.
func (p *Pipeline) Serve(req *http.Request, block, global *config.Block, socket module.SocketData, logger *zap.Logger) (Result, error) {
	loaders := p.Registry.ActiveLoaders(block)
	names := p.Registry.ActiveLoaderNames(block)

	handlers := make([]module.Handlers, 0, len(loaders))
	for i, loader := range loaders {
		m, err := p.Cache.GetOrLoad(names[i], block, global, loader)
		if err != nil {
			return Result{}, err
		}
		handlers = append(handlers, m.NewHandlers())
	}

	extraHeaders := http.Header{}
	cur := req
	for i, h := range handlers {
		rd, err := h.RequestHandler(cur, block, socket, logger)
		if err != nil {
			return Result{}, err
		}
		if rd.NewRemoteAddress != nil {
			socket.RemoteAddr = rd.NewRemoteAddress
		}
		for k, vs := range rd.ExtraHeaders {
			extraHeaders[k] = append(extraHeaders[k], vs...)
		}
		if rd.Response != nil {
			resp, err := unwindResponseModifiers(handlers[:i+1], rd.Response)
			if err != nil {
				return Result{}, err
			}
			applyExtraHeaders(resp, extraHeaders)
			return Result{Response: resp}, nil
		}
		if rd.Status != 0 {
			return Result{Status: rd.Status}, nil
		}
		if rd.Request != nil {
			cur = rd.Request
		}
	}

	return Result{Status: http.StatusNotFound}, nil
}

// unwindResponseModifiers runs response_modifying_handler over handlers
// already consulted, in reverse order, per spec.md §4.2's "runs in
// reverse module order on the outbound response".
func unwindResponseModifiers(handlers []module.Handlers, resp *http.Response) (*http.Response, error) {
	for i := len(handlers) - 1; i >= 0; i-- {
		var err error
		resp, err = handlers[i].ResponseModifyingHandler(resp)
		if err != nil {
			return nil, errs.New(errs.KindUpstream, err)
		}
	}
	return resp, nil
}

func applyExtraHeaders(resp *http.Response, extra http.Header) {
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	for k, vs := range extra {
		resp.Header[k] = append(resp.Header[k], vs...)
	}
}

