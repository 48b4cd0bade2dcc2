// Package module defines the plugin contract every built-in module
// (core, cache, proxy, gateway, auth, ACME-facing) implements, per
// spec.md §4.2: a ModuleLoader validates and builds a Module per
// ConfigBlock, and a Module yields per-request ModuleHandlers.
package module

import (
	"net"
	"net/http"

	"go.uber.org/zap"

	"ferron/internal/config"
)

// SocketData carries the connection-level addresses a request arrived
// on, separate from config.Block so modules like the core handler's
// `trust_x_forwarded_for` and the PROXY-protocol reader can rewrite it
// per spec.md §3's "Remote/local socket addresses (possibly rewritten
// by trust_x_forwarded_for or by PROXY-protocol)".
type SocketData struct {
	RemoteAddr net.Addr
	LocalAddr  net.Addr
	// Encrypted is true when the connection this request arrived on is
	// TLS-terminated, used by the core module's HTTPS-redirect step.
	Encrypted bool
}

// RequestData is the side-channel spec.md §3 names: state that travels
// with a request across module hops without living on *http.Request
// itself, since modules may swap the request object outright.
type RequestData struct {
	// OriginalURL is the request URL as it arrived, before any module
	// rewrote the path or host (location-prefix stripping, proxy
	// rewrites).
	OriginalURL string
	// AuthenticatedUser is set by the auth module once a request passes
	// forwarded/basic authentication; empty when unauthenticated.
	AuthenticatedUser string
}

// ResponseData is the value a request_handler returns, per spec.md
// §4.2/§3: at most one of Response/Status is meaningful, the rest are
// optional side effects on the in-flight request.
type ResponseData struct {
	// Request, if non-nil, replaces the request used by subsequent
	// modules in the chain (e.g. location-prefix stripping).
	Request *http.Request
	// Response, if non-nil, freezes the pipeline: no further
	// request_handler calls run, and this response goes straight to
	// response_modifying_handler in reverse order.
	Response *http.Response
	// Status, if non-zero, delegates to the most-specific matching
	// error-handler block for that status; mutually exclusive with
	// Response (Response takes precedence if both are set).
	Status int
	// ExtraHeaders are merged into the eventual response in
	// declaration order, applied after header/header_remove/
	// header_replace directives.
	ExtraHeaders http.Header
	// NewRemoteAddress, if non-nil, replaces SocketData for subsequent
	// modules in the chain (e.g. PROXY-protocol unwrapping).
	NewRemoteAddress net.Addr
}

// Handlers is what a loaded Module yields per request. Implementations
// are not required to be safe for concurrent use from multiple
// goroutines: the per-connection driver is single-threaded cooperative
// (spec.md §5), so a Handlers value is used by exactly one request at
// a time.
type Handlers interface {
	// RequestHandler runs in module declaration order. logger is scoped
	// to the current request (correlation id already attached).
	RequestHandler(req *http.Request, block *config.Block, socket SocketData, logger *zap.Logger) (ResponseData, error)
	// ResponseModifyingHandler runs in reverse module order once a
	// response has been produced, and may rewrite headers or body
	// framing; returning the resp unchanged is the common case.
	ResponseModifyingHandler(resp *http.Response) (*http.Response, error)
}

// Module is the long-lived, block-scoped object a ModuleLoader builds.
// It may hold state that survives config reloads when the owning block
// is unchanged (cache contents, proxy pools), per spec.md §3's
// module-cache.
type Module interface {
	// Name identifies the module for logging, metrics, and the
	// module-cache key namespace.
	Name() string
	// NewHandlers returns a Handlers bound to one request's lifetime.
	// Cheap: most modules return a small struct wrapping the Module
	// itself.
	NewHandlers() Handlers
	// Close releases resources (pool connections, file handles) when
	// the module-cache evicts this instance because its owning block
	// no longer exists after a reload. Modules with nothing to release
	// may no-op.
	Close() error
}

// Loader is what a built-in module registers under a name: the three
// lifecycle steps spec.md §4.2 names.
type Loader interface {
	// Requirements lists the property names that, if present on a
	// block, mean this module should activate for that block.
	Requirements() []string
	// ValidateConfiguration checks the block's properties for this
	// module, marking each one it consumes in used. Loaders share one
	// used set across all modules considered for a block so the config
	// validator can flag properties no module claimed.
	ValidateConfiguration(block *config.Block, used map[string]bool) error
	// LoadModule builds a Module from block, consulting global for
	// process-wide settings (DNS servers, ACME account config) the
	// module needs but that only live on the global block. global may
	// be the same block as block when loading the global block itself.
	LoadModule(block *config.Block, global *config.Block) (Module, error)
}
