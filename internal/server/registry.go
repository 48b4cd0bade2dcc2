package server

import (
	"ferron/internal/auth"
	"ferron/internal/cache"
	"ferron/internal/corehandlers"
	"ferron/internal/gateway"
	"ferron/internal/metrics"
	"ferron/internal/module"
	"ferron/internal/proxy"
	"ferron/internal/static"
)

// BuildRegistry registers every Loader the process ships with, keyed by
// its package's Name constant. Run calls this once at startup; the
// registry itself is immutable afterwards.
func BuildRegistry(m *metrics.Metrics) *module.Registry {
	reg := module.NewRegistry()

	reg.Register(corehandlers.Name, corehandlers.NewLoader())
	reg.Register(static.Name, static.NewLoader())
	reg.Register(proxy.Name, proxy.NewLoader(m.Proxy))
	reg.Register(cache.Name, cache.NewLoader(m.Cache))
	reg.Register(auth.StatusName, auth.NewLoader())
	reg.Register(auth.ForwardedName, auth.NewForwardedLoader())
	reg.Register(gateway.FcgiName, gateway.NewFcgiLoader())
	reg.Register(gateway.ScgiName, gateway.NewScgiLoader())
	reg.Register(gateway.CgiName, gateway.NewCgiLoader())

	return reg
}
