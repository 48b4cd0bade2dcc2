package acme

import (
	"context"
	"encoding/json"
)

// OnDemandConfig is the template an unknown SNI hostname is expanded
// into a per-host Config from, per spec.md §4.7's on-demand mode.
type OnDemandConfig struct {
	ChallengeType string
	Contact       []string
	Directory     string
	EABKeyID      string
	EABMACKey     string
	Profile       string
	Port          uint16

	// HostnameCache persists the set of hostnames an on-demand
	// instance has already provisioned for, keyed by HostnameCacheKey.
	// AccountCache/CertificateCache back the per-host Configs built
	// from it; when nil, every ToConfig call gives the Config it builds
	// a new, empty in-memory cache of its own.
	HostnameCache    Cache
	AccountCache     Cache
	CertificateCache Cache

	// Authorize, if set, is consulted before issuance starts for a
	// newly seen hostname (the `auto_tls_on_demand_ask` endpoint).
	Authorize func(ctx context.Context, hostname string) (bool, error)
}

// CachedDomains returns every hostname previously provisioned under
// this on-demand config's HostnameCache.
func (c OnDemandConfig) CachedDomains(ctx context.Context) []string {
	if c.HostnameCache == nil {
		return nil
	}
	key := HostnameCacheKey(c.Port, "")
	data, ok, err := c.HostnameCache.Get(ctx, key)
	if err != nil || !ok {
		return nil
	}
	var domains []string
	if err := json.Unmarshal(data, &domains); err != nil {
		return nil
	}
	return domains
}

// AddDomain appends hostname to the on-demand hostname cache.
func (c OnDemandConfig) AddDomain(ctx context.Context, hostname string) error {
	if c.HostnameCache == nil {
		return nil
	}
	domains := append(c.CachedDomains(ctx), hostname)
	data, err := json.Marshal(domains)
	if err != nil {
		return err
	}
	return c.HostnameCache.Set(ctx, HostnameCacheKey(c.Port, ""), data)
}

// ToConfig converts an OnDemandConfig plus a concrete SNI hostname into
// a one-domain Config, per spec.md §4.7's convert_on_demand_config.
func (c OnDemandConfig) ToConfig(hostname string) Config {
	accountCache := c.AccountCache
	if accountCache == nil {
		accountCache = NewMemoryCache()
	}
	certificateCache := c.CertificateCache
	if certificateCache == nil {
		certificateCache = NewMemoryCache()
	}

	return Config{
		Domains:          []string{hostname},
		ChallengeType:    c.ChallengeType,
		Contact:          c.Contact,
		Directory:        c.Directory,
		EABKeyID:         c.EABKeyID,
		EABMACKey:        c.EABMACKey,
		Profile:          c.Profile,
		AccountCache:     accountCache,
		CertificateCache: certificateCache,
	}
}

// Authorized reports whether issuance for hostname should proceed: true
// if no Authorize hook is configured, otherwise the hook's decision.
func (c OnDemandConfig) Authorized(ctx context.Context, hostname string) (bool, error) {
	if c.Authorize == nil {
		return true, nil
	}
	return c.Authorize(ctx, hostname)
}
