package acme

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RenewalCheckInterval is how often the renewal loop re-evaluates every
// registered target's validity, per spec.md §4.7's "periodic task
// iterates active certs".
const RenewalCheckInterval = time.Hour

// Target wraps the Config of one certificate the renewal loop keeps
// current; the loop derives its certificate cache key from the Config
// on every pass.
type Target struct {
	Config Config
}

// RunRenewalLoop blocks, invoking Provision for every target whenever
// its installed certificate fails the validity predicate, until ctx is
// canceled. Callers run this in its own goroutine per server instance.
func (m *Manager) RunRenewalLoop(ctx context.Context, targets func() []Target) {
	ticker := time.NewTicker(RenewalCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.renewDue(ctx, targets())
		}
	}
}

func (m *Manager) renewDue(ctx context.Context, targets []Target) {
	for _, t := range targets {
		certKey := CertificateCacheKey(t.Config.Domains, t.Config.Profile)
		if cert, ok := m.Installed(certKey); ok && certStillValid(cert) {
			continue
		}
		if _, err := m.Provision(ctx, t.Config); err != nil && m.logger != nil {
			m.logger.Error("certificate renewal failed",
				zap.Strings("domains", t.Config.Domains), zap.Error(err))
		}
	}
}
