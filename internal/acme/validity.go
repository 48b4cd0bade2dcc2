package acme

import (
	"crypto/x509"
	"time"
)

// secondsBeforeRenewal caps the self-computed renewal lead time at one
// day before expiration, per spec.md §4.7's validity predicate.
const secondsBeforeRenewal = 24 * time.Hour

// IsValid implements spec.md §4.7's validity predicate: if the ACME
// server supplied a suggested renewal window, valid iff now is before
// its start; otherwise valid iff the remaining lifetime is at least
// min(totalValidity/2, 24h).
func IsValid(cert *x509.Certificate, suggestedWindowStart *time.Time) bool {
	if suggestedWindowStart != nil {
		return time.Now().Before(*suggestedWindowStart)
	}

	totalValidity := cert.NotAfter.Sub(cert.NotBefore)
	threshold := totalValidity / 2
	if threshold > secondsBeforeRenewal {
		threshold = secondsBeforeRenewal
	}
	remaining := time.Until(cert.NotAfter)
	return remaining >= threshold
}
