package acme

import (
	"context"
	"time"

	"github.com/libdns/libdns"
	"github.com/mholt/acmez/v3/acme"
)

// dnsPropagationWait matches spec.md §4.7's fixed 60 second wait for
// DNS-01 TXT record propagation before signaling the challenge ready.
const dnsPropagationWait = 60 * time.Second

// DNSProvider publishes and retracts the `_acme-challenge` TXT record a
// DNS-01 challenge requires. Per-provider plugins are out of scope; this
// interface is the plugin contract itself, and ZoneFinder narrows an
// identifier like "www.example.com" down to the zone a provider's API
// actually manages ("example.com").
type DNSProvider interface {
	libdns.RecordSetter
	libdns.RecordDeleter
}

// ZoneFinder resolves the DNS zone that owns identifier, since libdns
// operates per-zone rather than per-record.
type ZoneFinder func(identifier string) (zone string, err error)

type dns01Solver struct {
	provider DNSProvider
	zoneOf   ZoneFinder
}

func (s *dns01Solver) Present(ctx context.Context, chal acme.Challenge) error {
	zone, err := s.zoneOf(chal.Identifier.Value)
	if err != nil {
		return err
	}

	record := libdns.Record{
		Type:  "TXT",
		Name:  "_acme-challenge." + chal.Identifier.Value,
		Value: chal.DNS01KeyAuthorization(),
		TTL:   60 * time.Second,
	}
	if _, err := s.provider.SetRecords(ctx, zone, []libdns.Record{record}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(dnsPropagationWait):
	}
	return nil
}

func (s *dns01Solver) CleanUp(ctx context.Context, chal acme.Challenge) error {
	zone, err := s.zoneOf(chal.Identifier.Value)
	if err != nil {
		return err
	}
	record := libdns.Record{
		Type: "TXT",
		Name: "_acme-challenge." + chal.Identifier.Value,
	}
	_, err = s.provider.DeleteRecords(ctx, zone, []libdns.Record{record})
	return err
}
