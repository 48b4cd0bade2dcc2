package proxy

import (
	"fmt"
	"sort"

	"github.com/miekg/dns"
)

// ResolveSRV resolves name via one of servers (RFC 2782 SRV lookup) and
// returns one Backend per target, weighted and ordered by priority per
// spec.md §4.6's "honoring SRV weight/priority". scheme is "http" or
// "https", applied to every resolved target since a single proxy_srv
// directive addresses one upstream service.
func ResolveSRV(servers []string, name, scheme string) ([]Backend, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("proxy_srv requires at least one DNS server")
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeSRV)

	var lastErr error
	for _, server := range servers {
		c := new(dns.Client)
		resp, _, err := c.Exchange(msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("SRV lookup for %q against %s returned rcode %d", name, server, resp.Rcode)
			continue
		}
		return backendsFromSRV(resp.Answer, scheme), nil
	}
	return nil, fmt.Errorf("SRV lookup for %q failed against all configured servers: %w", name, lastErr)
}

func backendsFromSRV(answers []dns.RR, scheme string) []Backend {
	var records []*dns.SRV
	for _, rr := range answers {
		if srv, ok := rr.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Priority < records[j].Priority })

	backends := make([]Backend, 0, len(records))
	for _, srv := range records {
		weight := int(srv.Weight)
		if weight <= 0 {
			weight = 1
		}
		target := dns.Fqdn(srv.Target)
		host := target[:len(target)-1]
		backends = append(backends, Backend{
			URL:             fmt.Sprintf("%s://%s:%d", scheme, host, srv.Port),
			Weight:          weight,
			FromSRVPriority: int(srv.Priority),
		})
	}
	return backends
}
