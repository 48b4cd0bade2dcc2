package acme

import (
	"encoding/base64"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

func hashKey(prefix, material string) string {
	sum := blake3.Sum256([]byte(material))
	return prefix + "_" + base64.RawURLEncoding.EncodeToString(sum[:16])
}

// AccountCacheKey derives the cache key an ACME account is stored
// under, per spec.md §4.7: `account_{hash(contact+directory)}`.
func AccountCacheKey(contact []string, directory string) string {
	return hashKey("account", strings.Join(contact, ",")+";"+directory)
}

// CertificateCacheKey derives the cache key an issued certificate is
// stored under: `certificate_{hash(sorted_domains_joined + ";" + profile?)}`.
func CertificateCacheKey(domains []string, profile string) string {
	sorted := append([]string{}, domains...)
	sort.Strings(sorted)
	material := strings.Join(sorted, ",")
	if profile != "" {
		material += ";" + profile
	}
	return hashKey("certificate", material)
}

// HostnameCacheKey derives the on-demand per-host cache key:
// `hostname_{hash(port + ";" + sni?)}`.
func HostnameCacheKey(port uint16, sni string) string {
	material := strconv.Itoa(int(port))
	if sni != "" {
		material += ";" + sni
	}
	return hashKey("hostname", material)
}
