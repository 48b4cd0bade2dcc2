package config

import (
	"fmt"
	"net"

	"ferron/internal/condition"
)

// ErrorStatusKind tags a filter's error_handler_status axis.
type ErrorStatusKind int

const (
	NoErrorStatus ErrorStatusKind = iota
	AnyErrorStatus
	SpecificErrorStatus
)

// ErrorStatus is the `{Any, Status(u16)}` tag from spec.md §3.
type ErrorStatus struct {
	Kind   ErrorStatusKind
	Status uint16
}

func (e ErrorStatus) IsSet() bool { return e.Kind != NoErrorStatus }

// Filter is the selector under which a ConfigBlock is active, per
// spec.md §3 "Filter". Pointer fields are nil for "wildcard"/unset axes.
type Filter struct {
	IsHost             bool
	Hostname           *string
	IP                 *net.IP
	Port               *uint16
	LocationPrefix     *string
	Conditional        []condition.Ref // conjunction of one or more if/if_not references
	ErrorHandlerStatus ErrorStatus
}

// IsGlobalNonHost reports whether f is the process-wide settings block
// (spec.md §3 invariant: "exactly one global-non-host block exists").
func (f Filter) IsGlobalNonHost() bool {
	return !f.IsHost && f.Hostname == nil && f.IP == nil && f.Port == nil &&
		f.LocationPrefix == nil && len(f.Conditional) == 0 && !f.ErrorHandlerStatus.IsSet()
}

// axisRank is the least-to-most-specific ordering from spec.md §4.1
// "Specificity ordering": is_host < port < ip < hostname <
// location_prefix < conditional < error_handler_status.
type axisRank int

const (
	rankIsHost axisRank = iota
	rankPort
	rankIP
	rankHostname
	rankLocationPrefix
	rankConditional
	rankErrorStatus
)

// specVector returns, per axis in rank order, whether the axis is set
// (wildcard axes sort before set ones at equal rank, a single-bit
// weight is all the total order in premerge_configuration's sort needs).
func (f Filter) specVector() [7]bool {
	return [7]bool{
		rankIsHost:         f.IsHost,
		rankPort:           f.Port != nil,
		rankIP:             f.IP != nil,
		rankHostname:       f.Hostname != nil,
		rankLocationPrefix: f.LocationPrefix != nil,
		rankConditional:    len(f.Conditional) > 0,
		rankErrorStatus:    f.ErrorHandlerStatus.IsSet(),
	}
}

// Less implements the ascending-specificity total order used to sort
// blocks before premerge, mirroring
// original_source/ferron/src/config/processing.rs's
// `server_configurations.sort_by(|a, b| a.filters.cmp(&b.filters))`:
// compare axis-by-axis in rank order, "set" beats "unset".
func (f Filter) Less(other Filter) bool {
	a, b := f.specVector(), other.specVector()
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			return !a[i] && b[i]
		}
	}
	return false
}

// Dominates reports whether f is a strictly-less-or-equal-specific
// ancestor of child in the specificity lattice: for every axis, either
// both agree or f's value is wildcard (nil/unset) — spec.md §4.1
// "A config dominates another iff for every axis either both agree or
// the dominator's value is 'wildcard' (None)."
func (f Filter) Dominates(child Filter) bool {
	if f.IsHost && !child.IsHost {
		return false
	}
	if f.Port != nil && (child.Port == nil || *f.Port != *child.Port) {
		return false
	}
	if f.IP != nil && (child.IP == nil || !f.IP.Equal(*child.IP)) {
		return false
	}
	if f.Hostname != nil && (child.Hostname == nil || *f.Hostname != *child.Hostname) {
		return false
	}
	if f.LocationPrefix != nil && (child.LocationPrefix == nil || *f.LocationPrefix != *child.LocationPrefix) {
		return false
	}
	if len(f.Conditional) > 0 && !conditionalSubset(f.Conditional, child.Conditional) {
		return false
	}
	if f.ErrorHandlerStatus.IsSet() && f.ErrorHandlerStatus != child.ErrorHandlerStatus {
		return false
	}
	return true
}

func conditionalSubset(parent, child []condition.Ref) bool {
	for _, p := range parent {
		found := false
		for _, c := range child {
			if p.String() == c.String() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Equal reports byte-identical filters, used by merge_duplicates
// (spec.md §4.1 step 1) and the "≤1 error-handler block per status"
// invariant.
func (f Filter) Equal(other Filter) bool {
	if f.IsHost != other.IsHost {
		return false
	}
	if !strPtrEqual(f.Hostname, other.Hostname) {
		return false
	}
	if !ipPtrEqual(f.IP, other.IP) {
		return false
	}
	if !u16PtrEqual(f.Port, other.Port) {
		return false
	}
	if !strPtrEqual(f.LocationPrefix, other.LocationPrefix) {
		return false
	}
	if f.ErrorHandlerStatus != other.ErrorHandlerStatus {
		return false
	}
	if len(f.Conditional) != len(other.Conditional) {
		return false
	}
	for i := range f.Conditional {
		if f.Conditional[i].String() != other.Conditional[i].String() {
			return false
		}
	}
	return true
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func u16PtrEqual(a, b *uint16) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func ipPtrEqual(a, b *net.IP) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (f Filter) String() string {
	host := "*"
	if f.Hostname != nil {
		host = *f.Hostname
	}
	port := "*"
	if f.Port != nil {
		port = fmt.Sprintf("%d", *f.Port)
	}
	ip := "*"
	if f.IP != nil {
		ip = f.IP.String()
	}
	loc := ""
	if f.LocationPrefix != nil {
		loc = " location=" + *f.LocationPrefix
	}
	errh := ""
	if f.ErrorHandlerStatus.IsSet() {
		if f.ErrorHandlerStatus.Kind == AnyErrorStatus {
			errh = " error=any"
		} else {
			errh = fmt.Sprintf(" error=%d", f.ErrorHandlerStatus.Status)
		}
	}
	return fmt.Sprintf("host=%v ip=%s port=%s hostname=%s%s%s", f.IsHost, ip, port, host, loc, errh)
}
