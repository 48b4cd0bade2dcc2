// Package condition implements the ConditionalData predicates and
// Conditional composition described in spec.md §4.3: a closed set of
// request-matching predicates, combined by conjunction into a named
// condition, referenced from a Filter via If/IfNot.
package condition

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Kind enumerates the closed set of predicates spec.md §4.3 names.
type Kind int

const (
	MethodIs Kind = iota
	MethodIsNot
	PathMatches
	PathMatchesNot
	QueryHas
	QueryHasNot
	HeaderHas
	HeaderHasNot
	SchemeIs
	SchemeIsNot
	PortIs
	PortIsNot
)

// Predicate is one ConditionalData test. Value/Key/CompareValue are used
// selectively depending on Kind; Regex is pre-compiled for the
// path-matches[-not] kinds.
type Predicate struct {
	Kind         Kind
	Value        string // method name, scheme name, query/header key
	CompareValue string // optional "= <value>" for query-has/header-has
	HasCompare   bool
	Regex        *regexp.Regexp // path-matches[-not]
	Port         int            // port-is[-not]
}

// Compile parses the textual form of a predicate as it appears in a
// `condition "<name>" { ... }` body, e.g. "method-is GET" or
// "header-has X-Api-Key = secret".
func Compile(directive string, args []string) (Predicate, error) {
	switch directive {
	case "method-is", "method-is-not":
		if len(args) != 1 {
			return Predicate{}, fmt.Errorf("%s: expected exactly one method argument", directive)
		}
		k := MethodIs
		if directive == "method-is-not" {
			k = MethodIsNot
		}
		return Predicate{Kind: k, Value: strings.ToUpper(args[0])}, nil

	case "path-matches", "path-matches-not":
		if len(args) != 1 {
			return Predicate{}, fmt.Errorf("%s: expected exactly one regex argument", directive)
		}
		re, err := regexp.Compile(args[0])
		if err != nil {
			return Predicate{}, fmt.Errorf("%s: invalid regex %q: %w", directive, args[0], err)
		}
		k := PathMatches
		if directive == "path-matches-not" {
			k = PathMatchesNot
		}
		return Predicate{Kind: k, Regex: re}, nil

	case "query-has", "query-has-not":
		return compileHasPredicate(directive, args, QueryHas, QueryHasNot)

	case "header-has", "header-has-not":
		return compileHasPredicate(directive, args, HeaderHas, HeaderHasNot)

	case "scheme-is", "scheme-is-not":
		if len(args) != 1 || (args[0] != "http" && args[0] != "https") {
			return Predicate{}, fmt.Errorf("%s: expected 'http' or 'https'", directive)
		}
		k := SchemeIs
		if directive == "scheme-is-not" {
			k = SchemeIsNot
		}
		return Predicate{Kind: k, Value: args[0]}, nil

	case "port-is", "port-is-not":
		if len(args) != 1 {
			return Predicate{}, fmt.Errorf("%s: expected exactly one port argument", directive)
		}
		var port int
		if _, err := fmt.Sscanf(args[0], "%d", &port); err != nil {
			return Predicate{}, fmt.Errorf("%s: invalid port %q", directive, args[0])
		}
		k := PortIs
		if directive == "port-is-not" {
			k = PortIsNot
		}
		return Predicate{Kind: k, Port: port}, nil

	default:
		return Predicate{}, fmt.Errorf("unknown condition predicate %q", directive)
	}
}

func compileHasPredicate(directive string, args []string, posKind, negKind Kind) (Predicate, error) {
	if len(args) < 1 || len(args) > 3 {
		return Predicate{}, fmt.Errorf("%s: expected '<key>' or '<key> = <value>'", directive)
	}
	p := Predicate{Value: args[0]}
	if strings.HasSuffix(directive, "-not") {
		p.Kind = negKind
	} else {
		p.Kind = posKind
	}
	if len(args) == 3 && args[1] == "=" {
		p.CompareValue = args[2]
		p.HasCompare = true
	} else if len(args) == 2 {
		p.CompareValue = args[1]
		p.HasCompare = true
	}
	return p, nil
}

// MatchData is the request view a predicate is evaluated against
// (spec.md §4.3 "ConditionalData ... Evaluation is over the request as
// observed at the matching point"). Fields reflect any earlier module's
// rewrite of path/query/host.
type MatchData struct {
	Method  string
	Path    string
	RawPath string // percent-undecoded, as received
	Query   url.Values
	Header  map[string][]string // canonical header names
	Scheme  string              // "http" or "https"
	Port    int
	// OSPathCaseInsensitive is carried for callers that match filesystem
	// paths; Eval does not consult it, and path-matches predicates always
	// match case-sensitively.
	OSPathCaseInsensitive bool
}

// Eval evaluates a single predicate against m.
func (p Predicate) Eval(m MatchData) bool {
	switch p.Kind {
	case MethodIs:
		return strings.EqualFold(m.Method, p.Value)
	case MethodIsNot:
		return !strings.EqualFold(m.Method, p.Value)
	case PathMatches:
		return p.Regex != nil && p.Regex.MatchString(m.Path)
	case PathMatchesNot:
		return p.Regex == nil || !p.Regex.MatchString(m.Path)
	case QueryHas:
		return queryHas(m.Query, p.Value, p.CompareValue, p.HasCompare)
	case QueryHasNot:
		return !queryHas(m.Query, p.Value, p.CompareValue, p.HasCompare)
	case HeaderHas:
		return headerHas(m.Header, p.Value, p.CompareValue, p.HasCompare)
	case HeaderHasNot:
		return !headerHas(m.Header, p.Value, p.CompareValue, p.HasCompare)
	case SchemeIs:
		return strings.EqualFold(m.Scheme, p.Value)
	case SchemeIsNot:
		return !strings.EqualFold(m.Scheme, p.Value)
	case PortIs:
		return m.Port == p.Port
	case PortIsNot:
		return m.Port != p.Port
	default:
		return false
	}
}

func queryHas(q url.Values, key, want string, compare bool) bool {
	vals, ok := q[key]
	if !ok {
		return false
	}
	if !compare {
		return true
	}
	for _, v := range vals {
		if v == want {
			return true
		}
	}
	return false
}

func headerHas(h map[string][]string, key, want string, compare bool) bool {
	vals, ok := h[canonicalHeader(key)]
	if !ok {
		return false
	}
	if !compare {
		return true
	}
	for _, v := range vals {
		if v == want {
			return true
		}
	}
	return false
}

func canonicalHeader(name string) string {
	// Mirrors net/http.CanonicalHeaderKey without importing net/http here,
	// so this package has no dependency on the transport layer.
	parts := strings.Split(strings.ToLower(name), "-")
	for i, p := range parts {
		if len(p) > 0 {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "-")
}

// Conditional is a named conjunction of predicates, referenced by
// `if "<name>"` / `if_not "<name>"` (spec.md §4.3 "A condition is a
// conjunction of its predicates").
type Conditional struct {
	Name       string
	Predicates []Predicate
}

// Polarity selects If (evaluate as declared) or IfNot (negate each
// predicate individually — the Open Question in spec.md §9 is resolved
// in favor of this, see DESIGN.md).
type Polarity int

const (
	If Polarity = iota
	IfNot
)

// Ref is what a Filter actually stores: a reference to a named
// Conditional plus the polarity it was referenced with.
type Ref struct {
	Conditional *Conditional
	Polarity    Polarity
}

// Eval evaluates the conjunction (honoring Polarity) against m.
func (r Ref) Eval(m MatchData) bool {
	if r.Conditional == nil {
		return true
	}
	for _, p := range r.Conditional.Predicates {
		ok := p.Eval(m)
		if r.Polarity == IfNot {
			ok = !ok
		}
		if !ok {
			return false
		}
	}
	return true
}

// Len reports the predicate count, used by the tie-break rule in
// spec.md §4.3 ("a matched Conditional with more predicates wins").
func (r Ref) Len() int {
	if r.Conditional == nil {
		return 0
	}
	return len(r.Conditional.Predicates)
}

// String renders a stable textual form for structural hashing and tree
// key comparison.
func (r Ref) String() string {
	if r.Conditional == nil {
		return ""
	}
	pol := "if"
	if r.Polarity == IfNot {
		pol = "if_not"
	}
	return fmt.Sprintf("%s:%s", pol, r.Conditional.Name)
}
