package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ferron/internal/condition"
	"ferron/internal/config/parser"
)

// Load parses the configuration file at path, splicing includes and
// snippets, and returns the raw (pre-normalization) list of ConfigBlocks,
// per spec.md §4.1 "load(path) -> list<ConfigBlock>". Callers run
// MergeDuplicates, EnsureGlobal and Premerge on the result before
// indexing it in a Tree.
func Load(path string) ([]*Block, error) {
	return load(path, map[string]bool{})
}

func load(path string, seenIncludes map[string]bool) ([]*Block, error) {
	canon, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %q: %w", path, err)
	}
	if seenIncludes[canon] {
		return nil, fmt.Errorf("circular inclusion of %q", canon)
	}
	seenIncludes[canon] = true

	src, err := os.ReadFile(canon)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", canon, err)
	}

	file, perrs := parser.Parse(string(src))
	if len(perrs) > 0 {
		return nil, fmt.Errorf("parse %q: %s", canon, perrs[0].Error())
	}

	l := &loader{dir: filepath.Dir(canon), seenIncludes: seenIncludes, snippets: map[string][]*parser.Directive{}}
	for _, d := range file.Directives {
		if dirName(d) == "snippet" {
			vals := d.Values()
			if len(vals) != 1 {
				return nil, fmt.Errorf("%s: snippet requires exactly one name argument", canon)
			}
			l.snippets[vals[0]] = d.Body
		}
	}

	var blocks []*Block
	for _, d := range file.Directives {
		name := dirName(d)
		switch name {
		case "snippet":
			// already collected above
		case "include":
			included, err := l.processInclude(d)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, included...)
		case "globals":
			bs, err := l.interpretBody(d.Body, Filter{}, map[string]*condition.Conditional{}, false, false)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, bs...)
		default:
			filters, err := parseHostSpecifierList(name, d.Values())
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", canon, d.StartLine+1, err)
			}
			for _, f := range filters {
				bs, err := l.interpretBody(d.Body, f, map[string]*condition.Conditional{}, false, false)
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, bs...)
			}
		}
	}
	return blocks, nil
}

type loader struct {
	dir          string
	seenIncludes map[string]bool
	snippets     map[string][]*parser.Directive
}

func (l *loader) processInclude(d *parser.Directive) ([]*Block, error) {
	var out []*Block
	for _, pattern := range d.Values() {
		full := pattern
		if !filepath.IsAbs(full) {
			full = filepath.Join(l.dir, pattern)
		}
		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			included, err := load(m, l.seenIncludes)
			if err != nil {
				return nil, err
			}
			out = append(out, included...)
		}
	}
	return out, nil
}

// expandUse inline-splices `use "<snippet>"` nodes with the referenced
// snippet's body, recursively, erroring on a snippet cycle.
func (l *loader) expandUse(body []*parser.Directive, stack map[string]bool) ([]*parser.Directive, error) {
	var out []*parser.Directive
	for _, d := range body {
		if dirName(d) != "use" {
			out = append(out, d)
			continue
		}
		vals := d.Values()
		if len(vals) != 1 {
			return nil, fmt.Errorf("use: expected exactly one snippet name argument")
		}
		name := vals[0]
		if stack[name] {
			return nil, fmt.Errorf("circular snippet reference to %q", name)
		}
		snippet, ok := l.snippets[name]
		if !ok {
			return nil, fmt.Errorf("missing referenced snippet %q", name)
		}
		stack[name] = true
		expanded, err := l.expandUse(snippet, stack)
		delete(stack, name)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// interpretBody processes one block body (a host block, globals block, or
// a nested location/condition/error_config block) into zero or more
// ConfigBlocks: one carrying base's plain directives, plus one per nested
// location/if/if_not/error_config child, per spec.md §4.1's grammar.
func (l *loader) interpretBody(body []*parser.Directive, base Filter, conds map[string]*condition.Conditional, insideLocation, insideError bool) ([]*Block, error) {
	flat, err := l.expandUse(body, map[string]bool{})
	if err != nil {
		return nil, err
	}

	block := NewBlock(base)
	var out []*Block

	for _, d := range flat {
		name := dirName(d)
		switch name {
		case "location":
			if insideLocation {
				return nil, fmt.Errorf("nested location blocks are not permitted")
			}
			vals := d.Values()
			if len(vals) != 1 {
				return nil, fmt.Errorf("location: expected exactly one prefix argument")
			}
			prefix := normalizeLocationPrefix(vals[0])
			child := base
			child.LocationPrefix = &prefix
			sub, err := l.interpretBody(d.Body, child, cloneConditionals(conds), true, insideError)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)

		case "condition":
			vals := d.Values()
			if len(vals) != 1 {
				return nil, fmt.Errorf("condition: expected exactly one name argument")
			}
			preds := make([]condition.Predicate, 0, len(d.Body))
			for _, pd := range d.Body {
				p, err := condition.Compile(dirName(pd), pd.Values())
				if err != nil {
					return nil, err
				}
				preds = append(preds, p)
			}
			conds[vals[0]] = &condition.Conditional{Name: vals[0], Predicates: preds}

		case "if", "if_not":
			if insideError {
				return nil, fmt.Errorf("conditions inside error_config blocks are not permitted")
			}
			vals := d.Values()
			if len(vals) != 1 {
				return nil, fmt.Errorf("%s: expected exactly one condition name argument", name)
			}
			c, ok := conds[vals[0]]
			if !ok {
				return nil, fmt.Errorf("missing referenced condition %q", vals[0])
			}
			pol := condition.If
			if name == "if_not" {
				pol = condition.IfNot
			}
			child := base
			child.Conditional = append(append([]condition.Ref{}, base.Conditional...), condition.Ref{Conditional: c, Polarity: pol})
			sub, err := l.interpretBody(d.Body, child, cloneConditionals(conds), insideLocation, insideError)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)

		case "error_config":
			if insideError {
				return nil, fmt.Errorf("nested error_config blocks are not permitted")
			}
			vals := d.Values()
			status := ErrorStatus{Kind: AnyErrorStatus}
			if len(vals) == 1 {
				n, err := strconv.ParseUint(vals[0], 10, 16)
				if err != nil {
					return nil, fmt.Errorf("error_config: invalid status %q", vals[0])
				}
				status = ErrorStatus{Kind: SpecificErrorStatus, Status: uint16(n)}
			} else if len(vals) > 1 {
				return nil, fmt.Errorf("error_config: expected at most one status argument")
			}
			child := base
			child.ErrorHandlerStatus = status
			sub, err := l.interpretBody(d.Body, child, cloneConditionals(conds), insideLocation, true)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)

		default:
			if raw := parser.Unquote(d.Name.Value); strings.HasPrefix(raw, "UNDOCUMENTED_") {
				name = raw
			}
			block.Append(name, entryFromDirective(d))
		}
	}

	if !block.IsEmpty() {
		out = append([]*Block{block}, out...)
	}
	return out, nil
}

func cloneConditionals(m map[string]*condition.Conditional) map[string]*condition.Conditional {
	out := make(map[string]*condition.Conditional, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func dirName(d *parser.Directive) string {
	return strings.ToLower(parser.Unquote(d.Name.Value))
}

func entryFromDirective(d *parser.Directive) Entry {
	e := Entry{Args: make([]Value, len(d.Args))}
	for i, a := range d.Args {
		if a.Token.Type == parser.STRING {
			e.Args[i] = String(parser.Unquote(a.Token.Value))
		} else {
			e.Args[i] = ParseValue(a.Token.Value)
		}
	}
	return e
}

// normalizeLocationPrefix enforces the invariant in spec.md §3: "A
// location_prefix always begins with / and never ends with / (normalized)".
func normalizeLocationPrefix(raw string) string {
	p := raw
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// parseHostSpecifierList splits a comma-separated host-specifier line
// (its directive name plus same-line args, rejoined and re-split on
// commas since the lexer treats "a.com," and "b.com" as two separate
// tokens) into one Filter per specifier.
func parseHostSpecifierList(name string, args []string) ([]Filter, error) {
	raw := append([]string{name}, args...)
	joined := strings.Join(raw, " ")
	parts := strings.Split(joined, ",")

	var out []Filter
	for _, part := range parts {
		spec := strings.TrimSpace(part)
		if spec == "" {
			continue
		}
		f, err := parseHostSpecifier(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("invalid host specifier %q", joined)
	}
	return out, nil
}

// parseHostSpecifier recognizes the forms enumerated in spec.md §4.1:
// "*", "<ip>", "<host>", "<ip>:<port>", "<host>:<port>", "*:<port>",
// "<ip>:*".
func parseHostSpecifier(spec string) (Filter, error) {
	f := Filter{IsHost: true}

	if spec == "*" {
		return f, nil
	}

	if ip := net.ParseIP(spec); ip != nil {
		f.IP = &ip
		return f, nil
	}

	if strings.HasPrefix(spec, "[") {
		end := strings.Index(spec, "]")
		if end < 0 {
			return Filter{}, fmt.Errorf("invalid host specifier %q: unterminated bracketed address", spec)
		}
		ipPart := spec[1:end]
		ip := net.ParseIP(ipPart)
		if ip == nil {
			return Filter{}, fmt.Errorf("invalid host specifier %q: bad IPv6 address", spec)
		}
		f.IP = &ip
		rest := spec[end+1:]
		if strings.HasPrefix(rest, ":") {
			if err := applyPort(&f, rest[1:]); err != nil {
				return Filter{}, fmt.Errorf("invalid host specifier %q: %w", spec, err)
			}
		}
		return f, nil
	}

	if idx := strings.LastIndex(spec, ":"); idx >= 0 {
		hostPart := spec[:idx]
		portPart := spec[idx+1:]
		if portPart == "*" || isAllDigits(portPart) {
			if hostPart == "*" {
				// wildcard host, explicit port
			} else if ip := net.ParseIP(hostPart); ip != nil {
				f.IP = &ip
			} else {
				h := strings.ToLower(hostPart)
				f.Hostname = &h
			}
			if err := applyPort(&f, portPart); err != nil {
				return Filter{}, fmt.Errorf("invalid host specifier %q: %w", spec, err)
			}
			return f, nil
		}
	}

	h := strings.ToLower(spec)
	f.Hostname = &h
	return f, nil
}

func applyPort(f *Filter, portPart string) error {
	if portPart == "*" {
		return nil
	}
	n, err := strconv.ParseUint(portPart, 10, 16)
	if err != nil {
		return fmt.Errorf("bad port %q", portPart)
	}
	p := uint16(n)
	f.Port = &p
	return nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
