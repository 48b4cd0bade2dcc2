// Package parser implements the lexer/parser for Ferron's hierarchical,
// KDL-like configuration grammar. Every level of nesting — globals, host
// blocks, locations, conditions, snippets — shares one shape: a name, a
// run of same-line arguments, and an optional "{ ... }" body of child
// directives. That uniformity is what the grammar in spec.md §4.1 and
// §6 actually describes, so the AST only needs one node type below the
// file root.
package parser

// Pos is a 0-based line/character position in the source file.
type Pos struct {
	Line uint32
	Char uint32
}

// Range is a half-open [Start,End) span in the source file.
type Range struct {
	Start Pos
	End   Pos
}

// Node is the interface implemented by every AST node.
type Node interface {
	Range() Range
}

// Token is the smallest unit produced by the lexer.
type Token struct {
	Type  TokenType
	Value string
	Line  uint32
	Char  uint32
}

func (t Token) Range() Range {
	end := t.Char + uint32(len(t.Value))
	return Range{
		Start: Pos{Line: t.Line, Char: t.Char},
		End:   Pos{Line: t.Line, Char: end},
	}
}

// Argument is a single token value used as an argument to a directive.
type Argument struct {
	Token Token
}

func (a *Argument) Range() Range { return a.Token.Range() }

// Directive is a named node with zero or more same-line arguments and an
// optional "{ ... }" body of child directives. At file scope a Directive
// is one of "globals", a host specifier (possibly comma-separated), a
// "snippet", or "include"; any other top-level name is read as a host
// specifier. Inside a host
// or snippet body it is a plain property, or one of the structural
// keywords "location", "condition", "if", "if_not", "error_config",
// "use".
type Directive struct {
	Name      Token
	Args      []*Argument
	Body      []*Directive
	StartLine uint32
	EndLine   uint32
}

func (d *Directive) Range() Range {
	return Range{
		Start: Pos{Line: d.StartLine, Char: 0},
		End:   Pos{Line: d.EndLine, Char: 0},
	}
}

// Values returns the unquoted string values of the directive's arguments,
// in declaration order.
func (d *Directive) Values() []string {
	out := make([]string, len(d.Args))
	for i, a := range d.Args {
		out[i] = Unquote(a.Token.Value)
	}
	return out
}

// File is the root AST node for one configuration file: a flat sequence
// of top-level directives in declaration order.
type File struct {
	Directives []*Directive
}

func (f *File) Range() Range {
	if len(f.Directives) == 0 {
		return Range{}
	}
	last := f.Directives[len(f.Directives)-1]
	return Range{Start: Pos{Line: 0, Char: 0}, End: Pos{Line: last.EndLine, Char: 0}}
}
