package parser

import "testing"

func TestParse_SimpleHostBlock(t *testing.T) {
	f, errs := Parse("example.com {\n  root /var/www\n}\n")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(f.Directives) != 1 {
		t.Fatalf("want 1 top-level directive, got %d", len(f.Directives))
	}
	host := f.Directives[0]
	if host.Name.Value != "example.com" {
		t.Errorf("host name: want example.com, got %q", host.Name.Value)
	}
	if len(host.Body) != 1 || host.Body[0].Name.Value != "root" {
		t.Fatalf("want 1 body directive 'root', got %+v", host.Body)
	}
	if got := host.Body[0].Values(); len(got) != 1 || got[0] != "/var/www" {
		t.Errorf("root value: got %v", got)
	}
}

func TestParse_MultipleHostBlocks(t *testing.T) {
	f, errs := Parse("a.com {\n  root /a\n}\nb.com {\n  root /b\n}\n")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(f.Directives) != 2 {
		t.Fatalf("want 2 top-level directives, got %d", len(f.Directives))
	}
	if f.Directives[0].Name.Value != "a.com" || f.Directives[1].Name.Value != "b.com" {
		t.Errorf("unexpected names: %q, %q", f.Directives[0].Name.Value, f.Directives[1].Name.Value)
	}
}

func TestParse_GlobalsBlock(t *testing.T) {
	f, errs := Parse("globals {\n  default_http_port 80\n}\nexample.com {\n  root /var/www\n}\n")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(f.Directives) != 2 {
		t.Fatalf("want 2 top-level directives, got %d", len(f.Directives))
	}
	globals := f.Directives[0]
	if globals.Name.Value != "globals" {
		t.Fatalf("want first directive 'globals', got %q", globals.Name.Value)
	}
	if len(globals.Body) != 1 || globals.Body[0].Name.Value != "default_http_port" {
		t.Fatalf("unexpected globals body: %+v", globals.Body)
	}
}

func TestParse_CommaSeparatedHostSpecifier(t *testing.T) {
	f, errs := Parse("a.com, b.com:8080 {\n  root /var/www\n}\n")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	host := f.Directives[0]
	// name token is "a.com,"; remaining tokens on the same line are args.
	if host.Name.Value != "a.com," {
		t.Errorf("want name 'a.com,', got %q", host.Name.Value)
	}
	if len(host.Args) != 1 || host.Args[0].Token.Value != "b.com:8080" {
		t.Fatalf("want 1 arg 'b.com:8080', got %+v", host.Args)
	}
}

func TestParse_NestedLocationBlock(t *testing.T) {
	f, errs := Parse(`example.com {
  location "/api" {
    proxy "http://127.0.0.1:9000"
  }
}
`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	host := f.Directives[0]
	if len(host.Body) != 1 || host.Body[0].Name.Value != "location" {
		t.Fatalf("want 1 'location' body directive, got %+v", host.Body)
	}
	loc := host.Body[0]
	if len(loc.Args) != 1 || Unquote(loc.Args[0].Token.Value) != "/api" {
		t.Fatalf("location prefix: got %+v", loc.Args)
	}
	if len(loc.Body) != 1 || loc.Body[0].Name.Value != "proxy" {
		t.Fatalf("want 1 'proxy' directive inside location, got %+v", loc.Body)
	}
}

func TestParse_ConditionAndIfNot(t *testing.T) {
	f, errs := Parse(`example.com {
  condition "is-api" {
    path-matches "^/api/"
  }
  if_not "is-api" {
    root /var/www/static
  }
}
`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	host := f.Directives[0]
	if len(host.Body) != 2 {
		t.Fatalf("want 2 body directives, got %d", len(host.Body))
	}
	if host.Body[0].Name.Value != "condition" || host.Body[1].Name.Value != "if_not" {
		t.Fatalf("unexpected directive names: %q, %q", host.Body[0].Name.Value, host.Body[1].Name.Value)
	}
}

func TestParse_UnclosedBlockReportsError(t *testing.T) {
	_, errs := Parse("example.com {\n  root /var/www\n")
	if len(errs) == 0 {
		t.Fatalf("expected an unclosed-block error")
	}
}

func TestParse_EmptyInput(t *testing.T) {
	f, errs := Parse("")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(f.Directives) != 0 {
		t.Errorf("expected 0 directives for empty input, got %d", len(f.Directives))
	}
}

func TestParse_CommentsIgnored(t *testing.T) {
	f, errs := Parse("# a comment\nexample.com {\n  # another comment\n  root /var/www\n}\n")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(f.Directives) != 1 {
		t.Fatalf("want 1 directive, got %d", len(f.Directives))
	}
}

func TestParse_StraySiteBlockClose(t *testing.T) {
	_, errs := Parse("}\n")
	if len(errs) == 0 {
		t.Fatalf("expected an error for a stray '}'")
	}
}

func TestDirective_ValuesUnquotes(t *testing.T) {
	f, errs := Parse(`example.com {
  header "X-Test" "hello \"world\""
}
`)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	header := f.Directives[0].Body[0]
	got := header.Values()
	if len(got) != 2 || got[0] != "X-Test" || got[1] != `hello "world"` {
		t.Fatalf("unexpected values: %#v", got)
	}
}
