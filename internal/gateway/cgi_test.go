package gateway

import "testing"

func TestInterpreterFor_DefaultTableAppendsScriptPath(t *testing.T) {
	interpreters := defaultInterpreters()
	argv, ok := interpreterFor("/var/www/hello.py", interpreters)
	if !ok {
		t.Fatal("expected .py to resolve")
	}
	if len(argv) != 2 || argv[0] != "python" || argv[1] != "/var/www/hello.py" {
		t.Fatalf("unexpected argv: %v", argv)
	}
}

func TestInterpreterFor_EmptyArgvMeansDirectlyExecutable(t *testing.T) {
	interpreters := map[string][]string{".cgi": {}}
	argv, ok := interpreterFor("/var/www/hello.cgi", interpreters)
	if !ok {
		t.Fatal("expected .cgi to resolve")
	}
	if len(argv) != 1 || argv[0] != "/var/www/hello.cgi" {
		t.Fatalf("unexpected argv: %v", argv)
	}
}

func TestInterpreterFor_UnknownExtensionFails(t *testing.T) {
	interpreters := defaultInterpreters()
	_, ok := interpreterFor("/var/www/hello.exe", interpreters)
	if ok {
		t.Fatal("expected an unregistered extension to fail")
	}
}

func TestEnvToOSForm_JoinsKeyValue(t *testing.T) {
	env := NewEnv()
	env.Set("A", "1")
	env.Set("B", "2")
	got := envToOSForm(env)
	if len(got) != 2 || got[0] != "A=1" || got[1] != "B=2" {
		t.Fatalf("unexpected env slice: %v", got)
	}
}
