package gateway

import (
	"net/http/httptest"
	"testing"

	"ferron/internal/module"
)

type fakeAddr struct{ s string }

func (a *fakeAddr) Network() string { return "tcp" }
func (a *fakeAddr) String() string  { return a.s }

func TestBuildEnv_SetsCoreVariables(t *testing.T) {
	req := httptest.NewRequest("GET", "/app.php/extra?x=1", nil)
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Cookie", "a=1")
	req.Header.Add("Cookie", "b=2")

	socket := module.SocketData{
		RemoteAddr: &fakeAddr{"10.0.0.1:5555"},
		LocalAddr:  &fakeAddr{"10.0.0.2:8080"},
	}

	env := BuildEnv(req, socket, req.URL, "", ScriptContext{
		WWWRoot:    "/var/www",
		ScriptPath: "/var/www/app.php",
		PathInfo:   "extra",
		AdminEmail: "admin@example.com",
	})

	want := map[string]string{
		"REQUEST_METHOD":    "GET",
		"QUERY_STRING":      "x=1",
		"SCRIPT_FILENAME":   "/var/www/app.php",
		"SCRIPT_NAME":       "/app.php",
		"PATH_INFO":         "/extra",
		"PATH_TRANSLATED":   "/var/www/app.php/extra",
		"SERVER_ADMIN":      "admin@example.com",
		"GATEWAY_INTERFACE": "CGI/1.1",
		"REMOTE_ADDR":       "10.0.0.1",
		"REMOTE_PORT":       "5555",
		"SERVER_PORT":       "8080",
		"CONTENT_TYPE":      "text/plain",
	}
	for k, v := range want {
		got := ""
		for _, p := range env.Pairs() {
			if p.Key == k {
				got = p.Value
				break
			}
		}
		if got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestBuildEnv_DefaultsContentLengthToZero(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	env := BuildEnv(req, module.SocketData{}, req.URL, "", ScriptContext{})
	for _, p := range env.Pairs() {
		if p.Key == "CONTENT_LENGTH" {
			if p.Value != "0" {
				t.Fatalf("expected CONTENT_LENGTH=0, got %q", p.Value)
			}
			return
		}
	}
	t.Fatal("expected CONTENT_LENGTH to be set")
}

func TestParseCGIHeaders_StatusHeaderOverridesDefault(t *testing.T) {
	raw := []byte("Status: 404 Not Found\r\nContent-Type: text/plain\r\n\r\nmissing")
	status, header, body := ParseCGIHeaders(raw)
	if status != 404 {
		t.Fatalf("expected status 404, got %d", status)
	}
	if header.Get("Content-Type") != "text/plain" {
		t.Fatalf("expected Content-Type to survive, got %q", header.Get("Content-Type"))
	}
	if string(body) != "missing" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestParseCGIHeaders_LocationImpliesRedirect(t *testing.T) {
	raw := []byte("Location: /elsewhere\r\n\r\n")
	status, header, _ := ParseCGIHeaders(raw)
	if status != 302 {
		t.Fatalf("expected an implied 302, got %d", status)
	}
	if header.Get("Location") != "/elsewhere" {
		t.Fatal("expected Location to be preserved")
	}
}

func TestEnv_MoveToFrontReordersContentLength(t *testing.T) {
	env := NewEnv()
	env.Set("A", "1")
	env.Set("CONTENT_LENGTH", "42")
	env.Set("B", "2")
	env.MoveToFront("CONTENT_LENGTH")

	pairs := env.Pairs()
	if pairs[0].Key != "CONTENT_LENGTH" {
		t.Fatalf("expected CONTENT_LENGTH first, got %v", pairs)
	}
	if len(pairs) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(pairs))
	}
}
