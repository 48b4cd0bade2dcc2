package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_SimpleHostBlock(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "ferron.conf", `
globals {
	log /var/log/ferron.log
}

example.com:8080 {
	root /var/www/example
	header X-Test value
}
`)
	blocks, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}

	var host *Block
	for _, b := range blocks {
		if b.Filter.IsHost {
			host = b
		}
	}
	if host == nil {
		t.Fatal("expected a host block")
	}
	if host.Filter.Hostname == nil || *host.Filter.Hostname != "example.com" {
		t.Fatalf("expected hostname example.com, got %#v", host.Filter.Hostname)
	}
	if host.Filter.Port == nil || *host.Filter.Port != 8080 {
		t.Fatalf("expected port 8080, got %#v", host.Filter.Port)
	}
	if len(host.Entries["root"]) != 1 || host.Entries["root"][0].ArgString(0) != "/var/www/example" {
		t.Fatalf("unexpected root entries: %#v", host.Entries["root"])
	}
}

func TestLoad_CommaSeparatedHostSpecifiers(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "ferron.conf", `
a.com, b.com:8080 {
	root /srv
}
`)
	blocks, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks from comma-separated specifier, got %d", len(blocks))
	}
	var sawA, sawB bool
	for _, b := range blocks {
		if b.Filter.Hostname != nil && *b.Filter.Hostname == "a.com" {
			sawA = true
		}
		if b.Filter.Hostname != nil && *b.Filter.Hostname == "b.com" && b.Filter.Port != nil && *b.Filter.Port == 8080 {
			sawB = true
		}
	}
	if !sawA || !sawB {
		t.Fatalf("expected both a.com and b.com:8080 blocks, got %#v", blocks)
	}
}

func TestLoad_LocationAndConditionNesting(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "ferron.conf", `
example.com {
	condition "is-api" {
		path-matches "^/api/"
	}

	location "/api" {
		if "is-api" {
			proxy http://localhost:9000
		}
	}
}
`)
	blocks, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	var condBlock *Block
	for _, b := range blocks {
		if len(b.Filter.Conditional) == 1 {
			condBlock = b
		}
	}
	if condBlock == nil {
		t.Fatalf("expected a block with a conditional filter, got %#v", blocks)
	}
	if condBlock.Filter.LocationPrefix == nil || *condBlock.Filter.LocationPrefix != "/api" {
		t.Fatalf("expected location prefix /api, got %#v", condBlock.Filter.LocationPrefix)
	}
	if len(condBlock.Entries["proxy"]) != 1 {
		t.Fatalf("expected a proxy entry, got %#v", condBlock.Entries)
	}
}

func TestLoad_NestedLocationRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "ferron.conf", `
example.com {
	location "/a" {
		location "/b" {
			root /x
		}
	}
}
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for nested location blocks")
	}
}

func TestLoad_ErrorConfigStatus(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "ferron.conf", `
example.com {
	error_config 404 {
		error_page /404.html
	}
}
`)
	blocks, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	var errBlock *Block
	for _, b := range blocks {
		if b.Filter.ErrorHandlerStatus.IsSet() {
			errBlock = b
		}
	}
	if errBlock == nil {
		t.Fatal("expected an error-handler block")
	}
	if errBlock.Filter.ErrorHandlerStatus.Kind != SpecificErrorStatus || errBlock.Filter.ErrorHandlerStatus.Status != 404 {
		t.Fatalf("unexpected error status: %#v", errBlock.Filter.ErrorHandlerStatus)
	}
}

func TestLoad_SnippetSplicing(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "ferron.conf", `
snippet "common" {
	header X-Frame-Options DENY
}

example.com {
	use "common"
	root /srv
}
`)
	blocks, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	var host *Block
	for _, b := range blocks {
		if b.Filter.IsHost {
			host = b
		}
	}
	if host == nil || len(host.Entries["header"]) != 1 {
		t.Fatalf("expected spliced header entry, got %#v", blocks)
	}
}

func TestLoad_IncludeGlob(t *testing.T) {
	dir := t.TempDir()
	writeTempConfig(t, dir, "sites.conf", `
example.com {
	root /srv/example
}
`)
	mainPath := writeTempConfig(t, dir, "ferron.conf", `
include "sites.conf"
`)
	blocks, err := Load(mainPath)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, b := range blocks {
		if b.Filter.Hostname != nil && *b.Filter.Hostname == "example.com" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected included example.com block, got %#v", blocks)
	}
}

func TestLoad_WildcardSpecifier(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "ferron.conf", `
*:80 {
	root /srv
}
`)
	blocks, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	var host *Block
	for _, b := range blocks {
		if b.Filter.IsHost {
			host = b
		}
	}
	if host == nil {
		t.Fatal("expected a host block")
	}
	if host.Filter.Hostname != nil || host.Filter.IP != nil {
		t.Fatalf("expected wildcard host/ip, got hostname=%#v ip=%#v", host.Filter.Hostname, host.Filter.IP)
	}
	if host.Filter.Port == nil || *host.Filter.Port != 80 {
		t.Fatalf("expected port 80, got %#v", host.Filter.Port)
	}
}
