package acme

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMemoryCache_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss on empty cache")
	}
	if err := c.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	v, ok, _ := c.Get(ctx, "k")
	if !ok || string(v) != "v" {
		t.Fatalf("got %q ok=%v", v, ok)
	}
	if err := c.Remove(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected miss after remove")
	}
}

func TestFileCache_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	c := NewFileCache(filepath.Join(t.TempDir(), "acme-cache"))

	if err := c.Set(ctx, "account_abc", []byte("secret")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := c.Get(ctx, "account_abc")
	if err != nil || !ok || string(v) != "secret" {
		t.Fatalf("got %q ok=%v err=%v", v, ok, err)
	}
	if err := c.Remove(ctx, "account_abc"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "account_abc"); ok {
		t.Fatal("expected miss after remove")
	}
}

func TestFileCache_RemoveOfMissingKeyIsNotAnError(t *testing.T) {
	c := NewFileCache(t.TempDir())
	if err := c.Remove(context.Background(), "never-written"); err != nil {
		t.Fatalf("got error %v", err)
	}
}
