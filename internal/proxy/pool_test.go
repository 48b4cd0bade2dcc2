package proxy

import (
	"testing"
	"time"
)

func TestPool_PutThenGetReturnsSameBackendClient(t *testing.T) {
	p := NewPool(4, time.Minute, time.Second, false)
	c := p.newClient()
	p.Put("backend-a", c)

	got := p.Get("backend-a")
	if got != c {
		t.Fatal("expected Get to return the pooled client")
	}
}

func TestPool_GetOnEmptyQueueBuildsFreshClient(t *testing.T) {
	p := NewPool(4, time.Minute, time.Second, false)
	c := p.Get("backend-b")
	if c == nil {
		t.Fatal("expected a fresh client")
	}
}

func TestPool_ExpiredIdleConnectionIsDiscarded(t *testing.T) {
	p := NewPool(4, time.Nanosecond, time.Second, false)
	c := p.newClient()
	p.Put("backend-c", c)
	time.Sleep(time.Millisecond)

	got := p.Get("backend-c")
	if got == c {
		t.Fatal("expected the expired connection to be discarded, not reused")
	}
}

func TestPool_PutDropsWhenQueueFull(t *testing.T) {
	p := NewPool(1, time.Minute, time.Second, false)
	p.Put("backend-d", p.newClient())
	p.Put("backend-d", p.newClient()) // should not block

	if len(p.queues["backend-d"]) != 1 {
		t.Fatalf("got queue length %d, want 1", len(p.queues["backend-d"]))
	}
}
