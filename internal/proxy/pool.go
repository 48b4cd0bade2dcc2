package proxy

import (
	"crypto/tls"
	"net/http"
	"time"

	"ferron/internal/lockutil"
)

// upstreamConn is one pooled keep-alive connection handle, per spec.md
// §3's "Upstream pool entry: {sender_handle, last_use_instant,
// idle_timeout_limit}".
type upstreamConn struct {
	client      *http.Client
	lastUse     time.Time
}

// Pool is the bounded per-backend queue of idle senders spec.md §5
// describes ("MPMC bounded queue of idle senders"). Each backend key
// gets its own buffered channel; Get never blocks: when the queue holds
// no fresh client it builds a new one, since an http.Client is cheap to
// construct as a fallback.
type Pool struct {
	mu           lockutil.Mutex
	queues       map[string]chan *upstreamConn
	capacity     int
	idleTimeout  time.Duration
	dialTimeout  time.Duration
	skipVerify   bool
}

func NewPool(capacity int, idleTimeout, dialTimeout time.Duration, skipVerify bool) *Pool {
	return &Pool{
		queues:      make(map[string]chan *upstreamConn),
		capacity:    capacity,
		idleTimeout: idleTimeout,
		dialTimeout: dialTimeout,
		skipVerify:  skipVerify,
	}
}

func (p *Pool) queueFor(backend string) chan *upstreamConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[backend]
	if !ok {
		q = make(chan *upstreamConn, p.capacity)
		p.queues[backend] = q
	}
	return q
}

// Get returns a pooled client for backend if one is idle and not past
// its idle_timeout_limit, otherwise it builds a fresh one.
func (p *Pool) Get(backend string) *http.Client {
	q := p.queueFor(backend)
	for {
		select {
		case conn := <-q:
			if time.Since(conn.lastUse) > p.idleTimeout {
				continue
			}
			return conn.client
		default:
			return p.newClient()
		}
	}
}

// Put returns client to backend's idle queue, dropping it instead of
// blocking if the queue is already at capacity (the bound spec.md §5
// requires: a full queue means "don't keep more idle connections than
// configured", not "block the caller").
func (p *Pool) Put(backend string, client *http.Client) {
	q := p.queueFor(backend)
	select {
	case q <- &upstreamConn{client: client, lastUse: time.Now()}:
	default:
	}
}

func (p *Pool) newClient() *http.Client {
	transport := &http.Transport{
		DisableCompression: true,
	}
	if p.skipVerify {
		transport.TLSClientConfig = insecureTLSConfig()
	}
	return &http.Client{
		Transport: transport,
		Timeout:   0,
	}
}

// insecureTLSConfig backs proxy_no_verification, for upstreams on
// private networks presenting certificates the proxy has no chain for.
func insecureTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true}
}
