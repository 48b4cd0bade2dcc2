package server

import (
	"context"
	"crypto/tls"
	"log"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ferron/internal/acme"
	"ferron/internal/config"
	"ferron/internal/handler"
)

// zapStdLogger adapts logger to the *log.Logger net/http.Server.ErrorLog
// wants, so connection-level errors (bad TLS handshakes, broken pipes)
// flow through the same structured sink as the rest of the process.
func zapStdLogger(logger *zap.Logger) *log.Logger {
	if logger == nil {
		return nil
	}
	return zap.NewStdLog(logger.Named("http.server"))
}

// headerReadTimeout bounds how long an HTTP/1.1 connection may take to
// send its request headers, the Slowloris mitigation spec.md §4.8 step
// 4 names.
const headerReadTimeout = 10 * time.Second

// Acceptor owns every listener socket the current ConfigGraph requires
// and runs them under one errgroup, per spec.md §4.8: "per bound
// (ip,port) ... accept loop dispatches each accepted stream to a
// handler task", with graceful shutdown waiting for all of them.
type Acceptor struct {
	Driver     *handler.Driver
	CertSource *CertSource
	HTTP01     *acme.HTTP01Store
	Graph      *config.AtomicGraph
	HTTP3      bool
	Logger     *zap.Logger

	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	closers []func() error
}

// Serve opens a listener for every bindAddr discovered from the current
// graph and runs their accept loops until ctx is canceled or a fatal
// listener error occurs. It returns once every listener goroutine has
// exited.
func (a *Acceptor) Serve(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.group, a.ctx = errgroup.WithContext(a.ctx)

	handlerFunc := NewHTTPHandler(a.Driver, a.HTTP01)

	for _, b := range discoverBindAddresses(a.Graph.Load()) {
		b := b
		if err := a.serveOne(b, handlerFunc); err != nil {
			return err
		}
	}

	return a.group.Wait()
}

func (a *Acceptor) serveOne(b bindAddr, handlerFunc http.Handler) error {
	ln, err := net.Listen("tcp", b.addr())
	if err != nil {
		return err
	}
	if b.ProxyProto {
		ln = wrapProxyProto(ln)
	}
	a.closers = append(a.closers, ln.Close)

	httpServer := &http.Server{
		Handler:           handlerFunc,
		ReadHeaderTimeout: headerReadTimeout,
		ConnContext:       ConnContext,
		ErrorLog:          zapStdLogger(a.Logger),
	}

	var tlsConfig *tls.Config
	if b.TLS {
		tlsConfig = buildTLSConfig(a.CertSource, a.Graph.Load())
		httpServer.TLSConfig = tlsConfig
		if err := configureHTTP2(httpServer, a.Graph.Load().Global); err != nil {
			return err
		}
	}
	a.closers = append(a.closers, httpServer.Close)

	a.group.Go(func() error {
		var serveErr error
		if b.TLS {
			serveErr = httpServer.ServeTLS(ln, "", "")
		} else {
			serveErr = httpServer.Serve(ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			return serveErr
		}
		return nil
	})

	if b.TLS && a.HTTP3 {
		h3Server := newHTTP3Server(b.addr(), tlsConfig, handlerFunc)
		a.closers = append(a.closers, h3Server.Close)
		a.group.Go(func() error {
			err := h3Server.ListenAndServe()
			if err != nil && a.ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	return nil
}

// Shutdown closes every listener this Acceptor opened and waits for the
// accept-loop goroutines to return, per spec.md §5's "graceful shutdown
// cancels accept ... and waits for the anchor count to reach zero" —
// here the errgroup itself is the anchor.
func (a *Acceptor) Shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	for _, close := range a.closers {
		_ = close()
	}
	done := make(chan error, 1)
	go func() { done <- a.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
