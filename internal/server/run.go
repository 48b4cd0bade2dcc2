package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ferron/internal/acme"
	"ferron/internal/config"
	"ferron/internal/handler"
	"ferron/internal/logging"
	"ferron/internal/metrics"
	"ferron/internal/module"
)

const shutdownGrace = 15 * time.Second

// Run loads configPath, wires every subsystem, and serves until the
// process receives SIGINT/SIGTERM. SIGHUP triggers a reload: the
// ConfigGraph is rebuilt and swapped atomically and the module cache is
// pruned of instances belonging to blocks that no longer exist, per
// spec.md §3's reload contract. The accept loop itself is not restarted
// on reload, since listeners are derived from the graph only at
// startup; a bind-address change still requires a process restart.
func Run(configPath string) error {
	blocks, err := config.Load(configPath)
	if err != nil {
		return err
	}
	graph := config.Build(blocks)
	atomicGraph := config.NewAtomicGraph(graph)

	logger, err := logging.New(loggingConfig(graph.Global))
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	registry := BuildRegistry(m)
	cache := module.NewCache()
	pipeline := handler.New(registry, cache)
	driver := handler.NewDriver(atomicGraph, pipeline, m.Request, logger)

	http01 := &acme.HTTP01Store{}
	alpnStore := acme.NewTLSALPN01Store()
	resolver := acme.NewSNIResolver()
	manager := acme.NewManager(http01, alpnStore, nil, nil, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	targets, err := ProvisionStatic(ctx, graph, manager, resolver, logger)
	if err != nil {
		return err
	}
	onDemand := DiscoverOnDemand(graph)
	for hostname, cfg := range onDemand {
		cfg.Authorize = func(ctx context.Context, hostname string) (bool, error) { return true, nil }
		onDemand[hostname] = cfg
	}
	certSource := NewCertSource(resolver, alpnStore, manager, onDemand, logger)

	go manager.RunRenewalLoop(ctx, func() []acme.Target { return targets })

	metricsServer := &http.Server{Addr: metricsAddr(graph.Global), Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener stopped", zap.Error(err))
		}
	}()

	acceptor := &Acceptor{
		Driver:     driver,
		CertSource: certSource,
		HTTP01:     http01,
		Graph:      atomicGraph,
		HTTP3:      http3Enabled(graph.Global),
		Logger:     logger,
	}

	go watchReload(ctx, configPath, atomicGraph, registry, cache, logger)

	serveErr := make(chan error, 1)
	go func() { serveErr <- acceptor.Serve(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	return acceptor.Shutdown(shutdownCtx)
}

// watchReload blocks on SIGHUP, rebuilding the ConfigGraph from
// configPath and swapping it into atomicGraph, then pruning module
// instances orphaned by the swap.
func watchReload(ctx context.Context, configPath string, atomicGraph *config.AtomicGraph, registry *module.Registry, cache *module.Cache, logger *zap.Logger) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sighup:
			blocks, err := config.Load(configPath)
			if err != nil {
				logger.Error("reload failed", zap.Error(err))
				continue
			}
			newGraph := config.Build(blocks)
			atomicGraph.Swap(newGraph)

			keep := reloadKeepSet(newGraph, registry)
			if errs := cache.Prune(keep); len(errs) > 0 {
				for _, e := range errs {
					logger.Error("module close during reload", zap.Error(e))
				}
			}
			logger.Info("configuration reloaded")
		}
	}
}

func reloadKeepSet(graph *config.Graph, registry *module.Registry) func(loaderName string, structHash uint64) bool {
	live := map[string]map[uint64]bool{}
	blocks := append([]*config.Block{graph.Global}, graph.Blocks...)
	for _, b := range blocks {
		if b == nil {
			continue
		}
		hash := b.StructuralHash()
		for _, name := range registry.ActiveLoaderNames(b) {
			if live[name] == nil {
				live[name] = map[uint64]bool{}
			}
			live[name][hash] = true
		}
	}
	return func(loaderName string, structHash uint64) bool {
		return live[loaderName] != nil && live[loaderName][structHash]
	}
}

func loggingConfig(global *config.Block) logging.Config {
	cfg := logging.Config{Level: "warning"}
	if global == nil {
		return cfg
	}
	if e, ok := global.GetOne("log_level"); ok && len(e.Args) == 1 {
		cfg.Level = e.Args[0].String()
	}
	if e, ok := global.GetOne("log"); ok && len(e.Args) == 1 {
		cfg.AccessLogPath = e.Args[0].String()
	}
	if e, ok := global.GetOne("error_log"); ok && len(e.Args) == 1 {
		cfg.ErrorLogPath = e.Args[0].String()
	}
	return cfg
}

func http3Enabled(global *config.Block) bool {
	if global == nil {
		return false
	}
	e, ok := global.GetOne("protocols")
	if !ok {
		return false
	}
	for _, a := range e.Args {
		if a.String() == "h3" {
			return true
		}
	}
	return false
}

func metricsAddr(global *config.Block) string {
	addr := stringProp(global, "metrics_addr")
	if addr == "" {
		return "127.0.0.1:2019"
	}
	return addr
}
