package handler

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ferron/internal/condition"
	"ferron/internal/config"
	"ferron/internal/errs"
	"ferron/internal/metrics"
	"ferron/internal/module"
)

const (
	defaultTimeout = 300 * time.Second
	serverHeader   = "Ferron"
)

// Driver is the top-level request entry point a protocol engine
// (HTTP/1.1, HTTP/2, HTTP/3) calls once per request, per spec.md §4.9.
// It resolves the matching ConfigBlock, drives the module Pipeline, and
// — on a Status short-circuit — re-enters the pipeline in error-handler
// mode against the most-specific error-handler block for that status.
type Driver struct {
	Graph    *config.AtomicGraph
	Pipeline *Pipeline
	Metrics  *metrics.RequestMetrics
	Logger   *zap.Logger
}

// NewDriver returns a Driver wired to graph, pipeline, metrics, and the
// process logger.
func NewDriver(graph *config.AtomicGraph, pipeline *Pipeline, m *metrics.RequestMetrics, logger *zap.Logger) *Driver {
	return &Driver{Graph: graph, Pipeline: pipeline, Metrics: m, Logger: logger}
}

// Serve handles one request end to end: normalization, block
// resolution, timeout enforcement, panic containment, the module
// pipeline, error-handler re-entry, and final header post-processing.
// It always returns a non-nil *http.Response.
func (d *Driver) Serve(req *http.Request, socket module.SocketData) *http.Response {
	requestID := uuid.New().String()
	logger := d.Logger.With(zap.String("request_id", requestID))

	start := time.Now()
	resp := d.serveRecovered(req, socket, logger)
	d.recordMetrics(resp, start)
	return resp
}

func (d *Driver) serveRecovered(req *http.Request, socket module.SocketData, logger *zap.Logger) (resp *http.Response) {
	defer func() {
		if r := recover(); r != nil {
			if d.Metrics != nil {
				d.Metrics.PanicsTotal.Inc()
			}
			logger.Error("panic recovered in request pipeline", zap.Any("panic", r), zap.Stack("stack"))
			resp = textResponse(http.StatusInternalServerError, "Internal Server Error")
		}
	}()

	timeout := defaultTimeout
	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := d.route(req, socket, logger, 0)
	if err != nil {
		status := errs.StatusOf(err)
		logStatusError(logger, status, err)
		resp = d.errorResponse(req, socket, logger, status, 1)
	}
	return applyStandardHeaders(resp)
}

// route resolves the matching block and runs the pipeline once.
// errorDepth bounds error-handler re-entry (spec.md §4.9 step 4) so a
// misconfigured error-handler block that itself yields a status cannot
// recurse indefinitely.
func (d *Driver) route(req *http.Request, socket module.SocketData, logger *zap.Logger, errorDepth int) (*http.Response, error) {
	graph := d.Graph.Load()

	matchPath, err := NormalizePath(req.URL.Path, false)
	if err != nil {
		return nil, err
	}

	rk, err := requestKey(req, socket, matchPath)
	if err != nil {
		return nil, err
	}

	block, ok := graph.Resolve(rk)
	if !ok {
		return nil, errs.Newf(errs.KindClient, "no configuration matches this request").WithStatus(http.StatusNotFound)
	}

	result, err := d.Pipeline.Serve(req, block, graph.Global, socket, logger)
	if err != nil {
		return nil, err
	}
	if result.Response != nil {
		return result.Response, nil
	}
	if result.Status != 0 && errorDepth < maxErrorHandlerDepth {
		return d.errorResponse(req, socket, logger, result.Status, errorDepth+1), nil
	}
	if result.Status != 0 {
		return textResponse(result.Status, http.StatusText(result.Status)), nil
	}
	return textResponse(http.StatusNotFound, "Not Found"), nil
}

const maxErrorHandlerDepth = 4

// errorResponse re-enters the pipeline against the most-specific
// error-handler ConfigBlock for status, per spec.md §4.2 step 2 and
// §4.9 step 4: "select the error config block matching the status ...
// and run its modules over a synthetic request whose path is the error
// page's path (if configured) or an internal fallback."
func (d *Driver) errorResponse(req *http.Request, socket module.SocketData, logger *zap.Logger, status int, errorDepth int) *http.Response {
	graph := d.Graph.Load()

	matchPath, perr := NormalizePath(req.URL.Path, false)
	if perr != nil {
		matchPath = "/"
	}
	rk, err := requestKey(req, socket, matchPath)
	if err != nil {
		return textResponse(status, http.StatusText(status))
	}

	errBlock, ok := graph.ResolveErrorHandler(uint16(status), rk)
	if !ok {
		return textResponse(status, http.StatusText(status))
	}

	synthetic := req.Clone(req.Context())
	if path, ok := errorPagePath(errBlock, status); ok {
		synthetic.URL = &url.URL{Path: path}
	}

	result, err := d.Pipeline.Serve(synthetic, errBlock, graph.Global, socket, logger)
	if err != nil {
		return textResponse(status, http.StatusText(status))
	}
	if result.Response != nil {
		result.Response.StatusCode = status
		return result.Response
	}
	if result.Status != 0 && errorDepth < maxErrorHandlerDepth {
		return d.errorResponse(synthetic, socket, logger, result.Status, errorDepth+1)
	}
	return textResponse(status, http.StatusText(status))
}

// errorPagePath looks up an `error_page <code> <path>` entry matching
// status on block.
func errorPagePath(block *config.Block, status int) (string, bool) {
	for _, e := range block.Get("error_page") {
		if len(e.Args) != 2 {
			continue
		}
		if e.Args[0].Kind != config.KindInt || int(e.Args[0].Int) != status {
			continue
		}
		return e.Args[1].String(), true
	}
	return "", false
}

func requestKey(req *http.Request, socket module.SocketData, matchPath string) (config.RequestKey, error) {
	host, portStr := splitHostPort(req.Host)
	port := 0
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return config.RequestKey{}, errs.Newf(errs.KindClient, "invalid Host header port").WithStatus(http.StatusBadRequest)
		}
		port = p
	} else if socket.LocalAddr != nil {
		port = localPort(socket.LocalAddr)
	}

	scheme := "http"
	if socket.Encrypted {
		scheme = "https"
	}

	var ip net.IP
	if socket.LocalAddr != nil {
		ip = localIP(socket.LocalAddr)
	}

	return config.RequestKey{
		IP:       ip,
		Port:     uint16(port),
		Host:     host,
		Location: matchPath,
		Match: condition.MatchData{
			Method: req.Method,
			Path:   matchPath,
			RawPath: req.URL.Path,
			Query:   req.URL.Query(),
			Header:  req.Header,
			Scheme:  scheme,
			Port:    port,
		},
	}, nil
}

func splitHostPort(hostHeader string) (host, port string) {
	h, p, err := net.SplitHostPort(hostHeader)
	if err != nil {
		return hostHeader, ""
	}
	return h, p
}

func localPort(addr net.Addr) int {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return p
}

func localIP(addr net.Addr) net.IP {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       http.NoBody,
	}
}

func applyStandardHeaders(resp *http.Response) *http.Response {
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	if resp.Header.Get("Server") == "" {
		resp.Header.Set("Server", serverHeader)
	}
	if resp.Header.Get("Date") == "" {
		resp.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	return resp
}

func logStatusError(logger *zap.Logger, status int, err error) {
	if status >= 500 {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Warn("request rejected", zap.Int("status", status), zap.Error(err))
	}
}

func (d *Driver) recordMetrics(resp *http.Response, start time.Time) {
	if d.Metrics == nil || resp == nil {
		return
	}
	elapsed := time.Since(start).Seconds()
	class := strconv.Itoa(resp.StatusCode/100) + "xx"
	d.Metrics.DurationSeconds.WithLabelValues(class).Observe(elapsed)
	d.Metrics.ResponsesTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
}
