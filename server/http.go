package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/vinyl-tracker/middleware"
	"github.com/saiset-co/vinyl-tracker/types"
	"github.com/saiset-co/vinyl-tracker/utils"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	unmatchedKey           = "ops.unmatched"
)

// OpsServer exposes the operational endpoints (metrics, health, cache
// stats). Routes are exact method+path matches.
type OpsServer struct {
	logger          types.Logger
	metrics         types.MetricsManager
	config          *types.ServerConfig
	server          *fasthttp.Server
	listener        net.Listener
	state           types.StateHolder
	shutdownTimeout time.Duration
	routes          map[string]fasthttp.RequestHandler
	middlewares     []middleware.Middleware
	routingMu       sync.RWMutex
}

// NewOpsServer returns a stopped server. metrics may be nil.
func NewOpsServer(logger types.Logger, config *types.ServerConfig, metrics types.MetricsManager) *OpsServer {
	shutdownTimeout := config.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	return &OpsServer{
		logger:          logger,
		metrics:         metrics,
		config:          config,
		shutdownTimeout: shutdownTimeout,
		routes:          make(map[string]fasthttp.RequestHandler),
	}
}

func (s *OpsServer) GET(path string, handler fasthttp.RequestHandler) {
	s.Handle(fasthttp.MethodGet, path, handler)
}

func (s *OpsServer) Handle(method, path string, handler fasthttp.RequestHandler) {
	s.routingMu.Lock()
	s.routes[routeKey(method, path)] = handler
	s.routingMu.Unlock()
}

// Use appends middlewares. They wrap every route, the first one outermost.
func (s *OpsServer) Use(middlewares ...middleware.Middleware) {
	s.routingMu.Lock()
	s.middlewares = append(s.middlewares, middlewares...)
	s.routingMu.Unlock()
}

func (s *OpsServer) Start() error {
	if !s.state.Transition(types.StateStopped, types.StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	s.server = &fasthttp.Server{
		Handler:         s.Handler(),
		Name:            "vinyl-tracker",
		ReadTimeout:     s.config.ReadTimeout,
		WriteTimeout:    s.config.WriteTimeout,
		IdleTimeout:     s.config.IdleTimeout,
		TCPKeepalive:    true,
		CloseOnShutdown: true,
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.state.Set(types.StateStopped)
		return types.Errorf(types.ErrServerStartFailed, "listen %s: %v", addr, err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil {
			s.logger.Error("Ops server failed", zap.Error(err))
			s.state.Set(types.StateStopped)
		}
	}()

	s.state.Transition(types.StateStarting, types.StateRunning)
	s.logger.Info("Ops server started", zap.String("address", listener.Addr().String()))
	return nil
}

func (s *OpsServer) Stop() error {
	if !s.state.Transition(types.StateRunning, types.StateStopping) {
		return types.ErrServerNotRunning
	}
	defer s.state.Set(types.StateStopped)

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.server.ShutdownWithContext(gCtx)
	})

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			s.logger.Warn("Ops server stop timeout, connections were closed forcibly")
		default:
			s.logger.Error("Error during ops server shutdown", zap.Error(err))
		}
		return nil
	}

	s.logger.Info("Ops server stopped gracefully")
	return nil
}

func (s *OpsServer) IsRunning() bool {
	return s.state.IsRunning()
}

// Addr is the bound listener address, empty before Start.
func (s *OpsServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler dispatches a request through the middlewares to its route and
// records request metrics.
func (s *OpsServer) Handler() fasthttp.RequestHandler {
	s.routingMu.RLock()
	chained := middleware.Chain(s.dispatch, s.middlewares...)
	s.routingMu.RUnlock()

	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		chained(ctx)
		s.record(ctx, start)
	}
}

func (s *OpsServer) dispatch(ctx *fasthttp.RequestCtx) {
	s.routingMu.RLock()
	handler, ok := s.routes[routeKey(string(ctx.Method()), string(ctx.Path()))]
	s.routingMu.RUnlock()

	if !ok {
		ctx.SetUserValue(unmatchedKey, true)
		ctx.Error("Not found", fasthttp.StatusNotFound)
		return
	}
	handler(ctx)
}

func (s *OpsServer) record(ctx *fasthttp.RequestCtx, start time.Time) {
	if s.metrics == nil {
		return
	}

	path := normalizePath(string(ctx.Path()))
	if ctx.UserValue(unmatchedKey) != nil {
		path = "unmatched"
	}

	s.metrics.Counter("ops_http_requests_total", map[string]string{
		"path":   path,
		"status": strconv.Itoa(ctx.Response.StatusCode()),
	}).Inc()
	s.metrics.Histogram("ops_http_request_duration_seconds", nil, map[string]string{
		"path": path,
	}).ObserveDuration(start)
}

// JSONHandler serves whatever produce returns, encoded as JSON.
func JSONHandler(logger types.Logger, produce func() interface{}) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		data, err := utils.Marshal(produce())
		if err != nil {
			logger.Error("Failed to encode response", zap.Error(err), zap.ByteString("path", ctx.Path()))
			ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
			return
		}

		ctx.SetContentType("application/json")
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBody(data)
	}
}

func routeKey(method, path string) string {
	return fmt.Sprintf("%s:%s", strings.ToUpper(method), normalizePath(path))
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
