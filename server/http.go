package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// ObservabilityServer exposes the read-only operational surface:
//
//	GET /metrics  collector-native metrics dump
//	GET /health   live checker results
//	GET /stats    aggregated snapshot with latency percentiles
//
// It never serves cache data and binds to localhost by default.
type ObservabilityServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          *types.ServerConfig
	logger          types.Logger
	metrics         types.MetricsManager
	health          types.HealthManager
	server          *fasthttp.Server
	listener        net.Listener
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewObservabilityServer(ctx context.Context, logger types.Logger, metrics types.MetricsManager, health types.HealthManager, config *types.ServerConfig) (*ObservabilityServer, error) {
	serverConfig := &types.ServerConfig{
		Enabled:      true,
		Host:         "127.0.0.1",
		Port:         9091,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	if config != nil {
		err := utils.UnmarshalConfig(config, serverConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal server config")
		}
	}

	serverCtx, cancel := context.WithCancel(ctx)

	srv := &ObservabilityServer{
		ctx:             serverCtx,
		cancel:          cancel,
		config:          serverConfig,
		logger:          logger,
		metrics:         metrics,
		health:          health,
		shutdownTimeout: 5 * time.Second,
	}

	srv.state.Store(StateStopped)

	return srv, nil
}

func (s *ObservabilityServer) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	s.server = &fasthttp.Server{
		Handler:               s.handler,
		ReadTimeout:           s.config.ReadTimeout,
		WriteTimeout:          s.config.WriteTimeout,
		NoDefaultServerHeader: true,
		CloseOnShutdown:       true,
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to bind observability listener")
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil {
			s.logger.Error("Observability server failed", zap.Error(err))
			s.setState(StateStopped)
		}
	}()

	s.logger.Info("Observability server started", zap.String("address", addr))
	return nil
}

func (s *ObservabilityServer) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		s.setState(StateStopped)
		s.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if s.server == nil {
			return nil
		}
		return s.server.ShutdownWithContext(gCtx)
	})

	if err := g.Wait(); err != nil {
		s.logger.Warn("Observability server stop timeout", zap.Error(err))
	} else {
		s.logger.Info("Observability server stopped gracefully")
	}

	return nil
}

func (s *ObservabilityServer) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *ObservabilityServer) handler(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}

	switch utils.BytesToString(ctx.Path()) {
	case "/metrics":
		s.metrics.Handler()(ctx)
	case "/health":
		s.handleHealth(ctx)
	case "/stats":
		s.handleStats(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *ObservabilityServer) handleHealth(ctx *fasthttp.RequestCtx) {
	results := s.health.Check(s.ctx)

	status := fasthttp.StatusOK
	overall := types.HealthStatusUp
	for _, result := range results {
		if result.Status != types.HealthStatusUp {
			status = fasthttp.StatusServiceUnavailable
			overall = types.HealthStatusDown
			break
		}
	}

	body, err := utils.Marshal(map[string]interface{}{
		"status": overall,
		"checks": results,
	})
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetBody(body)
}

func (s *ObservabilityServer) handleStats(ctx *fasthttp.RequestCtx) {
	snapshot, err := s.metrics.Snapshot()
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		return
	}

	body, err := utils.Marshal(snapshot)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetBody(body)
}

func (s *ObservabilityServer) getState() State {
	return s.state.Load().(State)
}

func (s *ObservabilityServer) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *ObservabilityServer) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
