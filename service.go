package saicache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/config"
	"github.com/saiset-co/sai-cache/health"
	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/reporter"
	"github.com/saiset-co/sai-cache/serializer"
	"github.com/saiset-co/sai-cache/server"
	"github.com/saiset-co/sai-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Service is the caching facade applications talk to. It owns the adapter
// stack, the serializer, and the operational components, and isolates
// callers from backend trouble: a broken backend degrades reads to misses
// and makes writes best-effort, it never breaks the caller.
type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          *types.ServiceConfig
	logger          types.LoggerManager
	serializer      types.Serializer
	adapter         types.CacheAdapter
	metrics         types.MetricsManager
	health          *health.Manager
	reporter        *reporter.Manager
	server          *server.ObservabilityServer
	state           atomic.Value
	shutdownTimeout time.Duration
}

// New validates the config and assembles the service. Configuration errors
// are fatal here: a misconfigured service never constructs.
func New(ctx context.Context, serviceConfig *types.ServiceConfig) (*Service, error) {
	loader := config.NewLoader()
	if err := loader.Validate(serviceConfig); err != nil {
		return nil, err
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	svc := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		config:          serviceConfig,
		shutdownTimeout: 15 * time.Second,
	}

	svc.state.Store(StateStopped)

	if err := svc.initialize(); err != nil {
		cancel()
		return nil, err
	}

	return svc, nil
}

// NewFromFile loads a YAML config and constructs the service from it.
func NewFromFile(ctx context.Context, configPath string) (*Service, error) {
	loader := config.NewLoader()

	serviceConfig, err := loader.LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}

	return New(ctx, serviceConfig)
}

func (s *Service) initialize() error {
	loggerConfig := s.config.Logger
	if loggerConfig == nil {
		loggerConfig = &types.LoggerConfig{Level: "info"}
	}

	loggerManager, err := logger.NewManager(s.ctx, loggerConfig)
	if err != nil {
		return types.WrapError(err, "failed to initialize logger")
	}
	s.logger = loggerManager

	codec, err := serializer.NewSerializer(s.config.Serializer)
	if err != nil {
		return types.WrapError(err, "failed to initialize serializer")
	}
	s.serializer = codec

	if s.config.Metrics != nil && s.config.Metrics.Enabled {
		metricsManager, err := metrics.NewManager(s.ctx, s.logger, s.config.Metrics)
		if err != nil {
			return types.WrapError(err, "failed to initialize metrics")
		}
		s.metrics = metricsManager
	}

	adapter, err := cache.NewAdapter(s.ctx, s.logger, s.metrics, s.config)
	if err != nil {
		return types.WrapError(err, "failed to initialize cache adapter")
	}
	s.adapter = adapter

	if s.config.Health == nil || s.config.Health.Enabled {
		healthManager, err := health.NewManager(s.ctx, s.logger, s.config.Health)
		if err != nil {
			return types.WrapError(err, "failed to initialize health manager")
		}
		s.health = healthManager

		if err := s.registerHealthCheckers(); err != nil {
			return err
		}
	}

	if s.metrics != nil && s.config.Reporter != nil && s.config.Reporter.Enabled {
		reporterManager, err := reporter.NewManager(s.ctx, s.logger, s.metrics, s.config.Reporter)
		if err != nil {
			return types.WrapError(err, "failed to initialize reporter")
		}
		s.reporter = reporterManager
	}

	if s.metrics != nil && s.health != nil &&
		s.config.Server != nil && s.config.Server.Enabled {
		observability, err := server.NewObservabilityServer(s.ctx, s.logger, s.metrics, s.health, s.config.Server)
		if err != nil {
			return types.WrapError(err, "failed to initialize observability server")
		}
		s.server = observability
	}

	s.logger.Info("Cache service initialized",
		zap.String("name", s.config.Name),
		zap.String("namespace", s.config.Namespace),
		zap.String("adapter", s.config.Adapter))

	return nil
}

func (s *Service) registerHealthCheckers() error {
	if err := s.health.RegisterChecker("adapter", func(_ context.Context) error {
		if !s.adapter.IsRunning() {
			return types.ErrServerNotRunning
		}
		return nil
	}); err != nil {
		return err
	}

	if remote := unwrapRemote(s.adapter); remote != nil {
		if err := s.health.RegisterChecker("remote", remote.Ping); err != nil {
			return err
		}
	}

	if breaker := unwrapBreaker(s.adapter); breaker != nil {
		if err := s.health.RegisterChecker("breaker", func(_ context.Context) error {
			if breaker.State() == cache.StateBreakerOpen {
				return types.Errorf(types.ErrHealthCheckFailed, "circuit breaker is open")
			}
			return nil
		}); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	if err := s.logger.Start(); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to start logger")
	}

	if s.metrics != nil {
		if err := s.metrics.Start(); err != nil {
			s.setState(StateStopped)
			return types.WrapError(err, "failed to start metrics")
		}
	}

	if err := s.adapter.Start(); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to start cache adapter")
	}

	if s.health != nil {
		if err := s.health.Start(); err != nil {
			s.setState(StateStopped)
			return types.WrapError(err, "failed to start health manager")
		}
	}

	if s.reporter != nil {
		if err := s.reporter.Start(); err != nil {
			s.setState(StateStopped)
			return types.WrapError(err, "failed to start reporter")
		}
	}

	if s.server != nil {
		if err := s.server.Start(); err != nil {
			s.setState(StateStopped)
			return types.WrapError(err, "failed to start observability server")
		}
	}

	s.logger.Info("Cache service started", zap.String("name", s.config.Name))
	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		s.setState(StateStopped)
		s.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	// Outer surfaces stop first so no snapshot or probe observes a
	// half-stopped adapter stack.
	g, _ := errgroup.WithContext(ctx)

	if s.server != nil {
		g.Go(s.server.Stop)
	}
	if s.reporter != nil {
		g.Go(s.reporter.Stop)
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("Error stopping observability components", zap.Error(err))
	}

	if s.health != nil {
		if err := s.health.Stop(); err != nil {
			s.logger.Error("Error stopping health manager", zap.Error(err))
		}
	}

	if err := s.adapter.Stop(); err != nil {
		s.logger.Error("Error stopping cache adapter", zap.Error(err))
	}

	if s.metrics != nil {
		if err := s.metrics.Stop(); err != nil {
			s.logger.Error("Error stopping metrics", zap.Error(err))
		}
	}

	s.logger.Info("Cache service stopped", zap.String("name", s.config.Name))

	if err := s.logger.Stop(); err != nil {
		return err
	}

	return nil
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

// Metrics returns the collector, or nil when metrics are disabled.
func (s *Service) Metrics() types.MetricsManager {
	return s.metrics
}

// Snapshot returns the aggregated metrics view.
func (s *Service) Snapshot() (*types.MetricsSnapshot, error) {
	if s.metrics == nil {
		return nil, types.ErrMetricsIsDisabled
	}
	return s.metrics.Snapshot()
}

// Healthy runs all registered health checkers.
func (s *Service) Healthy(ctx context.Context) bool {
	if s.health == nil {
		return s.IsRunning()
	}
	return s.health.Healthy(ctx)
}

// BreakerState reports the circuit breaker state, or "disabled" when no
// breaker guards the adapter stack.
func (s *Service) BreakerState() string {
	if breaker := unwrapBreaker(s.adapter); breaker != nil {
		return breaker.StateString()
	}
	return "disabled"
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func unwrapRemote(adapter types.CacheAdapter) *cache.RemoteAdapter {
	for adapter != nil {
		switch a := adapter.(type) {
		case *cache.RemoteAdapter:
			return a
		case *cache.TieredAdapter:
			adapter = a.Remote()
		case interface{ Unwrap() types.CacheAdapter }:
			adapter = a.Unwrap()
		default:
			return nil
		}
	}
	return nil
}

func unwrapBreaker(adapter types.CacheAdapter) *cache.BreakerAdapter {
	for adapter != nil {
		switch a := adapter.(type) {
		case *cache.BreakerAdapter:
			return a
		case *cache.TieredAdapter:
			adapter = a.Remote()
		case interface{ Unwrap() types.CacheAdapter }:
			adapter = a.Unwrap()
		default:
			return nil
		}
	}
	return nil
}
