package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Manager runs registered checkers concurrently under a shared timeout and
// keeps the last results for the observability endpoint.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	checkers        map[string]types.HealthChecker
	results         map[string]types.HealthCheck
	startTime       time.Time
	mu              sync.RWMutex
	state           atomic.Value
	shutdownTimeout time.Duration
	checkTimeout    time.Duration
}

func NewManager(ctx context.Context, logger types.Logger, config *types.HealthConfig) (*Manager, error) {
	checkTimeout := 2 * time.Second
	if config != nil && config.CheckTimeout > 0 {
		checkTimeout = config.CheckTimeout
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:             managerCtx,
		cancel:          cancel,
		logger:          logger,
		checkers:        make(map[string]types.HealthChecker),
		results:         make(map[string]types.HealthCheck),
		shutdownTimeout: 10 * time.Second,
		checkTimeout:    checkTimeout,
	}

	manager.state.Store(StateStopped)

	return manager, nil
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) error {
	if name == "" {
		return types.ErrCheckerNameIsEmpty
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()

	if _, exists := hm.checkers[name]; exists {
		return types.Errorf(types.ErrCheckerAlreadyExist, "name: %s", name)
	}

	hm.checkers[name] = checker
	return nil
}

func (hm *Manager) Check(ctx context.Context) map[string]types.HealthCheck {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(checkCtx)
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			result := hm.executeCheck(gCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-checkCtx.Done():
			hm.logger.Warn("Health check timeout, some checks may not have completed")
		default:
			hm.logger.Error("Error during health checks", zap.Error(err))
		}
	}

	hm.mu.Lock()
	hm.results = results
	hm.mu.Unlock()

	return results
}

func (hm *Manager) Healthy(ctx context.Context) bool {
	for _, result := range hm.Check(ctx) {
		if result.Status != types.HealthStatusUp {
			return false
		}
	}
	return true
}

// LastResults returns the outcome of the most recent Check without running
// the checkers again.
func (hm *Manager) LastResults() map[string]types.HealthCheck {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	results := make(map[string]types.HealthCheck, len(hm.results))
	for name, result := range hm.results {
		results[name] = result
	}
	return results
}

func (hm *Manager) Uptime() time.Duration {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	if hm.startTime.IsZero() {
		return 0
	}
	return time.Since(hm.startTime)
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()

	err := checker(ctx)

	result := types.HealthCheck{
		Name:      name,
		Status:    types.HealthStatusUp,
		CheckedAt: start,
		Latency:   time.Since(start),
	}

	if err != nil {
		result.Status = types.HealthStatusDown
		result.Error = err.Error()
		hm.logger.Warn("Health check failed",
			zap.String("checker", name),
			zap.Error(err))
	}

	return result
}

func (hm *Manager) Start() error {
	if !hm.transitionState(StateStopped, StateStarting) {
		hm.logger.Warn("Health manager is already running")
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if hm.getState() == StateStarting {
			hm.setState(StateRunning)
		}
	}()

	hm.mu.Lock()
	hm.startTime = time.Now()
	hm.mu.Unlock()

	hm.logger.Info("Health manager started")
	return nil
}

func (hm *Manager) Stop() error {
	if !hm.transitionState(StateRunning, StateStopping) {
		hm.logger.Warn("Health manager is not running")
		return types.ErrServerNotRunning
	}

	defer func() {
		hm.setState(StateStopped)
		hm.cancel()
	}()

	hm.mu.Lock()
	hm.checkers = make(map[string]types.HealthChecker)
	hm.results = make(map[string]types.HealthCheck)
	hm.mu.Unlock()

	hm.logger.Info("Health manager stopped")
	return nil
}

func (hm *Manager) IsRunning() bool {
	return hm.getState() == StateRunning
}

func (hm *Manager) getState() State {
	return hm.state.Load().(State)
}

func (hm *Manager) setState(newState State) bool {
	currentState := hm.getState()
	return hm.state.CompareAndSwap(currentState, newState)
}

func (hm *Manager) transitionState(from, to State) bool {
	return hm.state.CompareAndSwap(from, to)
}
