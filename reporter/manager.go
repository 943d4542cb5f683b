package reporter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type SinkCreator func(logger types.Logger, config *types.ReporterConfig) (types.SnapshotSink, error)

var customSinkCreators = sync.Map{}

func RegisterSink(sinkName string, creator SinkCreator) {
	customSinkCreators.Store(sinkName, creator)
}

// Manager pushes periodic metrics snapshots to a sink on a cron schedule.
// Every snapshot carries the instance id assigned at construction, so a
// collector can tell replicas apart.
type Manager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	sink            types.SnapshotSink
	cron            *cron.Cron
	schedule        string
	instanceID      string
	entryID         cron.EntryID
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewManager(ctx context.Context, logger types.Logger, metrics types.MetricsManager, config *types.ReporterConfig) (*Manager, error) {
	if config == nil || !config.Enabled {
		return nil, nil
	}

	sink, err := buildSink(logger, config)
	if err != nil {
		return nil, err
	}

	schedule := config.Schedule
	if schedule == "" {
		schedule = "@every 30s"
	}

	cronL := safeCronLogger{logger: logger}
	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:     managerCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		sink:    sink,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronL)),
		),
		schedule:        schedule,
		instanceID:      uuid.NewString(),
		shutdownTimeout: 10 * time.Second,
	}

	manager.state.Store(StateStopped)

	return manager, nil
}

func buildSink(logger types.Logger, config *types.ReporterConfig) (types.SnapshotSink, error) {
	switch config.Sink {
	case "", "log":
		return NewLogSink(logger), nil
	case "http":
		if config.URL == "" {
			return nil, types.Errorf(types.ErrConfigValidateFailed, "http sink requires url")
		}
		return NewHTTPSink(logger, config.URL), nil
	default:
		if creator, exists := customSinkCreators.Load(config.Sink); exists {
			return creator.(SinkCreator)(logger, config)
		}
		return nil, types.Errorf(types.ErrSinkTypeUnknown, "sink: %s", config.Sink)
	}
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		m.logger.Warn("Reporter is already running")
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	entryID, err := m.cron.AddFunc(m.schedule, m.report)
	if err != nil {
		m.setState(StateStopped)
		return types.Errorf(types.ErrScheduleInvalid, "schedule: %s: %v", m.schedule, err)
	}
	m.entryID = entryID

	m.cron.Start()

	m.logger.Info("Reporter started",
		zap.String("schedule", m.schedule),
		zap.String("instance_id", m.instanceID))
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		m.logger.Warn("Reporter is not running")
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(StateStopped)
		m.cancel()
	}()

	stopCtx := m.cron.Stop()

	select {
	case <-stopCtx.Done():
		m.logger.Info("Reporter stopped gracefully")
	case <-time.After(m.shutdownTimeout):
		m.logger.Warn("Reporter stop timeout, a push may still be in flight")
	}

	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

// Report takes one snapshot and pushes it immediately, outside the schedule.
func (m *Manager) Report() error {
	return m.push(m.ctx)
}

func (m *Manager) InstanceID() string {
	return m.instanceID
}

func (m *Manager) report() {
	if err := m.push(m.ctx); err != nil {
		m.logger.Error("Failed to push metrics snapshot", zap.Error(err))
	}
}

func (m *Manager) push(ctx context.Context) error {
	snapshot, err := m.metrics.Snapshot()
	if err != nil {
		return types.WrapError(err, "failed to take metrics snapshot")
	}

	snapshot.InstanceID = m.instanceID

	pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return m.sink.Push(pushCtx, snapshot)
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

// safeCronLogger adapts the service logger to cron's logging contract.
type safeCronLogger struct {
	logger types.Logger
}

func (l safeCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l safeCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
