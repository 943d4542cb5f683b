package types

import (
	"context"
	"time"
)

type HealthManager interface {
	LifecycleManager
	RegisterChecker(name string, checker HealthChecker) error
	Check(ctx context.Context) map[string]HealthCheck
	Healthy(ctx context.Context) bool
}

type HealthChecker func(ctx context.Context) error

type HealthCheck struct {
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
	Latency   time.Duration `json:"latency"`
}

const (
	HealthStatusUp   = "up"
	HealthStatusDown = "down"
)
