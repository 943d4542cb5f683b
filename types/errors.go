package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrEntryNotFound        = errors.New("cache entry not found")
	ErrCacheKeyEmpty        = errors.New("cache key empty")
	ErrCacheUnavailable     = errors.New("cache backend unavailable")
	ErrBreakerOpen          = errors.New("circuit breaker open")
	ErrAdapterTypeUnknown   = errors.New("cache adapter type unknown")
	ErrNamespaceEmpty       = errors.New("cache namespace empty")
	ErrValueTooLarge        = errors.New("cache value exceeds capacity")
)

var (
	ErrSerializationFailed   = errors.New("value serialization failed")
	ErrDeserializationFailed = errors.New("value deserialization failed")
	ErrSerializerTypeUnknown = errors.New("serializer type unknown")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsIsDisabled  = errors.New("metrics manager is disabled")
	ErrMetricsNotRunning  = errors.New("metrics manager is not running")
)

var (
	ErrSinkTypeUnknown     = errors.New("snapshot sink type unknown")
	ErrScheduleInvalid     = errors.New("reporter schedule invalid")
	ErrHealthCheckFailed   = errors.New("health check failed")
	ErrCheckerNameIsEmpty  = errors.New("health checker name is empty")
	ErrCheckerAlreadyExist = errors.New("health checker already registered")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
	ErrLoggerTypeUnknown  = errors.New("logger type unknown")
)

var (
	ErrServerNotRunning     = errors.New("component not running")
	ErrServerAlreadyRunning = errors.New("component already running")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// IsUnavailable reports whether err is a transient backend outcome: a
// connectivity failure, pool exhaustion, or a short-circuited call. The
// facade surfaces every such outcome to the caller as a plain cache miss.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrCacheUnavailable) || errors.Is(err, ErrBreakerOpen)
}
