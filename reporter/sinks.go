package reporter

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// LogSink writes each snapshot to the service log. The default sink: useful
// on its own and a safe fallback when no collector endpoint exists yet.
type LogSink struct {
	logger types.Logger
}

func NewLogSink(logger types.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Push(_ context.Context, snapshot *types.MetricsSnapshot) error {
	s.logger.Info("Metrics snapshot",
		zap.String("instance_id", snapshot.InstanceID),
		zap.Time("taken_at", snapshot.TakenAt),
		zap.Int("counters", len(snapshot.Counters)),
		zap.Int("gauges", len(snapshot.Gauges)),
		zap.Int("latency_series", len(snapshot.Latency)),
		zap.Any("snapshot", snapshot))
	return nil
}

// HTTPSink POSTs snapshots as JSON to a collector endpoint.
type HTTPSink struct {
	logger  types.Logger
	client  *fasthttp.Client
	url     string
	timeout time.Duration
}

func NewHTTPSink(logger types.Logger, url string) *HTTPSink {
	return &HTTPSink{
		logger: logger,
		client: &fasthttp.Client{
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		url:     url,
		timeout: 5 * time.Second,
	}
}

func (s *HTTPSink) Push(ctx context.Context, snapshot *types.MetricsSnapshot) error {
	body, err := utils.Marshal(snapshot)
	if err != nil {
		return types.WrapError(err, "failed to marshal snapshot")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	done := make(chan error, 1)
	go func() {
		done <- s.client.DoTimeout(req, resp, s.timeout)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err != nil {
		return types.WrapError(err, "failed to push snapshot")
	}

	if resp.StatusCode() >= fasthttp.StatusBadRequest {
		return types.NewErrorf("snapshot sink responded with status %d", resp.StatusCode())
	}

	return nil
}
