// Package telemetry defines the external-metrics-pull collaborator the
// monitor loop gates on azure_monitor_interval_seconds. The original
// pulls from Azure Monitor client SDKs initialized at startup; wiring a
// concrete cloud backend is out of scope here (§1/§11 non-goal), so the
// only shipped implementation is a no-op, leaving the seam in place for
// a real client to be dropped in later.
package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// Client pulls external telemetry on the monitor loop's cadence.
type Client interface {
	PullMetrics(ctx context.Context) error
}

// NoopClient satisfies Client without contacting any external service.
type NoopClient struct {
	log *zap.Logger
}

func NewNoopClient(log *zap.Logger) *NoopClient {
	return &NoopClient{log: log}
}

func (c *NoopClient) PullMetrics(ctx context.Context) error {
	c.log.Debug("telemetry pull skipped: no external telemetry client configured")
	return nil
}
