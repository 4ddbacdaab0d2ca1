// Package optimizer runs the periodic prediction loop: one of the four
// parallel workers, generalizing the teacher's single-purpose
// collection goroutines into a continuously-ticking recommendation
// engine instead of a one-shot report pass.
package optimizer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cloakgov/cloakgov/internal/config"
	"github.com/cloakgov/cloakgov/internal/model"
	"github.com/cloakgov/cloakgov/internal/queue"
	"github.com/cloakgov/cloakgov/internal/registry"
)

// Optimizer ticks on optimization_interval_seconds, builds a six-feature
// vector per supervised process, and enqueues the model's recommended
// action at optimization priority.
type Optimizer struct {
	cfg       *config.Config
	reg       *registry.Registry
	predictor model.Predictor
	q         *queue.AdjustmentQueue
	log       *zap.Logger
}

// New returns an Optimizer around an already-loaded predictor. Loading
// the model (LoadLinearModel, which reports ErrInitFailure) is the
// caller's job; supervisor construction treats that failure as fatal.
func New(cfg *config.Config, reg *registry.Registry, predictor model.Predictor, q *queue.AdjustmentQueue, log *zap.Logger) *Optimizer {
	return &Optimizer{cfg: cfg, reg: reg, predictor: predictor, q: q, log: log}
}

// Run ticks until ctx is cancelled.
func (o *Optimizer) Run(ctx context.Context) {
	interval := time.Duration(o.cfg.OptimizationParameters.OptimizationIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick()
		}
	}
}

func (o *Optimizer) tick() {
	for _, p := range o.reg.Snapshot() {
		features := featuresFor(p)
		action, err := o.predictor.Predict(features)
		if err != nil {
			o.log.Error("model prediction failed", zap.Int("pid", p.PID), zap.Error(err))
			continue
		}
		o.log.Debug("model recommended action", zap.Int("pid", p.PID), zap.String("name", p.Name), zap.Any("action", action))
		o.q.Push(&model.AdjustmentTask{
			Kind:     model.TaskOptimization,
			Priority: model.PriorityOptimization,
			Process:  p,
			Action:   action,
		})
	}
}

// featuresFor builds the six-value model input in cpu_usage_percent,
// memory_usage_percent, gpu_usage_percent, disk_io_mbps,
// network_bandwidth_mbps, cache_limit_percent order. cache_limit_percent
// has no per-process counterpart in the registry (cache drops are
// node-wide, not per-pid), so it is always sampled as 0.
func featuresFor(p *model.ManagedProcess) model.Features {
	return model.Features{
		p.CPUPercent,
		p.MemPercent,
		p.GPUPercent,
		p.DiskIOMB,
		p.NetworkIOMB,
		0,
	}
}
