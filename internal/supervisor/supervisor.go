// Package supervisor explicitly constructs and owns cloakgov's
// lifecycle: the registry, queue, executor, and the monitor/optimizer/
// cloak-intake worker goroutines. Built the way the teacher constructs
// its Orchestrator -- an explicit struct wired up by cmd/cloakgov, not a
// package-level singleton the way the original's ResourceManager uses
// __new__ to enforce one instance per process.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cloakgov/cloakgov/internal/adapter"
	"github.com/cloakgov/cloakgov/internal/cloakerr"
	"github.com/cloakgov/cloakgov/internal/config"
	"github.com/cloakgov/cloakgov/internal/executor"
	"github.com/cloakgov/cloakgov/internal/mcp"
	"github.com/cloakgov/cloakgov/internal/model"
	"github.com/cloakgov/cloakgov/internal/monitor"
	"github.com/cloakgov/cloakgov/internal/optimizer"
	"github.com/cloakgov/cloakgov/internal/queue"
	"github.com/cloakgov/cloakgov/internal/registry"
	"github.com/cloakgov/cloakgov/internal/strategy"
	"github.com/cloakgov/cloakgov/internal/telemetry"
)

const (
	sysRoot  = "/sys"
	procRoot = "/proc"
)

// Supervisor owns every long-lived collaborator and the four worker
// goroutines (monitor, optimizer, cloak intake, executor).
type Supervisor struct {
	cfg     *config.Config
	log     *zap.Logger
	q       *queue.AdjustmentQueue
	reg     *registry.Registry
	limits  *model.OriginalLimits
	exec    *executor.Executor
	mon     *monitor.Monitor
	opt     *optimizer.Optimizer
	gpuCtx  *adapter.GPUContext
	cloakCh chan model.CloakRequest

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires up every collaborator from cfg. A malformed or missing
// optimizer model file surfaces as ErrInitFailure, fatal at startup.
func New(cfg *config.Config, log *zap.Logger) (*Supervisor, error) {
	gpuCtx := adapter.NewGPUContext()
	cgroup := adapter.NewCgroup(cfg.CgroupRoot)

	limits := model.NewOriginalLimits()
	q := queue.New(cfg.QueueCapacity)
	counters := adapter.NewProcessCounters()
	gpu := adapter.NewGPU(gpuCtx)
	reg := registry.New(counters, gpu, cfg.Processes.CPU, cfg.Processes.GPU, cfg.ProcessPriorityMap, cfg.NetworkInterface)

	factory := strategy.NewFactory(cfg, gpuCtx.Ready())
	adapters := executor.Adapters{
		CPU:     adapter.NewCPU(sysRoot),
		IONice:  adapter.NewIONice(),
		GPU:     gpu,
		Network: adapter.NewNetwork(cfg.NetworkInterface),
		Cgroup:  cgroup,
		DiskIO:  adapter.NewDiskIO(cfg.CgroupRoot),
		Cache:   adapter.NewCache(procRoot),
	}
	exec := executor.New(q, adapters, factory, limits, log.Named("executor"))

	sensors := adapter.NewSensors(sysRoot)
	mon := monitor.New(cfg, reg, sensors, gpu, q, telemetry.NewNoopClient(log.Named("telemetry")), log.Named("monitor"))

	linModel, err := optimizer.LoadLinearModel(cfg.OptimizationParameters.ModelPath)
	if err != nil {
		return nil, err
	}
	opt := optimizer.New(cfg, reg, linModel, q, log.Named("optimizer"))

	return &Supervisor{
		cfg:     cfg,
		log:     log,
		q:       q,
		reg:     reg,
		limits:  limits,
		exec:    exec,
		mon:     mon,
		opt:     opt,
		gpuCtx:  gpuCtx,
		cloakCh: make(chan model.CloakRequest, 64),
	}, nil
}

// MCPServer builds the read-only introspection server over this
// supervisor's registry and queue.
func (s *Supervisor) MCPServer(version string) *mcp.Server {
	return mcp.NewServer(version, s.reg, s.q)
}

// RequestCloak submits an incoming cloak instruction to the intake
// worker. Non-blocking: a full channel drops the request and logs,
// rather than stalling whatever submitted it.
func (s *Supervisor) RequestCloak(req model.CloakRequest) {
	select {
	case s.cloakCh <- req:
	default:
		s.log.Warn("cloak request dropped: intake channel full", zap.Int("pid", req.PID))
	}
}

// Start launches the four worker goroutines and returns immediately.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.reg.Discover(ctx); err != nil {
		s.log.Error("initial process discovery failed", zap.Error(err))
	}

	s.wg.Add(4)
	go func() { defer s.wg.Done(); s.mon.Run(ctx) }()
	go func() { defer s.wg.Done(); s.opt.Run(ctx) }()
	go func() { defer s.wg.Done(); s.runCloakIntake(ctx) }()
	go func() { defer s.wg.Done(); s.exec.Run(ctx) }()

	s.log.Info("supervisor started")
}

func (s *Supervisor) runCloakIntake(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.cloakCh:
			p, ok := s.reg.Get(req.PID)
			if !ok {
				s.log.Warn("cloak request for untracked pid", zap.Int("pid", req.PID))
				continue
			}
			s.q.Push(&model.AdjustmentTask{
				Kind:       model.TaskCloaking,
				Priority:   model.PriorityMonitoring,
				Process:    p,
				Strategies: req.Strategies,
			})
		}
	}
}

// Shutdown cancels the worker goroutines, drains the queue within
// budget, force-restores every pid with outstanding OriginalLimits, and
// releases the GPU adapter's NVML handle. Returns the number of pids
// that could not be fully restored.
func (s *Supervisor) Shutdown(ctx context.Context) (residualFailures int, err error) {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()

	budget := time.Duration(s.cfg.ShutdownDrainSeconds) * time.Second
	select {
	case <-done:
	case <-time.After(budget):
		s.log.Warn("shutdown drain budget exceeded, forcing restore", zap.Duration("budget", budget))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, pid := range s.limits.Pids() {
		p, ok := s.reg.Get(pid)
		if !ok {
			p = &model.ManagedProcess{PID: pid}
		}
		s.exec.Restore(drainCtx, p)
	}
	residualFailures = s.limits.Count()

	if s.gpuCtx != nil {
		if gerr := s.gpuCtx.Shutdown(); gerr != nil {
			err = fmt.Errorf("%w: %v", cloakerr.ErrAdapterTransient, gerr)
		}
	}

	s.log.Info("supervisor stopped", zap.Int("residual_restore_failures", residualFailures))
	return residualFailures, err
}
