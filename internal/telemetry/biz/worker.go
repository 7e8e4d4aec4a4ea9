package biz

import (
	"context"
	"errors"
	"time"

	"github.com/lk2023060901/drive-telemetry-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// ErrUptimeExceeded is returned by Run when the worker reaches its uptime
// ceiling. The process is expected to exit cleanly and be restarted by its
// supervisor, which bounds the damage of any slow leak.
var ErrUptimeExceeded = errors.New("worker uptime ceiling reached")

// Phase is one step of the pipeline state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCleaning
	PhaseScanning
	PhaseProcessing
	PhaseAggregating
	PhaseUpdatingDevices
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCleaning:
		return "cleaning"
	case PhaseScanning:
		return "scanning"
	case PhaseProcessing:
		return "processing"
	case PhaseAggregating:
		return "aggregating"
	case PhaseUpdatingDevices:
		return "updating_devices"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// WorkerConfig tunes the scheduler loop.
type WorkerConfig struct {
	// CycleDelay is the pause between pipeline cycles.
	CycleDelay time.Duration

	// CleanupInterval is the minimum gap between cleanup passes. Cycles
	// between passes skip straight from idle to scanning.
	CleanupInterval time.Duration

	// MaxUptime terminates the worker once exceeded. Zero disables the
	// ceiling.
	MaxUptime time.Duration
}

// Worker drives the pipeline through its phases in a single goroutine.
// Each phase runs to completion before the next begins; cancellation is
// observed between phases and inside the long-running ones.
type Worker struct {
	scanner   *ScanUseCase
	processor *ProcessUseCase
	aggregate *AggregateUseCase
	devices   *DeviceStorageUseCase
	cleanup   *CleanupUseCase

	cfg    WorkerConfig
	now    func() time.Time
	logger *logger.Logger

	phase       Phase
	startedAt   time.Time
	lastCleanup time.Time
	cycle       *Cycle
}

// NewWorker assembles the pipeline scheduler
func NewWorker(scanner *ScanUseCase, processor *ProcessUseCase, aggregate *AggregateUseCase, devices *DeviceStorageUseCase, cleanup *CleanupUseCase, cfg WorkerConfig, log *logger.Logger) *Worker {
	return &Worker{
		scanner:   scanner,
		processor: processor,
		aggregate: aggregate,
		devices:   devices,
		cleanup:   cleanup,
		cfg:       cfg,
		now:       time.Now,
		logger:    log,
		phase:     PhaseIdle,
	}
}

// Phase returns the current phase.
func (w *Worker) Phase() Phase {
	return w.phase
}

// Run executes pipeline cycles until the context is cancelled or the
// uptime ceiling is reached. The first cleanup pass runs immediately.
func (w *Worker) Run(ctx context.Context) error {
	w.startedAt = w.now()
	w.logger.Info("pipeline worker started",
		zap.Duration("cycle_delay", w.cfg.CycleDelay),
		zap.Duration("cleanup_interval", w.cfg.CleanupInterval),
		zap.Duration("max_uptime", w.cfg.MaxUptime))

	for {
		if err := w.Step(ctx); err != nil {
			if errors.Is(err, ErrUptimeExceeded) {
				w.logger.Info("worker terminating at uptime ceiling",
					zap.Duration("uptime", w.now().Sub(w.startedAt)))
			}
			return err
		}
	}
}

// Step advances the state machine by one phase transition. Phase errors
// other than cancellation are logged and the cycle moves on; segment and
// drive rows stay authoritative, so the next cycle repairs any gap.
func (w *Worker) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		w.phase = PhaseTerminated
		return err
	}

	switch w.phase {
	case PhaseIdle:
		if w.cfg.MaxUptime > 0 && w.now().Sub(w.startedAt) >= w.cfg.MaxUptime {
			w.phase = PhaseTerminated
			return ErrUptimeExceeded
		}
		if err := w.sleep(ctx, w.cfg.CycleDelay); err != nil {
			w.phase = PhaseTerminated
			return err
		}
		w.cycle = NewCycle(w.now())
		if w.cleanupDue() {
			// The gate timestamp marks the decision, so a failed pass
			// still waits out the full interval before the next one.
			w.lastCleanup = w.now()
			w.phase = PhaseCleaning
		} else {
			w.phase = PhaseScanning
		}

	case PhaseCleaning:
		w.runPhase(ctx, "cleanup", func() error {
			return w.cleanup.Run(ctx, w.cycle)
		})
		w.phase = PhaseScanning

	case PhaseScanning:
		w.runPhase(ctx, "scan", func() error {
			return w.scanner.Scan(ctx, w.cycle)
		})
		w.phase = PhaseProcessing

	case PhaseProcessing:
		w.runPhase(ctx, "process", func() error {
			return w.processor.ProcessQueue(ctx, w.cycle)
		})
		w.phase = PhaseAggregating

	case PhaseAggregating:
		w.runPhase(ctx, "aggregate", func() error {
			return w.aggregate.UpdateDrives(ctx, w.cycle)
		})
		w.phase = PhaseUpdatingDevices

	case PhaseUpdatingDevices:
		// The updater clears devices as it recounts them, so the summary
		// count is taken before the phase runs.
		devicesAffected := len(w.cycle.AffectedDevices())
		w.runPhase(ctx, "update devices", func() error {
			return w.devices.UpdateDevices(ctx, w.cycle)
		})
		w.logger.Info("cycle finished",
			zap.Int("segments_scanned", w.cycle.Scanned),
			zap.Int("segments_processed", w.cycle.Processed),
			zap.Int("drives_affected", len(w.cycle.AffectedDrives())),
			zap.Int("devices_affected", devicesAffected),
			zap.Duration("elapsed", w.now().Sub(w.cycle.StartedAt)))
		w.cycle = nil
		w.phase = PhaseIdle

	case PhaseTerminated:
		return ErrUptimeExceeded
	}

	return nil
}

func (w *Worker) cleanupDue() bool {
	return w.lastCleanup.IsZero() || w.now().Sub(w.lastCleanup) >= w.cfg.CleanupInterval
}

func (w *Worker) runPhase(ctx context.Context, name string, fn func() error) {
	if err := fn(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		w.logger.Error("pipeline phase failed",
			zap.String("phase", name),
			zap.Error(err))
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
