package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/fleet-tools/botfleet/pkg/errors"
	"github.com/fleet-tools/botfleet/pkg/logging"
	"github.com/fleet-tools/botfleet/pkg/process"
	"github.com/fleet-tools/botfleet/pkg/processfile"
	"github.com/fleet-tools/botfleet/pkg/store"
)

// SupervisorState tracks where the control loop is in its cycle.
type SupervisorState string

const (
	SupervisorStateIdle         SupervisorState = "idle"
	SupervisorStatePolling      SupervisorState = "polling"
	SupervisorStateReconciling  SupervisorState = "reconciling"
	SupervisorStateShuttingDown SupervisorState = "shutting_down"
	SupervisorStateStopped      SupervisorState = "stopped"
)

// SupervisorOptions configures the control loop timings and the worker
// binary to launch per slot.
type SupervisorOptions struct {
	WorkerExecutable string
	PollInterval     time.Duration
	SettleDelay      time.Duration
	GracefulTimeout  time.Duration
}

// forceKillWaitTimeout bounds the wait after escalating to a forced kill.
const forceKillWaitTimeout = 5 * time.Second

// Supervisor drives the fleet: it polls the store for declared-state
// changes, reconciles live workers against it, reaps exits in the
// background, and tears the whole fleet down on shutdown. It is the only
// active component; everything else is invoked from here.
type Supervisor struct {
	options  SupervisorOptions
	store    *store.Store
	registry *Registry
	pidFiles *processfile.Manager
	logger   logging.Logger

	mutex sync.Mutex
	state SupervisorState

	// lastApplied is only touched from the control loop.
	lastApplied store.DeclaredState

	reapWG sync.WaitGroup
}

func NewSupervisor(
	options SupervisorOptions,
	botStore *store.Store,
	registry *Registry,
	pidFiles *processfile.Manager,
	logger logging.Logger,
) *Supervisor {
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultPollInterval
	}
	if options.SettleDelay <= 0 {
		options.SettleDelay = DefaultSettleDelay
	}
	if options.GracefulTimeout <= 0 {
		options.GracefulTimeout = DefaultGracefulTimeout
	}

	return &Supervisor{
		options:     options,
		store:       botStore,
		registry:    registry,
		pidFiles:    pidFiles,
		logger:      logger,
		state:       SupervisorStateIdle,
		lastApplied: store.EmptyState(),
	}
}

// State returns the current control-loop state.
func (s *Supervisor) State() SupervisorState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

func (s *Supervisor) setState(state SupervisorState) {
	s.mutex.Lock()
	s.state = state
	s.mutex.Unlock()
}

// Run starts the fleet from the current store content and blocks in the
// polling loop until ctx is cancelled, then shuts every worker down before
// returning. A store that cannot produce any declared state at startup is
// the one fatal error; everything after that is logged and recovered.
func (s *Supervisor) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	s.logger.Infof("Starting continuous monitoring of %s", s.store.Path())

	declared, err := s.store.Load()
	if err != nil {
		switch {
		case errors.IsStoreMissingError(err):
			s.logger.Warnf("Bot store not found, starting with an empty fleet: %v", err)
		case errors.IsStoreCorruptError(err):
			return errors.NewValidationError("bot store is unusable at startup", err)
		default:
			return err
		}
	}

	s.logger.Infof("Loaded %d bot configurations (%d records)", len(declared.Slots), declared.Size)

	marker := s.store.CurrentMarker()
	s.reconcile(ctx, declared)

	ticker := time.NewTicker(s.options.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil

		case <-ticker.C:
			s.setState(SupervisorStatePolling)

			changed, newMarker := s.store.HasChangedSince(marker)
			if changed {
				marker = newMarker
				s.logger.Infof("Detected changes in %s, reloading declared state...", s.store.Path())

				// The store may still be mid-write; give the writer a
				// moment before parsing.
				select {
				case <-time.After(s.options.SettleDelay):
				case <-ctx.Done():
					s.shutdown()
					return nil
				}

				next, err := s.store.Load()
				if err != nil {
					switch {
					case errors.IsStoreMissingError(err):
						s.logger.Warnf("Bot store disappeared, treating declared state as empty: %v", err)
						next = store.EmptyState()
					default:
						// Keep the previous declared state rather than
						// tearing the fleet down over one bad read.
						s.logger.Errorf("Failed to reload bot store, keeping previous state: %v", err)
						next = s.lastApplied
					}
				}
				s.reconcile(ctx, next)
			} else {
				// Re-reconcile the unchanged state so exited or
				// failed-to-spawn workers are brought back.
				s.reconcile(ctx, s.lastApplied)
			}

			s.setState(SupervisorStateIdle)
		}
	}
}

// reconcile plans against the live slot set and applies the actions. Apply
// is sequential, so per-slot ordering (a Stop strictly before its paired
// Start) holds by construction.
func (s *Supervisor) reconcile(ctx context.Context, next store.DeclaredState) {
	s.setState(SupervisorStateReconciling)

	live := s.registry.SnapshotSlots()
	actions := Plan(s.lastApplied, next, live)

	for _, action := range actions {
		switch action.Op {
		case ActionStop:
			s.stopWorker(action.Slot)
		case ActionStart:
			s.startWorker(ctx, action.Slot, action.Config)
		}
	}

	s.lastApplied = next
}

// startWorker spawns a worker process for a slot and registers it. A spawn
// failure leaves the slot unstarted; the next polling cycle will observe it
// as declared-but-not-live and try again.
func (s *Supervisor) startWorker(ctx context.Context, slot int, config store.BotConfig) {
	s.logger.Infof("Starting worker, slot: %d, model: %s", slot, config.Model)

	ref, err := process.Spawn(ctx, process.SpawnOptions{
		ExecutablePath: s.options.WorkerExecutable,
		Slot:           slot,
	}, s.logger)
	if err != nil {
		s.logger.Errorf("Failed to spawn worker, slot: %d, error: %v", slot, err)
		return
	}

	handle := &Handle{
		Slot:       slot,
		Ref:        ref,
		Config:     config,
		LaunchedAt: time.Now(),
		Status:     WorkerStatusStarting,
	}

	if err := s.registry.Put(slot, handle); err != nil {
		// A live handle appeared for this slot between planning and now.
		// Kill the duplicate rather than leak it.
		s.logger.Errorf("Slot already occupied after spawn, terminating duplicate, slot: %d, error: %v", slot, err)
		if killErr := ref.Kill(); killErr != nil {
			s.logger.Errorf("Failed to kill duplicate worker, slot: %d, error: %v", slot, killErr)
		}
		return
	}

	if err := s.pidFiles.Write(slot, ref.PID()); err != nil {
		s.logger.Warnf("Failed to write pid file, slot: %d, error: %v", slot, err)
	}

	s.registry.SetStatus(slot, WorkerStatusRunning)

	s.reapWG.Add(1)
	go s.reap(handle)

	s.logger.Infof("Worker started, slot: %d, pid: %d", slot, ref.PID())
}

// reap blocks on worker exit in its own goroutine so the control loop never
// waits on a process. On exit it removes the handle (unless a replacement
// already took the slot) and records the outcome, keeping captured output
// for failed workers.
func (s *Supervisor) reap(handle *Handle) {
	defer s.reapWG.Done()

	outcome, _ := handle.Ref.Wait(0)

	if s.registry.RemoveIfSame(handle.Slot, handle) {
		if err := s.pidFiles.Remove(handle.Slot, handle.Ref.PID()); err != nil {
			s.logger.Warnf("Failed to remove pid file, slot: %d, error: %v", handle.Slot, err)
		}
	}

	if outcome.Clean() {
		handle.Status = WorkerStatusExited
		s.logger.Infof("Worker finished successfully, slot: %d", handle.Slot)
	} else {
		handle.Status = WorkerStatusFailed
		s.logger.Errorf("Worker failed, slot: %d, exit code: %d", handle.Slot, outcome.Code)
		if outcome.Output != "" {
			s.logger.Errorf("Worker output, slot: %d:\n%s", handle.Slot, outcome.Output)
		}
	}
}

// stopWorker terminates a slot's worker and removes it from the registry.
// No-op when the slot is not live.
func (s *Supervisor) stopWorker(slot int) {
	handle, ok := s.registry.Get(slot)
	if !ok {
		return
	}

	s.logger.Infof("Stopping worker, slot: %d", slot)
	if err := s.terminateHandle(handle); err != nil {
		s.logger.Errorf("Failed to stop worker, slot: %d, error: %v", slot, err)
	}

	if s.registry.RemoveIfSame(slot, handle) {
		if err := s.pidFiles.Remove(slot, handle.Ref.PID()); err != nil {
			s.logger.Warnf("Failed to remove pid file, slot: %d, error: %v", slot, err)
		}
	}
}

// terminateHandle requests graceful shutdown, waits out the grace period,
// and escalates to a forced kill if the worker does not comply. The
// returned error reports a worker that could not be brought down at all.
func (s *Supervisor) terminateHandle(handle *Handle) error {
	if !handle.Ref.IsAlive() {
		return nil
	}

	if err := handle.Ref.Terminate(); err != nil {
		s.logger.Warnf("Failed to send termination signal, slot: %d, error: %v", handle.Slot, err)
	}

	if _, err := handle.Ref.Wait(s.options.GracefulTimeout); err == nil {
		return nil
	}

	s.logger.Warnf("Worker did not terminate within %v, force killing, slot: %d, pid: %d",
		s.options.GracefulTimeout, handle.Slot, handle.Ref.PID())

	if err := handle.Ref.Kill(); err != nil {
		return errors.NewProcessError("failed to kill worker", err).
			WithContext("slot", handle.Slot).
			WithContext("pid", handle.Ref.PID())
	}

	if _, err := handle.Ref.Wait(forceKillWaitTimeout); err != nil {
		return errors.NewTimeoutError("worker did not exit even after forced kill", err).
			WithContext("slot", handle.Slot).
			WithContext("pid", handle.Ref.PID())
	}
	return nil
}

// shutdown terminates every live worker concurrently and waits until the
// registry is empty and all reapers have finished.
func (s *Supervisor) shutdown() {
	s.setState(SupervisorStateShuttingDown)

	handles := s.registry.Snapshot()
	s.logger.Infof("Shutting down %d running workers...", len(handles))

	var wg sync.WaitGroup
	var failuresMutex sync.Mutex
	failures := errors.NewErrorCollection()

	for _, handle := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()

			if err := s.terminateHandle(h); err != nil {
				failuresMutex.Lock()
				failures.Add(err)
				failuresMutex.Unlock()
			}
			if s.registry.RemoveIfSame(h.Slot, h) {
				if err := s.pidFiles.Remove(h.Slot, h.Ref.PID()); err != nil {
					s.logger.Warnf("Failed to remove pid file, slot: %d, error: %v", h.Slot, err)
				}
			}
		}(handle)
	}
	wg.Wait()

	s.reapWG.Wait()

	s.setState(SupervisorStateStopped)
	if failures.HasErrors() {
		s.logger.Errorf("Shutdown completed with errors: %v", failures.ToError())
	}
	s.logger.Infof("All workers have been shut down.")
}
