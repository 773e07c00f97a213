package fleet

import (
	"sync"
	"time"

	"github.com/fleet-tools/botfleet/pkg/errors"
	"github.com/fleet-tools/botfleet/pkg/process"
	"github.com/fleet-tools/botfleet/pkg/store"
)

// WorkerStatus is the lifecycle status of a running worker.
type WorkerStatus string

const (
	WorkerStatusStarting WorkerStatus = "starting"
	WorkerStatusRunning  WorkerStatus = "running"
	WorkerStatusExited   WorkerStatus = "exited"
	WorkerStatusFailed   WorkerStatus = "failed"
)

// Handle is the runtime record for one running worker. Handles are owned by
// the Registry; components other than the supervisor never hold one across
// operations.
type Handle struct {
	Slot       int
	Ref        *process.Ref
	Config     store.BotConfig
	LaunchedAt time.Time
	Status     WorkerStatus
}

// Registry is the in-memory source of truth for which workers are live,
// keyed by slot. All mutations serialize through one mutex; the mutex is
// never held across process I/O.
type Registry struct {
	mutex   sync.Mutex
	workers map[int]*Handle
}

func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[int]*Handle),
	}
}

// Get returns the handle for a slot, if any.
func (r *Registry) Get(slot int) (*Handle, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	handle, ok := r.workers[slot]
	return handle, ok
}

// Put registers a handle for a slot. It rejects the insert when the slot is
// already occupied: the previous worker must be terminated and removed
// first, or the fleet would hold duplicate processes for one slot.
func (r *Registry) Put(slot int, handle *Handle) error {
	if handle == nil {
		return errors.NewValidationError("handle cannot be nil", nil)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.workers[slot]; exists {
		return errors.NewConflictError("slot already has a live worker", nil).WithContext("slot", slot)
	}
	r.workers[slot] = handle
	return nil
}

// Remove deletes a slot's handle. Removing an absent slot is a no-op.
func (r *Registry) Remove(slot int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.workers, slot)
}

// RemoveIfSame deletes a slot's handle only if it is still the given one.
// Reapers use this so a late exit notification cannot evict a replacement
// worker that already took over the slot.
func (r *Registry) RemoveIfSame(slot int, handle *Handle) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	current, ok := r.workers[slot]
	if !ok || current != handle {
		return false
	}
	delete(r.workers, slot)
	return true
}

// SetStatus updates a slot's lifecycle status under the registry lock.
func (r *Registry) SetStatus(slot int, status WorkerStatus) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if handle, ok := r.workers[slot]; ok {
		handle.Status = status
	}
}

// SnapshotSlots returns the set of currently occupied slots.
func (r *Registry) SnapshotSlots() map[int]struct{} {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	slots := make(map[int]struct{}, len(r.workers))
	for slot := range r.workers {
		slots[slot] = struct{}{}
	}
	return slots
}

// Snapshot returns a point-in-time copy of all handles so callers can act
// on them without holding the lock.
func (r *Registry) Snapshot() []*Handle {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	handles := make([]*Handle, 0, len(r.workers))
	for _, handle := range r.workers {
		handles = append(handles, handle)
	}
	return handles
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.workers)
}
