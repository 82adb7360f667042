package igrill

import (
	"context"
	"sync/atomic"

	grill "github.com/srg/igrill/internal/igrill"
	"github.com/srg/igrill/internal/poller"
	"github.com/srg/igrill/internal/snapshot"
)

// DeviceHandle is the caller's view of one registered thermometer.
type DeviceHandle struct {
	address string
	coord   *poller.Coordinator
	store   *snapshot.Store
	manager *Manager
	closed  atomic.Bool
	polling atomic.Bool // a Run poll is in flight
}

func (h *DeviceHandle) Address() string { return h.address }

// Profile returns the model profile, including ambient support once a poll
// has discovered it.
func (h *DeviceHandle) Profile() grill.Profile {
	return h.coord.Profile()
}

// Snapshot returns the latest readings and metadata. Before the first poll
// it holds metadata only.
func (h *DeviceHandle) Snapshot() snapshot.Snapshot {
	snap, ok := h.store.Snapshot(h.address)
	if !ok {
		return snapshot.Snapshot{Info: snapshot.DeviceInfo{Address: h.address}, Readings: map[string]snapshot.Reading{}}
	}
	return snap
}

// Subscribe registers fn for every snapshot change of this device,
// including availability changes on link loss. The returned function
// unsubscribes.
func (h *DeviceHandle) Subscribe(fn snapshot.Listener) (unsubscribe func()) {
	if h.closed.Load() {
		return func() {}
	}
	return h.store.Subscribe(h.address, fn)
}

// Poll runs one poll cycle now.
func (h *DeviceHandle) Poll(ctx context.Context) (snapshot.Snapshot, error) {
	return h.coord.Poll(ctx)
}

// PollIfDue polls only when the poll interval has elapsed.
func (h *DeviceHandle) PollIfDue(ctx context.Context) (bool, error) {
	return h.coord.PollIfDue(ctx)
}

// SetLED switches the knob light. Models without one return
// device.ErrUnsupported.
func (h *DeviceHandle) SetLED(ctx context.Context, on bool) error {
	return h.coord.SetLED(ctx, on)
}

// Available reports whether the snapshot reflects a live device.
func (h *DeviceHandle) Available() bool {
	return h.coord.Available()
}

// State returns the poll bookkeeping.
func (h *DeviceHandle) State() poller.PollState {
	return h.coord.State()
}

// Close disconnects, drops every listener and unregisters the device. An
// in-flight poll is cancelled. Safe to call more than once.
func (h *DeviceHandle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	err := h.coord.Close()
	h.manager.unregister(h)
	return err
}
