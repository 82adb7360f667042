// Package igrill is the public entry point: register thermometers by address
// and model, then read, watch and poll them.
//
//	m := igrill.NewManager(goble.NewTransport(logger), nil, logger)
//	h, err := m.RegisterDevice("AA:BB:CC:DD:EE:FF", "igrill_v2")
//	snap, err := h.Poll(ctx)
package igrill

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/igrill/internal/connection"
	"github.com/srg/igrill/internal/device"
	"github.com/srg/igrill/internal/discovery"
	"github.com/srg/igrill/internal/groutine"
	grill "github.com/srg/igrill/internal/igrill"
	"github.com/srg/igrill/internal/poller"
	"github.com/srg/igrill/internal/snapshot"
)

var (
	ErrAlreadyRegistered = errors.New("device already registered")
	ErrNotRegistered     = errors.New("device not registered")
	// ErrNoConnectableDevice is returned for a sighting that came from a
	// passive scanner when no connectable route to the address exists.
	ErrNoConnectableDevice = errors.New("no connectable device for address")
)

// Options configures a Manager.
type Options struct {
	Connection *connection.Options
	Poller     poller.Options

	// Connectable reports whether the transport can reach address. It is
	// consulted for sightings that were not connectable themselves.
	Connectable func(address string) bool

	// AutoRegister registers classified but unknown devices on sighting.
	AutoRegister bool

	// OnError receives failures from background polls and notifications.
	OnError func(address string, err error)
}

// Manager owns every registered device and the snapshot store they publish
// into.
type Manager struct {
	transport device.Transport
	store     *snapshot.Store
	opts      Options
	logger    *logrus.Logger

	mu      sync.Mutex // serializes register and unregister
	devices *hashmap.Map[string, *DeviceHandle]
}

// NewManager creates a manager connecting through transport.
func NewManager(transport device.Transport, opts *Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	m := &Manager{
		transport: transport,
		store:     snapshot.NewStore(logger),
		logger:    logger,
		devices:   hashmap.New[string, *DeviceHandle](),
	}
	if opts != nil {
		m.opts = *opts
	}
	if m.opts.Connection == nil {
		m.opts.Connection = connection.DefaultOptions()
	}
	return m
}

// Store returns the snapshot store shared by all devices.
func (m *Manager) Store() *snapshot.Store {
	return m.store
}

func normalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// RegisterOption adjusts a single registration.
type RegisterOption func(o *poller.Options)

// WithMode overrides the poll mode for one device.
func WithMode(mode poller.Mode) RegisterOption {
	return func(o *poller.Options) { o.Mode = mode }
}

// RegisterDevice creates the handle for a thermometer. Unknown model tags
// fail with igrill.ErrUnknownModel.
func (m *Manager) RegisterDevice(address, modelTag string, opts ...RegisterOption) (*DeviceHandle, error) {
	addr := normalizeAddress(address)
	if addr == "" {
		return nil, fmt.Errorf("register %q: empty address", address)
	}
	profile, err := grill.ProfileFor(modelTag)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices.Get(addr); ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, addr)
	}

	pollOpts := m.opts.Poller
	for _, opt := range opts {
		opt(&pollOpts)
	}
	if m.opts.OnError != nil {
		onError := m.opts.OnError
		pollOpts.OnError = func(err error) { onError(addr, err) }
	}

	auth := grill.NewAuthenticator(grill.CharacteristicsFor(profile), m.logger)
	conn := connection.NewManager(addr, m.transport, auth, m.opts.Connection, m.logger)

	h := &DeviceHandle{
		address: addr,
		coord:   poller.New(profile, conn, m.store, &pollOpts, m.logger),
		store:   m.store,
		manager: m,
	}
	m.devices.Set(addr, h)

	m.logger.WithFields(logrus.Fields{
		"address": addr,
		"model":   profile.Model(),
		"mode":    pollOpts.Mode,
	}).Info("Device registered")
	return h, nil
}

// Device returns the handle registered for address.
func (m *Manager) Device(address string) (*DeviceHandle, bool) {
	return m.devices.Get(normalizeAddress(address))
}

// Devices returns all handles ordered by address.
func (m *Manager) Devices() []*DeviceHandle {
	out := make([]*DeviceHandle, 0, m.devices.Len())
	m.devices.Range(func(_ string, h *DeviceHandle) bool {
		out = append(out, h)
		return true
	})
	slices.SortFunc(out, func(a, b *DeviceHandle) int { return strings.Compare(a.address, b.address) })
	return out
}

func (m *Manager) unregister(h *DeviceHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.devices.Get(h.address); ok && cur == h {
		m.devices.Del(h.address)
	}
}

// HandleSighting polls the sighted device when a poll is due. A sighting
// that is not connectable itself is polled only if the Connectable
// resolver vouches for the address. It reports whether a poll ran.
func (m *Manager) HandleSighting(ctx context.Context, s discovery.Sighting) (bool, error) {
	addr := normalizeAddress(s.Address)

	h, ok := m.Device(addr)
	if !ok {
		if !m.opts.AutoRegister {
			return false, fmt.Errorf("%w: %s", ErrNotRegistered, addr)
		}
		var err error
		h, err = m.RegisterDevice(addr, string(s.Profile.Model()))
		if errors.Is(err, ErrAlreadyRegistered) {
			h, ok = m.Device(addr)
			if !ok {
				return false, fmt.Errorf("%w: %s", ErrNotRegistered, addr)
			}
		} else if err != nil {
			return false, err
		}
	}

	if !s.Connectable && (m.opts.Connectable == nil || !m.opts.Connectable(addr)) {
		return false, fmt.Errorf("%w: %s", ErrNoConnectableDevice, addr)
	}

	return h.PollIfDue(ctx)
}

// PollAll polls every registered device in parallel and returns the
// failures by address.
func (m *Manager) PollAll(ctx context.Context) map[string]error {
	return m.each(ctx, "igrill-poll-", func(ctx context.Context, h *DeviceHandle) error {
		_, err := h.Poll(ctx)
		return err
	})
}

func (m *Manager) each(ctx context.Context, name string, fn func(ctx context.Context, h *DeviceHandle) error) map[string]error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs = make(map[string]error)
	)
	for _, h := range m.Devices() {
		wg.Add(1)
		groutine.Go(ctx, name+h.address, func(ctx context.Context) {
			defer wg.Done()
			if err := fn(ctx, h); err != nil {
				mu.Lock()
				errs[h.address] = err
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return errs
}

// Run polls due devices every tick until ctx is done. Each device polls on
// its own goroutine and a tick skips devices whose previous poll is still
// running, so a stalled device never holds back the others. Failures are
// handed to Options.OnError, possibly from several goroutines at once, and
// never stop the loop. Run returns once every in-flight poll has finished.
func (m *Manager) Run(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		m.dispatchDue(ctx, &wg)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// dispatchDue starts a PollIfDue for every device that is not already
// polling.
func (m *Manager) dispatchDue(ctx context.Context, wg *sync.WaitGroup) {
	for _, h := range m.Devices() {
		if !h.polling.CompareAndSwap(false, true) {
			continue
		}
		wg.Add(1)
		groutine.Go(ctx, "igrill-run-"+h.address, func(ctx context.Context) {
			defer wg.Done()
			defer h.polling.Store(false)

			_, err := h.PollIfDue(ctx)
			if err == nil || errors.Is(err, poller.ErrClosed) {
				return
			}
			if m.opts.OnError != nil {
				m.opts.OnError(h.address, err)
			}
		})
	}
}

// Close closes every device.
func (m *Manager) Close() error {
	var errs []error
	for _, h := range m.Devices() {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.address, err))
		}
	}
	return errors.Join(errs...)
}
