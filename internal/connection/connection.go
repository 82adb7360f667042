package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/igrill/internal/device"
	"github.com/srg/igrill/internal/groutine"
)

// State is the lifecycle state of a Handle.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Authenticated
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Authenticator runs the application handshake on a fresh channel.
type Authenticator interface {
	Authenticate(ctx context.Context, ch device.Channel) error
}

// Handle is the live, possibly authenticated link to one address. A Manager
// owns exactly one Handle for its whole lifetime; callers may read it but
// only the Manager mutates it.
type Handle struct {
	address string

	mu      sync.RWMutex
	state   State
	ch      device.Channel
	lastErr error
	since   time.Time
}

func (h *Handle) Address() string { return h.address }

func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Authenticated reports whether the handshake completed on the current link.
func (h *Handle) Authenticated() bool {
	return h.State() == Authenticated
}

// Channel returns the current GATT channel, or nil when not connected.
func (h *Handle) Channel() device.Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ch
}

// Err returns the error that moved the handle to Failed, if any.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

// Since returns when the handle entered its current state.
func (h *Handle) Since() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.since
}

func (h *Handle) set(state State, ch device.Channel, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
	h.ch = ch
	h.lastErr = err
	h.since = time.Now()
}

// Options configures a Manager.
type Options struct {
	Connect *device.ConnectOptions
	// OperationTimeout bounds connect plus handshake.
	OperationTimeout time.Duration
}

// DefaultOptions returns the defaults used when nil is passed to NewManager.
func DefaultOptions() *Options {
	return &Options{
		Connect:          device.DefaultConnectOptions(),
		OperationTimeout: 30 * time.Second,
	}
}

// Manager owns the connection to one physical address.
type Manager struct {
	transport device.Transport
	auth      Authenticator
	opts      Options
	logger    *logrus.Logger

	connMutex sync.Mutex // serializes Connect and Disconnect
	handle    *Handle

	listenersMu sync.Mutex
	listeners   map[int]func(*Handle)
	nextID      int
}

// NewManager creates a manager for address. A nil opts uses DefaultOptions.
func NewManager(address string, transport device.Transport, auth Authenticator, opts *Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	o := DefaultOptions()
	if opts != nil {
		if opts.Connect != nil {
			o.Connect = opts.Connect
		}
		if opts.OperationTimeout > 0 {
			o.OperationTimeout = opts.OperationTimeout
		}
	}
	return &Manager{
		transport: transport,
		auth:      auth,
		opts:      *o,
		logger:    logger,
		handle:    &Handle{address: address, since: time.Now()},
		listeners: make(map[int]func(*Handle)),
	}
}

// Handle returns the manager's handle without connecting.
func (m *Manager) Handle() *Handle { return m.handle }

// Address returns the peripheral address.
func (m *Manager) Address() string { return m.handle.address }

// Connect returns an authenticated handle, connecting and running the
// handshake if needed. It is a no-op when the handle is already
// authenticated and its link is up.
func (m *Manager) Connect(ctx context.Context) (*Handle, error) {
	m.connMutex.Lock()
	defer m.connMutex.Unlock()

	h := m.handle
	log := m.logger.WithField("address", h.address)

	h.mu.RLock()
	state, current := h.state, h.ch
	h.mu.RUnlock()

	if state == Authenticated && current != nil && linkUp(current) {
		return h, nil
	}
	if current != nil {
		// stale link that never finished the handshake or silently died
		h.set(Disconnected, nil, nil)
		_ = current.Disconnect()
	}

	opCtx, cancel := context.WithTimeout(ctx, m.opts.OperationTimeout)
	defer cancel()

	h.set(Connecting, nil, nil)
	log.Info("Connecting to device...")

	ch, err := m.transport.Connect(opCtx, h.address, m.opts.Connect)
	if err != nil {
		err = connectError(opCtx, err)
		h.set(Failed, nil, err)
		log.WithError(err).Warn("Connect failed")
		return h, err
	}

	h.set(Connected, ch, nil)
	m.monitor(ch)
	log.Debug("Connected, authenticating...")

	if err := m.auth.Authenticate(opCtx, ch); err != nil {
		if ctxErr := device.ContextError(opCtx); ctxErr != nil && !errors.Is(err, device.ErrTimeout) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		h.set(Disconnected, nil, err)
		if derr := ch.Disconnect(); derr != nil {
			log.WithError(derr).Debug("Disconnect after failed handshake")
		}
		log.WithError(err).Warn("Authentication failed")
		return h, err
	}

	h.set(Authenticated, ch, nil)
	log.Info("Device authenticated")
	return h, nil
}

// Disconnect closes the link. The handle is Disconnected afterwards even if
// the transport reports an error, and calling it again is harmless.
func (m *Manager) Disconnect() error {
	m.connMutex.Lock()
	defer m.connMutex.Unlock()

	h := m.handle
	h.mu.Lock()
	ch := h.ch
	h.ch = nil
	h.state = Disconnected
	h.since = time.Now()
	h.mu.Unlock()

	if ch == nil {
		return nil
	}
	m.logger.WithField("address", h.address).Info("Disconnecting")
	if err := ch.Disconnect(); err != nil {
		return fmt.Errorf("disconnect %s: %w", h.address, err)
	}
	return nil
}

// OnLinkLost registers fn to run after an unexpected link loss. The returned
// function removes the registration and may be called more than once.
func (m *Manager) OnLinkLost(fn func(*Handle)) (remove func()) {
	m.listenersMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	return func() {
		m.listenersMu.Lock()
		delete(m.listeners, id)
		m.listenersMu.Unlock()
	}
}

// monitor watches ch for link loss. A loss on a channel that is no longer
// current (closed on purpose or replaced) is ignored.
func (m *Manager) monitor(ch device.Channel) {
	h := m.handle
	groutine.Go(context.Background(), "igrill-link-monitor-"+h.address, func(ctx context.Context) {
		<-ch.Disconnected()

		h.mu.Lock()
		if h.ch != ch {
			h.mu.Unlock()
			return
		}
		h.ch = nil
		h.state = Disconnected
		h.lastErr = device.ErrLinkLost
		h.since = time.Now()
		h.mu.Unlock()

		m.logger.WithFields(logrus.Fields{
			"address": h.address,
			"state":   Disconnected.String(),
		}).Warn("Link lost")

		m.listenersMu.Lock()
		fns := make([]func(*Handle), 0, len(m.listeners))
		for _, fn := range m.listeners {
			fns = append(fns, fn)
		}
		m.listenersMu.Unlock()

		for _, fn := range fns {
			fn(h)
		}
	})
}

func linkUp(ch device.Channel) bool {
	select {
	case <-ch.Disconnected():
		return false
	default:
		return true
	}
}

// connectError classifies a transport connect failure.
func connectError(ctx context.Context, err error) error {
	var cerr *device.ConnectionError
	switch {
	case errors.Is(err, device.ErrTimeout), errors.Is(err, device.ErrBluetoothOff), errors.As(err, &cerr):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %v", device.ContextError(ctx), err)
	default:
		return fmt.Errorf("%w: %v", device.ErrConnectFailed, err)
	}
}
