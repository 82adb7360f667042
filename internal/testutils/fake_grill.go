package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/igrill/internal/device"
	"github.com/srg/igrill/internal/igrill"
)

// GATT operation kinds recorded by FakeGrill.
const (
	OpConnect    = "connect"
	OpPair       = "pair"
	OpRead       = "read"
	OpWrite      = "write"
	OpNotify     = "notify"
	OpDisconnect = "disconnect"
)

// GATTOp is one recorded operation against a FakeGrill.
type GATTOp struct {
	Kind string
	UUID string // normalized
	Data []byte
}

func (o GATTOp) String() string {
	if o.UUID == "" {
		return o.Kind
	}
	return fmt.Sprintf("%s %s", o.Kind, device.ShortenUUID(o.UUID))
}

// FakeGrill is a scripted iGrill peripheral. It implements device.Channel,
// records every GATT operation and counts operations that overlapped in time.
//
// The device challenge is a fixed non-zero 16-byte value, every probe reads
// "no probe", battery reads 100 and firmware "1.2.3". Use Set to change any
// characteristic value.
type FakeGrill struct {
	address string
	profile igrill.Profile
	chars   igrill.CharacteristicMap

	mu        sync.Mutex
	values    map[string][]byte
	handlers  map[string]func([]byte)
	ops       []GATTOp
	failures  map[string]error
	connected bool
	down      chan struct{}

	// OpDelay is applied inside every GATT operation to widen race windows.
	OpDelay time.Duration
	gate    chan struct{}

	// OnOp, when set, is called outside the lock as each GATT operation starts.
	OnOp func(GATTOp)

	inFlight atomic.Int32
	overlaps atomic.Int32
	connects atomic.Int32
}

// DeviceChallenge is the value served from the device challenge characteristic.
var DeviceChallenge = []byte{
	0x9a, 0x1f, 0x33, 0x70, 0x0c, 0xde, 0x42, 0x81,
	0x5b, 0x77, 0xe0, 0x19, 0xa4, 0x6d, 0x02, 0xfe,
}

// NewFakeGrill creates a peripheral exposing every characteristic implied by p.
// Ambient temperature is exposed unless withAmbient is false.
func NewFakeGrill(address string, p igrill.Profile, withAmbient bool) *FakeGrill {
	g := &FakeGrill{
		address:  address,
		profile:  p,
		chars:    igrill.CharacteristicsFor(p),
		values:   make(map[string][]byte),
		handlers: make(map[string]func([]byte)),
		failures: make(map[string]error),
		down:     closedChan(),
	}

	noProbe := []byte{0x30, 0xf8} // 63536
	for _, c := range g.chars.Capabilities() {
		g.values[key(g.chars.UUID(c))] = nil
	}
	for i := 1; i <= p.ProbeCount(); i++ {
		g.set(igrill.ProbeTemperature(i), noProbe)
		g.set(igrill.ProbeThreshold(i), []byte{0, 0})
	}
	g.set(igrill.CapFirmwareVersion, []byte("1.2.3\x00\x00"))
	g.set(igrill.CapDeviceChallenge, DeviceChallenge)
	if p.HasBattery() {
		g.set(igrill.CapBatteryLevel, []byte{100})
	}
	if p.HasHeatingElement() {
		g.set(igrill.CapHeatingElements, []byte("0 0 0 0"))
	}
	if p.HasPropane() {
		g.set(igrill.CapPropaneLevel, []byte{4})
	}
	if withAmbient {
		g.set(igrill.CapAmbientTemperature, []byte{21, 0})
	} else {
		delete(g.values, key(g.chars.UUID(igrill.CapAmbientTemperature)))
	}
	return g
}

func key(uuid string) string { return device.NormalizeUUID(uuid) }

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

func (g *FakeGrill) set(c igrill.Capability, v []byte) {
	g.values[key(g.chars.UUID(c))] = append([]byte(nil), v...)
}

// Set replaces the value of capability c.
func (g *FakeGrill) Set(c igrill.Capability, v []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.set(c, v)
}

// Value returns the current value of capability c.
func (g *FakeGrill) Value(c igrill.Capability) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]byte(nil), g.values[key(g.chars.UUID(c))]...)
}

// FailOn makes every operation of kind on capability c fail with err.
// A nil err clears the failure. Use an empty capability for connect and pair.
func (g *FakeGrill) FailOn(kind string, c igrill.Capability, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := kind
	if c != "" {
		k = kind + ":" + key(g.chars.UUID(c))
	}
	if err == nil {
		delete(g.failures, k)
		return
	}
	g.failures[k] = err
}

// Hold blocks every subsequent GATT operation until the returned release
// function is called or the operation's context ends.
func (g *FakeGrill) Hold() (release func()) {
	gate := make(chan struct{})
	g.mu.Lock()
	g.gate = gate
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.gate = nil
			g.mu.Unlock()
			close(gate)
		})
	}
}

// Notify delivers a value-changed notification for c, if subscribed.
// It reports whether a handler received it.
func (g *FakeGrill) Notify(c igrill.Capability, v []byte) bool {
	g.mu.Lock()
	h := g.handlers[key(g.chars.UUID(c))]
	if h != nil {
		g.set(c, v)
	}
	g.mu.Unlock()

	if h == nil {
		return false
	}
	h(append([]byte(nil), v...))
	return true
}

// DropLink simulates a remote disconnect.
func (g *FakeGrill) DropLink() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closeLocked()
}

func (g *FakeGrill) closeLocked() {
	if g.connected {
		g.connected = false
		g.handlers = make(map[string]func([]byte))
		close(g.down)
	}
}

// Ops returns a copy of the recorded operations.
func (g *FakeGrill) Ops() []GATTOp {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]GATTOp, len(g.ops))
	copy(out, g.ops)
	return out
}

// OpCount returns how many operations were recorded.
func (g *FakeGrill) OpCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ops)
}

// OpsOf returns recorded operations of the given kind.
func (g *FakeGrill) OpsOf(kind string) []GATTOp {
	var out []GATTOp
	for _, op := range g.Ops() {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

// ResetOps clears the operation log.
func (g *FakeGrill) ResetOps() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ops = nil
}

// Overlaps returns how many operations started while another was in flight.
func (g *FakeGrill) Overlaps() int { return int(g.overlaps.Load()) }

// Connects returns how many connections were established.
func (g *FakeGrill) Connects() int { return int(g.connects.Load()) }

// Connected reports whether the fake link is up.
func (g *FakeGrill) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// UUIDFor returns the normalized UUID of capability c on this grill.
func (g *FakeGrill) UUIDFor(c igrill.Capability) string {
	return key(g.chars.UUID(c))
}

// op records an operation and simulates its duration. Must not hold g.mu.
func (g *FakeGrill) op(ctx context.Context, kind, uuid string, data []byte) error {
	if g.inFlight.Add(1) > 1 {
		g.overlaps.Add(1)
	}
	defer g.inFlight.Add(-1)

	g.mu.Lock()
	rec := GATTOp{Kind: kind, UUID: uuid, Data: append([]byte(nil), data...)}
	g.ops = append(g.ops, rec)
	hook := g.OnOp
	gate := g.gate
	delay := g.OpDelay
	err := g.failures[kind]
	if uuid != "" {
		if e, ok := g.failures[kind+":"+uuid]; ok {
			err = e
		}
	}
	connected := g.connected
	g.mu.Unlock()

	if hook != nil {
		hook(rec)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return device.ContextError(ctx)
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return device.ContextError(ctx)
		}
	}
	if err != nil {
		return err
	}
	if kind != OpConnect && !connected {
		return device.ErrNotConnected
	}
	return nil
}

func (g *FakeGrill) connect(ctx context.Context) error {
	if err := g.op(ctx, OpConnect, "", nil); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.connected {
		return device.ErrAlreadyConnected
	}
	g.connected = true
	g.down = make(chan struct{})
	g.connects.Add(1)
	return nil
}

func (g *FakeGrill) Address() string { return g.address }

func (g *FakeGrill) ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error) {
	u := key(uuid)
	if err := g.op(ctx, OpRead, u, nil); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.values[u]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUID: u, Address: g.address}
	}
	return append([]byte(nil), v...), nil
}

func (g *FakeGrill) WriteCharacteristic(ctx context.Context, uuid string, data []byte, withResponse bool) error {
	u := key(uuid)
	if err := g.op(ctx, OpWrite, u, data); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.values[u]; !ok {
		return &device.NotFoundError{Resource: "characteristic", UUID: u, Address: g.address}
	}
	// challenge characteristics keep their scripted value
	if u != g.UUIDFor(igrill.CapAppChallenge) && u != g.UUIDFor(igrill.CapDeviceResponse) {
		g.values[u] = append([]byte(nil), data...)
	}
	return nil
}

func (g *FakeGrill) StartNotify(ctx context.Context, uuid string, handler func(data []byte)) error {
	u := key(uuid)
	if err := g.op(ctx, OpNotify, u, nil); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.values[u]; !ok {
		return &device.NotFoundError{Resource: "characteristic", UUID: u, Address: g.address}
	}
	g.handlers[u] = handler
	return nil
}

func (g *FakeGrill) Pair(ctx context.Context, _ device.PairingLevel) error {
	return g.op(ctx, OpPair, "", nil)
}

func (g *FakeGrill) Characteristics() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.values))
	for u := range g.values {
		out = append(out, u)
	}
	return out
}

func (g *FakeGrill) HasCharacteristic(uuid string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.values[key(uuid)]
	return ok
}

func (g *FakeGrill) Disconnected() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.down
}

func (g *FakeGrill) Disconnect() error {
	g.mu.Lock()
	g.ops = append(g.ops, GATTOp{Kind: OpDisconnect})
	g.closeLocked()
	g.mu.Unlock()
	return nil
}

// FakeTransport routes connects to registered FakeGrills by address.
type FakeTransport struct {
	mu     sync.Mutex
	grills map[string]*FakeGrill
}

// NewFakeTransport creates a transport serving the given grills.
func NewFakeTransport(grills ...*FakeGrill) *FakeTransport {
	t := &FakeTransport{grills: make(map[string]*FakeGrill)}
	for _, g := range grills {
		t.Add(g)
	}
	return t
}

// Add registers g under its address.
func (t *FakeTransport) Add(g *FakeGrill) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.grills[g.Address()] = g
}

// Connect implements device.Transport.
func (t *FakeTransport) Connect(ctx context.Context, address string, _ *device.ConnectOptions) (device.Channel, error) {
	t.mu.Lock()
	g, ok := t.grills[address]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no peripheral at %s", device.ErrConnectFailed, address)
	}
	if err := g.connect(ctx); err != nil {
		if errors.Is(err, device.ErrAlreadyConnected) || errors.Is(err, device.ErrTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", device.ErrConnectFailed, err)
	}
	return g, nil
}
