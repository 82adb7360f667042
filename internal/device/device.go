package device

import (
	"context"
	"time"
)

// PairingLevel is the link-layer protection level requested before any
// application traffic is exchanged.
type PairingLevel int

const (
	PairingNone PairingLevel = iota
	// PairingMedium is unauthenticated encryption (Just Works bonding).
	PairingMedium
	PairingHigh
)

func (l PairingLevel) String() string {
	switch l {
	case PairingNone:
		return "none"
	case PairingMedium:
		return "medium"
	case PairingHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ScanningDevice represents a BLE device capable of scanning for advertisements
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Advertisement is the subset of an advertising report needed to classify a
// peripheral and decide whether it can be polled.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	Services() []string
	Connectable() bool
	RSSI() int
	Addr() string
}

// Transport opens GATT channels to peripherals.
// Implementations own retry and backoff for the connect itself.
type Transport interface {
	Connect(ctx context.Context, address string, opts *ConnectOptions) (Channel, error)
}

// Channel is a live GATT link to one peripheral. UUIDs are accepted in any
// format understood by NormalizeUUID.
//
// Implementations must honour ctx on every blocking call and return an error
// wrapping ErrTimeout when the deadline expires.
type Channel interface {
	Address() string

	ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error)
	WriteCharacteristic(ctx context.Context, uuid string, data []byte, withResponse bool) error

	// StartNotify subscribes to value-changed notifications. The handler may
	// be invoked from any goroutine and must copy data if it retains it.
	StartNotify(ctx context.Context, uuid string, handler func(data []byte)) error

	Pair(ctx context.Context, level PairingLevel) error

	// Characteristics returns the normalized UUIDs of all characteristics
	// discovered on the peripheral.
	Characteristics() []string
	HasCharacteristic(uuid string) bool

	// Disconnected is closed when the link drops, locally or remotely.
	Disconnected() <-chan struct{}
	// Disconnect closes the link. Safe to call more than once.
	Disconnect() error
}

// ConnectOptions defines BLE connection options
type ConnectOptions struct {
	ConnectTimeout time.Duration // per attempt
	Retries        int           // additional attempts after the first
	RetryBackoff   time.Duration // delay before the first retry, doubled on each further one
	MaxBackoff     time.Duration

	// UseServiceCache lets the transport reuse a previously discovered GATT
	// table instead of forcing full discovery.
	UseServiceCache bool
}

// DefaultConnectOptions returns the options used when none are supplied.
func DefaultConnectOptions() *ConnectOptions {
	return &ConnectOptions{
		ConnectTimeout:  15 * time.Second,
		Retries:         3,
		RetryBackoff:    1 * time.Second,
		MaxBackoff:      10 * time.Second,
		UseServiceCache: true,
	}
}

// BackoffDelay returns the delay before retry number attempt (0-based),
// doubling from base and capped at max.
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base << uint(attempt)
	if d <= 0 || (max > 0 && d > max) {
		return max
	}
	return d
}
