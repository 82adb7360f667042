// Package tinygo implements device.Transport on top of tinygo.org/x/bluetooth,
// which talks to BlueZ over D-Bus on Linux and needs no raw HCI access.
package tinygo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/igrill/internal/device"
)

// Transport connects through a single adapter. The adapter reports link
// changes through one global handler, so live channels are indexed by
// address for dispatch.
type Transport struct {
	logger  *logrus.Logger
	adapter Adapter

	setupOnce sync.Once
	setupErr  error

	channels *hashmap.Map[string, *channel]
}

var _ device.Transport = (*Transport)(nil)

// NewTransport creates a transport over AdapterFactory's adapter. The adapter
// is enabled on first use.
func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{
		logger:   logger,
		adapter:  AdapterFactory(),
		channels: hashmap.New[string, *channel](),
	}
}

func addressKey(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

func (t *Transport) setup() error {
	t.setupOnce.Do(func() {
		if err := t.adapter.Enable(); err != nil {
			t.setupErr = fmt.Errorf("enable adapter: %w", device.NormalizeError(err))
			return
		}
		t.adapter.SetConnectHandler(t.onConnectionEvent)
	})
	return t.setupErr
}

func (t *Transport) onConnectionEvent(address string, connected bool) {
	if connected {
		return
	}
	if ch, ok := t.channels.Get(addressKey(address)); ok {
		ch.logger.Debug("Link dropped")
		ch.markDown()
	}
}

// Connect opens a link to address and discovers every characteristic.
func (t *Transport) Connect(ctx context.Context, address string, opts *device.ConnectOptions) (device.Channel, error) {
	if err := t.setup(); err != nil {
		return nil, err
	}
	if _, ok := t.channels.Get(addressKey(address)); ok {
		return nil, fmt.Errorf("%w: %s", device.ErrAlreadyConnected, address)
	}

	logger := t.logger.WithField("address", address)

	return device.ConnectWithRetry(ctx, address, opts, logger, func(ctx context.Context) (device.Channel, error) {
		p, err := t.dial(ctx, address)
		if err != nil {
			return nil, err
		}

		chars, err := p.DiscoverCharacteristics()
		if err != nil {
			_ = p.Disconnect()
			return nil, fmt.Errorf("characteristic discovery failed: %w", device.NormalizeError(err))
		}

		ch := newChannel(address, p, chars, logger, func() {
			t.channels.Del(addressKey(address))
		})
		t.channels.Set(addressKey(address), ch)

		logger.WithField("characteristics", len(ch.chars)).Debug("Connected")
		return ch, nil
	})
}

// dial runs the blocking adapter connect, abandoning it when ctx finishes. A
// peripheral that connects after abandonment is disconnected right away.
func (t *Transport) dial(ctx context.Context, address string) (Peripheral, error) {
	type result struct {
		p   Peripheral
		err error
	}
	// Unbuffered: a send succeeds only while dial is still waiting, so
	// exactly one side ends up owning the peripheral.
	done := make(chan result)
	abandoned := make(chan struct{})

	go func() {
		p, err := t.adapter.Connect(address)
		select {
		case done <- result{p, err}:
		case <-abandoned:
			if err == nil {
				_ = p.Disconnect()
			}
		}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, device.NormalizeError(r.err)
		}
		return r.p, nil
	case <-ctx.Done():
		close(abandoned)
		return nil, device.ContextError(ctx)
	}
}

// Scanner returns a device.ScanningDevice over the same adapter.
func (t *Transport) Scanner() (device.ScanningDevice, error) {
	if err := t.setup(); err != nil {
		return nil, err
	}
	return &scanner{adapter: t.adapter}, nil
}
